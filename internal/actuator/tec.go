// Package actuator drives the thermo-electric coolers, pumps and radiator
// fans through the hw lines.
package actuator

import (
	"errors"
	"fmt"

	"github.com/tecsuit/climate-core/internal/hw"
)

// Direction selects which face of a TEC is cooled.
type Direction string

const (
	Cool Direction = "COOL"
	Heat Direction = "HEAT"
)

// TEC drives one Peltier module through an H-bridge: an enable PWM and one
// select line per direction. The two select lines are never high together.
type TEC struct {
	enable hw.PWMOut
	cool   hw.DigitalOut
	heat   hw.DigitalOut

	dir   Direction
	power float64
}

// NewTEC creates a TEC driver. Nothing is written until SetClimate.
func NewTEC(enable hw.PWMOut, cool, heat hw.DigitalOut) *TEC {
	return &TEC{enable: enable, cool: cool, heat: heat, dir: Cool}
}

// SetClimate sets the direction and drive, powerPercent in [0, 100].
// Zero power releases both select lines regardless of dir.
func (t *TEC) SetClimate(dir Direction, powerPercent float64) error {
	if !(powerPercent > 0) {
		t.power = 0
		var errs []error
		if err := t.enable.SetDuty(0); err != nil {
			errs = append(errs, fmt.Errorf("tec enable: %w", err))
		}
		if err := t.cool.Set(false); err != nil {
			errs = append(errs, fmt.Errorf("tec cool line: %w", err))
		}
		if err := t.heat.Set(false); err != nil {
			errs = append(errs, fmt.Errorf("tec heat line: %w", err))
		}
		return errors.Join(errs...)
	}
	if powerPercent > 100 {
		powerPercent = 100
	}

	on, off := t.cool, t.heat
	switch dir {
	case Cool:
	case Heat:
		on, off = t.heat, t.cool
	default:
		return fmt.Errorf("tec: invalid direction %q", dir)
	}

	// Release the opposite side first so both lines are never asserted.
	if err := off.Set(false); err != nil {
		return fmt.Errorf("tec release: %w", err)
	}
	if err := on.Set(true); err != nil {
		return fmt.Errorf("tec select: %w", err)
	}
	if err := t.enable.SetDuty(powerPercent / 100.0); err != nil {
		return fmt.Errorf("tec enable: %w", err)
	}
	t.dir = dir
	t.power = powerPercent
	return nil
}

// State returns the last direction and power applied.
func (t *TEC) State() (Direction, float64) {
	return t.dir, t.power
}

// Bank drives several TECs with the same command.
type Bank struct {
	tecs []*TEC
}

// NewBank groups tecs so they can be commanded together.
func NewBank(tecs ...*TEC) *Bank {
	return &Bank{tecs: tecs}
}

// SetClimate applies the command to every TEC, attempting all of them even
// if one fails.
func (b *Bank) SetClimate(dir Direction, powerPercent float64) error {
	var errs []error
	for i, t := range b.tecs {
		if err := t.SetClimate(dir, powerPercent); err != nil {
			errs = append(errs, fmt.Errorf("tec %d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of TECs in the bank.
func (b *Bank) Len() int {
	return len(b.tecs)
}

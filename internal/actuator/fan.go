package actuator

import (
	"fmt"

	"github.com/tecsuit/climate-core/internal/hw"
)

// Fan drives a PWM fan bank that stalls below a minimum duty.
type Fan struct {
	pwm       hw.PWMOut
	minActive float64
	speed     float64
}

// NewFan creates a Fan. Requests below minActive switch the fan off.
func NewFan(pwm hw.PWMOut, minActive float64) *Fan {
	if !(minActive > 0) {
		minActive = 0
	}
	return &Fan{pwm: pwm, minActive: minActive}
}

// SetSpeed sets the fan speed in [0, 1]. Values above 1 saturate; values
// below the minimum active speed are forced to 0.
func (f *Fan) SetSpeed(speed float64) error {
	if speed > 1.0 {
		speed = 1.0
	}
	if !(speed >= f.minActive) || speed < 0 {
		speed = 0
	}
	if err := f.pwm.SetDuty(speed); err != nil {
		return fmt.Errorf("fan: %w", err)
	}
	f.speed = speed
	return nil
}

// Speed returns the last actuated speed.
func (f *Fan) Speed() float64 {
	return f.speed
}

// Pump switches a DC circulation pump.
type Pump struct {
	out hw.DigitalOut
	on  bool
}

// NewPump creates a Pump driver.
func NewPump(out hw.DigitalOut) *Pump {
	return &Pump{out: out}
}

// Set switches the pump on or off.
func (p *Pump) Set(on bool) error {
	if err := p.out.Set(on); err != nil {
		return fmt.Errorf("pump: %w", err)
	}
	p.on = on
	return nil
}

// On reports the last applied state.
func (p *Pump) On() bool {
	return p.on
}

package main

import (
	"errors"
	"fmt"
	"math"

	"github.com/tecsuit/climate-core/internal/actuator"
	"github.com/tecsuit/climate-core/internal/config"
	"github.com/tecsuit/climate-core/internal/control"
	"github.com/tecsuit/climate-core/internal/flow"
	"github.com/tecsuit/climate-core/internal/hw"
	"github.com/tecsuit/climate-core/internal/logger"
	"github.com/tecsuit/climate-core/internal/thermistor"
)

// suit is the assembled hardware: two probes and two flow meters in, the
// TEC bank, two pumps and the fans out.
type suit struct {
	radiatorProbe *thermistor.Probe
	shirtProbe    *thermistor.Probe
	radiatorFlow  *flow.Integrator
	shirtFlow     *flow.Integrator

	tecs         *actuator.Bank
	radiatorPump *actuator.Pump
	shirtPump    *actuator.Pump
	fan          *actuator.Fan

	radiatorFault bool
	shirtFault    bool
}

// openSuit claims every line the configuration names.
func openSuit(board *hw.Board, cfg config.Config) (*suit, error) {
	p := cfg.Pins
	s := &suit{
		radiatorFlow: flow.NewIntegrator(cfg.FlowIncrementML),
		shirtFlow:    flow.NewIntegrator(cfg.FlowIncrementML),
	}

	radiatorIn, err := board.ADC(p.ADCRadiator)
	if err != nil {
		return nil, fmt.Errorf("radiator probe: %w", err)
	}
	shirtIn, err := board.ADC(p.ADCShirt)
	if err != nil {
		return nil, fmt.Errorf("shirt probe: %w", err)
	}
	s.radiatorProbe = thermistor.NewProbe(radiatorIn, cfg.Thermistor)
	s.shirtProbe = thermistor.NewProbe(shirtIn, cfg.Thermistor)

	if err := board.Pulses(p.RadiatorFlow, s.radiatorFlow.OnPulse); err != nil {
		return nil, fmt.Errorf("radiator flow meter: %w", err)
	}
	if err := board.Pulses(p.ShirtFlow, s.shirtFlow.OnPulse); err != nil {
		return nil, fmt.Errorf("shirt flow meter: %w", err)
	}

	tecs := make([]*actuator.TEC, 0, len(p.TECs))
	for i, pins := range p.TECs {
		enable, err := board.PWM(pins.PWM, p.PWMFrequency)
		if err != nil {
			return nil, fmt.Errorf("tec %d: %w", i, err)
		}
		cool, err := board.Output(pins.Cool)
		if err != nil {
			return nil, fmt.Errorf("tec %d: %w", i, err)
		}
		heat, err := board.Output(pins.Heat)
		if err != nil {
			return nil, fmt.Errorf("tec %d: %w", i, err)
		}
		tecs = append(tecs, actuator.NewTEC(enable, cool, heat))
	}
	s.tecs = actuator.NewBank(tecs...)

	radiatorPump, err := board.Output(p.RadiatorPump)
	if err != nil {
		return nil, fmt.Errorf("radiator pump: %w", err)
	}
	shirtPump, err := board.Output(p.ShirtPump)
	if err != nil {
		return nil, fmt.Errorf("shirt pump: %w", err)
	}
	fan, err := board.PWM(p.FanPWM, p.PWMFrequency)
	if err != nil {
		return nil, fmt.Errorf("fan: %w", err)
	}
	s.radiatorPump = actuator.NewPump(radiatorPump)
	s.shirtPump = actuator.NewPump(shirtPump)
	s.fan = actuator.NewFan(fan, cfg.FanMinActive)
	return s, nil
}

// sample reads one tick's inputs. An unreadable probe reads as NaN, which
// the controller treats as out of range; the fault is logged once.
func (s *suit) sample(log *logger.Logger) control.Sample {
	return control.Sample{
		RadiatorC:      readProbe(s.radiatorProbe, &s.radiatorFault, "radiator", log),
		ShirtC:         readProbe(s.shirtProbe, &s.shirtFault, "shirt", log),
		RadiatorFlowML: s.radiatorFlow.ReadVolumeSinceLast(),
		ShirtFlowML:    s.shirtFlow.ReadVolumeSinceLast(),
	}
}

func readProbe(p *thermistor.Probe, fault *bool, name string, log *logger.Logger) float64 {
	c, err := p.TemperatureC()
	if err != nil {
		if !*fault {
			log.Errorw("probe unreadable", "probe", name, "err", err)
		}
		*fault = true
		return math.NaN()
	}
	if *fault {
		log.Infow("probe recovered", "probe", name, "temp_c", c)
	}
	*fault = false
	return c
}

// apply drives every output. All outputs are attempted even if one fails.
func (s *suit) apply(cmd control.Command) error {
	return errors.Join(
		s.tecs.SetClimate(cmd.Direction, cmd.PowerPercent),
		s.radiatorPump.Set(cmd.RadiatorPump),
		s.shirtPump.Set(cmd.ShirtPump),
		s.fan.SetSpeed(cmd.FanSpeed),
	)
}

// release switches every output off.
func (s *suit) release() error {
	return s.apply(control.Command{Direction: actuator.Cool})
}

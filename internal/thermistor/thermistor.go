// Package thermistor linearizes NTC thermistor readings taken through a
// voltage divider, using the Steinhart–Hart model.
package thermistor

import (
	"fmt"
	"math"

	"github.com/tecsuit/climate-core/internal/hw"
)

const kelvinOffset = 273.15

// Params describes the divider and the thermistor's Steinhart–Hart fit.
type Params struct {
	VCC float64 // divider supply, volts
	R1  float64 // fixed divider resistor, ohms
	A   float64
	B   float64
	C   float64
}

// DefaultParams is the 100 kΩ NTC fit used on both coolant loops.
func DefaultParams() Params {
	return Params{
		VCC: 3.3,
		R1:  100000.0,
		A:   0.6172273387e-3,
		B:   2.287682172e-4,
		C:   0.6749479638e-7,
	}
}

// Probe reads one thermistor. Every call re-samples the input.
type Probe struct {
	in     hw.AnalogIn
	params Params
}

// NewProbe creates a Probe reading from in.
func NewProbe(in hw.AnalogIn, params Params) *Probe {
	return &Probe{in: in, params: params}
}

// Resistance returns the thermistor resistance for a divider output of v volts.
// The result is +Inf at v == VCC; callers range-check the final temperature.
func (p Params) Resistance(v float64) float64 {
	return v * p.R1 / (p.VCC - v)
}

// Kelvin applies the Steinhart–Hart relation to a resistance in ohms.
func (p Params) Kelvin(r float64) float64 {
	lnR := math.Log(r)
	return 1.0 / (p.A + p.B*lnR + p.C*lnR*lnR*lnR)
}

// VoltageFor inverts the divider: the output voltage that a thermistor of
// resistance r produces.
func (p Params) VoltageFor(r float64) float64 {
	return p.VCC * r / (p.R1 + r)
}

// Vout samples the divider and returns its output in volts.
func (p *Probe) Vout() (float64, error) {
	sample, err := p.in.Read()
	if err != nil {
		return math.NaN(), fmt.Errorf("sample thermistor: %w", err)
	}
	return sample * p.params.VCC, nil
}

// TemperatureK returns the current temperature in kelvin.
func (p *Probe) TemperatureK() (float64, error) {
	v, err := p.Vout()
	if err != nil {
		return math.NaN(), err
	}
	return p.params.Kelvin(p.params.Resistance(v)), nil
}

// TemperatureC returns the current temperature in degrees Celsius.
func (p *Probe) TemperatureC() (float64, error) {
	k, err := p.TemperatureK()
	if err != nil {
		return math.NaN(), err
	}
	return KelvinToCelsius(k), nil
}

// TemperatureF returns the current temperature in degrees Fahrenheit.
func (p *Probe) TemperatureF() (float64, error) {
	c, err := p.TemperatureC()
	if err != nil {
		return math.NaN(), err
	}
	return CelsiusToFahrenheit(c), nil
}

// KelvinToCelsius converts kelvin to degrees Celsius.
func KelvinToCelsius(k float64) float64 {
	return k - kelvinOffset
}

// CelsiusToFahrenheit converts degrees Celsius to degrees Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 {
	return 9.0/5.0*c + 32.0
}

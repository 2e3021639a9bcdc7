// Package hw provides the sensor and actuator lines the climate core drives.
// The real implementation uses the Linux GPIO character device for digital
// outputs and flow-meter edges, and the BCM283x peripherals for hardware PWM
// and the SPI thermistor ADC. The fake implementations allow testing without
// hardware.
package hw

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by the real board on platforms without GPIO.
var ErrUnsupported = errors.New("hw: not supported on this platform (requires Linux)")

// DigitalOut drives a single on/off line (TEC direction, pump relay).
type DigitalOut interface {
	Set(on bool) error
}

// PWMOut drives a pulse-width modulated line.
// Duty is a fraction in [0, 1].
type PWMOut interface {
	SetDuty(duty float64) error
}

// AnalogIn samples an analog input.
// Read returns the sample normalized to [0, 1] of the reference voltage.
type AnalogIn interface {
	Read() (float64, error)
}

// Default pin assignments (BCM numbering).
const (
	DefaultPinRadiatorFlow = 17
	DefaultPinShirtFlow    = 27
	DefaultPinRadiatorPump = 5
	DefaultPinShirtPump    = 6
	DefaultPinFanPWM       = 13
	DefaultPinTECPWM       = 12
	DefaultChannelRadiator = 0 // MCP3008 channel
	DefaultChannelShirt    = 1
	DefaultGPIOChip        = "gpiochip0"
	DefaultPWMFrequencyHz  = 20000
	pwmCycleLen            = 100
	adcFullScale           = 1023
)

// TECPins is the wiring of one TEC H-bridge channel.
type TECPins struct {
	PWM  int
	Cool int
	Heat int
}

// DefaultTECPins mirrors the harness: four bridges sharing one enable PWM.
var DefaultTECPins = []TECPins{
	{PWM: DefaultPinTECPWM, Cool: 22, Heat: 23},
	{PWM: DefaultPinTECPWM, Cool: 24, Heat: 25},
	{PWM: DefaultPinTECPWM, Cool: 16, Heat: 26},
	{PWM: DefaultPinTECPWM, Cool: 20, Heat: 21},
}

// ErrPWMClock is returned when a PWM channel asks for a frequency other
// than the one the shared PWM clock already runs at.
var ErrPWMClock = errors.New("hw: pwm channels share one clock")

// pwmClock tracks the single clock behind every hardware PWM channel.
type pwmClock struct {
	hz int
}

// claim fixes the clock at hz on first use; later claims must match.
func (c *pwmClock) claim(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("invalid pwm frequency %d", hz)
	}
	if c.hz != 0 && c.hz != hz {
		return fmt.Errorf("%w: running at %d Hz, asked for %d Hz", ErrPWMClock, c.hz, hz)
	}
	c.hz = hz
	return nil
}

func clampDuty(d float64) float64 {
	if d != d || d < 0 {
		return 0
	}
	if d > 1 {
		return 1
	}
	return d
}

//go:build linux

package hw

import (
	"errors"
	"fmt"
	"math"
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"
	"github.com/warthog618/go-gpiocdev"
)

// Board owns every hardware line the climate core uses.
// Digital lines and edge inputs go through the GPIO character device;
// PWM and the SPI ADC go through the BCM283x peripheral registers.
type Board struct {
	mu      sync.Mutex
	chip    *gpiocdev.Chip
	outputs []*gpiocdev.Line
	inputs  []*gpiocdev.Line
	pwms    map[int]*pwmLine
	clock   pwmClock
	spiOpen bool
}

// OpenBoard opens the GPIO chip and maps the peripheral registers.
func OpenBoard(chipName string) (*Board, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	if err := rpio.Open(); err != nil {
		chip.Close()
		return nil, fmt.Errorf("map peripheral registers: %w", err)
	}
	return &Board{
		chip: chip,
		pwms: make(map[int]*pwmLine),
	}, nil
}

// Output requests pin as an output, initially low.
func (b *Board) Output(pin int) (DigitalOut, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	line, err := b.chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}
	b.outputs = append(b.outputs, line)
	return &digitalLine{line: line}, nil
}

// Pulses requests pin as a pulled-up input and calls onPulse once per
// rising edge. onPulse runs on the gpiocdev event goroutine and must not block.
func (b *Board) Pulses(pin int, onPulse func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	line, err := b.chip.RequestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { onPulse() }),
	)
	if err != nil {
		return fmt.Errorf("request pulse pin %d: %w", pin, err)
	}
	b.inputs = append(b.inputs, line)
	return nil
}

// PWM configures pin for hardware PWM at freqHz. Requesting the same pin
// twice returns the same line, so several bridges can share one enable.
// Every channel runs off one clock: a second frequency fails with
// ErrPWMClock instead of retuning the channels already claimed.
func (b *Board) PWM(pin, freqHz int) (PWMOut, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.clock.claim(freqHz); err != nil {
		return nil, fmt.Errorf("pwm pin %d: %w", pin, err)
	}
	if p, ok := b.pwms[pin]; ok {
		return p, nil
	}
	p := &pwmLine{pin: rpio.Pin(pin)}
	p.pin.Mode(rpio.Pwm)
	p.pin.Freq(freqHz * pwmCycleLen)
	p.pin.DutyCycle(0, pwmCycleLen)
	b.pwms[pin] = p
	return p, nil
}

// ADC returns an MCP3008 channel on SPI0/CE0.
func (b *Board) ADC(channel int) (AnalogIn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if channel < 0 || channel > 7 {
		return nil, fmt.Errorf("adc channel %d out of range", channel)
	}
	if !b.spiOpen {
		if err := rpio.SpiBegin(rpio.Spi0); err != nil {
			return nil, fmt.Errorf("begin spi: %w", err)
		}
		rpio.SpiChipSelect(0)
		rpio.SpiSpeed(1000000)
		b.spiOpen = true
	}
	return &adcChannel{board: b, channel: channel}, nil
}

// Close drives every output low and PWM to zero, then releases the lines.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for _, line := range b.outputs {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive pin %d low: %w", line.Offset(), err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", line.Offset(), err))
		}
	}
	for _, line := range b.inputs {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", line.Offset(), err))
		}
	}
	for _, p := range b.pwms {
		p.pin.DutyCycle(0, pwmCycleLen)
	}
	if b.spiOpen {
		rpio.SpiEnd(rpio.Spi0)
	}
	if err := rpio.Close(); err != nil {
		errs = append(errs, fmt.Errorf("unmap peripheral registers: %w", err))
	}
	if err := b.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}
	return errors.Join(errs...)
}

type digitalLine struct {
	line *gpiocdev.Line
}

func (d *digitalLine) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return d.line.SetValue(v)
}

type pwmLine struct {
	mu  sync.Mutex
	pin rpio.Pin
}

func (p *pwmLine) SetDuty(duty float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pin.DutyCycle(uint32(math.Round(clampDuty(duty)*pwmCycleLen)), pwmCycleLen)
	return nil
}

type adcChannel struct {
	board   *Board
	channel int
}

// Read performs a single-ended MCP3008 conversion.
func (a *adcChannel) Read() (float64, error) {
	a.board.mu.Lock()
	defer a.board.mu.Unlock()
	if !a.board.spiOpen {
		return 0, errors.New("adc: spi closed")
	}
	buf := []byte{0x01, byte(0x80 | a.channel<<4), 0x00}
	rpio.SpiExchange(buf)
	raw := int(buf[1]&0x03)<<8 | int(buf[2])
	return float64(raw) / adcFullScale, nil
}

//go:build !linux

package hw

// Board is not available on non-Linux platforms.
type Board struct{}

// OpenBoard returns an error on non-Linux platforms.
func OpenBoard(chipName string) (*Board, error) {
	return nil, ErrUnsupported
}

// Output is not implemented on non-Linux platforms.
func (b *Board) Output(pin int) (DigitalOut, error) {
	return nil, ErrUnsupported
}

// Pulses is not implemented on non-Linux platforms.
func (b *Board) Pulses(pin int, onPulse func()) error {
	return ErrUnsupported
}

// PWM is not implemented on non-Linux platforms.
func (b *Board) PWM(pin, freqHz int) (PWMOut, error) {
	return nil, ErrUnsupported
}

// ADC is not implemented on non-Linux platforms.
func (b *Board) ADC(channel int) (AnalogIn, error) {
	return nil, ErrUnsupported
}

// Close is not implemented on non-Linux platforms.
func (b *Board) Close() error {
	return nil
}

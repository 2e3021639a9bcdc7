package hw

import (
	"errors"
	"sync"
)

// FakeOut records every value written to a digital line.
type FakeOut struct {
	mu sync.Mutex

	// Values contains every value passed to Set, in order.
	Values []bool

	// SetError, if set, will be returned by Set (the value is not recorded).
	SetError error
}

// NewFakeOut creates a FakeOut with no history.
func NewFakeOut() *FakeOut {
	return &FakeOut{}
}

// Set records the value.
func (f *FakeOut) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Values = append(f.Values, on)
	return nil
}

// On reports the last written value (false if never written).
func (f *FakeOut) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Values) == 0 {
		return false
	}
	return f.Values[len(f.Values)-1]
}

// FakePWM records every duty written to a PWM line.
type FakePWM struct {
	mu sync.Mutex

	// Duties contains every clamped duty passed to SetDuty, in order.
	Duties []float64

	// SetError, if set, will be returned by SetDuty.
	SetError error
}

// NewFakePWM creates a FakePWM with no history.
func NewFakePWM() *FakePWM {
	return &FakePWM{}
}

// SetDuty records the duty, clamped to [0, 1] like the real line.
func (f *FakePWM) SetDuty(duty float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Duties = append(f.Duties, clampDuty(duty))
	return nil
}

// Duty reports the last written duty (0 if never written).
func (f *FakePWM) Duty() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Duties) == 0 {
		return 0
	}
	return f.Duties[len(f.Duties)-1]
}

// FakeAnalog is a test double that returns scripted normalized samples.
type FakeAnalog struct {
	mu sync.Mutex

	// Samples contains scripted values to return.
	// Each call to Read() consumes the next sample.
	Samples []float64

	// index tracks current position in Samples
	index int

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeAnalog creates a FakeAnalog with the given samples.
func NewFakeAnalog(samples ...float64) *FakeAnalog {
	return &FakeAnalog{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeAnalog) Read() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Samples) == 0 {
		return 0, errors.New("no samples configured")
	}

	v := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return v, nil
}

// Set replaces the script with a single constant sample.
func (f *FakeAnalog) Set(v float64) {
	f.mu.Lock()
	f.Samples = []float64{v}
	f.index = 0
	f.mu.Unlock()
}

package control

import (
	"math"
	"sync/atomic"
)

// RequestReader is the read side of the wearer's request, polled once per tick.
type RequestReader interface {
	Load() UserRequest
}

// RequestSlot holds the latest UserRequest shared between command receivers
// and the control loop. Mode and target are each a single atomic word:
// a reader may see a new mode with the previous target for one tick, never
// a torn value.
type RequestSlot struct {
	mode   atomic.Int32
	target atomic.Uint64 // float64 bits

	minC  float64
	maxC  float64
	stepC float64
}

// NewRequestSlot creates a slot in UserOff at the default target.
func NewRequestSlot(limits Limits) *RequestSlot {
	r := &RequestSlot{
		minC:  limits.MinUserC,
		maxC:  limits.MaxUserC,
		stepC: limits.UserStepC,
	}
	r.target.Store(math.Float64bits(r.clamp(limits.DefaultTargetC)))
	return r
}

// Load returns the current request.
func (r *RequestSlot) Load() UserRequest {
	return UserRequest{
		Mode:    UserMode(r.mode.Load()),
		TargetC: math.Float64frombits(r.target.Load()),
	}
}

// SetMode replaces the requested mode.
func (r *RequestSlot) SetMode(m UserMode) {
	r.mode.Store(int32(m))
}

// SetTarget stores c clamped to the user range and returns the stored value.
// NaN is ignored.
func (r *RequestSlot) SetTarget(c float64) float64 {
	if math.IsNaN(c) {
		return r.Load().TargetC
	}
	c = r.clamp(c)
	r.target.Store(math.Float64bits(c))
	return c
}

// Step moves the target by n user steps (negative to lower it).
func (r *RequestSlot) Step(n int) float64 {
	for {
		old := r.target.Load()
		c := r.clamp(math.Float64frombits(old) + float64(n)*r.stepC)
		if r.target.CompareAndSwap(old, math.Float64bits(c)) {
			return c
		}
	}
}

// TogglePump starts the shirt pump, or switches to the radiator pump if the
// shirt pump is already requested.
func (r *RequestSlot) TogglePump() UserMode {
	for {
		old := r.mode.Load()
		next := UserRunShirtPump
		if UserMode(old) == UserRunShirtPump {
			next = UserRunRadiatorPump
		}
		if r.mode.CompareAndSwap(old, int32(next)) {
			return next
		}
	}
}

// Store replaces both fields.
func (r *RequestSlot) Store(req UserRequest) {
	r.SetTarget(req.TargetC)
	r.SetMode(req.Mode)
}

func (r *RequestSlot) clamp(c float64) float64 {
	if c < r.minC {
		return r.minC
	}
	if c > r.maxC {
		return r.maxC
	}
	return c
}

// Package flow converts flow-meter pulses into volumes.
//
// OnPulse is called from the edge handler, concurrently with reads from the
// control loop. The pulse count is a single atomic counter, so the handler
// never blocks and no pulse is ever lost between reads.
package flow

import (
	"math"
	"sync/atomic"
)

// DefaultIncrementML is the measured volume per pulse of the pump-loop meters.
const DefaultIncrementML = 1.045

// Integrator accumulates pulses from one flow meter.
type Integrator struct {
	count     atomic.Uint64
	lastRead  atomic.Uint64
	increment atomic.Uint64 // float64 bits, ml per pulse
}

// NewIntegrator creates an Integrator with the given ml-per-pulse factor.
func NewIntegrator(incrementML float64) *Integrator {
	i := &Integrator{}
	i.increment.Store(math.Float64bits(incrementML))
	return i
}

// OnPulse records one detected edge.
func (i *Integrator) OnPulse() {
	i.count.Add(1)
}

// ReadVolumeSinceLast returns the volume pumped since the previous call and
// marks the current count as read.
func (i *Integrator) ReadVolumeSinceLast() float64 {
	current := i.count.Load()
	previous := i.lastRead.Swap(current)
	if current <= previous {
		// A concurrent reader already consumed these pulses.
		if current < previous {
			i.lastRead.CompareAndSwap(current, previous)
		}
		return 0
	}
	return i.incrementML() * float64(current-previous)
}

// ReadTotalVolume returns the volume pumped since creation.
func (i *Integrator) ReadTotalVolume() float64 {
	return i.incrementML() * float64(i.count.Load())
}

// Pulses returns the raw pulse count.
func (i *Integrator) Pulses() uint64 {
	return i.count.Load()
}

// Recalibrate changes the ml-per-pulse factor. Counts are kept.
func (i *Integrator) Recalibrate(incrementML float64) {
	i.increment.Store(math.Float64bits(incrementML))
}

func (i *Integrator) incrementML() float64 {
	return math.Float64frombits(i.increment.Load())
}

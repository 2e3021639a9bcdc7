package control

import (
	"math"
	"time"

	"github.com/tecsuit/climate-core/internal/actuator"
)

// Controller runs the climate state machine. It is owned by the control
// loop and is not safe for concurrent use; share Snapshots instead.
type Controller struct {
	limits   Limits
	mode     Mode
	entered  time.Time
	radiator PumpHealth
	shirt    PumpHealth
	last     Snapshot
}

// NewController creates a controller in ModeOff. Both pumps count as
// healthy until the pump window has elapsed from start.
func NewController(limits Limits, start time.Time) *Controller {
	return &Controller{
		limits:   limits,
		mode:     ModeOff,
		entered:  start,
		radiator: PumpHealth{LastGoodFlow: start},
		shirt:    PumpHealth{LastGoodFlow: start},
	}
}

// tick holds the inputs and derived predicates of one evaluation.
type tick struct {
	now            time.Time
	req            UserRequest
	sample         Sample
	radiatorTempOK bool
	shirtTempOK    bool
	radiatorPumpOK bool
	shirtPumpOK    bool
}

// Tick advances the state machine by one control period and returns the
// actuator command for the settled state, plus any transitions taken.
// The request is read exactly once.
func (c *Controller) Tick(now time.Time, requests RequestReader, s Sample) (Command, []Transition) {
	l := c.limits

	c.radiator.Observe(s.RadiatorFlowML, l.MinFlowML, now)
	c.shirt.Observe(s.ShirtFlowML, l.MinFlowML, now)

	t := tick{
		now:            now,
		req:            requests.Load(),
		sample:         s,
		radiatorTempOK: inRange(s.RadiatorC, l.RadiatorMinC, l.RadiatorMaxC),
		shirtTempOK:    inRange(s.ShirtC, l.ShirtMinC, l.ShirtMaxC),
		radiatorPumpOK: c.radiator.OK(now, l.PumpWindow),
		shirtPumpOK:    c.shirt.OK(now, l.PumpWindow),
	}

	var transitions []Transition
	for _, step := range []func(tick) (Mode, Reason, bool){c.escalate, c.safety, c.request} {
		if to, reason, ok := step(t); ok && to != c.mode {
			transitions = append(transitions, Transition{At: now, From: c.mode, To: to, Reason: reason})
			c.mode = to
			c.entered = now
		}
	}

	cmd := c.outputs(t)
	c.last = Snapshot{
		Time:           now,
		Request:        t.req,
		Mode:           c.mode,
		ModeEntered:    c.entered,
		Sample:         s,
		Command:        cmd,
		RadiatorTempOK: t.radiatorTempOK,
		ShirtTempOK:    t.shirtTempOK,
		RadiatorPumpOK: t.radiatorPumpOK,
		ShirtPumpOK:    t.shirtPumpOK,
	}
	return cmd, transitions
}

// Mode returns the current state.
func (c *Controller) Mode() Mode {
	return c.mode
}

// ModeEntered returns when the current state was entered.
func (c *Controller) ModeEntered() time.Time {
	return c.entered
}

// Snapshot returns the result of the last Tick.
func (c *Controller) Snapshot() Snapshot {
	return c.last
}

// Limits returns the controller's constants.
func (c *Controller) Limits() Limits {
	return c.limits
}

// escalate applies the timed, input-independent progressions of the
// current state. It is not subject to the dwell guard.
func (c *Controller) escalate(t tick) (Mode, Reason, bool) {
	l := c.limits
	in := t.now.Sub(c.entered)
	shirt := t.sample.ShirtC
	target := t.req.TargetC

	switch c.mode {
	case ModePrecool:
		if shirt <= l.ShirtPrecoolC {
			return ModeCooling, ReasonThreshold, true
		}
		if in > l.PreTime {
			return ModeCooling, ReasonTimeout, true
		}
	case ModePreheat:
		if shirt >= target+l.RampdownC {
			return ModeHeating, ReasonThreshold, true
		}
		if in > l.PreTime {
			return ModeHeating, ReasonTimeout, true
		}
	case ModeCooling:
		if in > l.SmallCycle && shirt > target+l.FallingBehindC {
			return ModeCoolDown, ReasonFallingBehind, true
		}
	case ModeHeating:
		if in > l.SmallCycle && shirt < target-l.FallingBehindC {
			return ModeHeatUp, ReasonFallingBehind, true
		}
	case ModeCoolDown:
		if shirt <= l.ShirtPrecoolC {
			return ModeCooling, ReasonThreshold, true
		}
		if in > l.SmallCycle {
			return ModeCooling, ReasonTimeout, true
		}
	case ModeHeatUp:
		if shirt >= target+l.RampdownC {
			return ModeHeating, ReasonThreshold, true
		}
		if in > l.SmallCycle {
			return ModeHeating, ReasonTimeout, true
		}
	case ModeCoolCoast:
		if in > l.SmallCycle {
			return ModeCoolDown, ReasonTimeout, true
		}
	case ModeHeatCoast:
		if in > l.SmallCycle {
			return ModeHeatUp, ReasonTimeout, true
		}
	}
	return c.mode, "", false
}

// safety drops to ModeOff as soon as a temperature the current state
// depends on leaves its safe range. It is not subject to the dwell guard.
func (c *Controller) safety(t tick) (Mode, Reason, bool) {
	switch {
	case c.mode.cooling(), c.mode.heating():
		if !t.radiatorTempOK || !t.shirtTempOK {
			return ModeOff, ReasonSafety, true
		}
	case c.mode == ModeRunRadiatorPump:
		if !t.radiatorTempOK {
			return ModeOff, ReasonSafety, true
		}
	case c.mode == ModeRunShirtPump:
		if !t.shirtTempOK {
			return ModeOff, ReasonSafety, true
		}
	}
	return c.mode, "", false
}

// request applies the wearer's request. A request whose temperatures are
// out of range drops to ModeOff at once, as does an Off request; anything
// else is honoured only after the current state has been held for MinDwell.
func (c *Controller) request(t tick) (Mode, Reason, bool) {
	switch t.req.Mode {
	case UserOff:
		return ModeOff, ReasonRequest, true
	case UserCool, UserHeat:
		if !t.radiatorTempOK || !t.shirtTempOK {
			return ModeOff, ReasonSafety, true
		}
	case UserRunRadiatorPump:
		if !t.radiatorTempOK {
			return ModeOff, ReasonSafety, true
		}
	case UserRunShirtPump:
		if !t.shirtTempOK {
			return ModeOff, ReasonSafety, true
		}
	}
	if t.now.Sub(c.entered) <= c.limits.MinDwell {
		return c.mode, "", false
	}

	switch t.req.Mode {
	case UserCool:
		return c.requestThermal(t, ModePrecool, ModeCooling, ModeCoolCoast, c.mode.cooling())
	case UserHeat:
		return c.requestThermal(t, ModePreheat, ModeHeating, ModeHeatCoast, c.mode.heating())
	case UserRunRadiatorPump:
		return c.requestPump(ModeRunRadiatorPump, t.radiatorPumpOK)
	case UserRunShirtPump:
		return c.requestPump(ModeRunShirtPump, t.shirtPumpOK)
	}
	return c.mode, "", false
}

func (c *Controller) requestThermal(t tick, start, running, coast Mode, inFamily bool) (Mode, Reason, bool) {
	if !inFamily {
		return start, ReasonRequest, true
	}
	if c.mode == running && (!t.radiatorPumpOK || !t.shirtPumpOK) {
		return coast, ReasonPumpFault, true
	}
	return c.mode, "", false
}

// requestPump enters a single-pump state; once running, the pump must keep
// showing flow.
func (c *Controller) requestPump(mode Mode, pumpOK bool) (Mode, Reason, bool) {
	if c.mode != mode {
		return mode, ReasonRequest, true
	}
	if !pumpOK {
		return ModeOff, ReasonPumpFault, true
	}
	return c.mode, "", false
}

// outputs maps the settled state to actuator values.
func (c *Controller) outputs(t tick) Command {
	cmd := Command{Direction: actuator.Cool}
	coast := false

	switch c.mode {
	case ModePrecool, ModeCoolDown:
		cmd.RadiatorPump = true
		cmd.PowerPercent = 100
	case ModePreheat, ModeHeatUp:
		cmd.Direction = actuator.Heat
		cmd.RadiatorPump = true
		cmd.PowerPercent = 100
	case ModeCooling:
		cmd.RadiatorPump = true
		cmd.ShirtPump = true
		cmd.PowerPercent = c.power(t.sample.ShirtC - t.req.TargetC)
	case ModeHeating:
		cmd.Direction = actuator.Heat
		cmd.RadiatorPump = true
		cmd.ShirtPump = true
		cmd.PowerPercent = c.power(t.req.TargetC - t.sample.ShirtC)
	case ModeCoolCoast:
		coast = true
	case ModeHeatCoast:
		cmd.Direction = actuator.Heat
		coast = true
	case ModeRunRadiatorPump:
		cmd.RadiatorPump = true
	case ModeRunShirtPump:
		cmd.ShirtPump = true
	}

	if cmd.RadiatorPump || coast {
		cmd.FanSpeed = 1.0
	}
	return cmd
}

// power is the drive for an error measured in the direction the TEC is
// working: full power while the shirt is on the wrong side of the target,
// then a ramp that starts at 0 on the target and grows with the overshoot
// inside the rampdown band, and 0 beyond the band.
func (c *Controller) power(errC float64) float64 {
	switch {
	case math.IsNaN(errC):
		return 0
	case errC > 0:
		return 100
	case -errC <= c.limits.RampdownC:
		return 100 * -errC / c.limits.RampdownC
	}
	return 0
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

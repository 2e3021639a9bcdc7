// Package control contains the climate-control state machine.
// This package performs no I/O: sensors are passed in as a Sample, the
// result is returned as a Command, and time is always injected as a
// time.Time parameter.
package control

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tecsuit/climate-core/internal/actuator"
)

// UserMode is the mode requested by the wearer.
type UserMode int32

const (
	UserOff UserMode = iota
	UserCool
	UserHeat
	UserRunRadiatorPump
	UserRunShirtPump
)

var userModeNames = map[UserMode]string{
	UserOff:             "OFF",
	UserCool:            "COOL",
	UserHeat:            "HEAT",
	UserRunRadiatorPump: "RADIATOR_PUMP",
	UserRunShirtPump:    "SHIRT_PUMP",
}

func (m UserMode) String() string {
	if s, ok := userModeNames[m]; ok {
		return s
	}
	return "UNKNOWN"
}

// MarshalText encodes the mode by name.
func (m UserMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseUserMode parses a mode name, case-insensitively.
func ParseUserMode(s string) (UserMode, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for m, name := range userModeNames {
		if name == want {
			return m, nil
		}
	}
	return UserOff, fmt.Errorf("unknown mode %q", s)
}

// Mode is the controller's internal state.
type Mode string

const (
	ModeOff             Mode = "OFF"
	ModePrecool         Mode = "PRECOOL"
	ModePreheat         Mode = "PREHEAT"
	ModeCooling         Mode = "COOLING"
	ModeHeating         Mode = "HEATING"
	ModeCoolDown        Mode = "COOL_DOWN"
	ModeCoolCoast       Mode = "COOL_COAST"
	ModeHeatUp          Mode = "HEAT_UP"
	ModeHeatCoast       Mode = "HEAT_COAST"
	ModeRunRadiatorPump Mode = "RADIATOR_PUMP"
	ModeRunShirtPump    Mode = "SHIRT_PUMP"
)

// Modes lists every state in declaration order.
var Modes = []Mode{
	ModeOff, ModePrecool, ModePreheat, ModeCooling, ModeHeating,
	ModeCoolDown, ModeCoolCoast, ModeHeatUp, ModeHeatCoast,
	ModeRunRadiatorPump, ModeRunShirtPump,
}

func (m Mode) cooling() bool {
	return m == ModePrecool || m == ModeCooling || m == ModeCoolDown || m == ModeCoolCoast
}

func (m Mode) heating() bool {
	return m == ModePreheat || m == ModeHeating || m == ModeHeatUp || m == ModeHeatCoast
}

// Reason explains why a transition happened.
type Reason string

const (
	ReasonRequest       Reason = "REQUEST"
	ReasonSafety        Reason = "SAFETY"
	ReasonPumpFault     Reason = "PUMP_FAULT"
	ReasonThreshold     Reason = "THRESHOLD"
	ReasonTimeout       Reason = "TIMEOUT"
	ReasonFallingBehind Reason = "FALLING_BEHIND"
)

// Transition records a change of Mode.
type Transition struct {
	At     time.Time
	From   Mode
	To     Mode
	Reason Reason
}

// UserRequest is the wearer's latest request.
type UserRequest struct {
	Mode    UserMode
	TargetC float64
}

// Sample is one tick's sensor readings. Flows are volumes since the
// previous tick, not totals.
type Sample struct {
	RadiatorC      float64
	ShirtC         float64
	RadiatorFlowML float64
	ShirtFlowML    float64
}

// PumpHealth tracks when a pump last showed sufficient flow.
type PumpHealth struct {
	LastGoodFlow time.Time
}

// Observe records a flow sample.
func (p *PumpHealth) Observe(flowML, minFlowML float64, now time.Time) {
	if flowML >= minFlowML {
		p.LastGoodFlow = now
	}
}

// OK reports whether good flow was seen within window of now.
func (p PumpHealth) OK(now time.Time, window time.Duration) bool {
	return now.Sub(p.LastGoodFlow) <= window
}

// Command is the actuator state derived from one tick.
type Command struct {
	Direction    actuator.Direction
	PowerPercent float64
	RadiatorPump bool
	ShirtPump    bool
	FanSpeed     float64
}

// Snapshot is what the controller exposes to displays and telemetry after
// each tick. It is a value type.
type Snapshot struct {
	Time           time.Time
	Request        UserRequest
	Mode           Mode
	ModeEntered    time.Time
	Sample         Sample
	Command        Command
	RadiatorTempOK bool
	ShirtTempOK    bool
	RadiatorPumpOK bool
	ShirtPumpOK    bool
}

// InMode returns how long the controller has been in its current mode.
func (s Snapshot) InMode() time.Duration {
	return s.Time.Sub(s.ModeEntered)
}

// Limits holds every timing and temperature constant of the controller.
type Limits struct {
	MinDwell       time.Duration // before honouring a new request
	PreTime        time.Duration // precool/preheat cap
	SmallCycle     time.Duration // cool-down/heat-up/coast duration and falling-behind grace
	PumpWindow     time.Duration // flow must have been seen this recently
	RampdownC      float64       // proportional band around the target
	FallingBehindC float64       // error that triggers a cool-down/heat-up cycle
	RadiatorMinC   float64
	RadiatorMaxC   float64
	ShirtMinC      float64
	ShirtMaxC      float64
	ShirtPrecoolC  float64 // precool and cool-down exit threshold
	MinFlowML      float64 // per-tick flow that counts as "pumping"
	MinUserC       float64
	MaxUserC       float64
	UserStepC      float64
	DefaultTargetC float64
}

// DefaultLimits returns the constants the hardware was qualified with.
func DefaultLimits() Limits {
	return Limits{
		MinDwell:       20 * time.Second,
		PreTime:        300 * time.Second,
		SmallCycle:     30 * time.Second,
		PumpWindow:     10 * time.Second,
		RampdownC:      2.0,
		FallingBehindC: 5.0,
		RadiatorMinC:   1.0,
		RadiatorMaxC:   90.0,
		ShirtMinC:      1.0,
		ShirtMaxC:      40.0,
		ShirtPrecoolC:  2.0,
		MinFlowML:      1.0,
		MinUserC:       1.0,
		MaxUserC:       32.0,
		UserStepC:      0.5,
		DefaultTargetC: 25.5,
	}
}

// Validate reports inconsistent limits.
func (l Limits) Validate() error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"min dwell":   l.MinDwell,
		"pre time":    l.PreTime,
		"small cycle": l.SmallCycle,
		"pump window": l.PumpWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	if !(l.RampdownC > 0) {
		errs = append(errs, fmt.Errorf("rampdown band must be positive, got %v", l.RampdownC))
	}
	if !(l.RadiatorMinC < l.RadiatorMaxC) {
		errs = append(errs, fmt.Errorf("radiator range [%v, %v] is empty", l.RadiatorMinC, l.RadiatorMaxC))
	}
	if !(l.ShirtMinC < l.ShirtMaxC) {
		errs = append(errs, fmt.Errorf("shirt range [%v, %v] is empty", l.ShirtMinC, l.ShirtMaxC))
	}
	if !(l.MinUserC <= l.DefaultTargetC && l.DefaultTargetC <= l.MaxUserC) {
		errs = append(errs, fmt.Errorf("default target %v outside [%v, %v]", l.DefaultTargetC, l.MinUserC, l.MaxUserC))
	}
	return errors.Join(errs...)
}

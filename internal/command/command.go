// Package command turns wearer input into changes of the shared request.
// Input arrives as button frames from the phone app (relayed over MQTT) or
// as JSON requests from the HTTP API.
package command

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/tecsuit/climate-core/internal/control"
	"github.com/tecsuit/climate-core/internal/logger"
)

// ErrUnknownFrame is returned when a payload holds no button frame.
var ErrUnknownFrame = errors.New("command: no button frame")

// Action is one decoded button press.
type Action int

const (
	ActionCool Action = iota + 1
	ActionOff
	ActionHeat
	ActionTogglePump
	ActionWarmer
	ActionColder
)

var actionNames = map[Action]string{
	ActionCool:       "COOL",
	ActionOff:        "OFF",
	ActionHeat:       "HEAT",
	ActionTogglePump: "TOGGLE_PUMP",
	ActionWarmer:     "WARMER",
	ActionColder:     "COLDER",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("ACTION(%d)", int(a))
}

// frame layout: '!' 'B' <button '1'..'8'> <'1' pressed | '0' released>
var framePrefix = []byte("!B")

// Decode scans data for button frames and returns the presses in order.
// Releases and buttons without a function are skipped. Trailing bytes, such
// as the app's checksum, are ignored.
func Decode(data []byte) ([]Action, error) {
	var actions []Action
	found := false
	for {
		i := bytes.Index(data, framePrefix)
		if i < 0 || len(data) < i+4 {
			break
		}
		found = true
		button, state := data[i+2], data[i+3]
		data = data[i+4:]

		if state != '1' {
			continue
		}
		if a, ok := buttonAction(button); ok {
			actions = append(actions, a)
		}
	}
	if !found {
		return nil, ErrUnknownFrame
	}
	return actions, nil
}

func buttonAction(b byte) (Action, bool) {
	switch b {
	case '1':
		return ActionCool, true
	case '2':
		return ActionOff, true
	case '3':
		return ActionHeat, true
	case '4':
		return ActionTogglePump, true
	case '5':
		return ActionWarmer, true
	case '6':
		return ActionColder, true
	}
	return 0, false
}

// Apply performs a on the slot and returns the resulting request.
func Apply(slot *control.RequestSlot, a Action) control.UserRequest {
	switch a {
	case ActionCool:
		slot.SetMode(control.UserCool)
	case ActionOff:
		slot.SetMode(control.UserOff)
	case ActionHeat:
		slot.SetMode(control.UserHeat)
	case ActionTogglePump:
		slot.TogglePump()
	case ActionWarmer:
		slot.Step(1)
	case ActionColder:
		slot.Step(-1)
	}
	return slot.Load()
}

// Request is the JSON body accepted by the HTTP API. Every field is
// optional; Step is applied after Target.
type Request struct {
	Mode    string   `json:"mode,omitempty"`
	TargetC *float64 `json:"target_c,omitempty"`
	Step    int      `json:"step,omitempty"`
}

// Receiver applies commands from any source to one RequestSlot.
type Receiver struct {
	slot *control.RequestSlot
	log  *logger.Logger
}

// NewReceiver creates a Receiver writing to slot.
func NewReceiver(slot *control.RequestSlot, log *logger.Logger) *Receiver {
	return &Receiver{slot: slot, log: log}
}

// HandleFrame decodes and applies a button payload.
func (r *Receiver) HandleFrame(payload []byte) error {
	actions, err := Decode(payload)
	if err != nil {
		r.log.Debugw("ignoring payload", "payload", fmt.Sprintf("%q", payload))
		return err
	}
	for _, a := range actions {
		req := Apply(r.slot, a)
		r.log.Infow("button", "action", a, "mode", req.Mode, "target_c", req.TargetC)
	}
	return nil
}

// HandleRequest validates and applies an API request. Nothing is applied if
// any field is invalid.
func (r *Receiver) HandleRequest(in Request) (control.UserRequest, error) {
	var (
		mode    control.UserMode
		setMode = in.Mode != ""
	)
	if setMode {
		m, err := control.ParseUserMode(in.Mode)
		if err != nil {
			return control.UserRequest{}, err
		}
		mode = m
	}
	if in.TargetC != nil && (math.IsNaN(*in.TargetC) || math.IsInf(*in.TargetC, 0)) {
		return control.UserRequest{}, fmt.Errorf("invalid target %v", *in.TargetC)
	}

	if in.TargetC != nil {
		r.slot.SetTarget(*in.TargetC)
	}
	if in.Step != 0 {
		r.slot.Step(in.Step)
	}
	if setMode {
		r.slot.SetMode(mode)
	}

	req := r.slot.Load()
	r.log.Infow("api request", "mode", req.Mode, "target_c", req.TargetC)
	return req, nil
}

// Current returns the request the controller will see next.
func (r *Receiver) Current() control.UserRequest {
	return r.slot.Load()
}

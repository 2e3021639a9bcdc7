// Package mqtt provides MQTT telemetry publishing and command subscription
// with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/tecsuit/climate-core/internal/control"
	"github.com/tecsuit/climate-core/internal/status"
)

// Topics used by the suit.
const (
	TopicTelemetry = "climate/suit/telemetry"
	TopicSystem    = "climate/suit/system"
	TopicCommand   = "climate/suit/command"
)

// Publisher publishes telemetry and lifecycle events to MQTT.
type Publisher interface {
	// PublishTelemetry sends one controller snapshot to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishTelemetry(snap control.Snapshot) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber delivers inbound messages. Handlers run on the client's
// goroutine and must not block.
type Subscriber interface {
	Subscribe(topic string, handle func(payload []byte)) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// TelemetryPayload is the message published on TopicTelemetry.
type TelemetryPayload struct {
	Climate status.ClimateJSON `json:"climate"`
}

// FormatTelemetry creates the JSON payload for a controller snapshot.
func FormatTelemetry(snap control.Snapshot) ([]byte, error) {
	return json.Marshal(TelemetryPayload{Climate: status.NewClimateJSON(snap)})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

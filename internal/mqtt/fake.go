package mqtt

import (
	"sync"

	"github.com/tecsuit/climate-core/internal/control"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	// Telemetry contains every snapshot that was published.
	Telemetry []control.Snapshot

	// TelemetryPayloads contains the JSON payloads for telemetry.
	TelemetryPayloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishTelemetry.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	mu   sync.Mutex
	subs map[string]func([]byte)
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{subs: make(map[string]func([]byte))}
}

// PublishTelemetry records the snapshot.
func (f *FakePublisher) PublishTelemetry(snap control.Snapshot) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatTelemetry(snap)
	if err != nil {
		return err
	}
	f.Telemetry = append(f.Telemetry, snap)
	f.TelemetryPayloads = append(f.TelemetryPayloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Subscribe records the handler for Deliver.
func (f *FakePublisher) Subscribe(topic string, handle func(payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string]func([]byte))
	}
	f.subs[topic] = handle
	return nil
}

// Deliver simulates an inbound message. It reports whether anything was
// subscribed to topic.
func (f *FakePublisher) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.subs[topic]
	f.mu.Unlock()
	if ok {
		h(payload)
	}
	return ok
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.Telemetry = nil
	f.TelemetryPayloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}

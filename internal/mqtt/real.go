package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tecsuit/climate-core/internal/control"
	"github.com/tecsuit/climate-core/internal/logger"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configures the broker connection.
type Options struct {
	Broker     string
	ClientID   string
	BufferSize int // messages kept while disconnected; DefaultBufferSize if zero
}

// RealPublisher publishes to an actual MQTT broker. Messages sent while the
// connection is down are buffered and replayed, oldest first, on reconnect.
type RealPublisher struct {
	client paho.Client
	log    *logger.Logger

	mu        sync.Mutex
	outbox    *outbox
	subs      map[string]func([]byte)
	connected bool // a connection has been established at least once
	now       func() time.Time
}

// NewRealPublisher creates a publisher for the given broker. The broker
// announces OFFLINE on TopicSystem if the connection drops uncleanly. An
// unreachable broker is not an error: the client keeps retrying in the
// background and messages are buffered meanwhile.
func NewRealPublisher(o Options, log *logger.Logger) (*RealPublisher, error) {
	p := newPublisher(nil, o.BufferSize, log)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warnw("mqtt connection lost", "err", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warnw("mqtt broker not reachable yet, buffering", "broker", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newPublisher(client paho.Client, bufferSize int, log *logger.Logger) *RealPublisher {
	return &RealPublisher{
		client: client,
		log:    log,
		outbox: newOutbox(bufferSize),
		subs:   make(map[string]func([]byte)),
		now:    time.Now,
	}
}

// PublishTelemetry sends a controller snapshot at QoS 0, not retained.
func (p *RealPublisher) PublishTelemetry(snap control.Snapshot) error {
	payload, err := FormatTelemetry(snap)
	if err != nil {
		return fmt.Errorf("format telemetry: %w", err)
	}
	return p.send(outboundMsg{topic: TopicTelemetry, payload: payload})
}

// PublishSystem sends a system lifecycle event at QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(outboundMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// Subscribe registers handle for topic. The subscription is renewed on
// every reconnect.
func (p *RealPublisher) Subscribe(topic string, handle func(payload []byte)) error {
	p.mu.Lock()
	p.subs[topic] = handle
	open := p.client.IsConnectionOpen()
	p.mu.Unlock()

	if !open {
		return nil
	}
	return p.subscribe(topic, handle)
}

// IsConnected reports whether the broker connection is currently up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.size()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second quiesce
	return nil
}

func (p *RealPublisher) send(msg outboundMsg) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		if p.outbox.add(msg) == 1 {
			p.log.Warnw("mqtt buffer full, dropping oldest", "capacity", p.outbox.capacity())
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.publish(msg)
}

func (p *RealPublisher) publish(msg outboundMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) subscribe(topic string, handle func([]byte)) error {
	token := p.client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		handle(m.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// onConnect renews subscriptions, replays the buffer and, after the first
// connection, announces RECONNECTED.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	pending, dropped := p.outbox.flush()
	subs := make(map[string]func([]byte), len(p.subs))
	for topic, h := range p.subs {
		subs[topic] = h
	}
	reconnect := p.connected
	p.connected = true
	p.mu.Unlock()

	for topic, h := range subs {
		if err := p.subscribe(topic, h); err != nil {
			p.log.Errorw("mqtt resubscribe failed", "topic", topic, "err", err)
		}
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		pending = append(pending, outboundMsg{topic: TopicSystem, payload: payload, qos: 1})
	}
	if len(pending) > 0 {
		p.log.Infow("mqtt connected, replaying buffer", "messages", len(pending), "dropped", dropped)
	}
	for _, msg := range pending {
		if err := p.publish(msg); err != nil {
			p.log.Warnw("mqtt replay failed", "topic", msg.topic, "err", err)
		}
	}
}

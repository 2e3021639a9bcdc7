// Command climate-core runs the suit's climate controller: it samples the
// coolant loops, drives the TECs, pumps and fans, and reports over MQTT,
// HTTP and a local event log.
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tecsuit/climate-core/internal/command"
	"github.com/tecsuit/climate-core/internal/config"
	"github.com/tecsuit/climate-core/internal/control"
	"github.com/tecsuit/climate-core/internal/eventlog"
	"github.com/tecsuit/climate-core/internal/hw"
	"github.com/tecsuit/climate-core/internal/logger"
	"github.com/tecsuit/climate-core/internal/mqtt"
	"github.com/tecsuit/climate-core/internal/status"
	"github.com/tecsuit/climate-core/internal/web"
)

const eventWriteTimeout = 2 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log := logger.Get(cfg.LogLevel)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatalw("fatal", "err", err)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	board, err := hw.OpenBoard(cfg.Pins.GPIOChip)
	if err != nil {
		return fmt.Errorf("open board: %w", err)
	}
	defer board.Close()

	s, err := openSuit(board, cfg)
	if err != nil {
		return fmt.Errorf("init hardware: %w", err)
	}

	if cfg.PrintState {
		sample := s.sample(log)
		fmt.Printf("radiator: %s, shirt: %s\n", formatTemp(sample.RadiatorC), formatTemp(sample.ShirtC))
		return nil
	}

	// Outputs are claimed low, but make it explicit before anything runs.
	if err := s.release(); err != nil {
		return fmt.Errorf("release outputs: %w", err)
	}

	slot := control.NewRequestSlot(cfg.Limits)
	receiver := command.NewReceiver(slot, log.Named("command"))

	tracker := status.NewTracker(time.Now(), status.Config{
		TickMs:      cfg.Tick.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Broker,
		HTTPAddr:    cfg.HTTPAddr,
		DBPath:      cfg.DBPath,
		TECs:        s.tecs.Len(),
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	d := &daemon{
		suit:      s,
		ctrl:      control.NewController(cfg.Limits, time.Now()),
		requests:  slot,
		tracker:   tracker,
		heartbeat: cfg.Heartbeat,
		log:       log,
		now:       time.Now,
	}

	// MQTT is optional: an empty broker runs the suit standalone.
	if cfg.Broker != "" {
		publisher, err := mqtt.NewRealPublisher(mqtt.Options{Broker: cfg.Broker, ClientID: cfg.ClientID}, log.Named("mqtt"))
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer publisher.Close()
		if err := publisher.Subscribe(mqtt.TopicCommand, func(payload []byte) {
			receiver.HandleFrame(payload)
		}); err != nil {
			log.Warnw("subscribe to commands", "topic", mqtt.TopicCommand, "err", err)
		}
		d.publisher = publisher
		d.mqttStatus = publisher
	}

	var events web.EventLister
	if cfg.DBPath != "" {
		db, err := eventlog.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer db.Close()
		store := eventlog.NewStore(db)
		d.events = store
		events = store
	}

	d.lifecycle("STARTUP", "")

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, receiver, events, log.Named("http"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("http server error", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Infow("http status server listening", "addr", cfg.HTTPAddr)
	}

	log.Infow("started",
		"tick", cfg.Tick,
		"broker", cfg.Broker,
		"heartbeat", cfg.Heartbeat,
		"tecs", s.tecs.Len(),
		"target_c", slot.Load().TargetC,
	)

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.runLoop(ticker.C, sigCh)
}

// eventSink is the write side of the event log.
type eventSink interface {
	Append(ctx context.Context, e eventlog.Event) error
	AppendTransition(ctx context.Context, t control.Transition, after control.Snapshot) error
}

// daemon owns the control loop. publisher, mqttStatus and events are
// optional.
type daemon struct {
	suit       *suit
	ctrl       *control.Controller
	requests   control.RequestReader
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	events     eventSink
	heartbeat  time.Duration
	log        *logger.Logger
	now        func() time.Time

	totals status.Totals
}

// runLoop ticks the controller until a signal arrives, then switches every
// output off and announces the shutdown. Hardware and publish errors are
// logged and never stop the loop.
func (d *daemon) runLoop(tick <-chan time.Time, sig <-chan os.Signal) error {
	lastHeartbeat := d.now()

	for {
		select {
		case s := <-sig:
			d.log.Infow("shutting down", "signal", s)
			if err := d.suit.release(); err != nil {
				d.log.Errorw("release outputs", "err", err)
			}
			d.lifecycle("SHUTDOWN", signalName(s))
			return nil

		case <-tick:
			t := d.now()
			d.step(t)

			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				if net := readNetworkInfo(); net != nil {
					d.tracker.SetNetwork(net)
				}
				d.log.Infow("heartbeat",
					"mode", d.ctrl.Mode(),
					"radiator_ml", d.totals.RadiatorML,
					"shirt_ml", d.totals.ShirtML,
					"transitions", d.totals.Transitions,
				)
				d.publishSystem(mqtt.SystemEvent{Timestamp: t, Event: "HEARTBEAT"})
			}
		}
	}
}

// step runs one control period at t.
func (d *daemon) step(t time.Time) {
	sample := d.suit.sample(d.log)
	cmd, transitions := d.ctrl.Tick(t, d.requests, sample)
	if err := d.suit.apply(cmd); err != nil {
		d.log.Errorw("drive outputs", "err", err, "mode", d.ctrl.Mode())
	}

	snap := d.ctrl.Snapshot()
	d.totals.RadiatorML = d.suit.radiatorFlow.ReadTotalVolume()
	d.totals.ShirtML = d.suit.shirtFlow.ReadTotalVolume()
	d.totals.Transitions += len(transitions)
	d.tracker.Update(snap, d.totals)
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}

	for _, tr := range transitions {
		d.log.Infow("transition",
			"from", tr.From,
			"to", tr.To,
			"reason", tr.Reason,
			"shirt_c", sample.ShirtC,
			"radiator_c", sample.RadiatorC,
			"target_c", snap.Request.TargetC,
		)
		d.record(func(ctx context.Context) error {
			return d.events.AppendTransition(ctx, tr, snap)
		})
	}

	if d.publisher != nil {
		if err := d.publisher.PublishTelemetry(snap); err != nil {
			d.log.Warnw("telemetry publish error", "err", err)
		}
	}
}

// lifecycle announces a daemon event on MQTT and in the event log, with the
// full status as payload.
func (d *daemon) lifecycle(event, reason string) {
	t := d.now()
	d.publishSystem(mqtt.SystemEvent{Timestamp: t, Event: event, Reason: reason, Retained: true})

	kind := eventlog.KindStartup
	if event == "SHUTDOWN" {
		kind = eventlog.KindShutdown
	}
	d.record(func(ctx context.Context) error {
		return d.events.Append(ctx, eventlog.Event{
			OccurredAt: t,
			Kind:       kind,
			To:         string(d.ctrl.Mode()),
			Reason:     reason,
		})
	})
}

// publishSystem fills in the status payload and publishes event.
func (d *daemon) publishSystem(event mqtt.SystemEvent) {
	if d.publisher == nil {
		return
	}
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), event.Event, event.Reason)
	if err := d.publisher.PublishSystem(event); err != nil {
		d.log.Warnw("system publish error", "event", event.Event, "err", err)
		return
	}
	d.log.Debugw("published system event", "event", event.Event)
}

// record runs one event log write with a bounded deadline.
func (d *daemon) record(write func(ctx context.Context) error) {
	if d.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
	defer cancel()
	if err := write(ctx); err != nil {
		d.log.Warnw("event log write failed", "err", err)
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func formatTemp(c float64) string {
	if math.IsNaN(c) {
		return "unreadable"
	}
	return fmt.Sprintf("%.1f°C", c)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tecsuit/climate-core/internal/actuator"
	"github.com/tecsuit/climate-core/internal/command"
	"github.com/tecsuit/climate-core/internal/control"
	"github.com/tecsuit/climate-core/internal/eventlog"
	"github.com/tecsuit/climate-core/internal/logger"
	"github.com/tecsuit/climate-core/internal/status"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeEvents records the last filter and returns canned events.
type fakeEvents struct {
	filter eventlog.Filter
	events []eventlog.Event
	err    error
}

func (f *fakeEvents) List(ctx context.Context, filter eventlog.Filter) ([]eventlog.Event, error) {
	f.filter = filter
	return f.events, f.err
}

func cooling(at time.Time) control.Snapshot {
	return control.Snapshot{
		Time:        at,
		Request:     control.UserRequest{Mode: control.UserCool, TargetC: 24},
		Mode:        control.ModeCooling,
		ModeEntered: at.Add(-40 * time.Second),
		Sample:      control.Sample{RadiatorC: 35, ShirtC: 25, RadiatorFlowML: 4, ShirtFlowML: 3},
		Command: control.Command{
			Direction:    actuator.Cool,
			PowerPercent: 50,
			RadiatorPump: true,
			ShirtPump:    true,
			FanSpeed:     1,
		},
		RadiatorTempOK: true,
		ShirtTempOK:    true,
		RadiatorPumpOK: true,
		ShirtPumpOK:    true,
	}
}

type testRig struct {
	ts      *httptest.Server
	srv     *Server
	tracker *status.Tracker
	slot    *control.RequestSlot
	events  *fakeEvents
}

func newTestServer(t *testing.T) *testRig {
	t.Helper()
	cfg := status.Config{
		TickMs:      1000,
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":8080",
		TECs:        4,
	}
	tr := status.NewTracker(start, cfg)
	slot := control.NewRequestSlot(control.DefaultLimits())
	events := &fakeEvents{}
	srv := New(":0", tr, command.NewReceiver(slot, logger.Nop()), events, logger.Nop())
	srv.streamInterval = 20 * time.Millisecond
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return &testRig{ts: ts, srv: srv, tracker: tr, slot: slot, events: events}
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func postJSON(t *testing.T, url, body string, v any) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestJSONEndpoint(t *testing.T) {
	rig := newTestServer(t)
	rig.tracker.Update(cooling(start.Add(time.Minute)), status.Totals{RadiatorML: 120, ShirtML: 80, Transitions: 3})
	rig.tracker.SetMQTTConnected(true)

	var sj status.StatusJSON
	resp := getJSON(t, rig.ts.URL+"/index.json", &sj)

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	if !sj.Status.Ready {
		t.Error("expected Ready=true")
	}
	if sj.Status.Climate == nil {
		t.Fatal("expected climate section")
	}
	if sj.Status.Climate.Mode != "COOLING" {
		t.Errorf("Mode: got %q, want COOLING", sj.Status.Climate.Mode)
	}
	if sj.Status.Climate.ShirtC == nil || *sj.Status.Climate.ShirtC != 25 {
		t.Errorf("ShirtC: got %v, want 25", sj.Status.Climate.ShirtC)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.Totals.Transitions != 3 {
		t.Errorf("Totals.Transitions: got %d, want 3", sj.Status.Totals.Transitions)
	}
	if sj.Status.Config.TECs != 4 {
		t.Errorf("Config.TECs: got %d, want 4", sj.Status.Config.TECs)
	}
}

func TestJSONBeforeFirstTick(t *testing.T) {
	rig := newTestServer(t)

	var sj status.StatusJSON
	getJSON(t, rig.ts.URL+"/index.json", &sj)

	if sj.Status.Ready {
		t.Error("expected Ready=false before the first tick")
	}
	if sj.Status.Climate != nil {
		t.Errorf("expected no climate section, got %+v", sj.Status.Climate)
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	rig := newTestServer(t)
	rig.tracker.SetNetwork(&status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.42",
		Status: "connected",
		SSID:   "MyNet",
	})

	var sj status.StatusJSON
	getJSON(t, rig.ts.URL+"/index.json", &sj)

	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpoint(t *testing.T) {
	rig := newTestServer(t)
	rig.tracker.Update(cooling(start.Add(time.Minute)), status.Totals{})

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(rig.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type: got %q, want text/html", path, ct)
		}
		for _, want := range []string{"COOLING", "25.0°C", "35.0°C", "COOL 50%"} {
			if !strings.Contains(string(body), want) {
				t.Errorf("%s: body missing %q", path, want)
			}
		}
	}
}

func TestHTMLBeforeFirstTick(t *testing.T) {
	rig := newTestServer(t)

	resp, err := http.Get(rig.ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if !strings.Contains(string(body), "Waiting for the first control tick") {
		t.Error("expected waiting message before the first tick")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	rig := newTestServer(t)

	resp := getJSON(t, rig.ts.URL+"/nonexistent", nil)
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rig := newTestServer(t)

	resp := postJSON(t, rig.ts.URL+"/index.json", "{}", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestPostRequest(t *testing.T) {
	rig := newTestServer(t)

	var got RequestJSON
	resp := postJSON(t, rig.ts.URL+"/api/request", `{"mode":"cool","target_c":22}`, &got)
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if got.Mode != "COOL" || got.TargetC != 22 {
		t.Errorf("unexpected response %+v", got)
	}
	if req := rig.slot.Load(); req.Mode != control.UserCool || req.TargetC != 22 {
		t.Errorf("slot not updated: %+v", req)
	}

	postJSON(t, rig.ts.URL+"/api/request", `{"step":-2}`, &got)
	if got.TargetC != 21 {
		t.Errorf("expected 21 after stepping down, got %v", got.TargetC)
	}

	var cur RequestJSON
	getJSON(t, rig.ts.URL+"/api/request", &cur)
	if cur != got {
		t.Errorf("GET disagrees with POST: %+v vs %+v", cur, got)
	}
}

func TestPostRequestRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"mode":`},
		{"unknown field", `{"mood":"COOL"}`},
		{"unknown mode", `{"mode":"DEFROST","target_c":20}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestServer(t)

			var e ErrorJSON
			resp := postJSON(t, rig.ts.URL+"/api/request", tt.body, &e)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", resp.StatusCode)
			}
			if e.Error == "" {
				t.Error("expected an error message")
			}
			if req := rig.slot.Load(); req.Mode != control.UserOff || req.TargetC != 25.5 {
				t.Errorf("rejected request changed the slot: %+v", req)
			}
		})
	}
}

func TestDisabledRoutes(t *testing.T) {
	tr := status.NewTracker(start, status.Config{})
	srv := New(":0", tr, nil, nil, nil)
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	if resp := postJSON(t, ts.URL+"/api/request", `{"mode":"OFF"}`, nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("POST /api/request: got %d, want 503", resp.StatusCode)
	}
	if resp := getJSON(t, ts.URL+"/api/request", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("GET /api/request: got %d, want 503", resp.StatusCode)
	}
	if resp := getJSON(t, ts.URL+"/api/events", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("GET /api/events: got %d, want 503", resp.StatusCode)
	}
}

func TestEvents(t *testing.T) {
	rig := newTestServer(t)
	at := start.Add(time.Hour)
	rig.events.events = []eventlog.Event{
		{ID: "a", OccurredAt: at, Kind: eventlog.KindTransition, From: "OFF", To: "PRECOOL", Reason: "REQUEST"},
	}

	var got []eventlog.Event
	resp := getJSON(t, rig.ts.URL+"/api/events?kind=TRANSITION&from=2026-01-01T00:00:00Z&limit=5000", &got)
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(got) != 1 || got[0].ID != "a" || got[0].To != "PRECOOL" || !got[0].OccurredAt.Equal(at) {
		t.Errorf("unexpected events %+v", got)
	}

	f := rig.events.filter
	if f.Kind != eventlog.KindTransition {
		t.Errorf("Kind: got %q", f.Kind)
	}
	if !f.From.Equal(start) {
		t.Errorf("From: got %v, want %v", f.From, start)
	}
	if !f.To.IsZero() {
		t.Errorf("To should be unset, got %v", f.To)
	}
	if f.Limit != maxEventLimit {
		t.Errorf("Limit: got %d, want %d", f.Limit, maxEventLimit)
	}
}

func TestEventsDefaultsAndEmpty(t *testing.T) {
	rig := newTestServer(t)

	resp, err := http.Get(rig.ts.URL + "/api/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("expected empty array, got %s", body)
	}
	if rig.events.filter.Limit != defaultEventLimit {
		t.Errorf("Limit: got %d, want %d", rig.events.filter.Limit, defaultEventLimit)
	}
}

func TestEventsBadQuery(t *testing.T) {
	for _, q := range []string{"from=yesterday", "to=2026-13-01T00:00:00Z", "limit=0", "limit=many"} {
		rig := newTestServer(t)
		if resp := getJSON(t, rig.ts.URL+"/api/events?"+q, nil); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestEventsStoreError(t *testing.T) {
	rig := newTestServer(t)
	rig.events.err = errors.New("disk I/O error")

	var e ErrorJSON
	resp := getJSON(t, rig.ts.URL+"/api/events", &e)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", resp.StatusCode)
	}
	if strings.Contains(e.Error, "disk") {
		t.Errorf("store error leaked to client: %q", e.Error)
	}
}

func dialStream(t *testing.T, rig *testRig) *websocket.Conn {
	t.Helper()
	u, _ := url.Parse(rig.ts.URL)
	u.Scheme = "ws"
	u.Path = "/ws"

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readClimate(t *testing.T, conn *websocket.Conn) status.ClimateJSON {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != "climate" {
		t.Fatalf("expected type=climate, got %+v", env)
	}
	var c status.ClimateJSON
	if err := json.Unmarshal(env.Data, &c); err != nil {
		t.Fatalf("unmarshal climate: %v", err)
	}
	return c
}

func TestStreamPushesNewTicks(t *testing.T) {
	rig := newTestServer(t)
	rig.tracker.Update(cooling(start.Add(time.Minute)), status.Totals{})

	conn := dialStream(t, rig)

	c := readClimate(t, conn)
	if c.Mode != "COOLING" || c.PowerPercent != 50 {
		t.Errorf("unexpected initial climate %+v", c)
	}

	next := cooling(start.Add(time.Minute + time.Second))
	next.Mode = control.ModeCoolDown
	rig.tracker.Update(next, status.Totals{})

	c = readClimate(t, conn)
	if c.Mode != "COOL_DOWN" {
		t.Errorf("expected COOL_DOWN, got %s", c.Mode)
	}
}

func TestStreamSkipsUnchangedTicks(t *testing.T) {
	rig := newTestServer(t)
	rig.tracker.Update(cooling(start.Add(time.Minute)), status.Totals{})

	conn := dialStream(t, rig)
	readClimate(t, conn)

	// Several intervals pass with no new tick.
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var env Envelope
	if err := conn.ReadJSON(&env); err == nil {
		t.Errorf("expected no message for an unchanged tick, got %+v", env)
	}
}

func TestParseInterval(t *testing.T) {
	s := &Server{streamInterval: defaultInterval}
	tests := []struct {
		query string
		want  time.Duration
	}{
		{"", time.Second},
		{"interval=200ms", 200 * time.Millisecond},
		{"interval_ms=150", 150 * time.Millisecond},
		{"interval_ms=1", minInterval},
		{"interval=20s", time.Second},
		{"interval=1ms", time.Second},
		{"interval=bogus", time.Second},
		{"interval_ms=20000", time.Second},
		{"interval=2s&interval_ms=150", 2 * time.Second},
		{"interval=bogus&interval_ms=250", 250 * time.Millisecond},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws?"+tt.query, nil)
		if got := s.parseInterval(r); got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.query, got, tt.want)
		}
	}
}

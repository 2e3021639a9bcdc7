package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tecsuit/climate-core/internal/status"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMsgSize       = 1 << 10
	defaultInterval  = 1 * time.Second
	minInterval      = 10 * time.Millisecond
	maxInterval      = 10 * time.Second
	maxIntervalMilli = 10_000
)

// Envelope is one message on the live stream.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// The stream only carries state the page already shows.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream pushes a "climate" message whenever the controller completes
// a new tick, checked once per interval (?interval=2s or ?interval_ms=2000).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	interval := s.parseInterval(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warnw("ws upgrade failed", "err", err)
		}
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMsgSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go drain(conn, done)

	ticker := time.NewTicker(interval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ping.Stop()
	}()

	var last time.Time
	for {
		if c := s.tracker.Climate(); !c.Time.IsZero() && !c.Time.Equal(last) {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(Envelope{Type: "climate", Data: status.FormatClimate(c)}); err != nil {
				if s.log != nil {
					s.log.Debugw("ws write failed", "err", err)
				}
				return
			}
			last = c.Time
		}

		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
		}
	}
}

// drain reads until the peer goes away so control frames are processed.
func drain(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) parseInterval(r *http.Request) time.Duration {
	q := r.URL.Query()
	if v := q.Get("interval"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= minInterval && d <= maxInterval {
			return d
		}
	}
	if v := q.Get("interval_ms"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxIntervalMilli {
			return max(time.Duration(n)*time.Millisecond, minInterval)
		}
	}
	return s.streamInterval
}

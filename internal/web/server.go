// Package web provides the HTTP status server and control API for the
// climate-core daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/tecsuit/climate-core/internal/command"
	"github.com/tecsuit/climate-core/internal/control"
	"github.com/tecsuit/climate-core/internal/eventlog"
	"github.com/tecsuit/climate-core/internal/logger"
	"github.com/tecsuit/climate-core/internal/status"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	maxRequestBody    = 1 << 12
)

// Requester applies requests from the API.
type Requester interface {
	HandleRequest(in command.Request) (control.UserRequest, error)
	Current() control.UserRequest
}

// EventLister reads the event log.
type EventLister interface {
	List(ctx context.Context, f eventlog.Filter) ([]eventlog.Event, error)
}

// Server serves the status page, the live stream and the control API.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	requests   Requester
	events     EventLister
	log        *logger.Logger

	streamInterval time.Duration
}

// New creates a Server that reads state from tracker. requests and events
// may be nil, in which case their routes answer 503.
func New(addr string, tracker *status.Tracker, requests Requester, events EventLister, log *logger.Logger) *Server {
	s := &Server{
		tracker:        tracker,
		requests:       requests,
		events:         events,
		log:            log,
		streamInterval: defaultInterval,
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleStream).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/request", s.handleCurrent).Methods(http.MethodGet)
	api.HandleFunc("/request", s.handleRequest).Methods(http.MethodPost)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.wrap(r),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// wrap adds access logging and panic recovery.
func (s *Server) wrap(h http.Handler) http.Handler {
	var access io.Writer = io.Discard
	if s.log != nil {
		access = accessWriter{s.log}
	}
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.CombinedLoggingHandler(access, h),
	)
}

// accessWriter sends access log lines to the debug log.
type accessWriter struct{ log *logger.Logger }

func (w accessWriter) Write(p []byte) (int, error) {
	line := p
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	w.log.Debugw("http", "access", string(line))
	return len(p), nil
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server. Open streams are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil && s.log != nil {
		s.log.Errorw("render index", "err", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// RequestJSON is the current request as returned by the API.
type RequestJSON struct {
	Mode    string  `json:"mode"`
	TargetC float64 `json:"target_c"`
}

// ErrorJSON is the body of every non-2xx API response.
type ErrorJSON struct {
	Error string `json:"error"`
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if s.requests == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("control API disabled"))
		return
	}
	req := s.requests.Current()
	writeJSON(w, http.StatusOK, RequestJSON{Mode: req.Mode.String(), TargetC: req.TargetC})
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if s.requests == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("control API disabled"))
		return
	}

	var in command.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req, err := s.requests.HandleRequest(in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, RequestJSON{Mode: req.Mode.String(), TargetC: req.TargetC})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event log disabled"))
		return
	}

	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.events.List(r.Context(), f)
	if err != nil {
		if s.log != nil {
			s.log.Errorw("list events", "err", err)
		}
		writeError(w, http.StatusInternalServerError, errors.New("event log unavailable"))
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// parseFilter reads ?from=, ?to= (RFC 3339), ?kind= and ?limit=.
func parseFilter(r *http.Request) (eventlog.Filter, error) {
	q := r.URL.Query()
	f := eventlog.Filter{Kind: q.Get("kind"), Limit: defaultEventLimit}

	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return eventlog.Filter{}, fmt.Errorf("invalid %s %q", name, v)
		}
		*dst = t
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return eventlog.Filter{}, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = min(n, maxEventLimit)
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorJSON{Error: err.Error()})
}

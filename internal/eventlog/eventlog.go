// Package eventlog persists controller history (mode transitions and
// daemon lifecycle) to SQLite. It never stores settings.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tecsuit/climate-core/internal/control"
	"github.com/tecsuit/climate-core/internal/status"
)

// Event kinds.
const (
	KindTransition = "TRANSITION"
	KindStartup    = "STARTUP"
	KindShutdown   = "SHUTDOWN"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02 15:04:05.000"

// Event is one log entry.
type Event struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Kind       string    `json:"kind"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Meta       any       `json:"meta,omitempty"`
}

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	From  time.Time
	To    time.Time
	Kind  string
	Limit int
}

// Store reads and writes climate_events.
type Store struct {
	db    *sql.DB
	newID func() string
	now   func() time.Time
}

// NewStore wraps an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, newID: uuid.NewString, now: time.Now}
}

// Append inserts e. A missing ID or timestamp is filled in.
func (s *Store) Append(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now()
	}

	var meta *string
	if e.Meta != nil {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("encode meta: %w", err)
		}
		m := string(b)
		meta = &m
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO climate_events (id, occurred_at, kind, from_mode, to_mode, reason, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.OccurredAt.UTC().Format(timeLayout),
		strings.ToUpper(strings.TrimSpace(e.Kind)),
		nullable(e.From),
		nullable(e.To),
		nullable(e.Reason),
		meta,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// AppendTransition records a controller transition with the snapshot that
// followed it.
func (s *Store) AppendTransition(ctx context.Context, t control.Transition, after control.Snapshot) error {
	return s.Append(ctx, Event{
		OccurredAt: t.At,
		Kind:       KindTransition,
		From:       string(t.From),
		To:         string(t.To),
		Reason:     string(t.Reason),
		Meta:       status.NewClimateJSON(after),
	})
}

// List returns events matching f, oldest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Event, error) {
	var (
		conds []string
		args  []any
	)
	if !f.From.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if !f.To.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, f.To.UTC().Format(timeLayout))
	}
	if kind := strings.ToUpper(strings.TrimSpace(f.Kind)); kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, kind)
	}

	q := `SELECT id, occurred_at, kind, from_mode, to_mode, reason, meta FROM climate_events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY occurred_at ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, 64)
	for rows.Next() {
		var (
			e                      Event
			at                     string
			from, to, reason, meta sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.Kind, &from, &to, &reason, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.OccurredAt, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("event %s: bad timestamp %q: %w", e.ID, at, err)
		}
		e.From, e.To, e.Reason = from.String, to.String, reason.String

		if meta.Valid && meta.String != "" {
			var v any
			if err := json.Unmarshal([]byte(meta.String), &v); err == nil {
				e.Meta = v
			} else {
				e.Meta = meta.String
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

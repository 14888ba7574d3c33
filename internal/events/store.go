package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/eneverre/eneverre/internal/database"
)

// Subscriber is the part of the event bus the store listens on
type Subscriber interface {
	Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error)
}

// Store persists control events to SQLite
type Store struct {
	db     *database.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a store over an already migrated database
func NewStore(db *database.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "audit-store"),
		now:    time.Now,
	}
}

// Attach records every control event published on the bus
func (s *Store) Attach(bus Subscriber) (*nats.Subscription, error) {
	sub, err := bus.Subscribe(SubjectAllCameras, func(msg *nats.Msg) {
		var ev ControlEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			s.logger.Warn("Dropping malformed control event", "subject", msg.Subject, "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Record(ctx, &ev); err != nil {
			s.logger.Error("Failed to record control event", "camera", ev.CameraID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe audit store: %w", err)
	}
	return sub, nil
}

// Record stores an event, filling in a missing id and timestamp
func (s *Store) Record(ctx context.Context, ev *ControlEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	success := 0
	if ev.Success {
		success = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO control_events (id, camera_id, kind, action, x, y, success, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.CameraID, string(ev.Kind), ev.Action, ev.X, ev.Y, success, ev.Error, ev.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert control event: %w", err)
	}
	return nil
}

// List returns the most recent events, newest first
func (s *Store) List(ctx context.Context, opts ListOptions) ([]ControlEvent, error) {
	query := `SELECT id, camera_id, kind, action, x, y, success, error, timestamp FROM control_events`
	args := []interface{}{}

	if opts.CameraID != "" {
		query += " WHERE camera_id = ?"
		args = append(args, opts.CameraID)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query control events: %w", err)
	}
	defer rows.Close()

	out := []ControlEvent{}
	for rows.Next() {
		var ev ControlEvent
		var kind string
		var success int
		var ts int64
		if err := rows.Scan(&ev.ID, &ev.CameraID, &kind, &ev.Action, &ev.X, &ev.Y, &success, &ev.Error, &ts); err != nil {
			return nil, err
		}
		ev.Kind = Kind(kind)
		ev.Success = success == 1
		ev.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

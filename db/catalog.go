package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/tiktok-live-recorder/events"
)

// Recording statuses stored in the catalog.
const (
	StatusRecording = "recording"
	StatusFinished  = "finished"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

// Recording is one catalog row.
type Recording struct {
	ID         string     `json:"id"`
	User       string     `json:"user"`
	RoomID     string     `json:"room_id"`
	Filename   string     `json:"filename"`
	OutputPath string     `json:"output_path"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// ListOptions filters and pages List.
type ListOptions struct {
	User   string
	Limit  int
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (o *ListOptions) normalize() {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Catalog persists recording lifecycle events to the recordings table.
type Catalog struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCatalog wraps an open, migrated database.
func NewCatalog(db *sql.DB, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{db: db, logger: logger.With(slog.String("component", "catalog"))}
}

// Attach subscribes the catalog to every recording event.
func (c *Catalog) Attach(b *events.Bus) {
	b.Subscribe(events.RecordingStarted, c.RecordStarted)
	b.Subscribe(events.RecordingFinished, c.RecordEnded)
	b.Subscribe(events.RecordingError, c.RecordEnded)
}

// StatusFor maps an event onto a catalog status.
func StatusFor(ev events.Event) string {
	switch {
	case ev.Name == events.RecordingStarted:
		return StatusRecording
	case ev.Name == events.RecordingError:
		return StatusFailed
	case ev.Stopped:
		return StatusStopped
	default:
		return StatusFinished
	}
}

// RecordStarted inserts a row for a started recording. Handlers run
// concurrently, so an end event may already have written the row; that row wins.
func (c *Catalog) RecordStarted(ctx context.Context, ev events.Event) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO recordings (id, username, room_id, filename, output_path, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.User, ev.RoomID, ev.Filename, ev.OutputPath, StatusRecording, ev.StartedAt)
	if err != nil {
		return fmt.Errorf("insert recording %s: %w", ev.ID, err)
	}
	return nil
}

// RecordEnded upserts the terminal state of a recording.
func (c *Catalog) RecordEnded(ctx context.Context, ev events.Event) error {
	var ended *time.Time
	if !ev.EndedAt.IsZero() {
		ended = &ev.EndedAt
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO recordings (id, username, room_id, filename, output_path, status, error, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			output_path = EXCLUDED.output_path,
			ended_at = EXCLUDED.ended_at,
			updated_at = NOW()`,
		ev.ID, ev.User, ev.RoomID, ev.Filename, ev.OutputPath, StatusFor(ev), ev.ErrText(), ev.StartedAt, ended)
	if err != nil {
		return fmt.Errorf("update recording %s: %w", ev.ID, err)
	}
	c.logger.Debug("recording cataloged", slog.String("id", ev.ID), slog.String("status", StatusFor(ev)))
	return nil
}

// List returns recordings newest first.
func (c *Catalog) List(ctx context.Context, opts ListOptions) ([]Recording, error) {
	opts.normalize()
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, username, room_id, filename, output_path, status, error, started_at, ended_at
		FROM recordings
		WHERE ($1 = '' OR username = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`,
		opts.User, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	out := []Recording{}
	for rows.Next() {
		var (
			r     Recording
			ended sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.User, &r.RoomID, &r.Filename, &r.OutputPath, &r.Status, &r.Error, &r.StartedAt, &ended); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one recording by id, or sql.ErrNoRows.
func (c *Catalog) Get(ctx context.Context, id string) (*Recording, error) {
	var (
		r     Recording
		ended sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT id, username, room_id, filename, output_path, status, error, started_at, ended_at
		FROM recordings WHERE id = $1`, id).
		Scan(&r.ID, &r.User, &r.RoomID, &r.Filename, &r.OutputPath, &r.Status, &r.Error, &r.StartedAt, &ended)
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		r.EndedAt = &ended.Time
	}
	return &r, nil
}

// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/onnwee/tiktok-live-recorder/db"
	"github.com/onnwee/tiktok-live-recorder/monitor"
)

// Catalog is the read side of the recordings catalog.
type Catalog interface {
	List(ctx context.Context, opts db.ListOptions) ([]db.Recording, error)
	Get(ctx context.Context, id string) (*db.Recording, error)
}

// Deps are the collaborators the handlers read from. Catalog and DB are nil
// when no database is configured.
type Deps struct {
	Registry *monitor.Registry
	Gate     *monitor.Gate
	Catalog  Catalog
	DB       *sql.DB
	Mode     string
	Logger   *slog.Logger
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps    Deps
	logger  *slog.Logger
	started time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = monitor.NewRegistry()
	}
	if deps.Gate == nil {
		deps.Gate = monitor.NewGate(0)
	}
	return &Handlers{
		deps:    deps,
		logger:  logger.With("component", "http"),
		started: time.Now(),
	}
}

// Package monitor drives discovery and recording: one user once (manual), one
// user polled until cancelled (automatic), or every follower of the session
// account polled concurrently (followers).
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/tiktok-live-recorder/events"
	"github.com/onnwee/tiktok-live-recorder/recorder"
)

// API is the subset of *tiktok.API the monitor depends on.
type API interface {
	RoomID(ctx context.Context, user string) (string, error)
	ResolveUserAndRoom(ctx context.Context, liveURL string) (string, string, error)
	UserFromRoom(ctx context.Context, room string) (string, error)
	CountryBlacklisted(ctx context.Context) bool
	IsAlive(ctx context.Context, room string) bool
	AliveBatch(ctx context.Context, rooms []string) map[string]bool
	StreamURL(ctx context.Context, room string) (string, error)
	SecUID(ctx context.Context) (string, error)
	Followers(ctx context.Context, secUID string) ([]string, error)
}

// Options configures a Monitor. Zero values take the defaults noted per field.
type Options struct {
	OutputDir string        // "."
	Duration  time.Duration // 0 records until the stream ends

	Interval     time.Duration // 5m, between polls and after expected misses
	Cooldown     time.Duration // 30m, after blocked or connection faults
	ErrorBackoff time.Duration // 5s, after unknown errors and recorder failures
	Stagger      time.Duration // 0, pause between recording starts in one followers cycle

	AliveChunkSize     int           // 50
	ResolveConcurrency int           // 8
	CacheTTL           time.Duration // 0 never expires
	MaxConcurrent      int           // 0 unbounded

	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.OutputDir == "" {
		o.OutputDir = "."
	}
	if o.Interval <= 0 {
		o.Interval = 5 * time.Minute
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 30 * time.Minute
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 5 * time.Second
	}
	if o.Stagger < 0 {
		o.Stagger = 0
	}
	if o.AliveChunkSize <= 0 {
		o.AliveChunkSize = 50
	}
	if o.ResolveConcurrency <= 0 {
		o.ResolveConcurrency = 8
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Monitor orchestrates room resolution, liveness checks and recording tasks.
type Monitor struct {
	api         API
	newRecorder recorder.Factory
	bus         *events.Bus
	registry    *Registry
	gate        *Gate
	cache       *ResolutionCache
	opts        Options
	logger      *slog.Logger
	now         func() time.Time
}

// New builds a Monitor. bus may be nil when nothing subscribes to recording events.
func New(api API, newRecorder recorder.Factory, bus *events.Bus, opts Options) *Monitor {
	opts.applyDefaults()
	return &Monitor{
		api:         api,
		newRecorder: newRecorder,
		bus:         bus,
		registry:    NewRegistry(),
		gate:        NewGate(opts.MaxConcurrent),
		cache:       NewResolutionCache(opts.CacheTTL),
		opts:        opts,
		logger:      opts.Logger.With(slog.String("component", "monitor")),
		now:         time.Now,
	}
}

// Registry exposes the active-task registry.
func (m *Monitor) Registry() *Registry { return m.registry }

// Gate exposes the admission gate.
func (m *Monitor) Gate() *Gate { return m.gate }

func (m *Monitor) publish(ctx context.Context, ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ctx, ev)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package events is a small in-process publish/subscribe bus used to decouple
// recording lifecycle from post-processing (uploads, notifications, catalog).
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event names published by the recorder.
const (
	RecordingStarted  = "recording_started"
	RecordingFinished = "recording_finished"
	RecordingError    = "recording_error"
)

// Event is the payload delivered to handlers.
type Event struct {
	ID         string    `json:"id"`
	Name       string    `json:"event"`
	User       string    `json:"user"`
	RoomID     string    `json:"room_id,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	Stopped    bool      `json:"stopped,omitempty"`
	Err        error     `json:"-"`
}

// ErrText returns the event error text, or "" when there is none.
func (e Event) ErrText() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Handler processes one event. Returned errors are logged, never propagated.
type Handler func(ctx context.Context, ev Event) error

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]Handler
	logger *slog.Logger

	// inflight counts running publishes; idle is closed when it drops to zero.
	flightMu sync.Mutex
	inflight int
	idle     chan struct{}

	// OnFailure, when set, is called once per failed handler.
	OnFailure func(event string)
}

// NewBus returns an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]Handler),
		logger: logger.With(slog.String("component", "events")),
	}
}

// Subscribe registers h for future publishes of name. There is no replay.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = append(b.subs[name], h)
	b.logger.Debug("subscribed", slog.String("event", name))
}

// Publish delivers ev to every current subscriber of ev.Name concurrently and
// returns without waiting. Handlers run on a context detached from ctx's
// cancellation so a graceful shutdown does not abort post-processing.
// Failures and panics are collected and logged.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[ev.Name]...)
	b.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}

	b.logger.Info("event published", slog.String("event", ev.Name), slog.String("user", ev.User))
	hctx := context.WithoutCancel(ctx)

	b.begin()
	go func() {
		defer b.end()
		errs := make([]error, len(handlers))
		var wg sync.WaitGroup
		for i, h := range handlers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = b.invoke(hctx, h, ev)
			}()
		}
		wg.Wait()

		var failed []error
		for _, err := range errs {
			if err != nil {
				failed = append(failed, err)
				if b.OnFailure != nil {
					b.OnFailure(ev.Name)
				}
			}
		}
		if len(failed) > 0 {
			b.logger.Warn("event handlers failed",
				slog.String("event", ev.Name),
				slog.Int("failed", len(failed)),
				slog.Int("handlers", len(handlers)),
				slog.Any("err", errors.Join(failed...)))
		}
	}()
}

func (b *Bus) invoke(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

func (b *Bus) begin() {
	b.flightMu.Lock()
	if b.inflight == 0 {
		b.idle = make(chan struct{})
	}
	b.inflight++
	b.flightMu.Unlock()
}

func (b *Bus) end() {
	b.flightMu.Lock()
	b.inflight--
	if b.inflight == 0 {
		close(b.idle)
	}
	b.flightMu.Unlock()
}

// Wait blocks until no publish is in flight or ctx is done. It is safe to
// call while other goroutines keep publishing.
func (b *Bus) Wait(ctx context.Context) error {
	b.flightMu.Lock()
	if b.inflight == 0 {
		b.flightMu.Unlock()
		return nil
	}
	idle := b.idle
	b.flightMu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

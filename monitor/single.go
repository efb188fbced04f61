package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/tiktok-live-recorder/telemetry"
	"github.com/onnwee/tiktok-live-recorder/tiktok"
)

// Manual records user once. An empty room is resolved from user first.
// It fails with tiktok.ErrNotLive when the room is offline.
func (m *Monitor) Manual(ctx context.Context, user, room string) error {
	if room == "" {
		var err error
		if room, err = m.api.RoomID(ctx, user); err != nil {
			return err
		}
	}
	alive := m.api.IsAlive(ctx, room)
	telemetry.ObserveAlive(alive)
	if !alive {
		return fmt.Errorf("@%s: %w", user, tiktok.ErrNotLive)
	}
	return m.Record(ctx, user, room)
}

// Automatic polls user until ctx is cancelled, recording every live session.
// The room id is re-resolved on every iteration. Iteration errors are logged
// and followed by a class-dependent sleep; they never end the loop.
func (m *Monitor) Automatic(ctx context.Context, user string) error {
	log := m.logger.With(slog.String("user", user), slog.String("mode", "automatic"))
	for {
		err := m.automaticOnce(ctx, user)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			m.logIterationError(log, err)
		}
		if err := sleep(ctx, m.backoff(err)); err != nil {
			return err
		}
	}
}

func (m *Monitor) automaticOnce(ctx context.Context, user string) error {
	room, err := m.api.RoomID(ctx, user)
	if err != nil {
		return err
	}
	alive := m.api.IsAlive(ctx, room)
	telemetry.ObserveAlive(alive)
	if !alive {
		m.registry.Release(user)
		return fmt.Errorf("@%s: %w", user, tiktok.ErrNotLive)
	}
	if m.registry.Held(user, room) {
		return fmt.Errorf("@%s: %w", user, ErrStopRequested)
	}
	return m.Record(ctx, user, room)
}

// backoff returns how long to sleep after an iteration ending with err.
func (m *Monitor) backoff(err error) time.Duration {
	if err == nil {
		// A recording just ended; check again shortly for a reconnect.
		return m.opts.ErrorBackoff
	}
	switch Classify(err) {
	case ClassNotLive, ClassResolution, ClassPrivate:
		return m.opts.Interval
	case ClassBlocked, ClassConnection:
		return m.opts.Cooldown
	default:
		return m.opts.ErrorBackoff
	}
}

func (m *Monitor) logIterationError(log *slog.Logger, err error) {
	if errors.Is(err, ErrStopRequested) {
		log.Info("recording stopped on request, waiting for the broadcast to end", slog.Duration("retry_in", m.opts.Interval))
		return
	}
	class := Classify(err)
	if class == ClassNotLive {
		log.Info("user is not live", slog.Duration("retry_in", m.opts.Interval))
		return
	}
	telemetry.ResolutionFailed(class.String())
	wait := m.backoff(err)
	switch class {
	case ClassBlocked, ClassConnection:
		log.Warn("access problem, cooling down", slog.String("class", class.String()), slog.Duration("retry_in", wait), slog.Any("err", err))
	case ClassUnknown:
		log.Error("unexpected error", slog.Duration("retry_in", wait), slog.Any("err", err))
	default:
		log.Warn("iteration failed", slog.String("class", class.String()), slog.Duration("retry_in", wait), slog.Any("err", err))
	}
}

// isCancellation reports whether err only reflects ctx cancellation.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/tiktok-live-recorder/events"
	"github.com/onnwee/tiktok-live-recorder/recorder"
	"github.com/onnwee/tiktok-live-recorder/telemetry"
)

// Record records user's room once and blocks until the recording ends.
//
// The task is registered for its whole lifetime, so it can be listed and
// stopped through the Registry. Cancelling ctx stops the recorder through its
// normal escalation and the partial file is kept.
func (m *Monitor) Record(ctx context.Context, user, room string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	task, ok := m.registry.Add(user, room, cancel)
	if !ok {
		return fmt.Errorf("%s: %w", user, ErrAlreadyRecording)
	}
	if !m.gate.Acquire(ctx) {
		// Never ran; mark it done so the entry can be reaped.
		m.registry.Go(task, func() {})
		return ctx.Err()
	}

	var err error
	m.registry.Go(task, func() {
		defer m.gate.Release()
		err = m.runTask(ctx, task)
	})
	<-task.Done()
	return err
}

// startTask launches a recording for user in the background. It returns false
// when user is already recording or the admission gate is full.
func (m *Monitor) startTask(ctx context.Context, user, room string) bool {
	if !m.gate.TryAcquire() {
		m.logger.Info("admission gate full, deferring to next cycle",
			slog.String("user", user),
			slog.Int("max_concurrent", m.gate.Cap()))
		return false
	}
	tctx, cancel := context.WithCancel(ctx)
	task, ok := m.registry.Add(user, room, cancel)
	if !ok {
		cancel()
		m.gate.Release()
		return false
	}
	m.registry.Go(task, func() {
		defer cancel()
		defer m.gate.Release()
		if err := m.runTask(tctx, task); err != nil {
			m.logger.Error("recording failed", slog.String("user", user), slog.Any("err", err))
		}
	})
	return true
}

// runTask resolves the stream url and drives one recorder to a terminal state,
// publishing started and finished or error events.
func (m *Monitor) runTask(ctx context.Context, t *Task) (err error) {
	log := m.logger.With(
		slog.String("user", t.User),
		slog.String("room_id", t.RoomID),
		slog.String("recording_id", t.ID),
	)
	ctx, span := telemetry.StartSpan(ctx, "monitor.record",
		attribute.String("user", t.User),
		attribute.String("room_id", t.RoomID),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	telemetry.RecordingStarted()
	base := events.Event{ID: t.ID, User: t.User, RoomID: t.RoomID}

	mediaURL, err := m.api.StreamURL(ctx, t.RoomID)
	if err != nil {
		err = fmt.Errorf("resolve stream url: %w", err)
		ev := base
		ev.Name = events.RecordingError
		ev.StartedAt = m.now()
		ev.EndedAt = ev.StartedAt
		ev.Err = err
		m.publish(ctx, ev)
		telemetry.RecordingEnded(telemetry.OutcomeFailed, 0)
		return err
	}

	rec := m.newRecorder()
	startedAt := m.now()
	outputPath := recorder.OutputPath(m.opts.OutputDir, t.User, startedAt, rec.Extension())
	t.attach(rec, outputPath)

	base.Filename = filepath.Base(outputPath)
	base.OutputPath = outputPath
	base.StartedAt = startedAt

	started := base
	started.Name = events.RecordingStarted
	m.publish(ctx, started)
	log.Info("recording started", slog.String("output", outputPath))

	if m.opts.Duration > 0 {
		timer := time.AfterFunc(m.opts.Duration, func() {
			log.Info("recording duration reached", slog.Duration("duration", m.opts.Duration))
			rec.Stop()
		})
		defer timer.Stop()
	}

	err = rec.Start(ctx, mediaURL, outputPath)
	elapsed := time.Since(startedAt)

	ev := base
	ev.EndedAt = m.now()
	switch {
	case err != nil:
		ev.Name = events.RecordingError
		ev.Err = err
		telemetry.RecordingEnded(telemetry.OutcomeFailed, elapsed)
		log.Error("recording failed", slog.Any("err", err), slog.Duration("elapsed", elapsed))
	case rec.State() == recorder.StateStopped:
		ev.Name = events.RecordingFinished
		ev.Stopped = true
		telemetry.RecordingEnded(telemetry.OutcomeStopped, elapsed)
		log.Info("recording stopped", slog.Duration("elapsed", elapsed))
	default:
		ev.Name = events.RecordingFinished
		telemetry.RecordingEnded(telemetry.OutcomeFinished, elapsed)
		log.Info("recording finished", slog.Duration("elapsed", elapsed))
	}
	m.publish(ctx, ev)
	return err
}

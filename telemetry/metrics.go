// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recording outcomes used as the "outcome" label.
const (
	OutcomeFinished = "finished"
	OutcomeStopped  = "stopped"
	OutcomeFailed   = "failed"
)

var (
	once sync.Once

	// Counters
	RecordingsStarted    prometheus.Counter
	RecordingsEnded      *prometheus.CounterVec // outcome
	AliveChecks          *prometheus.CounterVec // result
	ResolutionFailures   *prometheus.CounterVec // class
	Uploads              *prometheus.CounterVec // target, status
	EventHandlerFailures *prometheus.CounterVec // event
	FollowerCycles       prometheus.Counter

	// Histograms (seconds)
	RecordingDuration prometheus.Observer
	UploadDuration    prometheus.Observer

	// Gauges
	ActiveRecordings prometheus.Gauge
	TrackedFollowers prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RecordingsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "tiktok_recordings_started_total", Help: "Number of recordings started"})
		RecordingsEnded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tiktok_recordings_ended_total", Help: "Number of recordings ended by outcome"}, []string{"outcome"})
		AliveChecks = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tiktok_alive_checks_total", Help: "Room liveness checks by result"}, []string{"result"})
		ResolutionFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tiktok_resolution_failures_total", Help: "Failed monitor iterations by error class"}, []string{"class"})
		Uploads = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tiktok_uploads_total", Help: "Uploads by target and status"}, []string{"target", "status"})
		EventHandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tiktok_event_handler_failures_total", Help: "Failed event handler invocations"}, []string{"event"})
		FollowerCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "tiktok_follower_cycles_total", Help: "Number of followers polling cycles"})
		RecordingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiktok_recording_duration_seconds",
			Help:    "Recording duration seconds",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		})
		UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tiktok_upload_duration_seconds", Help: "Upload duration seconds", Buckets: prometheus.DefBuckets})
		ActiveRecordings = promauto.NewGauge(prometheus.GaugeOpts{Name: "tiktok_active_recordings", Help: "Recordings currently in progress"})
		TrackedFollowers = promauto.NewGauge(prometheus.GaugeOpts{Name: "tiktok_tracked_followers", Help: "Followers returned by the last followers cycle"})
	})
}

// RecordingStarted counts a new recording and bumps the active gauge.
func RecordingStarted() {
	if RecordingsStarted == nil {
		return
	}
	RecordingsStarted.Inc()
	ActiveRecordings.Inc()
}

// RecordingEnded records the outcome and duration of a recording started with RecordingStarted.
func RecordingEnded(outcome string, d time.Duration) {
	if RecordingsEnded == nil {
		return
	}
	RecordingsEnded.WithLabelValues(outcome).Inc()
	ActiveRecordings.Dec()
	RecordingDuration.Observe(d.Seconds())
}

// ObserveAlive counts a liveness result.
func ObserveAlive(live bool) {
	if AliveChecks == nil {
		return
	}
	if live {
		AliveChecks.WithLabelValues("live").Inc()
	} else {
		AliveChecks.WithLabelValues("offline").Inc()
	}
}

// ResolutionFailed counts a failed iteration under its error class.
func ResolutionFailed(class string) {
	if ResolutionFailures != nil {
		ResolutionFailures.WithLabelValues(class).Inc()
	}
}

// UploadResult counts an upload attempt and records its duration.
func UploadResult(target string, err error, d time.Duration) {
	if Uploads == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	Uploads.WithLabelValues(target, status).Inc()
	UploadDuration.Observe(d.Seconds())
}

// EventHandlerFailed counts a failed subscriber for event.
func EventHandlerFailed(event string) {
	if EventHandlerFailures != nil {
		EventHandlerFailures.WithLabelValues(event).Inc()
	}
}

// FollowerCycle counts a followers cycle and records the size of the follower list.
func FollowerCycle(followers int) {
	if FollowerCycles == nil {
		return
	}
	FollowerCycles.Inc()
	TrackedFollowers.Set(float64(followers))
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns logger with a corr attribute if ctx carries one.
func LoggerWithCorr(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id := GetCorrelation(ctx); id != "" {
		return logger.With(slog.String("corr", id))
	}
	return logger
}

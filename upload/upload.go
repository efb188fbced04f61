// Package upload ships finished recordings to a remote target (Telegram,
// YouTube or S3-compatible storage) from a recording_finished subscriber.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/onnwee/tiktok-live-recorder/config"
	"github.com/onnwee/tiktok-live-recorder/events"
	"github.com/onnwee/tiktok-live-recorder/telemetry"
)

// Uploader sends one recording file to a target and returns where it landed.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, path string, ev events.Event) (string, error)
}

// New builds the uploader selected by cfg.UploadTarget. It returns nil, nil
// when uploads are disabled.
func New(ctx context.Context, cfg *config.Config) (Uploader, error) {
	switch strings.ToLower(cfg.UploadTarget) {
	case "":
		return nil, nil
	case "telegram":
		tg, err := NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.TelegramAPIURL)
		if err != nil {
			return nil, err
		}
		if limit := tg.MaxFileSize(); limit > 0 {
			slog.Warn("telegram uploads use the public bot api; recordings over the limit will fail, set TELEGRAM_API_URL to a self-hosted bot api server",
				slog.Int64("max_bytes", limit))
		}
		return tg, nil
	case "youtube":
		return NewYouTube(ctx, cfg.YTClientID, cfg.YTClientSecret, cfg.YTRefreshToken, cfg.YTPrivacy)
	case "s3":
		return NewS3(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
	default:
		return nil, fmt.Errorf("unknown upload target %q", cfg.UploadTarget)
	}
}

// Handler uploads the output of every finished recording.
type Handler struct {
	uploader    Uploader
	deleteAfter bool
	logger      *slog.Logger
}

// NewHandler wraps u. With deleteAfter the local file is removed after a
// successful upload.
func NewHandler(u Uploader, deleteAfter bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		uploader:    u,
		deleteAfter: deleteAfter,
		logger:      logger.With(slog.String("component", "upload"), slog.String("target", u.Name())),
	}
}

// Attach subscribes the handler to recording_finished.
func (h *Handler) Attach(b *events.Bus) { b.Subscribe(events.RecordingFinished, h.Handle) }

// Handle is an events.Handler.
func (h *Handler) Handle(ctx context.Context, ev events.Event) error {
	if ev.OutputPath == "" {
		return nil
	}
	st, err := os.Stat(ev.OutputPath)
	if errors.Is(err, os.ErrNotExist) {
		h.logger.Warn("recording file missing, skipping upload", slog.String("path", ev.OutputPath))
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat recording: %w", err)
	}
	if st.Size() == 0 {
		h.logger.Warn("recording file empty, skipping upload", slog.String("path", ev.OutputPath))
		return nil
	}

	log := h.logger.With(slog.String("user", ev.User), slog.String("path", ev.OutputPath))
	log.Info("upload started", slog.Int64("bytes", st.Size()))
	start := time.Now()
	location, err := h.uploader.Upload(ctx, ev.OutputPath, ev)
	telemetry.UploadResult(h.uploader.Name(), err, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s upload %s: %w", h.uploader.Name(), ev.OutputPath, err)
	}
	log.Info("upload complete", slog.String("location", location), slog.Duration("elapsed", time.Since(start)))

	if h.deleteAfter {
		if err := os.Remove(ev.OutputPath); err != nil {
			return fmt.Errorf("delete uploaded recording: %w", err)
		}
		log.Info("local recording deleted")
	}
	return nil
}

// title renders a human-readable name for a recording.
func title(ev events.Event) string {
	ts := ev.StartedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("@%s live %s", ev.User, ts.Format("2006-01-02 15:04"))
}

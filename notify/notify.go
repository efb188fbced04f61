// Package notify sends recording lifecycle notifications to a Discord webhook
// and to the local desktop.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/onnwee/tiktok-live-recorder/events"
)

// Notifier delivers one message for an event.
type Notifier interface {
	Notify(ctx context.Context, ev events.Event) error
}

// Attach subscribes n to every recording event.
func Attach(b *events.Bus, n Notifier) {
	for _, name := range []string{events.RecordingStarted, events.RecordingFinished, events.RecordingError} {
		b.Subscribe(name, n.Notify)
	}
}

// message returns the title and body for ev.
func message(ev events.Event) (string, string) {
	switch ev.Name {
	case events.RecordingStarted:
		return "TikTok Live Recording", fmt.Sprintf("@%s is live, recording to %s", ev.User, ev.Filename)
	case events.RecordingFinished:
		d := ev.EndedAt.Sub(ev.StartedAt).Round(time.Second)
		if ev.Stopped {
			return "Recording Stopped", fmt.Sprintf("@%s recording stopped after %s: %s", ev.User, d, ev.Filename)
		}
		return "Recording Finished", fmt.Sprintf("@%s stream ended after %s: %s", ev.User, d, ev.Filename)
	default:
		return "Recording Failed", fmt.Sprintf("@%s recording failed: %s", ev.User, ev.ErrText())
	}
}

// Embed colors.
const (
	colorBlue  = 3447003
	colorGreen = 3066993
	colorRed   = 15158332
)

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
	URL         string `json:"url,omitempty"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
}

type discordPayload struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds"`
}

// Discord posts an embed to a webhook.
type Discord struct {
	WebhookURL string
	Client     *http.Client
}

// NewDiscord returns a Discord notifier for webhookURL.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{WebhookURL: webhookURL, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *Discord) Notify(ctx context.Context, ev events.Event) error {
	title, desc := message(ev)
	embed := discordEmbed{
		Title:       title,
		Description: desc,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		URL:         fmt.Sprintf("https://www.tiktok.com/@%s/live", ev.User),
	}
	switch ev.Name {
	case events.RecordingStarted:
		embed.Color = colorBlue
	case events.RecordingFinished:
		embed.Color = colorGreen
	default:
		embed.Color = colorRed
	}
	if ev.RoomID != "" {
		embed.Footer.Text = "Room ID: " + ev.RoomID
	}

	body, err := json.Marshal(discordPayload{Embeds: []discordEmbed{embed}})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Desktop shows a system notification.
type Desktop struct {
	IconPath string
	logger   *slog.Logger
	notify   func(title, message, icon string) error
}

// NewDesktop returns a desktop notifier.
func NewDesktop(iconPath string, logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{
		IconPath: iconPath,
		logger:   logger.With(slog.String("component", "notify")),
		notify: func(title, message, icon string) error {
			return beeep.Notify(title, message, icon)
		},
	}
}

func (d *Desktop) Notify(ctx context.Context, ev events.Event) error {
	title, msg := message(ev)
	if err := d.notify(title, msg, d.IconPath); err != nil {
		d.logger.Warn("desktop notification failed", slog.Any("err", err))
		return fmt.Errorf("desktop notify: %w", err)
	}
	return nil
}

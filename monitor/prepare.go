package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/tiktok-live-recorder/tiktok"
)

// Mode selects how a Target is monitored.
type Mode string

const (
	ModeManual    Mode = "manual"
	ModeAutomatic Mode = "automatic"
	ModeFollowers Mode = "followers"
)

// Target is what to monitor. Manual needs User, URL or RoomID; automatic
// needs User or URL; followers needs neither.
type Target struct {
	Mode   Mode
	User   string
	URL    string
	RoomID string
	SecUID string
}

// Prepare probes the country blacklist and fills in whatever identifiers the
// mode needs: a live URL yields user and room, a bare room yields its owner,
// and followers mode looks up the session's secUid.
func (m *Monitor) Prepare(ctx context.Context, t Target) (Target, error) {
	if m.api.CountryBlacklisted(ctx) {
		if t.Mode != ModeManual || t.RoomID == "" {
			return t, fmt.Errorf("%s mode: %w", t.Mode, tiktok.ErrCountryBlacklisted)
		}
		m.logger.Warn("country is blacklisted, continuing with explicit room id", slog.String("room_id", t.RoomID))
	}

	switch t.Mode {
	case ModeFollowers:
		if t.SecUID == "" {
			secUID, err := m.api.SecUID(ctx)
			if err != nil {
				return t, fmt.Errorf("look up secUid: %w", err)
			}
			t.SecUID = secUID
		}
		return t, nil
	case ModeManual, ModeAutomatic:
	default:
		return t, fmt.Errorf("unknown mode %q", t.Mode)
	}

	switch {
	case t.URL != "":
		user, room, err := m.api.ResolveUserAndRoom(ctx, t.URL)
		if err != nil {
			return t, err
		}
		t.User, t.RoomID = user, room
	case t.RoomID != "":
		user, err := m.api.UserFromRoom(ctx, t.RoomID)
		if err != nil {
			return t, err
		}
		t.User = user
	case t.User == "":
		return t, fmt.Errorf("%s mode needs a user, url or room id", t.Mode)
	}
	if t.Mode == ModeAutomatic {
		// Re-resolved every iteration.
		t.RoomID = ""
	}
	m.logger.Info("target prepared", slog.String("mode", string(t.Mode)), slog.String("user", t.User), slog.String("room_id", t.RoomID))
	return t, nil
}

// Run prepares t and dispatches to the mode's orchestrator.
func (m *Monitor) Run(ctx context.Context, t Target) error {
	t, err := m.Prepare(ctx, t)
	if err != nil {
		return err
	}
	switch t.Mode {
	case ModeManual:
		return m.Manual(ctx, t.User, t.RoomID)
	case ModeAutomatic:
		return m.Automatic(ctx, t.User)
	default:
		return m.Followers(ctx, t.SecUID)
	}
}

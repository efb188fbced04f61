package tiktok

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// IsAlive reports whether room is broadcasting. It shares the batch call, so
// any failure reads as not live.
func (a *API) IsAlive(ctx context.Context, room string) bool {
	if room == "" {
		return false
	}
	return a.AliveBatch(ctx, []string{room})[room]
}

// AliveBatch checks many rooms in one request. Every requested id is present
// in the result; ids missing from the response, and every id when the request
// fails, map to false. An empty input returns an empty map without a request.
func (a *API) AliveBatch(ctx context.Context, rooms []string) map[string]bool {
	result := make(map[string]bool, len(rooms))
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if r == "" {
			continue
		}
		if _, dup := result[r]; !dup {
			ids = append(ids, r)
		}
		result[r] = false
	}
	if len(ids) == 0 {
		return result
	}

	q := url.Values{
		"aid":           {"1988"},
		"region":        {"CH"},
		"room_ids":      {strings.Join(ids, ",")},
		"user_is_login": {"true"},
	}
	resp, err := a.client.Get(ctx, WebcastURL+"/webcast/room/check_alive/", WithQuery(q))
	if err != nil {
		a.logger.Warn("alive check failed", slog.Int("rooms", len(ids)), slog.Any("err", err))
		return result
	}
	if resp.StatusCode != http.StatusOK {
		a.logger.Warn("alive check failed", slog.Int("rooms", len(ids)), slog.Int("status", resp.StatusCode))
		return result
	}
	var body struct {
		Data []struct {
			RoomID flexID `json:"room_id"`
			Alive  bool   `json:"alive"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		a.logger.Warn("alive check: decode failed", slog.Any("err", err))
		return result
	}
	for _, item := range body.Data {
		id := string(item.RoomID)
		if _, requested := result[id]; requested {
			result[id] = item.Alive
		}
	}
	// Single-id responses sometimes omit room_id.
	if len(ids) == 1 && len(body.Data) == 1 && body.Data[0].RoomID == "" {
		result[ids[0]] = body.Data[0].Alive
	}
	return result
}

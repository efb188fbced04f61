package tiktok

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// RoomID resolves the current room id of user. It scrapes the live page first
// and falls back to the signing service. Challenge pages surface as ErrBlocked;
// anything else that exhausts both strategies is a *ResolutionError carrying
// the last cause.
func (a *API) RoomID(ctx context.Context, user string) (string, error) {
	if user == "" {
		return "", &ResolutionError{User: user, Err: errors.New("user empty")}
	}
	logger := a.logger.With(slog.String("user", user))

	var lastErr error
	resp, err := a.client.Get(ctx, BaseURL+"/@"+url.PathEscape(user)+"/live", WithoutRedirects())
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn("live page scrape failed, trying signed api", slog.Any("err", err))
		lastErr = err
	case resp.StatusCode == http.StatusOK:
		if id, ok := ParseRoomID(resp.Text()); ok {
			return id, nil
		}
		lastErr = errors.New("room id not present in live page")
	default:
		lastErr = fmt.Errorf("live page status %d", resp.StatusCode)
	}

	id, err := a.signedRoomID(ctx, user)
	if err != nil {
		if errors.Is(err, ErrBlocked) || ctx.Err() != nil {
			return "", err
		}
		logger.Debug("signed room lookup failed", slog.Any("err", err), slog.Any("scrape_err", lastErr))
		return "", &ResolutionError{User: user, Err: err}
	}
	return id, nil
}

func (a *API) signedRoomID(ctx context.Context, user string) (string, error) {
	resp, err := a.client.Get(ctx, SignerURL+"/tiktok/room/api/sign", WithQuery(url.Values{"unique_id": {user}}))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signing service status %d", resp.StatusCode)
	}
	var signed struct {
		SignedPath string `json:"signed_path"`
	}
	if err := json.Unmarshal(resp.Body, &signed); err != nil {
		return "", fmt.Errorf("decode signing response: %w", err)
	}
	if signed.SignedPath == "" {
		return "", errors.New("signing service returned no path")
	}

	resp, err = a.client.Get(ctx, BaseURL+signed.SignedPath)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" || strings.Contains(text, "Please wait") {
		return "", fmt.Errorf("signed room lookup for %s: %w", user, ErrBlocked)
	}
	var body struct {
		Data *struct {
			User struct {
				RoomID flexID `json:"roomId"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", fmt.Errorf("decode room response: %w", err)
	}
	if body.Data == nil || body.Data.User.RoomID == "" {
		return "", errors.New("roomId missing from response")
	}
	return string(body.Data.User.RoomID), nil
}

// ResolveUserAndRoom turns a live URL into (user, room id). A 302 means the
// page is denied by region policy; a 301 carries the canonical handle in its
// body; otherwise the handle is read from the URL itself.
func (a *API) ResolveUserAndRoom(ctx context.Context, liveURL string) (string, string, error) {
	resp, err := a.client.Get(ctx, liveURL, WithoutRedirects())
	if err != nil {
		return "", "", err
	}

	var user string
	switch resp.StatusCode {
	case http.StatusFound:
		return "", "", ErrRegionBlocked
	case http.StatusMovedPermanently:
		u, ok := ParseUserFromMovedBody(resp.Text())
		if !ok {
			return "", "", fmt.Errorf("%w: %s", ErrInvalidLiveURL, liveURL)
		}
		user = u
	default:
		u, ok := ParseUserFromLiveURL(liveURL)
		if !ok {
			return "", "", fmt.Errorf("%w: %s", ErrInvalidLiveURL, liveURL)
		}
		user = u
	}

	room, err := a.RoomID(ctx, user)
	if err != nil {
		return user, "", err
	}
	return user, room, nil
}

// UserFromRoom returns the display id of the owner of room.
func (a *API) UserFromRoom(ctx context.Context, room string) (string, error) {
	resp, err := a.roomInfo(ctx, room)
	if err != nil {
		return "", err
	}
	if isPrivate(resp.Body) {
		return "", ErrPrivateAccount
	}
	var body struct {
		Data struct {
			Owner struct {
				DisplayID string `json:"display_id"`
			} `json:"owner"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", fmt.Errorf("decode room info: %w", err)
	}
	if body.Data.Owner.DisplayID == "" {
		return "", &ResolutionError{Room: room, Err: errors.New("owner display_id missing")}
	}
	return body.Data.Owner.DisplayID, nil
}

// CountryBlacklisted reports whether TikTok redirects anonymous /live visits,
// which happens in countries that require a logged in session. Errors are
// logged and reported as not blacklisted.
func (a *API) CountryBlacklisted(ctx context.Context) bool {
	resp, err := a.client.Get(ctx, BaseURL+"/live", WithoutRedirects())
	if err != nil {
		a.logger.Warn("country blacklist probe failed", slog.Any("err", err))
		return false
	}
	return resp.StatusCode == http.StatusFound
}

func (a *API) roomInfo(ctx context.Context, room string) (*Response, error) {
	q := url.Values{"aid": {"1988"}, "room_id": {room}}
	return a.client.Get(ctx, WebcastURL+"/webcast/room/info/", WithQuery(q))
}

package tiktok

import (
	"encoding/json"
	"regexp"
)

var (
	sigiStateRe   = regexp.MustCompile(`(?s)<script id="SIGI_STATE" type="application/json">(.*?)</script>`)
	roomIDQueryRe = regexp.MustCompile(`room_id=([0-9]+)`)
	roomIDFieldRe = regexp.MustCompile(`"roomId":"([0-9]+)"`)
	liveURLRe     = regexp.MustCompile(`^https?://(?:www\.)?tiktok\.com/@([^/?#]+)/live`)
	movedBodyRe   = regexp.MustCompile(`com/@(.*?)/live`)
)

// ParseRoomID extracts a room id from live page markup. Sources are tried in
// a fixed order and the first hit wins:
//
//  1. the SIGI_STATE JSON blob, at LiveRoom.liveRoomUserInfo.user.roomId
//  2. a room_id=<digits> query token
//  3. a "roomId":"<digits>" JSON literal
//
// A malformed SIGI_STATE blob counts as no match.
func ParseRoomID(markup string) (string, bool) {
	if id, ok := roomIDFromSigiState(markup); ok {
		return id, true
	}
	if m := roomIDQueryRe.FindStringSubmatch(markup); m != nil {
		return m[1], true
	}
	if m := roomIDFieldRe.FindStringSubmatch(markup); m != nil {
		return m[1], true
	}
	return "", false
}

func roomIDFromSigiState(markup string) (string, bool) {
	m := sigiStateRe.FindStringSubmatch(markup)
	if m == nil {
		return "", false
	}
	var state struct {
		LiveRoom struct {
			LiveRoomUserInfo struct {
				User struct {
					RoomID flexID `json:"roomId"`
				} `json:"user"`
			} `json:"liveRoomUserInfo"`
		} `json:"LiveRoom"`
	}
	if err := json.Unmarshal([]byte(m[1]), &state); err != nil {
		return "", false
	}
	id := string(state.LiveRoom.LiveRoomUserInfo.User.RoomID)
	return id, id != ""
}

// ParseUserFromLiveURL extracts the handle from https://www.tiktok.com/@<handle>/live.
func ParseUserFromLiveURL(u string) (string, bool) {
	m := liveURLRe.FindStringSubmatch(u)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseUserFromMovedBody extracts the canonical handle from the body of a
// 301 response for a short or legacy live link.
func ParseUserFromMovedBody(body string) (string, bool) {
	m := movedBodyRe.FindStringSubmatch(body)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

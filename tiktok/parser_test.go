package tiktok

import "testing"

func TestParseRoomID(t *testing.T) {
	sigi := `<html><script id="SIGI_STATE" type="application/json">{"LiveRoom":{"liveRoomUserInfo":{"user":{"roomId":"7300000000000000001"}}}}</script></html>`

	tests := []struct {
		name   string
		markup string
		want   string
		wantOK bool
	}{
		{
			name:   "query token",
			markup: `<a href="/webcast/feed?room_id=12345&x=1">`,
			want:   "12345",
			wantOK: true,
		},
		{
			name:   "json literal",
			markup: `{"user":{"roomId":"12345"}}`,
			want:   "12345",
			wantOK: true,
		},
		{
			name:   "sigi state",
			markup: `<script id="SIGI_STATE" type="application/json">{"LiveRoom":{"liveRoomUserInfo":{"user":{"roomId":"12345"}}}}</script>`,
			want:   "12345",
			wantOK: true,
		},
		{
			name:   "sigi state with numeric id keeps precision",
			markup: `<script id="SIGI_STATE" type="application/json">{"LiveRoom":{"liveRoomUserInfo":{"user":{"roomId":7312345678901234567}}}}</script>`,
			want:   "7312345678901234567",
			wantOK: true,
		},
		{
			name:   "sigi state wins over query token",
			markup: sigi + `<a href="?room_id=111">` + `"roomId":"222"`,
			want:   "7300000000000000001",
			wantOK: true,
		},
		{
			name:   "query token wins over json literal",
			markup: `"roomId":"222" room_id=111`,
			want:   "111",
			wantOK: true,
		},
		{
			name:   "malformed sigi state falls through",
			markup: `<script id="SIGI_STATE" type="application/json">{not json</script> room_id=999`,
			want:   "999",
			wantOK: true,
		},
		{
			name:   "sigi state without room id falls through",
			markup: `<script id="SIGI_STATE" type="application/json">{"LiveRoom":{}}</script> "roomId":"42"`,
			want:   "42",
			wantOK: true,
		},
		{
			name:   "no match",
			markup: `<html>nothing to see</html>`,
			wantOK: false,
		},
		{
			name:   "empty json literal is not a match",
			markup: `"roomId":""`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRoomID(tt.markup)
			if ok != tt.wantOK {
				t.Fatalf("ParseRoomID() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseRoomID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRoomIDSameIDAcrossShapes(t *testing.T) {
	shapes := []string{
		`room_id=555`,
		`"roomId":"555"`,
		`<script id="SIGI_STATE" type="application/json">{"LiveRoom":{"liveRoomUserInfo":{"user":{"roomId":"555"}}}}</script>`,
	}
	for _, markup := range shapes {
		got, ok := ParseRoomID(markup)
		if !ok || got != "555" {
			t.Errorf("ParseRoomID(%q) = %q, %v; want 555, true", markup, got, ok)
		}
	}
}

func TestParseUserFromLiveURL(t *testing.T) {
	tests := []struct {
		url    string
		want   string
		wantOK bool
	}{
		{"https://www.tiktok.com/@someone/live", "someone", true},
		{"http://tiktok.com/@some.one_2/live", "some.one_2", true},
		{"https://www.tiktok.com/@someone/live?lang=en", "someone", true},
		{"https://www.tiktok.com/@someone", "", false},
		{"https://example.com/@someone/live", "", false},
		{"not a url", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, ok := ParseUserFromLiveURL(tt.url)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseUserFromLiveURL(%q) = %q, %v; want %q, %v", tt.url, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseUserFromMovedBody(t *testing.T) {
	got, ok := ParseUserFromMovedBody(`<a href="https://www.tiktok.com/@canonical/live?x=1">Moved</a>`)
	if !ok || got != "canonical" {
		t.Errorf("ParseUserFromMovedBody() = %q, %v; want canonical, true", got, ok)
	}
	if _, ok := ParseUserFromMovedBody("<html></html>"); ok {
		t.Error("ParseUserFromMovedBody() matched a body without a live link")
	}
}

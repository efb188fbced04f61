// Package tiktok resolves TikTok live rooms and stream URLs without an official
// API: it scrapes live pages, falls back to a signing service, batch-checks
// room liveness and picks the best stream rendition from room info responses.
package tiktok

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
)

// Endpoints used by API. They are variables so deployments can point at mirrors.
var (
	BaseURL    = "https://www.tiktok.com"
	WebcastURL = "https://webcast.tiktok.com"
	SignerURL  = "https://tikrec.com"
)

// API bundles the TikTok operations on top of a Client.
type API struct {
	client *Client
	logger *slog.Logger
}

// NewAPI returns an API using client for all requests.
func NewAPI(client *Client, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{client: client, logger: logger.With(slog.String("component", "tiktok"))}
}

// Close closes the underlying client.
func (a *API) Close() error { return a.client.Close() }

// flexID decodes an identifier that the platform sends either as a JSON
// string or as a (64-bit) number, without losing precision.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// privateMarkers are substrings the room info endpoint returns for private accounts.
var privateMarkers = []string{
	"This account is private",
	"Follow the creator to watch their LIVE",
}

func isPrivate(body []byte) bool {
	s := string(body)
	for _, m := range privateMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

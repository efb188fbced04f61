package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// directQualityOrder is the fixed priority list for flv_pull_url keys.
var directQualityOrder = []string{"FULL_HD1", "HD1", "SD2", "SD1"}

// Rendition is one quality variant offered by the SDK tier.
type Rendition struct {
	SDKKey string
	Level  int
	URL    string
}

type roomInfoStream struct {
	FlvPullURL      map[string]string `json:"flv_pull_url"`
	RtmpPullURL     string            `json:"rtmp_pull_url"`
	LiveCoreSDKData struct {
		PullData struct {
			StreamData string `json:"stream_data"`
			Options    struct {
				Qualities []struct {
					SDKKey string `json:"sdk_key"`
					Level  int    `json:"level"`
				} `json:"qualities"`
			} `json:"options"`
		} `json:"pull_data"`
	} `json:"live_core_sdk_data"`
}

// StreamURL returns the best playable media URL for room. Private accounts
// fail with ErrPrivateAccount before any rendition parsing; rooms without a
// usable rendition fail with ErrStreamNotFound.
func (a *API) StreamURL(ctx context.Context, room string) (string, error) {
	resp, err := a.roomInfo(ctx, room)
	if err != nil {
		return "", err
	}
	if isPrivate(resp.Body) {
		return "", ErrPrivateAccount
	}
	var info struct {
		Data struct {
			StreamURL roomInfoStream `json:"stream_url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return "", fmt.Errorf("%w: decode room info: %v", ErrStreamNotFound, err)
	}
	return selectStreamURL(info.Data.StreamURL)
}

func selectStreamURL(s roomInfoStream) (string, error) {
	for _, q := range directQualityOrder {
		if u := s.FlvPullURL[q]; u != "" {
			return u, nil
		}
	}
	if s.RtmpPullURL != "" {
		return s.RtmpPullURL, nil
	}

	pull := s.LiveCoreSDKData.PullData
	if pull.StreamData == "" {
		return "", ErrStreamNotFound
	}
	if len(pull.Options.Qualities) == 0 {
		return "", fmt.Errorf("%w: no quality levels", ErrStreamNotFound)
	}
	levels := make(map[string]int, len(pull.Options.Qualities))
	for _, q := range pull.Options.Qualities {
		levels[q.SDKKey] = q.Level
	}
	entries, err := sdkEntries([]byte(pull.StreamData))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStreamNotFound, err)
	}
	renditions := make([]Rendition, 0, len(entries))
	for _, e := range entries {
		level, ok := levels[e.key]
		if !ok {
			level = -1
		}
		renditions = append(renditions, Rendition{SDKKey: e.key, Level: level, URL: e.flv})
	}
	best, ok := SelectRendition(renditions)
	if !ok || best.URL == "" {
		return "", ErrStreamNotFound
	}
	return best.URL, nil
}

// SelectRendition picks the rendition with the highest level. Ties go to the
// first one in slice order; renditions with a negative (unknown) level are
// never picked.
func SelectRendition(renditions []Rendition) (Rendition, bool) {
	best := Rendition{Level: -1}
	found := false
	for _, r := range renditions {
		if r.Level > best.Level {
			best = r
			found = true
		}
	}
	return best, found
}

type sdkEntry struct {
	key string
	flv string
}

// sdkEntries decodes the "data" object of the embedded stream_data document,
// keeping the key order of the response.
func sdkEntries(streamData []byte) ([]sdkEntry, error) {
	var doc struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(streamData, &doc); err != nil {
		return nil, fmt.Errorf("decode stream_data: %w", err)
	}
	if len(doc.Data) == 0 {
		return nil, errors.New("stream_data has no data object")
	}

	dec := json.NewDecoder(bytes.NewReader(doc.Data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("stream_data.data is not an object")
	}
	var out []sdkEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var entry struct {
			Main struct {
				FLV string `json:"flv"`
			} `json:"main"`
		}
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("decode rendition %q: %w", key, err)
		}
		out = append(out, sdkEntry{key: key, flv: entry.Main.FLV})
	}
	return out, nil
}

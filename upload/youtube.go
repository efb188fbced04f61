package upload

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/tiktok-live-recorder/events"
)

const youtubeUploadScope = "https://www.googleapis.com/auth/youtube.upload"

// YouTube uploads recordings as videos on the channel owning the refresh token.
type YouTube struct {
	svc     *yt.Service
	privacy string
}

// NewYouTube builds an uploader from OAuth client credentials and a
// long-lived refresh token. Access tokens are refreshed on demand.
func NewYouTube(ctx context.Context, clientID, clientSecret, refreshToken, privacy string) (*YouTube, error) {
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, fmt.Errorf("youtube upload needs YT_CLIENT_ID, YT_CLIENT_SECRET and YT_REFRESH_TOKEN")
	}
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtubeUploadScope},
	}
	client := conf.Client(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return newYouTubeWithClient(ctx, client, privacy)
}

func newYouTubeWithClient(ctx context.Context, client *http.Client, privacy string, opts ...option.ClientOption) (*YouTube, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	if privacy == "" {
		privacy = "private"
	}
	return &YouTube{svc: svc, privacy: privacy}, nil
}

func (y *YouTube) Name() string { return "youtube" }

// Upload inserts path as a new video and returns its watch URL.
func (y *YouTube) Upload(ctx context.Context, path string, ev events.Event) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	video := &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       title(ev),
			Description: fmt.Sprintf("Recorded from https://www.tiktok.com/@%s/live", ev.User),
			Tags:        []string{"tiktok", ev.User},
		},
		Status: &yt.VideoStatus{PrivacyStatus: y.privacy},
	}
	res, err := y.svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}
	if res.Id == "" {
		return "", fmt.Errorf("youtube upload: empty id")
	}
	return "https://www.youtube.com/watch?v=" + res.Id, nil
}

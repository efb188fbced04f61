package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/onnwee/tiktok-live-recorder/events"
)

// DefaultTelegramAPI is the public Bot API endpoint.
const DefaultTelegramAPI = "https://api.telegram.org"

// Bot API file limit on the public endpoint. A self-hosted Bot API server
// raises it, so the limit only applies to DefaultTelegramAPI.
const telegramPublicLimit = 50 << 20

// Telegram uploads recordings with the Bot API sendDocument method.
type Telegram struct {
	Token  string
	ChatID string
	APIURL string
	Client *http.Client
}

// NewTelegram validates the credentials. An empty apiURL uses DefaultTelegramAPI.
func NewTelegram(token, chatID, apiURL string) (*Telegram, error) {
	if token == "" || chatID == "" {
		return nil, fmt.Errorf("telegram upload needs TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID")
	}
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	return &Telegram{Token: token, ChatID: chatID, APIURL: strings.TrimRight(apiURL, "/"), Client: &http.Client{}}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// MaxFileSize returns the largest file the endpoint accepts, or 0 when a
// self-hosted Bot API server sets no fixed limit.
func (t *Telegram) MaxFileSize() int64 {
	if t.APIURL == DefaultTelegramAPI {
		return telegramPublicLimit
	}
	return 0
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// Upload streams path as a multipart document without buffering it in memory.
func (t *Telegram) Upload(ctx context.Context, path string, ev events.Event) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	if st, err := f.Stat(); err == nil && t.MaxFileSize() > 0 && st.Size() > t.MaxFileSize() {
		return "", fmt.Errorf("file is %d bytes, public bot api limit is %d; set TELEGRAM_API_URL to a self-hosted bot api server", st.Size(), t.MaxFileSize())
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("chat_id", t.ChatID); err != nil {
				return err
			}
			if err := mw.WriteField("caption", title(ev)); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("document", filepath.Base(path))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, f); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	endpoint := fmt.Sprintf("%s/bot%s/sendDocument", t.APIURL, t.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.Client.Do(req)
	if err != nil {
		// The url.Error text would carry the bot token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", fmt.Errorf("send document: %w", err)
	}
	defer resp.Body.Close()

	var out telegramResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return "", fmt.Errorf("telegram api: %s (status %d)", out.Description, resp.StatusCode)
	}
	return fmt.Sprintf("telegram:%s/%d", t.ChatID, out.Result.MessageID), nil
}

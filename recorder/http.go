package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

const httpWriteBuffer = 512 << 10

// HTTPRecorder copies a live FLV stream straight to disk, without ffmpeg.
type HTTPRecorder struct {
	Client   *http.Client
	Progress io.Writer
	Logger   *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *HTTPRecorder) Extension() string { return ".flv" }

func (h *HTTPRecorder) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *HTTPRecorder) IsActive() bool { return h.State().Active() }

func (h *HTTPRecorder) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return http.DefaultClient
}

func (h *HTTPRecorder) logger() *slog.Logger {
	l := h.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", "http_recorder"))
}

// Start downloads mediaURL into outputPath until the stream ends, Stop is
// called or ctx is cancelled.
func (h *HTTPRecorder) Start(ctx context.Context, mediaURL, outputPath string) error {
	h.mu.Lock()
	if h.state.Active() {
		h.mu.Unlock()
		return ErrAlreadyRecording
	}
	rctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h.state, h.cancel, h.done = StateStarting, cancel, done
	h.mu.Unlock()
	defer close(done)
	defer cancel()

	logger := h.logger().With(slog.String("output", outputPath))

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		h.setState(StateFailed)
		return fmt.Errorf("create output dir: %w", err)
	}
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		h.setState(StateFailed)
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := h.client().Do(req)
	if err != nil {
		if rctx.Err() != nil {
			h.setState(StateStopped)
			return nil
		}
		h.setState(StateFailed)
		return fmt.Errorf("open stream: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Debug("failed to close stream body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		h.setState(StateFailed)
		return fmt.Errorf("open stream: status %d", resp.StatusCode)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		h.setState(StateFailed)
		return fmt.Errorf("create output: %w", err)
	}
	var dst io.Writer = f
	if h.Progress != nil {
		bar := progressbar.NewOptions64(-1,
			progressbar.OptionSetDescription(filepath.Base(outputPath)),
			progressbar.OptionSetWriter(h.Progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSpinnerType(14),
		)
		defer func() { _ = bar.Finish() }()
		dst = io.MultiWriter(f, bar)
	}

	h.setState(StateRecording)
	logger.Info("recording started")

	w := bufio.NewWriterSize(dst, httpWriteBuffer)
	n, copyErr := io.Copy(w, resp.Body)
	flushErr := w.Flush()
	closeErr := f.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.state == StateStopping || rctx.Err() != nil:
		h.state = StateStopped
		logger.Info("recording stopped", slog.Int64("bytes", n))
		return nil
	case copyErr != nil && !errors.Is(copyErr, io.EOF) && !errors.Is(copyErr, io.ErrUnexpectedEOF):
		h.state = StateFailed
		return fmt.Errorf("copy stream: %w", copyErr)
	case flushErr != nil || closeErr != nil:
		h.state = StateFailed
		return fmt.Errorf("write output: %w", errors.Join(flushErr, closeErr))
	}
	h.state = StateFinished
	logger.Info("recording finished", slog.Int64("bytes", n))
	return nil
}

// Stop cancels the download and waits for Start to flush the file.
func (h *HTTPRecorder) Stop() {
	h.mu.Lock()
	if h.state != StateRecording {
		h.mu.Unlock()
		return
	}
	h.state = StateStopping
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	cancel()
	<-done
}

func (h *HTTPRecorder) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

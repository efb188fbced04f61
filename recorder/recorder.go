// Package recorder drives a single live recording from a media URL to a
// local file. Two variants share the Recorder interface: Process runs an
// external ffmpeg and HTTPRecorder copies an FLV stream directly.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"time"
)

// State is the lifecycle of one recorder.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StateStopping
	StateStopped
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Active reports whether the state owns a running recording.
func (s State) Active() bool {
	return s == StateStarting || s == StateRecording || s == StateStopping
}

// Terminal reports whether the recorder reached an end state.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFinished || s == StateFailed
}

// ErrAlreadyRecording is returned by Start when a recording is in progress.
var ErrAlreadyRecording = errors.New("recording already in progress")

// ExitError is returned when the external recorder exits with a non-zero code.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("recorder exited with code %d", e.Code)
	}
	return fmt.Sprintf("recorder exited with code %d: %s", e.Code, e.Stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Recorder records one stream at a time.
//
// Start blocks until the recording ends. It returns nil when the stream ended
// on its own (StateFinished) or was stopped (StateStopped), and an error when
// the recording failed. Stop runs the shutdown sequence and is a no-op unless
// a recording is in progress. Cancelling the Start context is equivalent to
// calling Stop.
type Recorder interface {
	Start(ctx context.Context, mediaURL, outputPath string) error
	Stop()
	IsActive() bool
	State() State
	// Extension is the output file extension including the dot.
	Extension() string
}

// Factory returns a fresh Recorder for every recording.
type Factory func() Recorder

const (
	KindFFmpeg = "ffmpeg"
	KindHTTP   = "http"
)

// Options selects and configures a recorder variant.
type Options struct {
	Kind string

	// FFmpegPath is the ffmpeg binary for KindFFmpeg.
	FFmpegPath  string
	QuitTimeout time.Duration
	TermTimeout time.Duration

	// HTTPClient downloads the stream for KindHTTP.
	HTTPClient *http.Client
	// Progress receives a byte progress bar for KindHTTP when non-nil.
	Progress   io.Writer

	Logger *slog.Logger
}

// NewFactory validates opts and returns a Factory for the chosen variant.
func NewFactory(opts Options) (Factory, error) {
	switch opts.Kind {
	case "", KindFFmpeg:
		bin := opts.FFmpegPath
		if bin == "" {
			bin = "ffmpeg"
		}
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		return func() Recorder {
			p := NewProcess(bin, opts.Logger)
			if opts.QuitTimeout > 0 {
				p.QuitTimeout = opts.QuitTimeout
			}
			if opts.TermTimeout > 0 {
				p.TermTimeout = opts.TermTimeout
			}
			return p
		}, nil
	case KindHTTP:
		return func() Recorder {
			return &HTTPRecorder{Client: opts.HTTPClient, Progress: opts.Progress, Logger: opts.Logger}
		}, nil
	default:
		return nil, fmt.Errorf("unknown recorder %q (want %s or %s)", opts.Kind, KindFFmpeg, KindHTTP)
	}
}

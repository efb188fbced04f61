package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	DefaultQuitTimeout = 3 * time.Second
	DefaultTermTimeout = 5 * time.Second

	stderrTail = 8 << 10
)

// execCommand is swapped in tests.
var execCommand = exec.Command

// FFmpegArgs returns the ffmpeg arguments for a copy-only MP4 recording.
func FFmpegArgs(mediaURL, outputPath string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", mediaURL,
		"-c", "copy",
		"-f", "mp4",
		"-bsf:a", "aac_adtstoasc",
		outputPath,
	}
}

// Process records a stream with an external ffmpeg process.
//
// Stop escalates in three steps, each skipped once the process has exited:
// write "q" to stdin and wait QuitTimeout, send SIGTERM and wait TermTimeout,
// then kill.
type Process struct {
	Binary      string
	QuitTimeout time.Duration
	TermTimeout time.Duration

	logger *slog.Logger

	mu     sync.Mutex
	state  State
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	exited chan struct{}
}

// NewProcess returns an idle Process running binary.
func NewProcess(binary string, logger *slog.Logger) *Process {
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{
		Binary:      binary,
		QuitTimeout: DefaultQuitTimeout,
		TermTimeout: DefaultTermTimeout,
		logger:      logger.With(slog.String("component", "ffmpeg")),
	}
}

func (p *Process) Extension() string { return ".mp4" }

func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) IsActive() bool { return p.State().Active() }

// Start launches the recorder and blocks until it exits. See Recorder.
func (p *Process) Start(ctx context.Context, mediaURL, outputPath string) error {
	p.mu.Lock()
	if p.state.Active() {
		p.mu.Unlock()
		return ErrAlreadyRecording
	}
	p.state = StateStarting
	p.mu.Unlock()

	logger := p.logger.With(slog.String("output", outputPath))

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		p.setState(StateFailed)
		return fmt.Errorf("create output dir: %w", err)
	}

	cmd := execCommand(p.Binary, FFmpegArgs(mediaURL, outputPath)...)
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.setState(StateFailed)
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		p.setState(StateFailed)
		return fmt.Errorf("start %s: %w", p.Binary, err)
	}

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()

	p.mu.Lock()
	p.cmd, p.stdin, p.exited = cmd, stdin, exited
	p.state = StateRecording
	p.mu.Unlock()
	logger.Info("recording started", slog.Int("pid", cmd.Process.Pid))

	select {
	case <-exited:
	case <-ctx.Done():
		p.Stop()
	}
	// The waiter goroutine must be observed before returning, whichever
	// branch fired.
	<-exited

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cmd, p.stdin = nil, nil
	if p.state == StateStopping || p.state == StateStopped {
		p.state = StateStopped
		logger.Info("recording stopped")
		return nil
	}
	if waitErr != nil {
		p.state = StateFailed
		code := -1
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			code = ee.ExitCode()
		}
		msg := strings.TrimSpace(stderr.String())
		logger.Error("recorder exited with error", slog.Int("code", code), slog.String("stderr", msg))
		return &ExitError{Code: code, Stderr: msg, Err: waitErr}
	}
	p.state = StateFinished
	logger.Info("recording finished")
	return nil
}

// Stop runs the quit, terminate, kill escalation and returns once the
// process has exited. It is a no-op unless the process is recording.
func (p *Process) Stop() {
	p.mu.Lock()
	if p.state != StateRecording {
		p.mu.Unlock()
		return
	}
	p.state = StateStopping
	cmd, stdin, exited := p.cmd, p.stdin, p.exited
	p.mu.Unlock()

	p.logger.Info("stopping recording", slog.Int("pid", cmd.Process.Pid))
	if _, err := io.WriteString(stdin, "q"); err != nil {
		p.logger.Debug("write quit to stdin", slog.Any("err", err))
	}
	if !waitFor(exited, p.QuitTimeout) {
		p.logger.Warn("ffmpeg did not quit, sending terminate")
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			p.logger.Debug("terminate", slog.Any("err", err))
		}
		if !waitFor(exited, p.TermTimeout) {
			p.logger.Warn("ffmpeg did not terminate, killing")
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.logger.Error("kill ffmpeg", slog.Any("err", err))
			}
			<-exited
		}
	}

	p.mu.Lock()
	if p.state == StateStopping {
		p.state = StateStopped
	}
	p.mu.Unlock()
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func waitFor(ch <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

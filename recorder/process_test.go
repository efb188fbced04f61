package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

// fakeFFmpeg makes execCommand re-run the test binary as TestHelperProcess in
// the given mode.
func fakeFFmpeg(t *testing.T, mode string) {
	t.Helper()
	orig := execCommand
	execCommand = func(name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() { execCommand = orig })
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	out := args[len(args)-1]

	switch os.Getenv("HELPER_MODE") {
	case "finish":
		_ = os.WriteFile(out, []byte("complete"), 0o644)
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "Connection refused")
		os.Exit(1)
	case "quit":
		_ = os.WriteFile(out, []byte("partial"), 0o644)
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				os.Exit(2)
			}
			if n == 1 && buf[0] == 'q' {
				os.Exit(0)
			}
		}
	case "term":
		time.Sleep(time.Minute)
		os.Exit(0)
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(3)
}

func TestFFmpegArgs(t *testing.T) {
	got := strings.Join(FFmpegArgs("http://cdn/live.flv", "/tmp/out.mp4"), " ")
	for _, want := range []string{"-y", "-i http://cdn/live.flv", "-c copy", "-f mp4", "-bsf:a aac_adtstoasc"} {
		if !strings.Contains(got, want) {
			t.Errorf("FFmpegArgs() = %q, missing %q", got, want)
		}
	}
	if !strings.HasSuffix(got, "/tmp/out.mp4") {
		t.Errorf("FFmpegArgs() = %q, output path must be last", got)
	}
}

func newTestProcess(quit, term time.Duration) *Process {
	p := NewProcess("ffmpeg", nil)
	p.QuitTimeout = quit
	p.TermTimeout = term
	return p
}

func TestProcess_NaturalExit(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		wantState State
		wantErr   bool
	}{
		{name: "exit zero finishes", mode: "finish", wantState: StateFinished},
		{name: "non-zero exit fails", mode: "fail", wantState: StateFailed, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakeFFmpeg(t, tt.mode)
			out := filepath.Join(t.TempDir(), "nested", "dir", "TK_a.mp4")
			p := newTestProcess(time.Second, time.Second)

			err := p.Start(context.Background(), "http://cdn/live.flv", out)
			if got := p.State(); got != tt.wantState {
				t.Errorf("State() = %v, want %v", got, tt.wantState)
			}
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Start() error = %v", err)
				}
				if _, err := os.Stat(out); err != nil {
					t.Errorf("output file missing: %v", err)
				}
				return
			}
			var ee *ExitError
			if !errors.As(err, &ee) {
				t.Fatalf("Start() error = %v, want *ExitError", err)
			}
			if ee.Code != 1 || !strings.Contains(ee.Stderr, "Connection refused") {
				t.Errorf("ExitError = %+v, want code 1 with stderr", ee)
			}
		})
	}
}

func startAsync(t *testing.T, ctx context.Context, p *Process, out string) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- p.Start(ctx, "http://cdn/live.flv", out) }()
	deadline := time.Now().Add(5 * time.Second)
	for p.State() != StateRecording {
		if time.Now().After(deadline) {
			t.Fatalf("process never reached recording, state = %v", p.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return errc
}

func TestProcess_StopEscalation(t *testing.T) {
	const quit, term = 300 * time.Millisecond, 400 * time.Millisecond
	tests := []struct {
		name    string
		mode    string
		minWait time.Duration
	}{
		{name: "quit on stdin", mode: "quit"},
		{name: "terminate", mode: "term", minWait: quit},
		{name: "kill", mode: "stubborn", minWait: quit + term},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakeFFmpeg(t, tt.mode)
			p := newTestProcess(quit, term)
			out := filepath.Join(t.TempDir(), "TK_a.mp4")
			errc := startAsync(t, context.Background(), p, out)

			begin := time.Now()
			p.Stop()
			elapsed := time.Since(begin)

			if got := p.State(); got != StateStopped {
				t.Errorf("State() after Stop = %v, want stopped", got)
			}
			if elapsed < tt.minWait {
				t.Errorf("Stop() took %v, want at least %v", elapsed, tt.minWait)
			}
			if elapsed > quit+term+2*time.Second {
				t.Errorf("Stop() took %v, want within escalation budget", elapsed)
			}
			select {
			case err := <-errc:
				if err != nil {
					t.Errorf("Start() error = %v, want nil after stop", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Start() did not return after Stop")
			}
		})
	}
}

func TestProcess_StopWithDefaultTimeoutsReachesTerminalState(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the full escalation")
	}
	fakeFFmpeg(t, "stubborn")
	p := NewProcess("ffmpeg", nil)
	errc := startAsync(t, context.Background(), p, filepath.Join(t.TempDir(), "TK_a.mp4"))

	begin := time.Now()
	p.Stop()
	if elapsed := time.Since(begin); elapsed > DefaultQuitTimeout+DefaultTermTimeout+time.Second {
		t.Errorf("Stop() took %v, want <= %v", elapsed, DefaultQuitTimeout+DefaultTermTimeout)
	}
	if !p.State().Terminal() {
		t.Errorf("State() = %v, want terminal", p.State())
	}
	<-errc
}

func TestProcess_ContextCancelStops(t *testing.T) {
	fakeFFmpeg(t, "quit")
	p := newTestProcess(time.Second, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	errc := startAsync(t, ctx, p, filepath.Join(t.TempDir(), "TK_a.mp4"))

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
	if got := p.State(); got != StateStopped {
		t.Errorf("State() = %v, want stopped", got)
	}
}

func TestProcess_PartialFileKept(t *testing.T) {
	fakeFFmpeg(t, "quit")
	p := newTestProcess(time.Second, time.Second)
	out := filepath.Join(t.TempDir(), "TK_a.mp4")
	errc := startAsync(t, context.Background(), p, out)
	p.Stop()
	<-errc

	b, err := os.ReadFile(out)
	if err != nil || string(b) != "partial" {
		t.Errorf("output = %q, %v; want partial file left in place", b, err)
	}
}

func TestProcess_StartWhileRecording(t *testing.T) {
	fakeFFmpeg(t, "quit")
	p := newTestProcess(time.Second, time.Second)
	errc := startAsync(t, context.Background(), p, filepath.Join(t.TempDir(), "TK_a.mp4"))
	defer func() {
		p.Stop()
		<-errc
	}()

	if err := p.Start(context.Background(), "http://cdn/other.flv", filepath.Join(t.TempDir(), "b.mp4")); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRecording", err)
	}
}

func TestProcess_StopWhenIdleIsNoop(t *testing.T) {
	p := NewProcess("ffmpeg", nil)
	p.Stop()
	if got := p.State(); got != StateIdle {
		t.Errorf("State() = %v, want idle", got)
	}
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	if got := b.String(); got != "defg" {
		t.Errorf("tailBuffer = %q, want defg", got)
	}
}

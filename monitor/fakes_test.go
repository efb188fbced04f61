package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/tiktok-live-recorder/events"
	"github.com/onnwee/tiktok-live-recorder/recorder"
	"github.com/onnwee/tiktok-live-recorder/tiktok"
)

type fakeAPI struct {
	mu sync.Mutex

	rooms       map[string]string // user -> room
	roomErrs    map[string]error
	owners      map[string]string // room -> user
	alive       map[string]bool   // room -> live
	streamErr   error
	followers   []string
	followErr   error
	blacklisted bool
	secUID      string

	roomIDCalls   map[string]int
	aliveBatches  [][]string
	streamCalls   atomic.Int32
	totalRoomCall atomic.Int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		rooms:       map[string]string{},
		roomErrs:    map[string]error{},
		owners:      map[string]string{},
		alive:       map[string]bool{},
		roomIDCalls: map[string]int{},
		secUID:      "MS4wLjABAAAA",
	}
}

func (f *fakeAPI) setAlive(room string, live bool) {
	f.mu.Lock()
	f.alive[room] = live
	f.mu.Unlock()
}

func (f *fakeAPI) RoomID(ctx context.Context, user string) (string, error) {
	f.totalRoomCall.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomIDCalls[user]++
	if err := f.roomErrs[user]; err != nil {
		return "", err
	}
	room, ok := f.rooms[user]
	if !ok {
		return "", &tiktok.ResolutionError{User: user, Err: tiktok.ErrStreamNotFound}
	}
	return room, nil
}

func (f *fakeAPI) roomCalls(user string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roomIDCalls[user]
}

func (f *fakeAPI) ResolveUserAndRoom(ctx context.Context, liveURL string) (string, string, error) {
	user, ok := tiktok.ParseUserFromLiveURL(liveURL)
	if !ok {
		return "", "", tiktok.ErrInvalidLiveURL
	}
	room, err := f.RoomID(ctx, user)
	return user, room, err
}

func (f *fakeAPI) UserFromRoom(ctx context.Context, room string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.owners[room]; ok {
		return u, nil
	}
	return "", &tiktok.ResolutionError{Room: room, Err: tiktok.ErrStreamNotFound}
}

func (f *fakeAPI) CountryBlacklisted(ctx context.Context) bool { return f.blacklisted }

func (f *fakeAPI) IsAlive(ctx context.Context, room string) bool {
	return f.AliveBatch(ctx, []string{room})[room]
}

func (f *fakeAPI) AliveBatch(ctx context.Context, rooms []string) map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliveBatches = append(f.aliveBatches, append([]string(nil), rooms...))
	out := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		out[r] = f.alive[r]
	}
	return out
}

func (f *fakeAPI) batches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.aliveBatches...)
}

func (f *fakeAPI) StreamURL(ctx context.Context, room string) (string, error) {
	f.streamCalls.Add(1)
	if f.streamErr != nil {
		return "", f.streamErr
	}
	return "https://pull-f5.example.com/stage/stream-" + room + ".flv", nil
}

func (f *fakeAPI) SecUID(ctx context.Context) (string, error) { return f.secUID, nil }

func (f *fakeAPI) Followers(ctx context.Context, secUID string) ([]string, error) {
	if f.followErr != nil {
		return nil, f.followErr
	}
	return f.followers, nil
}

// fakeRecorder blocks in Start until release is closed, Stop is called or
// ctx is cancelled.
type fakeRecorder struct {
	release <-chan struct{}
	exitErr error

	mu       sync.Mutex
	state    recorder.State
	stop     chan struct{}
	stopOnce sync.Once
	url      string
	out      string
}

func (r *fakeRecorder) Extension() string { return ".mp4" }

func (r *fakeRecorder) State() recorder.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *fakeRecorder) IsActive() bool { return r.State().Active() }

func (r *fakeRecorder) setState(s recorder.State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *fakeRecorder) Start(ctx context.Context, mediaURL, outputPath string) error {
	r.mu.Lock()
	r.url, r.out = mediaURL, outputPath
	r.state = recorder.StateRecording
	r.mu.Unlock()
	select {
	case <-r.release:
		if r.exitErr != nil {
			r.setState(recorder.StateFailed)
			return r.exitErr
		}
		r.setState(recorder.StateFinished)
	case <-r.stop:
		r.setState(recorder.StateStopped)
	case <-ctx.Done():
		r.setState(recorder.StateStopped)
	}
	return nil
}

func (r *fakeRecorder) Stop() {
	if r.State() != recorder.StateRecording {
		return
	}
	r.stopOnce.Do(func() { close(r.stop) })
}

type recorderPool struct {
	release chan struct{}
	exitErr error

	mu   sync.Mutex
	recs []*fakeRecorder
}

func newRecorderPool() *recorderPool { return &recorderPool{release: make(chan struct{})} }

func (p *recorderPool) factory() recorder.Factory {
	return func() recorder.Recorder {
		r := &fakeRecorder{release: p.release, exitErr: p.exitErr, stop: make(chan struct{})}
		p.mu.Lock()
		p.recs = append(p.recs, r)
		p.mu.Unlock()
		return r
	}
}

func (p *recorderPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.recs)
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) attach(b *events.Bus) {
	for _, name := range []string{events.RecordingStarted, events.RecordingFinished, events.RecordingError} {
		b.Subscribe(name, func(ctx context.Context, ev events.Event) error {
			l.mu.Lock()
			l.events = append(l.events, ev)
			l.mu.Unlock()
			return nil
		})
	}
}

func (l *eventLog) named(name string) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, ev := range l.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	api  *fakeAPI
	pool *recorderPool
	bus  *events.Bus
	log  *eventLog
	mon  *Monitor
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{api: newFakeAPI(), pool: newRecorderPool(), bus: events.NewBus(nil), log: &eventLog{}}
	h.log.attach(h.bus)
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	h.mon = New(h.api, h.pool.factory(), h.bus, opts)
	return h
}

// drain waits for published events to be handled.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.bus.Wait(ctx); err != nil {
		t.Fatalf("bus.Wait() error = %v", err)
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

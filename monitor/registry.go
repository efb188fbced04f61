package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/tiktok-live-recorder/recorder"
)

var (
	// ErrAlreadyRecording is returned when a user already has an active task.
	ErrAlreadyRecording = errors.New("user already has an active recording")
	// ErrStopRequested means the user's current broadcast was stopped on request.
	ErrStopRequested = errors.New("recording stopped on request")
)

// Task is one user's recording unit of work.
type Task struct {
	ID        string
	User      string
	RoomID    string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	rec        recorder.Recorder
	outputPath string
}

// Done is closed once the task has reached a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Task) attach(rec recorder.Recorder, outputPath string) {
	t.mu.Lock()
	t.rec = rec
	t.outputPath = outputPath
	t.mu.Unlock()
}

// TaskInfo is a point-in-time view of a task.
type TaskInfo struct {
	ID         string    `json:"id"`
	User       string    `json:"user"`
	RoomID     string    `json:"room_id"`
	OutputPath string    `json:"output_path,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	State      string    `json:"state"`
}

func (t *Task) info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := recorder.StateStarting.String()
	if t.rec != nil {
		state = t.rec.State().String()
	}
	return TaskInfo{
		ID:         t.ID,
		User:       t.User,
		RoomID:     t.RoomID,
		OutputPath: t.outputPath,
		StartedAt:  t.StartedAt,
		State:      state,
	}
}

// Registry tracks recording tasks keyed by user. At most one unfinished task
// exists per user.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
	held  map[string]string // user -> room stopped on request
	wg    sync.WaitGroup
	now   func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task), held: make(map[string]string), now: time.Now}
}

// Add registers a task for user. It returns false when user already has an
// unfinished task. A finished task that has not been reaped yet is replaced.
func (r *Registry) Add(user, room string, cancel context.CancelFunc) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[user]; ok && !t.finished() {
		return nil, false
	}
	t := &Task{
		ID:        uuid.NewString(),
		User:      user,
		RoomID:    room,
		StartedAt: r.now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.tasks[user] = t
	return t, true
}

// Go runs fn for t in its own goroutine. t is marked done when fn returns.
func (r *Registry) Go(t *Task, fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(t.done)
		fn()
	}()
}

// Active reports whether user has an unfinished task.
func (r *Registry) Active(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[user]
	return ok && !t.finished()
}

// Reap removes finished tasks and returns their users.
func (r *Registry) Reap() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var reaped []string
	for user, t := range r.tasks {
		if t.finished() {
			delete(r.tasks, user)
			reaped = append(reaped, user)
		}
	}
	sort.Strings(reaped)
	return reaped
}

// Stop requests a graceful stop of user's task. It returns false when user
// has no unfinished task. The task's room stays held until Release, so polling
// loops do not record the same broadcast again.
func (r *Registry) Stop(user string) bool {
	r.mu.Lock()
	t, ok := r.tasks[user]
	if ok && !t.finished() {
		r.held[user] = t.RoomID
	}
	r.mu.Unlock()
	if !ok || t.finished() {
		return false
	}
	t.cancel()
	return true
}

// Held reports whether room is the broadcast user's recording was stopped on.
func (r *Registry) Held(user, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	held, ok := r.held[user]
	return ok && held == room
}

// Release forgets a stop request for user, typically once the broadcast ends.
func (r *Registry) Release(user string) {
	r.mu.Lock()
	delete(r.held, user)
	r.mu.Unlock()
}

// StopAll requests a graceful stop of every task.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		t.cancel()
	}
}

// List returns the unfinished tasks ordered by user.
func (r *Registry) List() []TaskInfo {
	r.mu.Lock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if !t.finished() {
			tasks = append(tasks, t)
		}
	}
	r.mu.Unlock()

	out := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}

// Len returns the number of unfinished tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tasks {
		if !t.finished() {
			n++
		}
	}
	return n
}

// Wait blocks until every task started with Go has returned or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

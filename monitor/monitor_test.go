package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/tiktok-live-recorder/recorder"
	"github.com/onnwee/tiktok-live-recorder/tiktok"
)

func TestManual_NotLive(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.rooms["alice"] = "7001"

	err := h.mon.Manual(context.Background(), "alice", "")
	if !errors.Is(err, tiktok.ErrNotLive) {
		t.Fatalf("Manual() error = %v, want ErrNotLive", err)
	}
	if h.pool.count() != 0 {
		t.Error("recorder created for offline user")
	}
}

func TestManual_RecordsOnce(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.setAlive("7001", true)
	close(h.pool.release)

	if err := h.mon.Manual(context.Background(), "alice", "7001"); err != nil {
		t.Fatalf("Manual() error = %v", err)
	}
	h.drain(t)

	if h.pool.count() != 1 {
		t.Fatalf("recorders = %d, want 1", h.pool.count())
	}
	rec := h.pool.recs[0]
	if !strings.HasSuffix(rec.url, "stream-7001.flv") {
		t.Errorf("media url = %q", rec.url)
	}
	base := filepath.Base(rec.out)
	if !strings.HasPrefix(base, "TK_alice_") || filepath.Ext(base) != ".mp4" {
		t.Errorf("output = %q", rec.out)
	}

	started := h.log.named("recording_started")
	finished := h.log.named("recording_finished")
	if len(started) != 1 || len(finished) != 1 {
		t.Fatalf("events started=%d finished=%d", len(started), len(finished))
	}
	if started[0].Filename != base || finished[0].OutputPath != rec.out || finished[0].Stopped {
		t.Errorf("finished event = %+v", finished[0])
	}
	if finished[0].ID != started[0].ID {
		t.Error("started and finished events carry different ids")
	}
	if h.mon.Registry().Len() != 0 {
		t.Error("task still active after Manual returned")
	}
}

func TestRecord_StreamURLFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.streamErr = fmt.Errorf("room info: %w", tiktok.ErrStreamNotFound)

	err := h.mon.Record(context.Background(), "alice", "7001")
	if !errors.Is(err, tiktok.ErrStreamNotFound) {
		t.Fatalf("Record() error = %v", err)
	}
	h.drain(t)
	if h.pool.count() != 0 {
		t.Error("recorder created without a stream url")
	}
	if errs := h.log.named("recording_error"); len(errs) != 1 || errs[0].Err == nil {
		t.Errorf("error events = %+v", errs)
	}
}

func TestRecord_RecorderFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.pool.exitErr = &recorder.ExitError{Code: 1, Stderr: "Server returned 404 Not Found"}
	close(h.pool.release)

	err := h.mon.Record(context.Background(), "alice", "7001")
	var exitErr *recorder.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Record() error = %v, want ExitError", err)
	}
	h.drain(t)
	if errs := h.log.named("recording_error"); len(errs) != 1 || errs[0].OutputPath == "" {
		t.Errorf("error events = %+v", errs)
	}
}

func TestRecord_DurationLimitStops(t *testing.T) {
	h := newHarness(t, Options{Duration: 20 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- h.mon.Record(context.Background(), "alice", "7001") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("duration limit did not stop the recording")
	}
	h.drain(t)
	finished := h.log.named("recording_finished")
	if len(finished) != 1 || !finished[0].Stopped {
		t.Errorf("finished events = %+v, want one stopped", finished)
	}
}

func TestRecord_RejectsSecondTaskForUser(t *testing.T) {
	h := newHarness(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = h.mon.Record(ctx, "alice", "7001") }()
	waitUntil(t, func() bool { return h.mon.Registry().Active("alice") }, "first task registered")

	if err := h.mon.Record(ctx, "alice", "7001"); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("second Record() error = %v, want ErrAlreadyRecording", err)
	}
}

func TestRecord_StopThroughRegistry(t *testing.T) {
	h := newHarness(t, Options{})
	done := make(chan error, 1)
	go func() { done <- h.mon.Record(context.Background(), "alice", "7001") }()
	waitUntil(t, func() bool {
		l := h.mon.Registry().List()
		return len(l) == 1 && l[0].State == "recording"
	}, "recording state")

	if !h.mon.Registry().Stop("alice") {
		t.Fatal("Stop() = false")
	}
	if err := <-done; err != nil {
		t.Errorf("Record() error = %v", err)
	}
	h.drain(t)
	if f := h.log.named("recording_finished"); len(f) != 1 || !f[0].Stopped {
		t.Errorf("finished events = %+v", f)
	}
}

func TestAutomatic_NeverLive(t *testing.T) {
	h := newHarness(t, Options{Interval: 10 * time.Millisecond})
	h.api.rooms["alice"] = "7001"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.mon.Automatic(ctx, "alice") }()

	waitUntil(t, func() bool { return h.api.roomCalls("alice") >= 3 }, "repeated resolution")
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Automatic() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Automatic() did not return after cancel")
	}
	if h.pool.count() != 0 {
		t.Error("recorder created for a user that was never live")
	}
}

func TestAutomatic_CancelInsideLongSleep(t *testing.T) {
	h := newHarness(t, Options{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.mon.Automatic(ctx, "ghost") }()

	waitUntil(t, func() bool { return h.api.roomCalls("ghost") == 1 }, "first iteration")
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancel not observed inside sleep")
	}
}

func TestAutomatic_RecordsWhenLive(t *testing.T) {
	h := newHarness(t, Options{Interval: 10 * time.Millisecond, ErrorBackoff: 10 * time.Millisecond})
	h.api.rooms["alice"] = "7001"
	h.api.setAlive("7001", true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.mon.Automatic(ctx, "alice") }()

	waitUntil(t, func() bool { return h.mon.Registry().Active("alice") }, "recording started")
	h.api.setAlive("7001", false)
	close(h.pool.release)

	waitUntil(t, func() bool { return !h.mon.Registry().Active("alice") }, "recording finished")
	calls := h.api.roomCalls("alice")
	waitUntil(t, func() bool { return h.api.roomCalls("alice") > calls }, "polling resumed")
	cancel()
	<-done

	if h.pool.count() != 1 {
		t.Errorf("recorders = %d, want 1", h.pool.count())
	}
}

func TestAutomatic_StopWaitsForBroadcastEnd(t *testing.T) {
	h := newHarness(t, Options{Interval: 5 * time.Millisecond, ErrorBackoff: 5 * time.Millisecond})
	h.api.rooms["alice"] = "7001"
	h.api.setAlive("7001", true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.mon.Automatic(ctx, "alice") }()

	waitUntil(t, func() bool {
		l := h.mon.Registry().List()
		return len(l) == 1 && l[0].State == "recording"
	}, "recording state")
	h.mon.Registry().Stop("alice")
	waitUntil(t, func() bool { return !h.mon.Registry().Active("alice") }, "task stopped")

	calls := h.api.roomCalls("alice")
	waitUntil(t, func() bool { return h.api.roomCalls("alice") >= calls+3 }, "polling continued")
	if h.pool.count() != 1 {
		t.Fatalf("recorders = %d, want 1 while broadcast is held", h.pool.count())
	}

	h.api.mu.Lock()
	h.api.rooms["alice"] = "7002"
	h.api.mu.Unlock()
	h.api.setAlive("7002", true)
	waitUntil(t, func() bool { return h.pool.count() == 2 }, "next broadcast recorded")
	cancel()
	<-done
}

func TestFollowersCycle_ResolvedButOffline(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.followers = []string{"alice"}
	h.api.rooms["alice"] = "7001"

	ctx := context.Background()
	log := h.mon.logger
	if started := h.mon.followersCycle(ctx, log, "sec"); len(started) != 0 {
		t.Fatalf("started = %v", started)
	}
	if h.pool.count() != 0 || h.mon.Registry().Len() != 0 {
		t.Error("task created for offline follower")
	}

	h.mon.followersCycle(ctx, log, "sec")
	if got := h.api.roomCalls("alice"); got != 1 {
		t.Errorf("RoomID calls = %d, want 1 (cached across cycles)", got)
	}
	if room, ok := h.mon.cache.Get("alice"); !ok || room != "7001" {
		t.Errorf("cache entry = %q, %v", room, ok)
	}
	if b := h.api.batches(); len(b) != 2 {
		t.Errorf("alive batches = %d, want one per cycle", len(b))
	}
}

func TestFollowersCycle_OfflineFollowersResolvedOnce(t *testing.T) {
	h := newHarness(t, Options{})
	for i := range 100 {
		user := fmt.Sprintf("user%03d", i)
		h.api.followers = append(h.api.followers, user)
		h.api.rooms[user] = fmt.Sprintf("%d", 8000+i)
	}

	for range 3 {
		h.mon.followersCycle(context.Background(), h.mon.logger, "sec")
	}
	if got := h.api.totalRoomCall.Load(); got != 100 {
		t.Errorf("RoomID calls over 3 cycles = %d, want 100", got)
	}
	if got := h.mon.cache.Len(); got != 100 {
		t.Errorf("cache len = %d, want 100", got)
	}
}

func TestFollowersCycle_ExpiredEntryResolvedAgain(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.followers = []string{"alice"}
	h.api.rooms["alice"] = "7001"
	now := time.Unix(1700000000, 0)
	h.mon.cache = NewResolutionCache(time.Minute)
	h.mon.cache.now = func() time.Time { return now }

	h.mon.followersCycle(context.Background(), h.mon.logger, "sec")
	now = now.Add(2 * time.Minute)
	h.mon.followersCycle(context.Background(), h.mon.logger, "sec")
	if got := h.api.roomCalls("alice"); got != 2 {
		t.Errorf("RoomID calls = %d, want 2 after ttl", got)
	}
}

func TestFollowersCycle_StoppedBroadcastSkipped(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.followers = []string{"alice"}
	h.api.rooms["alice"] = "7001"
	h.api.setAlive("7001", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if started := h.mon.followersCycle(ctx, h.mon.logger, "sec"); len(started) != 1 {
		t.Fatalf("started = %v", started)
	}
	waitUntil(t, func() bool {
		l := h.mon.Registry().List()
		return len(l) == 1 && l[0].State == "recording"
	}, "recording state")
	h.mon.Registry().Stop("alice")
	waitUntil(t, func() bool { return !h.mon.Registry().Active("alice") }, "task stopped")

	if started := h.mon.followersCycle(ctx, h.mon.logger, "sec"); len(started) != 0 {
		t.Fatalf("restarted stopped broadcast: %v", started)
	}

	h.api.setAlive("7001", false)
	h.mon.followersCycle(ctx, h.mon.logger, "sec")
	h.api.setAlive("7001", true)
	if started := h.mon.followersCycle(ctx, h.mon.logger, "sec"); len(started) != 1 {
		t.Errorf("started after broadcast ended = %v, want [alice]", started)
	}
}

func TestFollowersCycle_TwoLiveFollowersIndependent(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.followers = []string{"alice", "bob", "carol"}
	h.api.rooms["alice"] = "1"
	h.api.rooms["bob"] = "2"
	h.api.rooms["carol"] = "3"
	h.api.setAlive("1", true)
	h.api.setAlive("2", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := h.mon.logger

	started := h.mon.followersCycle(ctx, log, "sec")
	if len(started) != 2 {
		t.Fatalf("started = %v, want alice and bob", started)
	}
	reg := h.mon.Registry()
	waitUntil(t, func() bool { return reg.Len() == 2 }, "both tasks registered")

	// Still live and still recording: no second task.
	if again := h.mon.followersCycle(ctx, log, "sec"); len(again) != 0 {
		t.Errorf("second cycle started %v while recordings active", again)
	}

	reg.Stop("alice")
	waitUntil(t, func() bool { return !reg.Active("alice") }, "alice finished")
	if !reg.Active("bob") {
		t.Fatal("bob affected by alice finishing")
	}
	if reaped := reg.Reap(); len(reaped) != 1 || reaped[0] != "alice" {
		t.Errorf("Reap() = %v", reaped)
	}
	if !reg.Active("bob") {
		t.Error("bob affected by reaping alice")
	}
	reg.StopAll()
	_ = reg.Wait(context.Background())
}

func TestFollowersCycle_ResolutionFailuresIsolated(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.followers = []string{"broken", "private", "alice"}
	h.api.roomErrs["broken"] = &tiktok.TransportError{URL: "u", Err: errors.New("connection reset")}
	h.api.roomErrs["private"] = tiktok.ErrPrivateAccount
	h.api.rooms["alice"] = "7001"
	h.api.setAlive("7001", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := h.mon.followersCycle(ctx, h.mon.logger, "sec")
	if len(started) != 1 || started[0] != "alice" {
		t.Errorf("started = %v, want [alice]", started)
	}
	h.mon.Registry().StopAll()
	_ = h.mon.Registry().Wait(context.Background())
}

func TestFollowersCycle_AliveChecksChunked(t *testing.T) {
	h := newHarness(t, Options{AliveChunkSize: 50})
	for i := 0; i < 120; i++ {
		user := fmt.Sprintf("user%03d", i)
		h.api.followers = append(h.api.followers, user)
		h.api.rooms[user] = fmt.Sprintf("%d", 9000+i)
	}

	h.mon.followersCycle(context.Background(), h.mon.logger, "sec")
	batches := h.api.batches()
	if len(batches) != 3 {
		t.Fatalf("AliveBatch calls = %d, want 3", len(batches))
	}
	for i, want := range []int{50, 50, 20} {
		if len(batches[i]) != want {
			t.Errorf("batch %d size = %d, want %d", i, len(batches[i]), want)
		}
	}
}

func TestFollowersCycle_GateDefersExtraStarts(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrent: 1})
	h.api.followers = []string{"alice", "bob"}
	h.api.rooms["alice"] = "1"
	h.api.rooms["bob"] = "2"
	h.api.setAlive("1", true)
	h.api.setAlive("2", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := h.mon.followersCycle(ctx, h.mon.logger, "sec")
	if len(started) != 1 || started[0] != "alice" {
		t.Fatalf("started = %v, want [alice]", started)
	}

	h.mon.Registry().Stop("alice")
	waitUntil(t, func() bool { return h.mon.Gate().InUse() == 0 }, "gate released")
	// bob was cached and deferred; alice's room stays live too.
	started = h.mon.followersCycle(ctx, h.mon.logger, "sec")
	if len(started) != 1 {
		t.Errorf("second cycle started = %v, want one", started)
	}
	h.mon.Registry().StopAll()
	_ = h.mon.Registry().Wait(context.Background())
}

func TestFollowersCycle_FetchFailureNotFatal(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.followErr = tiktok.ErrNoFollowers
	if started := h.mon.followersCycle(context.Background(), h.mon.logger, "sec"); started != nil {
		t.Errorf("started = %v", started)
	}
}

func TestFollowers_LooksUpSecUIDAndStopsOnCancel(t *testing.T) {
	h := newHarness(t, Options{Interval: 5 * time.Millisecond})
	h.api.followers = []string{"alice"}
	h.api.rooms["alice"] = "7001"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.mon.Followers(ctx, "") }()
	waitUntil(t, func() bool { return h.api.roomCalls("alice") >= 2 }, "two cycles")
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Followers() error = %v", err)
	}
}

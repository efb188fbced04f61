package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/tiktok-live-recorder/telemetry"
	"github.com/onnwee/tiktok-live-recorder/tiktok"
)

// ResolutionCache maps user handles to resolved room ids. Entries older than
// the TTL are treated as missing; a zero TTL keeps entries until deleted.
type ResolutionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	room string
	at   time.Time
}

// NewResolutionCache returns an empty cache.
func NewResolutionCache(ttl time.Duration) *ResolutionCache {
	return &ResolutionCache{ttl: ttl, entries: make(map[string]cacheEntry), now: time.Now}
}

// Get returns the cached room id for user.
func (c *ResolutionCache) Get(user string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[user]
	if !ok {
		return "", false
	}
	if c.ttl > 0 && c.now().Sub(e.at) > c.ttl {
		delete(c.entries, user)
		return "", false
	}
	return e.room, true
}

// Put stores room for user.
func (c *ResolutionCache) Put(user, room string) {
	c.mu.Lock()
	c.entries[user] = cacheEntry{room: room, at: c.now()}
	c.mu.Unlock()
}

// Delete drops user's entry.
func (c *ResolutionCache) Delete(user string) {
	c.mu.Lock()
	delete(c.entries, user)
	c.mu.Unlock()
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *ResolutionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Followers polls every follower of the session account until ctx is
// cancelled, recording each live follower in its own task. An empty secUID is
// looked up from the session first.
func (m *Monitor) Followers(ctx context.Context, secUID string) error {
	if secUID == "" {
		var err error
		if secUID, err = m.api.SecUID(ctx); err != nil {
			return err
		}
	}
	log := m.logger.With(slog.String("mode", "followers"))
	for {
		m.followersCycle(ctx, log, secUID)
		if err := sleep(ctx, m.opts.Interval); err != nil {
			return err
		}
	}
}

// followersCycle runs one fetch, reap, resolve, check and start pass.
// It returns the users whose recordings were started.
func (m *Monitor) followersCycle(ctx context.Context, log *slog.Logger, secUID string) []string {
	followers, err := m.api.Followers(ctx, secUID)
	if err != nil {
		if !isCancellation(err) {
			log.Warn("fetch followers failed, retrying next cycle", slog.Any("err", err))
			telemetry.ResolutionFailed(Classify(err).String())
		}
		return nil
	}
	telemetry.FollowerCycle(len(followers))

	for _, user := range m.registry.Reap() {
		log.Info("recording task reaped", slog.String("user", user))
		m.cache.Delete(user)
	}

	pending := make([]string, 0, len(followers))
	seen := make(map[string]bool, len(followers))
	for _, user := range followers {
		if user == "" || seen[user] || m.registry.Active(user) {
			continue
		}
		seen[user] = true
		pending = append(pending, user)
	}

	m.resolveFollowers(ctx, log, pending)

	rooms := make([]string, 0, len(pending))
	for _, user := range pending {
		if room, ok := m.cache.Get(user); ok {
			rooms = append(rooms, room)
		}
	}
	alive := m.aliveChunked(ctx, rooms)

	var started []string
	for _, user := range pending {
		if ctx.Err() != nil {
			break
		}
		room, ok := m.cache.Get(user)
		if !ok {
			continue
		}
		if !alive[room] {
			m.registry.Release(user)
			continue
		}
		if m.registry.Held(user, room) {
			log.Debug("follower recording was stopped on request, skipping broadcast", slog.String("user", user))
			continue
		}
		if len(started) > 0 {
			if err := sleep(ctx, m.opts.Stagger); err != nil {
				break
			}
		}
		log.Info("follower is live, starting recording", slog.String("user", user), slog.String("room_id", room))
		if m.startTask(ctx, user, room) {
			started = append(started, user)
		}
	}
	log.Debug("followers cycle complete",
		slog.Int("followers", len(followers)),
		slog.Int("pending", len(pending)),
		slog.Int("started", len(started)),
		slog.Int("active", m.registry.Len()))
	return started
}

// resolveFollowers fills the cache for users missing from it. Failures are
// logged per user and never abort the others.
func (m *Monitor) resolveFollowers(ctx context.Context, log *slog.Logger, users []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.ResolveConcurrency)
	for _, user := range users {
		if _, ok := m.cache.Get(user); ok {
			continue
		}
		g.Go(func() error {
			room, err := m.api.RoomID(gctx, user)
			switch {
			case err == nil && room != "":
				m.cache.Put(user, room)
			case err == nil:
				log.Debug("follower has no room id", slog.String("user", user))
			case isCancellation(err):
			case errors.Is(err, tiktok.ErrPrivateAccount):
				log.Info("follower is private", slog.String("user", user))
			default:
				class := Classify(err)
				telemetry.ResolutionFailed(class.String())
				log.Warn("resolve follower failed", slog.String("user", user), slog.String("class", class.String()), slog.Any("err", err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// aliveChunked batch-checks rooms in chunks of AliveChunkSize.
func (m *Monitor) aliveChunked(ctx context.Context, rooms []string) map[string]bool {
	alive := make(map[string]bool, len(rooms))
	for start := 0; start < len(rooms); start += m.opts.AliveChunkSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+m.opts.AliveChunkSize, len(rooms))
		for room, live := range m.api.AliveBatch(ctx, rooms[start:end]) {
			alive[room] = live
			telemetry.ObserveAlive(live)
		}
	}
	return alive
}

package monitor

import "context"

// Gate is an optional admission gate bounding concurrent recordings.
// A Gate built with max <= 0 admits everything.
type Gate struct {
	slots chan struct{}
}

// NewGate returns a gate admitting at most max concurrent holders.
func NewGate(max int) *Gate {
	if max <= 0 {
		return &Gate{}
	}
	return &Gate{slots: make(chan struct{}, max)}
}

// Acquire blocks until a slot is available or ctx is done.
// Returns true if slot acquired, false if context canceled.
func (g *Gate) Acquire(ctx context.Context) bool {
	if g == nil || g.slots == nil {
		return ctx.Err() == nil
	}
	select {
	case g.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// TryAcquire takes a slot without blocking.
func (g *Gate) TryAcquire() bool {
	if g == nil || g.slots == nil {
		return true
	}
	select {
	case g.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot taken by Acquire or TryAcquire.
func (g *Gate) Release() {
	if g == nil || g.slots == nil {
		return
	}
	select {
	case <-g.slots:
	default:
		// mismatched release
	}
}

// InUse returns the number of held slots.
func (g *Gate) InUse() int {
	if g == nil {
		return 0
	}
	return len(g.slots)
}

// Cap returns the gate size, or 0 when unbounded.
func (g *Gate) Cap() int {
	if g == nil {
		return 0
	}
	return cap(g.slots)
}

package audit

import (
	"sync"
	"time"
)

// EmissionGuard lets exactly one event through per (viewer, route) while the
// viewer stays on that route. Re-evaluations for the same pair are
// suppressed; a route change resets the guard for the viewer.
//
// A viewer is whoever is navigating: an identity ID, or an anonymous
// client address.
type EmissionGuard struct {
	mu      sync.Mutex
	current map[string]guardEntry
	now     func() time.Time
}

type guardEntry struct {
	route    string
	lastSeen time.Time
}

// NewEmissionGuard creates an empty guard.
func NewEmissionGuard() *EmissionGuard {
	return &EmissionGuard{
		current: make(map[string]guardEntry),
		now:     time.Now,
	}
}

// ShouldEmit reports whether an event for (viewer, route) should be emitted
// and marks the pair as emitted.
func (g *EmissionGuard) ShouldEmit(viewer, route string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	entry, ok := g.current[viewer]
	if ok && entry.route == route {
		entry.lastSeen = now
		g.current[viewer] = entry
		return false
	}
	g.current[viewer] = guardEntry{route: route, lastSeen: now}
	return true
}

// Forget drops the viewer's state, e.g. on sign-out.
func (g *EmissionGuard) Forget(viewer string) {
	g.mu.Lock()
	delete(g.current, viewer)
	g.mu.Unlock()
}

// Sweep drops viewers idle for longer than maxIdle and returns how many
// were removed.
func (g *EmissionGuard) Sweep(maxIdle time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-maxIdle)
	removed := 0
	for viewer, entry := range g.current {
		if entry.lastSeen.Before(cutoff) {
			delete(g.current, viewer)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked viewers.
func (g *EmissionGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.current)
}

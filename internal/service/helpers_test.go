package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/repclub/gymgate/internal/domain/audit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink captures events synchronously.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Record(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) Events() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

func (r *recordingSink) Kinds() []audit.Kind {
	var kinds []audit.Kind
	for _, e := range r.Events() {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// trackingStore records appended events and can be made slow or failing.
type trackingStore struct {
	mu      sync.Mutex
	delay   time.Duration
	fail    bool
	batches int
	events  []audit.Event
}

func (m *trackingStore) Append(ctx context.Context, events ...audit.Event) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("store unavailable")
	}
	m.batches++
	m.events = append(m.events, events...)
	return nil
}

func (m *trackingStore) Flush(ctx context.Context) error { return nil }
func (m *trackingStore) Close() error                    { return nil }

func (m *trackingStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

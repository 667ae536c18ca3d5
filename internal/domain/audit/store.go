package audit

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for audit store operations.
var (
	// ErrDateRangeExceeded is returned when the query date range exceeds the maximum allowed.
	ErrDateRangeExceeded = errors.New("date range exceeds maximum of 31 days")
	// ErrStoreClosed is returned when appending to a closed store.
	ErrStoreClosed = errors.New("audit store closed")
)

// MaxQueryRange bounds Filter.EndTime - Filter.StartTime.
const MaxQueryRange = 31 * 24 * time.Hour

// Query limits.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Sink accepts events without blocking the caller. Failures are handled
// by the sink and never reported back.
type Sink interface {
	Record(event Event)
}

// Store persists audit events. It exposes no update or delete operation.
type Store interface {
	// Append stores events.
	Append(ctx context.Context, events ...Event) error

	// Flush forces pending events to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for audit queries.
type Filter struct {
	// StartTime is the beginning of the time range (required).
	StartTime time.Time
	// EndTime is the end of the time range (required).
	EndTime time.Time
	// ActorID filters by identity (optional).
	ActorID string
	// OrganizationID filters by tenant (optional).
	OrganizationID string
	// Kind filters by event kind (optional).
	Kind Kind
	// Outcome filters by outcome (optional).
	Outcome string
	// Limit is the maximum number of events to return.
	Limit int
}

// Normalize validates the time range and clamps Limit.
func (f Filter) Normalize() (Filter, error) {
	if !f.EndTime.IsZero() && !f.StartTime.IsZero() && f.EndTime.Sub(f.StartTime) > MaxQueryRange {
		return f, ErrDateRangeExceeded
	}
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	return f, nil
}

// Matches reports whether e satisfies the filter's field predicates.
func (f Filter) Matches(e Event) bool {
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.OrganizationID != "" && e.OrganizationID != f.OrganizationID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	return true
}

// QueryStore provides read access to audit events, newest first.
// This interface is separate from Store which handles writes.
type QueryStore interface {
	Query(ctx context.Context, filter Filter) ([]Event, error)
}

package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/repclub/gymgate/internal/domain/audit"
)

const defaultRecentCap = 1000

// MemoryAuditStore implements audit.Store writing JSON lines to stdout or a
// file. It also keeps a bounded ring buffer of recent events for queries.
type MemoryAuditStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	// recent is a bounded ring buffer of the most recent events.
	recent []audit.Event
	cap    int
	closed bool
}

// resolveCapacity returns the first positive capacity value, or defaultRecentCap.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewAuditStore creates a new audit store writing to stdout.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewAuditStore(capacity ...int) *MemoryAuditStore {
	return NewAuditStoreWithWriter(os.Stdout, capacity...)
}

// NewAuditStoreWithWriter creates an audit store writing to the given writer.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewAuditStoreWithWriter(w io.Writer, capacity ...int) *MemoryAuditStore {
	cap := resolveCapacity(capacity...)
	return &MemoryAuditStore{
		encoder: json.NewEncoder(w),
		writer:  w,
		recent:  make([]audit.Event, 0, cap),
		cap:     cap,
	}
}

// OpenFileAuditStore appends JSON lines to the file at path, creating it
// with owner-only permissions if needed.
func OpenFileAuditStore(path string, capacity ...int) (*MemoryAuditStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return NewAuditStoreWithWriter(f, capacity...), nil
}

// Append writes events as JSON lines and keeps them in the ring buffer.
func (s *MemoryAuditStore) Append(ctx context.Context, events ...audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audit.ErrStoreClosed
	}
	for _, e := range events {
		if err := s.encoder.Encode(e); err != nil {
			return err
		}
		if len(s.recent) >= s.cap {
			// Shift left, drop oldest.
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = e
		} else {
			s.recent = append(s.recent, e)
		}
	}
	return nil
}

// Flush syncs the underlying file, if any.
func (s *MemoryAuditStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr && !s.closed {
		return f.Sync()
	}
	return nil
}

// Close releases resources.
func (s *MemoryAuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	// Close file if it's not stdout/stderr
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// GetRecent returns the N most recent events (newest first).
func (s *MemoryAuditStore) GetRecent(n int) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.recent)
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil
	}
	result := make([]audit.Event, n)
	for i := 0; i < n; i++ {
		result[i] = s.recent[total-1-i]
	}
	return result
}

// Query returns buffered events matching filter, newest first.
func (s *MemoryAuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []audit.Event
	for i := len(s.recent) - 1; i >= 0 && len(result) < filter.Limit; i-- {
		if filter.Matches(s.recent[i]) {
			result = append(result, s.recent[i])
		}
	}
	return result, nil
}

// Compile-time interface verification.
var (
	_ audit.Store      = (*MemoryAuditStore)(nil)
	_ audit.QueryStore = (*MemoryAuditStore)(nil)
)

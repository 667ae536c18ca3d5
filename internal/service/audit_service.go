package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/repclub/gymgate/internal/domain/audit"
)

// AuditService delivers audit events to a store from a background worker.
// Record never blocks the authorization path for longer than sendTimeout,
// and store failures are logged, never returned to the caller.
type AuditService struct {
	store         audit.Store
	events        chan audit.Event
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	now           func() time.Time

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64
	written     atomic.Int64

	// stopMu guards events against sends after Stop closes it.
	stopMu  sync.RWMutex
	stopped bool

	warningThreshold int          // percent of capacity, 0 disables
	lastWarning      atomic.Int64 // unix nanos of the last depth warning
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of events to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending events.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the size of the event buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.events = make(chan audit.Event, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately, >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the buffer depth warning percentage (0-100).
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		s.warningThreshold = percent
	}
}

// NewAuditService creates a new AuditService with the given store and options.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	defaultChannelSize := 1000
	s := &AuditService{
		store:            store,
		events:           make(chan audit.Event, defaultChannelSize),
		logger:           logger,
		batchSize:        100,
		flushInterval:    time.Second,
		now:              time.Now,
		channelSize:      defaultChannelSize,
		sendTimeout:      100 * time.Millisecond,
		warningThreshold: 80,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the background worker that batches and writes events.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues an event. Missing IDs and timestamps are filled in and
// sensitive metadata is redacted. Events recorded after Stop are dropped.
func (s *AuditService) Record(event audit.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	event.Metadata = audit.RedactMetadata(event.Metadata)

	s.stopMu.RLock()
	defer s.stopMu.RUnlock()
	if s.stopped {
		s.recordDrop(event)
		return
	}

	if s.warningThreshold > 0 {
		depth := len(s.events)
		if depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.events <- event:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(event)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.events <- event:
	case <-timer.C:
		s.recordDrop(event)
	}
}

func (s *AuditService) recordDrop(event audit.Event) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("audit event dropped",
		"kind", event.Kind,
		"subject", event.Subject,
		"total_drops", drops,
	)
}

// warnChannelDepth logs at most once per second.
func (s *AuditService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedEvents returns the total number of dropped events.
func (s *AuditService) DroppedEvents() int64 {
	return s.dropCount.Load()
}

// WrittenEvents returns the number of events the store accepted.
func (s *AuditService) WrittenEvents() int64 {
	return s.written.Load()
}

// ChannelDepth returns current buffer usage.
func (s *AuditService) ChannelDepth() int {
	return len(s.events)
}

// ChannelCapacity returns the buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop closes the buffer and waits for the worker to flush what is left.
// Safe to call multiple times.
func (s *AuditService) Stop() {
	s.stopMu.Lock()
	if s.stopped {
		s.stopMu.Unlock()
		return
	}
	s.stopped = true
	close(s.events)
	s.stopMu.Unlock()
	s.wg.Wait()
}

func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.Event, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	finalFlush := func() {
		if len(batch) > 0 {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.flush(flushCtx, batch)
			cancel()
		}
	}

	for {
		select {
		case event, ok := <-s.events:
			if !ok {
				finalFlush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Keep draining until Stop closes the channel.
			for event := range s.events {
				batch = append(batch, event)
			}
			finalFlush()
			return
		}
	}
}

// flush writes a batch to the store. Errors are logged and swallowed.
func (s *AuditService) flush(ctx context.Context, batch []audit.Event) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
		return
	}
	s.written.Add(int64(len(batch)))
}

// Compile-time interface verification.
var _ audit.Sink = (*AuditService)(nil)

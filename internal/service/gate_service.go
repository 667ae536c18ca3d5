package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/repclub/gymgate/internal/domain/access"
	"github.com/repclub/gymgate/internal/domain/audit"
)

const tracerName = "github.com/repclub/gymgate/internal/service"

// GateMetrics observes gate decisions.
type GateMetrics interface {
	ObserveDecision(outcome access.Outcome, elapsed time.Duration)
	ObserveAuditEmitted(outcome access.Outcome)
}

type noopGateMetrics struct{}

func (noopGateMetrics) ObserveDecision(access.Outcome, time.Duration) {}
func (noopGateMetrics) ObserveAuditEmitted(access.Outcome)            {}

// GateService evaluates access requests and emits one audit event per
// terminal decision for each (viewer, route) pair.
type GateService struct {
	gate    *access.Gate
	guard   *audit.EmissionGuard
	sink    audit.Sink
	metrics GateMetrics
	tracer  trace.Tracer
	logger  *slog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// GateServiceOption configures GateService.
type GateServiceOption func(*GateService)

// WithGateMetrics sets the decision metrics recorder.
func WithGateMetrics(m GateMetrics) GateServiceOption {
	return func(s *GateService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer used for evaluation spans.
func WithTracer(t trace.Tracer) GateServiceOption {
	return func(s *GateService) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithEmissionGuard replaces the emission guard.
func WithEmissionGuard(g *audit.EmissionGuard) GateServiceOption {
	return func(s *GateService) {
		if g != nil {
			s.guard = g
		}
	}
}

// NewGateService creates a GateService. sink may be nil to disable auditing.
func NewGateService(gate *access.Gate, sink audit.Sink, logger *slog.Logger, opts ...GateServiceOption) *GateService {
	s := &GateService{
		gate:     gate,
		guard:    audit.NewEmissionGuard(),
		sink:     sink,
		metrics:  noopGateMetrics{},
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Gate returns the underlying gate.
func (s *GateService) Gate() *access.Gate {
	return s.gate
}

// Evaluate decides req for viewer against snap. Pending decisions are never
// audited; other outcomes are audited once per (viewer, route).
func (s *GateService) Evaluate(ctx context.Context, viewer string, req access.Request, snap access.Snapshot) access.Decision {
	ctx, span := s.tracer.Start(ctx, "gate.evaluate", trace.WithAttributes(
		attribute.String("gate.route", req.Route),
		attribute.String("gate.capability", string(req.Capability)),
	))
	defer span.End()

	start := time.Now()
	decision := s.gate.Evaluate(req, snap)
	s.metrics.ObserveDecision(decision.Outcome, time.Since(start))

	span.SetAttributes(
		attribute.String("gate.outcome", decision.Outcome.String()),
		attribute.Int("gate.reasons", len(decision.Reasons)),
	)

	if !decision.Terminal() || s.sink == nil {
		return decision
	}
	if !s.guard.ShouldEmit(viewer, req.Route) {
		return decision
	}

	s.sink.Record(decisionEvent(req, snap, decision))
	s.metrics.ObserveAuditEmitted(decision.Outcome)
	span.SetAttributes(attribute.Bool("gate.audited", true))

	s.logger.DebugContext(ctx, "access decision",
		"viewer", viewer,
		"route", req.Route,
		"outcome", decision.Outcome.String(),
		"reasons", len(decision.Reasons),
	)
	return decision
}

func decisionEvent(req access.Request, snap access.Snapshot, d access.Decision) audit.Event {
	e := audit.Event{
		Kind:    audit.KindAccessDecision,
		Subject: req.Route,
		Outcome: d.Outcome.String(),
	}
	if snap.Identity != nil {
		e.ActorID = snap.Identity.ID
	}
	if snap.Profile != nil {
		e.OrganizationID = snap.Profile.OrganizationID
	}

	meta := map[string]any{}
	if req.Capability != "" {
		meta["capability"] = string(req.Capability)
	}
	if len(d.Reasons) > 0 {
		meta["reasons"] = d.Reasons
	}
	if d.Role != "" {
		meta["role"] = d.Role
	}
	if d.Message != "" {
		meta["message"] = d.Message
	}
	if len(meta) > 0 {
		e.Metadata = meta
	}
	return e
}

// EndSession forgets the viewer's emission state so its next visit to any
// route is audited again.
func (s *GateService) EndSession(viewer string) {
	s.guard.Forget(viewer)
}

// StartGuardSweep periodically drops viewers idle for longer than maxIdle.
func (s *GateService) StartGuardSweep(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				if n := s.guard.Sweep(maxIdle); n > 0 {
					s.logger.Debug("swept idle audit guard viewers", "count", n)
				}
			}
		}
	}()
}

// Stop stops the guard sweep and waits for it to exit.
func (s *GateService) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sentinelpay/triage/internal/circuitbreaker"
	"github.com/sentinelpay/triage/internal/compliance"
	"github.com/sentinelpay/triage/internal/idgen"
	"github.com/sentinelpay/triage/internal/knowledge"
	"github.com/sentinelpay/triage/internal/ledger"
	"github.com/sentinelpay/triage/internal/logging"
	"github.com/sentinelpay/triage/internal/metrics"
	"github.com/sentinelpay/triage/internal/realtime"
	"github.com/sentinelpay/triage/internal/retry"
	"github.com/sentinelpay/triage/internal/risk"
	"github.com/sentinelpay/triage/internal/summary"
	"github.com/sentinelpay/triage/internal/threat"
	"github.com/sentinelpay/triage/internal/traces"
)

const (
	recentTransactionsLimit = 100
	kbResultLimit           = 3
)

// Config tunes the orchestrator.
type Config struct {
	MaxConcurrentSessions int
	StepTimeout           time.Duration
	FlowTimeout           time.Duration
}

// Service runs triage sessions. Each session executes its steps strictly
// sequentially; many sessions run concurrently up to the admission cap.
type Service struct {
	cfg        Config
	ledger     ledger.Store
	risk       *risk.Engine
	policy     *compliance.Engine
	screen     *threat.Screen
	knowledge  knowledge.Searcher
	summarizer summary.Generator
	breaker    *circuitbreaker.Breaker
	sessions   *SessionStore
	sink       EventSink
	retryPol   retry.Policy
	logger     *slog.Logger

	running atomic.Int64
}

// NewService wires the orchestrator. sink may be nil when no streaming
// transport is attached.
func NewService(
	cfg Config,
	ledgerStore ledger.Store,
	riskEngine *risk.Engine,
	policyEngine *compliance.Engine,
	screen *threat.Screen,
	searcher knowledge.Searcher,
	summarizer summary.Generator,
	breaker *circuitbreaker.Breaker,
	sessions *SessionStore,
	sink EventSink,
	logger *slog.Logger,
) *Service {
	if summarizer == nil {
		summarizer = summary.NewTemplateGenerator()
	}
	return &Service{
		cfg:        cfg,
		ledger:     ledgerStore,
		risk:       riskEngine,
		policy:     policyEngine,
		screen:     screen,
		knowledge:  searcher,
		summarizer: summarizer,
		breaker:    breaker,
		sessions:   sessions,
		sink:       sink,
		retryPol:   retry.ToolPolicy(),
		logger:     logger,
	}
}

// Sessions exposes the session store for the streaming handler.
func (s *Service) Sessions() *SessionStore { return s.sessions }

// Start screens and admits a session, then runs the pipeline
// asynchronously. The returned session is already in the store.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Session, error) {
	payload, _ := json.Marshal(req)
	report := s.screen.Analyze(string(payload))
	if !report.Safe {
		s.logger.Warn("triage request blocked",
			"customerId", req.CustomerID, "threats", report.Threats)
		return nil, fmt.Errorf("%w: %v", ErrThreatBlocked, report.Threats)
	}

	// Admission: reject, never queue. The counter is reserved before the
	// session exists so two racing requests can't both squeeze under the cap.
	if s.running.Add(1) > int64(s.cfg.MaxConcurrentSessions) {
		s.running.Add(-1)
		metrics.SessionsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrAdmissionRejected
	}
	metrics.ActiveSessions.Inc()

	id := req.SessionID
	if id == "" {
		id = idgen.WithPrefix("sess_")
	}

	sess := &Session{
		ID:            id,
		CustomerID:    req.CustomerID,
		TransactionID: req.TransactionID,
		Status:        StatusRunning,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	s.sessions.Put(sess)

	s.emit(id, EventSessionStarted, map[string]any{
		"customerId":    req.CustomerID,
		"transactionId": req.TransactionID,
	})
	s.emit(id, EventPlanBuilt, map[string]any{"plan": planIDs()})

	go s.run(id)

	return s.sessions.Get(id)
}

// Get returns a snapshot of the session.
func (s *Service) Get(id string) (*Session, error) {
	return s.sessions.Get(id)
}

// run executes the pipeline for one admitted session.
func (s *Service) run(id string) {
	defer func() {
		s.running.Add(-1)
		metrics.ActiveSessions.Dec()
	}()

	// The flow deadline is a race, not a cancellation guarantee: an
	// in-flight step may finish after the deadline and its result is
	// discarded.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlowTimeout)
	defer cancel()
	ctx = logging.WithSessionID(ctx, id)

	ctx, span := traces.StartSpan(ctx, "triage.session", traces.SessionID(id))
	defer span.End()

	snap, err := s.sessions.Get(id)
	if err != nil {
		s.logger.Error("session vanished before run", "sessionId", id)
		return
	}

	st := &pipelineState{customerID: snap.CustomerID, transactionID: snap.TransactionID}
	for _, spec := range s.plan(id) {
		if ctx.Err() != nil {
			s.failTimeout(id)
			return
		}

		err := s.executeStep(ctx, id, spec, st)
		if err == nil {
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			s.failTimeout(id)
			return
		}
		if spec.BestEffort {
			reason := string(spec.ID) + "_failed"
			metrics.FallbacksTotal.WithLabelValues(reason).Inc()
			s.update(id, func(sess *Session) {
				sess.FallbacksUsed = append(sess.FallbacksUsed, string(spec.ID))
			})
			s.emit(id, EventFallbackTriggered, map[string]any{
				"step":   spec.ID,
				"reason": err.Error(),
			})
			continue
		}
		s.fail(id, fmt.Sprintf("step %s failed: %v", spec.ID, err))
		return
	}

	s.complete(id, st)
}

// executeStep wraps one step as circuit breaker around retry around a
// per-attempt timeout, records the trace entry, and emits events.
func (s *Service) executeStep(ctx context.Context, id string, spec stepSpec, st *pipelineState) error {
	ctx, span := traces.StartSpan(ctx, "triage.step", traces.Step(string(spec.ID)))
	defer span.End()

	s.emit(id, EventStepStarted, map[string]any{"step": spec.ID})
	input := stepInput(spec.ID, st)
	started := time.Now()
	attempts := 0

	err := s.breaker.Execute(ctx, "step_"+string(spec.ID), func() error {
		res, rerr := s.retryPol.Do(ctx, func() error {
			return s.withStepTimeout(ctx, func(stepCtx context.Context) error {
				return spec.run(stepCtx, st)
			})
		})
		attempts = res.Attempts
		return rerr
	})

	duration := time.Since(started)
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	metrics.StepDuration.WithLabelValues(string(spec.ID), outcome).Observe(duration.Seconds())
	metrics.ToolCallsTotal.WithLabelValues(string(spec.ID), resultLabel(err)).Inc()

	result := StepResult{
		ID:         spec.ID,
		Status:     outcome,
		BestEffort: spec.BestEffort,
		Input:      input,
		Attempts:   attempts,
		StartedAt:  started,
		Duration:   duration,
	}
	if err != nil {
		result.Error = err.Error()
	}
	s.update(id, func(sess *Session) {
		sess.Steps = append(sess.Steps, result)
	})

	if err != nil {
		s.emit(id, EventStepFailed, map[string]any{
			"step":  spec.ID,
			"error": err.Error(),
		})
		return err
	}
	s.emit(id, EventStepCompleted, map[string]any{
		"step":       spec.ID,
		"durationMs": duration.Milliseconds(),
	})
	return nil
}

// withStepTimeout races the operation against the per-attempt timeout. The
// loser is abandoned logically: a late result lands in the buffered channel
// and is discarded, never retried into a fresh attempt.
func (s *Service) withStepTimeout(ctx context.Context, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(stepCtx) }()

	select {
	case err := <-done:
		return err
	case <-stepCtx.Done():
		return fmt.Errorf("step timed out after %s: %w", s.cfg.StepTimeout, stepCtx.Err())
	}
}

func (s *Service) complete(id string, st *pipelineState) {
	metrics.SessionsTotal.WithLabelValues("completed").Inc()
	s.update(id, func(sess *Session) {
		sess.Status = StatusCompleted
		sess.Assessment = st.assessment
		sess.Verdict = st.verdict
		sess.Summary = st.summary
		sess.ProposedActions = st.proposedActions
	})
	s.emit(id, EventSessionCompleted, map[string]any{
		"recommendation": recommendationOf(st.assessment),
	})
	s.logger.Info("session completed", "sessionId", id)
}

func (s *Service) fail(id, message string) {
	metrics.SessionsTotal.WithLabelValues("failed").Inc()
	s.update(id, func(sess *Session) {
		sess.Status = StatusFailed
		sess.Error = message
	})
	s.emit(id, EventSessionFailed, map[string]any{"error": message})
	s.logger.Warn("session failed", "sessionId", id, "error", message)
}

func (s *Service) failTimeout(id string) {
	s.emit(id, EventTimeout, map[string]any{"flowTimeoutMs": s.cfg.FlowTimeout.Milliseconds()})
	s.fail(id, fmt.Sprintf("pipeline exceeded flow timeout of %s", s.cfg.FlowTimeout))
}

func (s *Service) update(id string, fn func(*Session)) {
	if _, err := s.sessions.Update(id, fn); err != nil {
		s.logger.Error("session vanished mid-flight", "sessionId", id)
	}
}

// emit appends the event to the session trace and forwards it to the sink.
// Append and publish happen under the store lock so observers and the
// replay buffer agree on ordering.
func (s *Service) emit(id, eventType string, data map[string]any) {
	event := &realtime.Event{
		Type:      eventType,
		SessionID: id,
		Timestamp: time.Now(),
		Data:      data,
		Terminal:  eventType == EventSessionCompleted || eventType == EventSessionFailed,
	}
	_, err := s.sessions.Update(id, func(sess *Session) {
		sess.Events = append(sess.Events, event)
		if s.sink != nil {
			s.sink.Publish(event)
		}
	})
	if err != nil {
		s.logger.Error("event for unknown session", "sessionId", id, "type", eventType)
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func recommendationOf(a *risk.Assessment) string {
	if a == nil {
		return ""
	}
	return string(a.Recommendation)
}

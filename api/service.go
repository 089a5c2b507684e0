// Package api exposes the routing engine, agent registry and outcome
// feedback tracker over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/cascadehq/care/registry"
	"github.com/cascadehq/care/runtime/engine"
	"github.com/cascadehq/care/runtime/feedback"
	"github.com/cascadehq/care/runtime/routing"
)

type (
	// DecisionReader reads persisted decisions for the audit endpoints.
	DecisionReader interface {
		Load(ctx context.Context, requestID string) (routing.Decision, error)
		List(ctx context.Context, limit int) ([]routing.Decision, error)
	}

	// Service implements the API operations. It is transport-independent;
	// http.go maps it onto HTTP.
	Service struct {
		engine    *engine.Engine
		registry  *registry.Registry
		tracker   *feedback.Tracker
		decisions DecisionReader
	}

	// Options configures a Service.
	Options struct {
		// Engine evaluates routing requests. Required.
		Engine *engine.Engine
		// Registry stores agent configurations. Required.
		Registry *registry.Registry
		// Tracker ingests outcome feedback. Required.
		Tracker *feedback.Tracker
		// Decisions serves the audit read endpoints. Optional; when nil the
		// decision endpoints return ErrUnavailable.
		Decisions DecisionReader
	}

	// EvaluatePayload is the dry-run request body: a routing request plus an
	// optional explicit candidate list. When Candidates is empty the
	// registry pool for the task domain is used.
	EvaluatePayload struct {
		Request    routing.Request     `json:"request"`
		Candidates []routing.Candidate `json:"candidates,omitempty"`
	}
)

// ErrUnavailable is returned by operations whose backing store is not wired.
var ErrUnavailable = errors.New("operation unavailable")

// NewService builds a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.Tracker == nil {
		return nil, errors.New("feedback tracker is required")
	}
	return &Service{
		engine:    opts.Engine,
		registry:  opts.Registry,
		tracker:   opts.Tracker,
		decisions: opts.Decisions,
	}, nil
}

// Dispatch routes one request and returns the recorded decision.
func (s *Service) Dispatch(ctx context.Context, req routing.Request) (routing.Decision, error) {
	return s.engine.Dispatch(ctx, req)
}

// Evaluate runs the pipeline without selection or persistence.
func (s *Service) Evaluate(ctx context.Context, p EvaluatePayload) (engine.EvaluateResult, error) {
	candidates := p.Candidates
	if len(candidates) == 0 {
		var err error
		candidates, err = s.registry.Candidates(ctx, p.Request.TaskDomain)
		if err != nil {
			return engine.EvaluateResult{}, fmt.Errorf("load candidates: %w", err)
		}
	}
	return s.engine.Evaluate(ctx, p.Request, candidates)
}

// RecordOutcome enqueues one execution outcome for asynchronous ingestion.
func (s *Service) RecordOutcome(ctx context.Context, out routing.Outcome) error {
	return s.tracker.Record(ctx, out)
}

// Vector returns the current performance vector for an agent.
func (s *Service) Vector(ctx context.Context, agentID string) (routing.PerformanceVector, error) {
	return s.tracker.Vector(ctx, agentID)
}

// Stats returns the aggregate routing statistics.
func (s *Service) Stats(ctx context.Context) (engine.Stats, error) {
	return s.engine.Stats(ctx)
}

// RegisterAgent validates and registers one agent configuration document.
func (s *Service) RegisterAgent(ctx context.Context, raw []byte) (routing.Candidate, error) {
	return s.registry.RegisterDocument(ctx, raw)
}

// DeregisterAgent removes an agent.
func (s *Service) DeregisterAgent(ctx context.Context, agentID string) error {
	return s.registry.Deregister(ctx, agentID)
}

// ListAgents returns registered agents, optionally filtered by domain.
func (s *Service) ListAgents(ctx context.Context, domain string) ([]routing.Candidate, error) {
	return s.registry.List(ctx, domain)
}

// Decision returns the persisted decision for a request.
func (s *Service) Decision(ctx context.Context, requestID string) (routing.Decision, error) {
	if s.decisions == nil {
		return routing.Decision{}, ErrUnavailable
	}
	return s.decisions.Load(ctx, requestID)
}

// Decisions returns the most recent persisted decisions.
func (s *Service) Decisions(ctx context.Context, limit int) ([]routing.Decision, error) {
	if s.decisions == nil {
		return nil, ErrUnavailable
	}
	return s.decisions.List(ctx, limit)
}

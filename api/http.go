package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"

	"github.com/cascadehq/care/features/decisions"
	"github.com/cascadehq/care/registry"
	"github.com/cascadehq/care/runtime/feedback"
	"github.com/cascadehq/care/runtime/routing"
)

// HandlerOptions configures the HTTP handler.
type HandlerOptions struct {
	// Debug mounts the pprof handlers and the debug log enabler, and logs
	// request and response bodies when debug logs are enabled.
	Debug bool
	// Pingers back the /healthz checker. Typically the Redis and Mongo
	// store clients.
	Pingers []health.Pinger
}

// errorBody is the JSON error envelope for non-2xx responses.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler builds the HTTP handler for the service: routing, agent and audit
// endpoints plus health checks, wrapped in the logging middleware.
func (s *Service) Handler(ctx context.Context, opts HandlerOptions) http.Handler {
	mux := goahttp.NewMuxer()
	if opts.Debug {
		debug.MountPprofHandlers(debug.Adapt(mux))
		debug.MountDebugLogEnabler(debug.Adapt(mux))
	}

	mux.Handle("POST", "/routing/dispatch", s.handleDispatch)
	mux.Handle("POST", "/routing/evaluate", s.handleEvaluate)
	mux.Handle("POST", "/routing/outcome", s.handleOutcome)
	mux.Handle("GET", "/routing/stats", s.handleStats)
	mux.Handle("GET", "/routing/decisions", s.handleDecisions)
	mux.Handle("GET", "/routing/vectors", s.handleVector)

	mux.Handle("POST", "/agents", s.handleRegister)
	mux.Handle("DELETE", "/agents", s.handleDeregister)
	mux.Handle("GET", "/agents", s.handleListAgents)

	check := health.Handler(health.NewChecker(opts.Pingers...))
	mux.Handle("GET", "/healthz", check)
	mux.Handle("GET", "/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var handler http.Handler = mux
	if opts.Debug {
		handler = debug.HTTP()(handler)
	}
	return log.HTTP(ctx)(handler)
}

func (s *Service) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req routing.Request
	if err := goahttp.RequestDecoder(r).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	// Persistence failures surface in logs and counters; the decision is
	// still authoritative for the caller.
	d, err := s.Dispatch(r.Context(), req)
	if err != nil {
		log.Errorf(r.Context(), err, "dispatch %s", d.RequestID)
	}
	writeJSON(r.Context(), w, http.StatusOK, d)
}

func (s *Service) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var p EvaluatePayload
	if err := goahttp.RequestDecoder(r).Decode(&p); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := s.Evaluate(r.Context(), p)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, res)
}

func (s *Service) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var out routing.Outcome
	if err := goahttp.RequestDecoder(r).Decode(&out); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := s.RecordOutcome(r.Context(), out); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Stats(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, stats)
}

func (s *Service) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if requestID := r.URL.Query().Get("request_id"); requestID != "" {
		d, err := s.Decision(r.Context(), requestID)
		if err != nil {
			writeServiceError(r.Context(), w, err)
			return
		}
		writeJSON(r.Context(), w, http.StatusOK, d)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.Decisions(r.Context(), limit)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, list)
}

func (s *Service) handleVector(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", errors.New("agent_id query parameter is required"))
		return
	}
	vec, err := s.Vector(r.Context(), agentID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, vec)
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	agent, err := s.RegisterAgent(r.Context(), raw)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_agent", err)
		return
	}
	writeJSON(r.Context(), w, http.StatusCreated, agent)
}

func (s *Service) handleDeregister(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", errors.New("agent_id query parameter is required"))
		return
	}
	if err := s.DeregisterAgent(r.Context(), agentID); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.ListAgents(r.Context(), r.URL.Query().Get("domain"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, agents)
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, routing.ErrInvalid):
		writeError(ctx, w, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, decisions.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, feedback.ErrQueueFull):
		writeError(ctx, w, http.StatusServiceUnavailable, "queue_full", err)
	case errors.Is(err, ErrUnavailable):
		writeError(ctx, w, http.StatusNotImplemented, "unavailable", err)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "internal", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code string, err error) {
	if status >= http.StatusInternalServerError {
		log.Errorf(ctx, err, "request failed")
	}
	writeJSON(ctx, w, status, errorBody{Error: code, Message: err.Error()})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := goahttp.ResponseEncoder(ctx, w).Encode(v); err != nil {
		log.Errorf(ctx, err, "encode response")
	}
}

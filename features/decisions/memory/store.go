// Package memory provides an in-process append-only decision store for
// development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cascadehq/care/features/decisions"
	"github.com/cascadehq/care/runtime/routing"
)

// Compile-time check that Store implements decisions.Store.
var _ decisions.Store = (*Store)(nil)

// Store keeps decisions in insertion order, guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	order   []string
	byReqID map[string]routing.Decision
}

// New creates an empty store.
func New() *Store {
	return &Store{byReqID: make(map[string]routing.Decision)}
}

// Record appends one decision. Duplicate request IDs are rejected.
func (s *Store) Record(_ context.Context, d routing.Decision) error {
	if d.RequestID == "" {
		return errors.New("request id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byReqID[d.RequestID]; ok {
		return fmt.Errorf("decision %s already recorded", d.RequestID)
	}
	s.byReqID[d.RequestID] = d
	s.order = append(s.order, d.RequestID)
	return nil
}

// Load retrieves the decision recorded for a request.
func (s *Store) Load(_ context.Context, requestID string) (routing.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byReqID[requestID]
	if !ok {
		return routing.Decision{}, decisions.ErrNotFound
	}
	return d, nil
}

// List returns the most recent decisions, newest first.
func (s *Store) List(_ context.Context, limit int) ([]routing.Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	decisions := make([]routing.Decision, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(decisions) < limit; i-- {
		decisions = append(decisions, s.byReqID[s.order[i]])
	}
	return decisions, nil
}

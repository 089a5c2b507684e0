// Package memory provides an in-memory implementation of the registry store.
//
// This implementation is suitable for development, testing, and single-node
// deployments where persistence across restarts is not required.
package memory

import (
	"context"
	"sync"

	"github.com/cascadehq/care/registry/store"
	"github.com/cascadehq/care/runtime/routing"
)

// Store is an in-memory implementation of the store.Store interface.
// It is safe for concurrent use. Listing preserves registration order so
// ranking ties break deterministically.
type Store struct {
	mu     sync.RWMutex
	agents map[string]routing.Candidate
	order  []string
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		agents: make(map[string]routing.Candidate),
	}
}

// SaveAgent stores or updates an agent configuration.
func (s *Store) SaveAgent(ctx context.Context, agent routing.Candidate) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.AgentID]; !ok {
		s.order = append(s.order, agent.AgentID)
	}
	s.agents[agent.AgentID] = agent
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *Store) GetAgent(ctx context.Context, agentID string) (routing.Candidate, error) {
	select {
	case <-ctx.Done():
		return routing.Candidate{}, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return routing.Candidate{}, store.ErrNotFound
	}
	return agent, nil
}

// DeleteAgent removes an agent by ID.
func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return store.ErrNotFound
	}
	delete(s.agents, agentID)
	for i, id := range s.order {
		if id == agentID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListAgents returns all agents, optionally filtered by domain.
func (s *Store) ListAgents(ctx context.Context, domain string) ([]routing.Candidate, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]routing.Candidate, 0, len(s.order))
	for _, id := range s.order {
		agent := s.agents[id]
		if domain == "" || agent.HasDomain(domain) {
			result = append(result, agent)
		}
	}
	return result, nil
}

// Package replicated provides a replicated-map backed implementation of the
// registry store.
//
// The store persists agent configurations in a Pulse replicated map (rmap),
// which is backed by Redis. This makes registrations durable across process
// restarts and visible to all nodes in a multi-node deployment.
package replicated

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cascadehq/care/registry/store"
	"github.com/cascadehq/care/runtime/routing"
)

type (
	// Map is the minimal replicated-map contract required by the replicated store.
	//
	// Map is satisfied by `*rmap.Map` from `goa.design/pulse/rmap`.
	// It is defined here to:
	//   - keep the replicated store unit-testable without Redis, and
	//   - avoid coupling callers to a concrete Pulse implementation.
	//
	// Implementations must be safe for concurrent use.
	Map interface {
		Delete(ctx context.Context, key string) (string, error)
		Get(key string) (string, bool)
		Keys() []string
		Set(ctx context.Context, key, value string) (string, error)
	}

	// Store persists agent configurations in a replicated map.
	// It is safe for concurrent use when backed by a concurrent-safe map
	// (such as rmap.Map).
	Store struct {
		m Map
	}

	// envelope wraps the stored agent with its first registration time so
	// listings order deterministically across nodes.
	envelope struct {
		Agent        routing.Candidate `json:"agent"`
		RegisteredAt time.Time         `json:"registered_at"`
	}
)

const agentKeyPrefix = "care:agent:"

// New creates a new replicated store backed by the given map.
func New(m Map) *Store {
	return &Store{m: m}
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// SaveAgent stores or updates an agent configuration. The first registration
// time is preserved across updates.
func (s *Store) SaveAgent(ctx context.Context, agent routing.Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := envelope{Agent: agent, RegisteredAt: time.Now().UTC()}
	if prev, err := s.load(agent.AgentID); err == nil {
		env.RegisteredAt = prev.RegisteredAt
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal agent %q: %w", agent.AgentID, err)
	}
	if _, err := s.m.Set(ctx, agentKey(agent.AgentID), string(b)); err != nil {
		return fmt.Errorf("store agent %q: %w", agent.AgentID, err)
	}
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *Store) GetAgent(ctx context.Context, agentID string) (routing.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return routing.Candidate{}, err
	}
	env, err := s.load(agentID)
	if err != nil {
		return routing.Candidate{}, err
	}
	return env.Agent, nil
}

// DeleteAgent removes an agent by ID.
func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := agentKey(agentID)
	if _, ok := s.m.Get(key); !ok {
		return store.ErrNotFound
	}
	if _, err := s.m.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete agent %q: %w", agentID, err)
	}
	return nil
}

// ListAgents returns all agents, optionally filtered by domain, ordered by
// first registration time.
func (s *Store) ListAgents(ctx context.Context, domain string) ([]routing.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var envs []envelope
	for _, k := range s.m.Keys() {
		if !strings.HasPrefix(k, agentKeyPrefix) {
			continue
		}
		env, err := s.load(strings.TrimPrefix(k, agentKeyPrefix))
		if err != nil {
			return nil, err
		}
		if domain == "" || env.Agent.HasDomain(domain) {
			envs = append(envs, env)
		}
	}
	sort.Slice(envs, func(i, j int) bool {
		if envs[i].RegisteredAt.Equal(envs[j].RegisteredAt) {
			return envs[i].Agent.AgentID < envs[j].Agent.AgentID
		}
		return envs[i].RegisteredAt.Before(envs[j].RegisteredAt)
	})
	out := make([]routing.Candidate, len(envs))
	for i, env := range envs {
		out[i] = env.Agent
	}
	return out, nil
}

func (s *Store) load(agentID string) (envelope, error) {
	val, ok := s.m.Get(agentKey(agentID))
	if !ok {
		return envelope{}, store.ErrNotFound
	}
	var env envelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		return envelope{}, fmt.Errorf("unmarshal agent %q: %w", agentID, err)
	}
	return env, nil
}

func agentKey(agentID string) string {
	return agentKeyPrefix + agentID
}

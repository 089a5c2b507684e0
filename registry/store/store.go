// Package store defines the persistence layer interface for the agent
// registry.
//
// The Store interface abstracts agent configuration storage, allowing
// different backend implementations. Available implementations:
//
//   - memory: In-memory store for development and testing
//   - mongo: MongoDB store for production persistence
//   - replicated: Pulse replicated-map store shared by clustered nodes
//
// To add a new implementation, create a subpackage that implements the Store
// interface and returns store.ErrNotFound for missing agents.
package store

import (
	"context"
	"errors"

	"github.com/cascadehq/care/runtime/routing"
)

// ErrNotFound is returned when an agent is not found in the store.
var ErrNotFound = errors.New("agent not found")

// Store defines the persistence layer for agent configurations.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveAgent stores or updates an agent configuration. If an agent with
	// the same ID already exists, it is replaced.
	SaveAgent(ctx context.Context, agent routing.Candidate) error

	// GetAgent retrieves an agent by ID. Returns ErrNotFound if the agent
	// does not exist.
	GetAgent(ctx context.Context, agentID string) (routing.Candidate, error)

	// DeleteAgent removes an agent by ID. Returns ErrNotFound if the agent
	// does not exist.
	DeleteAgent(ctx context.Context, agentID string) error

	// ListAgents returns all agents, optionally filtered by domain. An
	// empty domain returns every agent. Returns an empty slice if no agents
	// match.
	ListAgents(ctx context.Context, domain string) ([]routing.Candidate, error)
}

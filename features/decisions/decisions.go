// Package decisions defines the contract shared by the decision audit store
// implementations.
//
// Decisions are append-only: exactly one record exists per request ID and
// records are never updated after insertion. Available implementations:
//
//   - memory: In-process store for development and testing
//   - mongo: MongoDB store for production persistence
package decisions

import (
	"context"
	"errors"

	"github.com/cascadehq/care/runtime/routing"
)

// ErrNotFound is returned when no decision exists for a request.
var ErrNotFound = errors.New("decision not found")

// Store persists and serves routing decisions. Implementations must be safe
// for concurrent use and must reject duplicate request IDs.
type Store interface {
	// Record appends one decision.
	Record(ctx context.Context, d routing.Decision) error
	// Load retrieves the decision recorded for a request. Returns
	// ErrNotFound if none exists.
	Load(ctx context.Context, requestID string) (routing.Decision, error)
	// List returns the most recent decisions, newest first.
	List(ctx context.Context, limit int) ([]routing.Decision, error)
}

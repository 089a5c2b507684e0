// Package registry provides the agent registry consumed by the routing
// engine.
//
// The registry is the authoritative source of agent configurations. Agents
// register declared configuration documents which are validated twice before
// they become visible to routing:
//
//   - structurally, against a JSON Schema (types, required fields, closed
//     enum values), and
//   - semantically, via routing.Candidate.Validate.
//
// The engine therefore never evaluates a malformed candidate.
//
// # Multi-Node Deployments
//
// Multiple engine instances can share one logical registry by using the same
// Name and Redis instance: registrations land in a Pulse replicated map and
// are visible to every node. Single-node deployments and tests can wire the
// memory or mongo stores instead.
package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"goa.design/pulse/rmap"

	"github.com/cascadehq/care/registry/store"
	"github.com/cascadehq/care/registry/store/memory"
	"github.com/cascadehq/care/registry/store/replicated"
	"github.com/cascadehq/care/runtime/routing"
	"github.com/cascadehq/care/runtime/telemetry"
)

type (
	// Registry validates and stores agent configurations and serves the
	// candidate pool to the routing engine. It implements the engine's
	// Source interface.
	Registry struct {
		store    store.Store
		schema   *jsonschema.Schema
		logger   telemetry.Logger
		agentMap *rmap.Map
	}

	// Config configures the registry.
	Config struct {
		// Store is the persistence layer for agent configurations. When
		// nil, a replicated-map store is used if Redis is set, otherwise an
		// in-memory store.
		Store store.Store
		// Redis backs the default replicated store. Ignored when Store is
		// set.
		Redis *redis.Client
		// Name derives the replicated map name ("<name>:agents"). Multiple
		// nodes with the same Name and Redis connection share registry
		// state. Defaults to "care".
		Name string
		// Logger receives registration logs. Defaults to no-op.
		Logger telemetry.Logger
	}
)

// ErrNotFound is returned when an agent is not registered.
var ErrNotFound = store.ErrNotFound

// New creates a Registry. The caller is responsible for calling Close when
// done to release the replicated map, if one was created.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	schema, err := compileAgentSchema()
	if err != nil {
		return nil, fmt.Errorf("compile agent schema: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	r := &Registry{schema: schema, logger: logger}

	switch {
	case cfg.Store != nil:
		r.store = cfg.Store
	case cfg.Redis != nil:
		name := cfg.Name
		if name == "" {
			name = "care"
		}
		agentMap, err := rmap.Join(ctx, name+":agents", cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("join agent map: %w", err)
		}
		r.agentMap = agentMap
		r.store = replicated.New(agentMap)
	default:
		r.store = memory.New()
	}
	return r, nil
}

// Register validates and stores one agent configuration.
func (r *Registry) Register(ctx context.Context, agent routing.Candidate) error {
	if err := agent.Validate(); err != nil {
		return fmt.Errorf("invalid agent configuration: %w", err)
	}
	if err := r.store.SaveAgent(ctx, agent); err != nil {
		return err
	}
	r.logger.Info(ctx, "agent registered", "agent_id", agent.AgentID, "domains", fmt.Sprint(agent.Domains))
	return nil
}

// RegisterDocument validates a raw configuration document against the agent
// schema, then registers the decoded agent.
func (r *Registry) RegisterDocument(ctx context.Context, raw []byte) (routing.Candidate, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return routing.Candidate{}, fmt.Errorf("invalid agent document: %w", err)
	}
	if err := r.schema.Validate(doc); err != nil {
		return routing.Candidate{}, fmt.Errorf("agent document schema validation: %w", err)
	}
	var agent routing.Candidate
	if err := json.Unmarshal(raw, &agent); err != nil {
		return routing.Candidate{}, fmt.Errorf("decode agent document: %w", err)
	}
	if err := r.Register(ctx, agent); err != nil {
		return routing.Candidate{}, err
	}
	return agent, nil
}

// Deregister removes an agent by ID.
func (r *Registry) Deregister(ctx context.Context, agentID string) error {
	if err := r.store.DeleteAgent(ctx, agentID); err != nil {
		return err
	}
	r.logger.Info(ctx, "agent deregistered", "agent_id", agentID)
	return nil
}

// Agent retrieves one registered agent by ID.
func (r *Registry) Agent(ctx context.Context, agentID string) (routing.Candidate, error) {
	return r.store.GetAgent(ctx, agentID)
}

// List returns registered agents, optionally filtered by domain.
func (r *Registry) List(ctx context.Context, domain string) ([]routing.Candidate, error) {
	return r.store.ListAgents(ctx, domain)
}

// Candidates implements the engine's Source: the candidate pool for a task
// domain, in registration order.
func (r *Registry) Candidates(ctx context.Context, domain string) ([]routing.Candidate, error) {
	return r.store.ListAgents(ctx, domain)
}

// Close releases the replicated map, if this registry created one.
func (r *Registry) Close(_ context.Context) error {
	if r.agentMap != nil {
		r.agentMap.Close()
	}
	return nil
}

// agentSchema is the structural contract for registration documents. Closed
// enums mirror the parse functions in runtime/routing.
const agentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["agent_id", "domains", "difficulty_threshold", "risk_policy", "fulfillment_score"],
  "additionalProperties": false,
  "properties": {
    "agent_id": {"type": "string", "minLength": 1},
    "domains": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
    "tools": {"type": "array", "items": {"type": "string"}},
    "required_tools": {"type": "array", "items": {"type": "string"}},
    "context_restrictions": {"type": "array", "items": {"type": "string"}},
    "difficulty_threshold": {"enum": ["low", "medium", "high"]},
    "risk_policy": {"enum": ["strict", "balanced", "fast"]},
    "fulfillment_score": {"type": "number", "minimum": 0, "maximum": 1},
    "declared_dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "additionalProperties": false,
        "properties": {
          "type": {"enum": ["database", "smtp", "dns", "api_key", "s3", "redis", "http", "agent", "service"]},
          "target": {"type": "string"},
          "hardness": {"enum": ["hard", "soft"]}
        }
      }
    },
    "routing_config": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "orchestrator_hint": {"enum": ["sequential", "parallel", "hierarchical", "blackboard"]},
        "max_parallel_tasks": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

func compileAgentSchema() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(agentSchema), &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("agent.schema.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("agent.schema.json")
}

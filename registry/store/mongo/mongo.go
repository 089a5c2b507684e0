// Package mongo provides a MongoDB implementation of the registry store.
//
// This implementation persists agent configurations to MongoDB for
// durability across restarts, suitable for production deployments.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/cascadehq/care/registry/store"
	"github.com/cascadehq/care/runtime/routing"
)

// Store is a MongoDB implementation of the store.Store interface.
// Listing sorts by first registration time so ranking ties break
// deterministically.
type Store struct {
	collection *mongo.Collection
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// agentDocument is the MongoDB document representation of an agent.
type agentDocument struct {
	AgentID             string               `bson:"_id"`
	Domains             []string             `bson:"domains"`
	Tools               []string             `bson:"tools,omitempty"`
	RequiredTools       []string             `bson:"required_tools,omitempty"`
	ContextRestrictions []string             `bson:"context_restrictions,omitempty"`
	DifficultyThreshold string               `bson:"difficulty_threshold"`
	RiskPolicy          string               `bson:"risk_policy"`
	FulfillmentScore    float64              `bson:"fulfillment_score"`
	Dependencies        []dependencyDocument `bson:"declared_dependencies,omitempty"`
	OrchestratorHint    string               `bson:"orchestrator_hint,omitempty"`
	MaxParallelTasks    int                  `bson:"max_parallel_tasks,omitempty"`
	RegisteredAt        time.Time            `bson:"registered_at"`
}

// dependencyDocument is the MongoDB document representation of a declared
// dependency.
type dependencyDocument struct {
	Type     string `bson:"type"`
	Target   string `bson:"target"`
	Hardness string `bson:"hardness,omitempty"`
}

// New creates a new MongoDB store using the provided collection.
// The collection should be from a connected MongoDB client.
func New(collection *mongo.Collection) *Store {
	return &Store{
		collection: collection,
	}
}

// SaveAgent stores or updates an agent configuration. The first registration
// time is preserved across updates.
func (s *Store) SaveAgent(ctx context.Context, agent routing.Candidate) error {
	doc := toDocument(agent)
	update := bson.M{
		"$set": bson.M{
			"domains":              doc.Domains,
			"tools":                doc.Tools,
			"required_tools":       doc.RequiredTools,
			"context_restrictions": doc.ContextRestrictions,
			"difficulty_threshold": doc.DifficultyThreshold,
			"risk_policy":          doc.RiskPolicy,
			"fulfillment_score":    doc.FulfillmentScore,
			"declared_dependencies": doc.Dependencies,
			"orchestrator_hint":    doc.OrchestratorHint,
			"max_parallel_tasks":   doc.MaxParallelTasks,
		},
		"$setOnInsert": bson.M{"registered_at": time.Now().UTC()},
	}
	opts := options.UpdateOne().SetUpsert(true)
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": agent.AgentID}, update, opts)
	if err != nil {
		return fmt.Errorf("mongodb save agent %q: %w", agent.AgentID, err)
	}
	return nil
}

// GetAgent retrieves an agent by ID from MongoDB.
func (s *Store) GetAgent(ctx context.Context, agentID string) (routing.Candidate, error) {
	var doc agentDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": agentID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return routing.Candidate{}, store.ErrNotFound
		}
		return routing.Candidate{}, fmt.Errorf("mongodb get agent %q: %w", agentID, err)
	}
	return fromDocument(&doc), nil
}

// DeleteAgent removes an agent by ID from MongoDB.
func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": agentID})
	if err != nil {
		return fmt.Errorf("mongodb delete agent %q: %w", agentID, err)
	}
	if result.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListAgents returns all agents from MongoDB, optionally filtered by domain.
// Domain matching is case-insensitive to mirror the in-process filter.
func (s *Store) ListAgents(ctx context.Context, domain string) ([]routing.Candidate, error) {
	filter := bson.M{}
	if domain != "" {
		filter["domains"] = bson.M{"$regex": "^" + escapeRegex(domain) + "$", "$options": "i"}
	}

	cursor, err := s.collection.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "registered_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongodb list agents: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []agentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list agents decode: %w", err)
	}

	result := make([]routing.Candidate, len(docs))
	for i, doc := range docs {
		result[i] = fromDocument(&doc)
	}
	return result, nil
}

// toDocument converts an agent to a MongoDB document.
func toDocument(agent routing.Candidate) *agentDocument {
	deps := make([]dependencyDocument, len(agent.Dependencies))
	for i, d := range agent.Dependencies {
		deps[i] = dependencyDocument{
			Type:     string(d.Type),
			Target:   d.Target,
			Hardness: string(d.Hardness),
		}
	}
	// Ensure domains is never nil for MongoDB queries
	domains := agent.Domains
	if domains == nil {
		domains = []string{}
	}
	return &agentDocument{
		AgentID:             agent.AgentID,
		Domains:             domains,
		Tools:               agent.Tools,
		RequiredTools:       agent.RequiredTools,
		ContextRestrictions: agent.ContextRestrictions,
		DifficultyThreshold: string(agent.DifficultyThreshold),
		RiskPolicy:          string(agent.RiskPolicy),
		FulfillmentScore:    agent.FulfillmentScore,
		Dependencies:        deps,
		OrchestratorHint:    string(agent.Routing.OrchestratorHint),
		MaxParallelTasks:    agent.Routing.MaxParallelTasks,
	}
}

// fromDocument converts a MongoDB document to an agent.
func fromDocument(doc *agentDocument) routing.Candidate {
	deps := make([]routing.Dependency, len(doc.Dependencies))
	for i, d := range doc.Dependencies {
		deps[i] = routing.Dependency{
			Type:     routing.DependencyType(d.Type),
			Target:   d.Target,
			Hardness: routing.Hardness(d.Hardness),
		}
	}
	return routing.Candidate{
		AgentID:             doc.AgentID,
		Domains:             doc.Domains,
		Tools:               doc.Tools,
		RequiredTools:       doc.RequiredTools,
		ContextRestrictions: doc.ContextRestrictions,
		DifficultyThreshold: routing.Difficulty(doc.DifficultyThreshold),
		RiskPolicy:          routing.RiskPolicy(doc.RiskPolicy),
		FulfillmentScore:    doc.FulfillmentScore,
		Dependencies:        deps,
		Routing: routing.RoutingConfig{
			OrchestratorHint: routing.OrchestratorMode(doc.OrchestratorHint),
			MaxParallelTasks: doc.MaxParallelTasks,
		},
	}
}

// escapeRegex escapes special regex characters for safe use in MongoDB regex queries.
func escapeRegex(s string) string {
	special := []string{"\\", ".", "+", "*", "?", "^", "$", "(", ")", "[", "]", "{", "}", "|"}
	result := s
	for _, char := range special {
		result = strings.ReplaceAll(result, char, "\\"+char)
	}
	return result
}

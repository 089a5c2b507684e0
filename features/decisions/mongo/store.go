// Package mongo provides the append-only decision audit store backed by
// MongoDB. Decisions are inserted once and never updated; a unique index on
// request_id enforces the one-decision-per-request invariant.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/cascadehq/care/features/decisions"
	"github.com/cascadehq/care/runtime/routing"
)

const (
	defaultCollection = "routing_decisions"
	defaultOpTimeout  = 5 * time.Second
	storeName         = "decisions-mongo"
)

// Compile-time check that Store implements decisions.Store.
var _ decisions.Store = (*Store)(nil)

// Store implements the decision audit store on MongoDB.
type Store struct {
	mongo   *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

// Options configures the store.
type Options struct {
	// Client is the Mongo client. Required.
	Client *mongodriver.Client
	// Database is the database name. Required.
	Database string
	// Collection is the collection name. Defaults to "routing_decisions".
	Collection string
	// Timeout bounds each store operation. Defaults to 5s.
	Timeout time.Duration
}

// New builds a Store and ensures its indexes.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	s := &Store{
		mongo:   opts.Client,
		coll:    opts.Client.Database(opts.Database).Collection(collection),
		timeout: timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("decision store indexes: %w", err)
	}
	return s, nil
}

// Record appends one decision. Inserts are never retried as updates: a
// duplicate request_id is an invariant violation and surfaces as an error.
func (s *Store) Record(ctx context.Context, d routing.Decision) error {
	if d.RequestID == "" {
		return errors.New("request id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, fromDecision(d)); err != nil {
		return fmt.Errorf("insert decision %s: %w", d.RequestID, err)
	}
	return nil
}

// Load retrieves the decision recorded for a request.
func (s *Store) Load(ctx context.Context, requestID string) (routing.Decision, error) {
	if requestID == "" {
		return routing.Decision{}, errors.New("request id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc decisionDocument
	if err := s.coll.FindOne(ctx, bson.M{"request_id": requestID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return routing.Decision{}, decisions.ErrNotFound
		}
		return routing.Decision{}, fmt.Errorf("load decision %s: %w", requestID, err)
	}
	return doc.toDecision(), nil
}

// List returns the most recent decisions, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]routing.Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cursor, err := s.coll.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "decided_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer cursor.Close(ctx)
	var docs []decisionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode decisions: %w", err)
	}
	decisions := make([]routing.Decision, 0, len(docs))
	for _, doc := range docs {
		decisions = append(decisions, doc.toDecision())
	}
	return decisions, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return storeName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.mongo.Ping(ctx, readpref.Primary())
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "request_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "decided_at", Value: -1}},
		},
	}
	_, err := s.coll.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

type (
	decisionDocument struct {
		RequestID                  string           `bson:"request_id"`
		SelectedAgentID            string           `bson:"selected_agent_id,omitempty"`
		FallbackAgents             []string         `bson:"fallback_agents,omitempty"`
		SuccessMetric              string           `bson:"success_metric,omitempty"`
		Orchestrator               string           `bson:"orchestrator_mode,omitempty"`
		Degraded                   bool             `bson:"degraded"`
		DegradedReason             string           `bson:"degraded_reason,omitempty"`
		ConfidenceScore            float64          `bson:"confidence_score"`
		ConfidenceBlocked          bool             `bson:"confidence_blocked"`
		ConfidenceEnforcedFallback bool             `bson:"confidence_enforced_fallback"`
		Routed                     bool             `bson:"routed"`
		Error                      string           `bson:"error,omitempty"`
		ActionableFix              string           `bson:"actionable_fix,omitempty"`
		TotalLatencyMS             int64            `bson:"total_latency_ms"`
		DecidedAt                  time.Time        `bson:"decided_at"`
		StageResults               []stageRow       `bson:"stage_results,omitempty"`
	}

	stageRow struct {
		Stage      string  `bson:"stage_name"`
		Passed     bool    `bson:"passed"`
		Confidence float64 `bson:"confidence_contribution"`
		LatencyMS  int64   `bson:"latency_ms"`
		Reason     string  `bson:"reason,omitempty"`
	}
)

func fromDecision(d routing.Decision) decisionDocument {
	doc := decisionDocument{
		RequestID:                  d.RequestID,
		SelectedAgentID:            d.SelectedAgentID,
		FallbackAgents:             d.FallbackAgents,
		SuccessMetric:              string(d.SuccessMetric),
		Orchestrator:               string(d.Orchestrator),
		Degraded:                   d.Degraded,
		DegradedReason:             d.DegradedReason,
		ConfidenceScore:            d.ConfidenceScore,
		ConfidenceBlocked:          d.ConfidenceBlocked,
		ConfidenceEnforcedFallback: d.ConfidenceEnforcedFallback,
		Routed:                     d.Routed,
		Error:                      string(d.Error),
		ActionableFix:              d.ActionableFix,
		TotalLatencyMS:             d.TotalLatencyMS,
		DecidedAt:                  d.DecidedAt.UTC(),
	}
	for _, sr := range d.StageResults {
		doc.StageResults = append(doc.StageResults, stageRow{
			Stage:      string(sr.Stage),
			Passed:     sr.Passed,
			Confidence: sr.Confidence,
			LatencyMS:  sr.LatencyMS,
			Reason:     sr.Reason,
		})
	}
	return doc
}

func (doc decisionDocument) toDecision() routing.Decision {
	d := routing.Decision{
		RequestID:                  doc.RequestID,
		SelectedAgentID:            doc.SelectedAgentID,
		FallbackAgents:             doc.FallbackAgents,
		SuccessMetric:              routing.SuccessMetric(doc.SuccessMetric),
		Orchestrator:               routing.OrchestratorMode(doc.Orchestrator),
		Degraded:                   doc.Degraded,
		DegradedReason:             doc.DegradedReason,
		ConfidenceScore:            doc.ConfidenceScore,
		ConfidenceBlocked:          doc.ConfidenceBlocked,
		ConfidenceEnforcedFallback: doc.ConfidenceEnforcedFallback,
		Routed:                     doc.Routed,
		Error:                      routing.ErrorCode(doc.Error),
		ActionableFix:              doc.ActionableFix,
		TotalLatencyMS:             doc.TotalLatencyMS,
		DecidedAt:                  doc.DecidedAt,
	}
	for _, sr := range doc.StageResults {
		d.StageResults = append(d.StageResults, routing.StageResult{
			Stage:      routing.StageName(sr.Stage),
			Passed:     sr.Passed,
			Confidence: sr.Confidence,
			LatencyMS:  sr.LatencyMS,
			Reason:     sr.Reason,
		})
	}
	return d
}

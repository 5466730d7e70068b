package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"conviction-engine/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

type DecisionRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewDecisionRepository(pool PgxPool, tracer trace.Tracer) *DecisionRepository {
	return &DecisionRepository{pool: pool, tracer: tracer}
}

// InsertDecision stores one evaluation with its frozen snapshot.
func (r *DecisionRepository) InsertDecision(ctx context.Context, d domain.Decision) error {
	_, span := r.tracer.Start(ctx, "decision-repo.insert")
	defer span.End()

	if r.pool == nil {
		return ErrStoreUnavailable
	}
	snapshot, err := json.Marshal(d.Signals)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	consensus, err := json.Marshal(d.Consensus)
	if err != nil {
		return fmt.Errorf("encode consensus: %w", err)
	}
	confidence, err := json.Marshal(d.Confidence)
	if err != nil {
		return fmt.Errorf("encode confidence: %w", err)
	}
	plan, err := json.Marshal(d.Plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO decisions (decision_id, ticker, created_at, snapshot_json, consensus_json, confidence_json, plan_json)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (decision_id) DO NOTHING`,
		d.ID, d.Ticker, d.CreatedAt.UTC(), string(snapshot), string(consensus), string(confidence), string(plan),
	)
	return err
}

// GetDecision returns nil when the id is unknown.
func (r *DecisionRepository) GetDecision(ctx context.Context, id string) (*domain.Decision, error) {
	_, span := r.tracer.Start(ctx, "decision-repo.get")
	defer span.End()

	if r.pool == nil {
		return nil, ErrStoreUnavailable
	}
	var d domain.Decision
	var snapshot, consensus, confidence, plan string
	err := r.pool.QueryRow(ctx,
		`SELECT decision_id, ticker, created_at, snapshot_json, consensus_json, confidence_json, plan_json
		 FROM decisions
		 WHERE decision_id = $1`,
		id,
	).Scan(&d.ID, &d.Ticker, &d.CreatedAt, &snapshot, &consensus, &confidence, &plan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	if err := decodeDecision(&d, snapshot, consensus, confidence, plan); err != nil {
		return nil, err
	}
	return &d, nil
}

func decodeDecision(d *domain.Decision, snapshot, consensus, confidence, plan string) error {
	if err := json.Unmarshal([]byte(snapshot), &d.Signals); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(consensus), &d.Consensus); err != nil {
		return fmt.Errorf("decode consensus: %w", err)
	}
	if err := json.Unmarshal([]byte(confidence), &d.Confidence); err != nil {
		return fmt.Errorf("decode confidence: %w", err)
	}
	if err := json.Unmarshal([]byte(plan), &d.Plan); err != nil {
		return fmt.Errorf("decode plan: %w", err)
	}
	return nil
}

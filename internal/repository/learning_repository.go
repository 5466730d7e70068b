package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"conviction-engine/internal/domain"
	"conviction-engine/internal/learning"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

// ErrStoreUnavailable is returned when no database pool was configured.
var ErrStoreUnavailable = errors.New("learning store unavailable")

type tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LearningRepository persists engine weights, system adaptations, sector counters
// and processed trade outcomes.
type LearningRepository struct {
	pool   PgxPool
	tracer trace.Tracer
	begin  func(ctx context.Context) (tx, error)
}

func NewLearningRepository(pool PgxPool, tracer trace.Tracer) *LearningRepository {
	r := &LearningRepository{pool: pool, tracer: tracer}
	r.begin = func(ctx context.Context) (tx, error) {
		if r.pool == nil {
			return nil, ErrStoreUnavailable
		}
		return r.pool.Begin(ctx)
	}
	return r
}

func (r *LearningRepository) LoadState(ctx context.Context) (domain.LearningState, error) {
	_, span := r.tracer.Start(ctx, "learning-repo.load-state")
	defer span.End()

	if r.pool == nil {
		return domain.LearningState{}, ErrStoreUnavailable
	}

	state := domain.DefaultLearningState()
	state.LoadedAt = time.Now().UTC()

	weights, err := r.ListWeights(ctx)
	if err != nil {
		return domain.LearningState{}, err
	}
	for _, w := range weights {
		state.Weights[w.SourceID] = w
	}

	adaptations, err := r.ListAdaptations(ctx)
	if err != nil {
		return domain.LearningState{}, err
	}
	for _, a := range adaptations {
		state.Adaptations[a.ParamKey] = a
	}

	rows, err := r.pool.Query(ctx, `SELECT sector, wins, losses FROM sector_stats`)
	if err != nil {
		return domain.LearningState{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var s domain.SectorStats
		if err := rows.Scan(&s.Sector, &s.Wins, &s.Losses); err != nil {
			return domain.LearningState{}, err
		}
		state.Sectors[s.Sector] = s
	}
	if err := rows.Err(); err != nil {
		return domain.LearningState{}, err
	}
	return state, nil
}

func (r *LearningRepository) ListWeights(ctx context.Context) ([]domain.EngineWeight, error) {
	_, span := r.tracer.Start(ctx, "learning-repo.list-weights")
	defer span.End()

	if r.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := r.pool.Query(ctx,
		`SELECT source_id, weight, wins, losses, updated_at
		 FROM engine_weights
		 ORDER BY source_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var weights []domain.EngineWeight
	for rows.Next() {
		var w domain.EngineWeight
		if err := rows.Scan(&w.SourceID, &w.Weight, &w.Wins, &w.Losses, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.UpdatedAt = w.UpdatedAt.UTC()
		weights = append(weights, w)
	}
	return weights, rows.Err()
}

func (r *LearningRepository) ListAdaptations(ctx context.Context) ([]domain.SystemAdaptation, error) {
	_, span := r.tracer.Start(ctx, "learning-repo.list-adaptations")
	defer span.End()

	if r.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := r.pool.Query(ctx,
		`SELECT param_key, value, description, updated_at
		 FROM system_adaptations
		 ORDER BY param_key`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SystemAdaptation
	for rows.Next() {
		var a domain.SystemAdaptation
		if err := rows.Scan(&a.ParamKey, &a.Value, &a.Description, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.UpdatedAt = a.UpdatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApplyOutcome claims the outcome id and applies every nudge in one transaction.
// Clamping happens inside the upsert statements so concurrent closes compose.
func (r *LearningRepository) ApplyOutcome(ctx context.Context, u learning.Update) (learning.Applied, error) {
	_, span := r.tracer.Start(ctx, "learning-repo.apply-outcome")
	defer span.End()

	t, err := r.begin(ctx)
	if err != nil {
		return learning.Applied{}, err
	}
	defer t.Rollback(ctx)

	o := u.Outcome
	tag, err := t.Exec(ctx,
		`INSERT INTO trade_outcomes (
		     outcome_id, ticker, sector, pnl_percent, result,
		     predicted_confidence, contributing_source_ids, closed_at, processed_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (outcome_id) DO NOTHING`,
		o.ID, o.Ticker, o.Sector, o.PnLPercent, string(u.Result),
		nullInt(o.PredictedConfidence), o.ContributingSourceIDs, o.ClosedAt.UTC(),
	)
	if err != nil {
		return learning.Applied{}, fmt.Errorf("claim outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return learning.Applied{}, learning.ErrAlreadyProcessed
	}

	win, loss := 0, 1
	if u.Result == domain.ResultWin {
		win, loss = 1, 0
	}

	// Sorted to take row locks in a stable order across transactions.
	ids := append([]string(nil), o.ContributingSourceIDs...)
	sort.Strings(ids)

	applied := learning.Applied{OutcomeID: o.ID, Result: u.Result}
	for _, id := range ids {
		var w domain.EngineWeight
		err := t.QueryRow(ctx,
			`INSERT INTO engine_weights (source_id, weight, wins, losses, updated_at)
			 VALUES ($1, LEAST($5, GREATEST($4, $2 * $3)), $6, $7, NOW())
			 ON CONFLICT (source_id) DO UPDATE SET
			     weight = LEAST($5, GREATEST($4, engine_weights.weight * $3)),
			     wins = engine_weights.wins + EXCLUDED.wins,
			     losses = engine_weights.losses + EXCLUDED.losses,
			     updated_at = NOW()
			 RETURNING source_id, weight, wins, losses, updated_at`,
			id, u.Rules.DefaultWeight, u.WeightFactor, u.Rules.MinWeight, u.Rules.MaxWeight, win, loss,
		).Scan(&w.SourceID, &w.Weight, &w.Wins, &w.Losses, &w.UpdatedAt)
		if err != nil {
			return learning.Applied{}, fmt.Errorf("nudge weight %s: %w", id, err)
		}
		w.UpdatedAt = w.UpdatedAt.UTC()
		applied.Weights = append(applied.Weights, w)
	}

	seed := domain.DefaultAdaptations()[domain.ParamStopLossPadding]
	if u.PaddingFactor != 1.0 {
		err = t.QueryRow(ctx,
			`INSERT INTO system_adaptations (param_key, value, description, updated_at)
			 VALUES ($1, LEAST($5, GREATEST($4, $2 * $3)), $6, NOW())
			 ON CONFLICT (param_key) DO UPDATE SET
			     value = LEAST($5, GREATEST($4, system_adaptations.value * $3)),
			     updated_at = NOW()
			 RETURNING value`,
			domain.ParamStopLossPadding, seed.Value, u.PaddingFactor, u.Rules.MinPadding, u.Rules.MaxPadding, seed.Description,
		).Scan(&applied.StopLossPadding)
	} else {
		err = t.QueryRow(ctx,
			`SELECT COALESCE((SELECT value FROM system_adaptations WHERE param_key = $1), $2)`,
			domain.ParamStopLossPadding, seed.Value,
		).Scan(&applied.StopLossPadding)
	}
	if err != nil {
		return learning.Applied{}, fmt.Errorf("nudge stop_loss_padding: %w", err)
	}

	if o.Sector != "" {
		if _, err := t.Exec(ctx,
			`INSERT INTO sector_stats (sector, wins, losses, updated_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (sector) DO UPDATE SET
			     wins = sector_stats.wins + EXCLUDED.wins,
			     losses = sector_stats.losses + EXCLUDED.losses,
			     updated_at = NOW()`,
			o.Sector, win, loss,
		); err != nil {
			return learning.Applied{}, fmt.Errorf("update sector stats: %w", err)
		}
	}

	if err := t.Commit(ctx); err != nil {
		return learning.Applied{}, fmt.Errorf("commit outcome: %w", err)
	}
	return applied, nil
}

func (r *LearningRepository) RecentCalibrationSamples(ctx context.Context, limit int) ([]learning.CalibrationSample, error) {
	_, span := r.tracer.Start(ctx, "learning-repo.recent-calibration-samples")
	defer span.End()

	if r.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := r.pool.Query(ctx,
		`SELECT predicted_confidence, pnl_percent > 0, closed_at
		 FROM trade_outcomes
		 WHERE predicted_confidence IS NOT NULL
		 ORDER BY processed_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []learning.CalibrationSample
	for rows.Next() {
		var s learning.CalibrationSample
		if err := rows.Scan(&s.PredictedConfidence, &s.Win, &s.ClosedAt); err != nil {
			return nil, err
		}
		s.ClosedAt = s.ClosedAt.UTC()
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (r *LearningRepository) SetAdaptation(ctx context.Context, key string, value float64) error {
	_, span := r.tracer.Start(ctx, "learning-repo.set-adaptation")
	defer span.End()

	if r.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO system_adaptations (param_key, value, description, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (param_key) DO UPDATE SET
		     value = EXCLUDED.value,
		     updated_at = NOW()`,
		key, value, domain.DefaultAdaptations()[key].Description,
	)
	return err
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

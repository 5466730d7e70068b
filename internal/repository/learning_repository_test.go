package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"conviction-engine/internal/domain"
	"conviction-engine/internal/learning"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeTx struct {
	claimRows  int64
	execSQL    []string
	querySQL   []string
	weightArgs [][]any
	committed  bool
	rolledBack bool
	failOn     string
}

func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.execSQL = append(t.execSQL, sql)
	if t.failOn != "" && strings.Contains(sql, t.failOn) {
		return pgconn.CommandTag{}, errors.New("exec failed")
	}
	if strings.Contains(sql, "trade_outcomes") {
		if t.claimRows == 0 {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *fakeTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	t.querySQL = append(t.querySQL, sql)
	switch {
	case strings.Contains(sql, "engine_weights"):
		t.weightArgs = append(t.weightArgs, args)
		return fakeRow{scan: func(dest ...any) error {
			*dest[0].(*string) = args[0].(string)
			*dest[1].(*float64) = 1.05
			*dest[2].(*int) = 1
			*dest[3].(*int) = 0
			*dest[4].(*time.Time) = time.Unix(0, 0)
			return nil
		}}
	default:
		return fakeRow{scan: func(dest ...any) error {
			*dest[0].(*float64) = 0.99
			return nil
		}}
	}
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { t.rolledBack = true; return nil }

func newRepoWithTx(ftx *fakeTx) *LearningRepository {
	r := NewLearningRepository(nil, testTracer)
	r.begin = func(context.Context) (tx, error) { return ftx, nil }
	return r
}

func winUpdate() learning.Update {
	rules := learning.DefaultRules()
	return learning.Update{
		Outcome: domain.TradeOutcome{
			ID:                    "o-1",
			Ticker:                "AAPL",
			Sector:                "tech",
			PnLPercent:            3,
			ContributingSourceIDs: []string{"technical", "fear_greed"},
			ClosedAt:              time.Now(),
		},
		Result:        domain.ResultWin,
		WeightFactor:  rules.WinFactor,
		PaddingFactor: rules.TightenFactor,
		Rules:         rules,
	}
}

func TestApplyOutcomeCommitsAllNudges(t *testing.T) {
	ftx := &fakeTx{claimRows: 1}
	r := newRepoWithTx(ftx)

	applied, err := r.ApplyOutcome(context.Background(), winUpdate())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ftx.committed {
		t.Fatal("expected commit")
	}
	if len(applied.Weights) != 2 {
		t.Fatalf("expected two weights, got %+v", applied.Weights)
	}
	// sorted lock order
	if ftx.weightArgs[0][0] != "fear_greed" || ftx.weightArgs[1][0] != "technical" {
		t.Fatalf("expected sorted source order, got %v / %v", ftx.weightArgs[0][0], ftx.weightArgs[1][0])
	}
	if applied.StopLossPadding != 0.99 {
		t.Fatalf("expected padding from RETURNING, got %.2f", applied.StopLossPadding)
	}
	if !strings.Contains(ftx.querySQL[len(ftx.querySQL)-1], "LEAST") {
		t.Fatal("padding update must clamp inside the statement")
	}
	var sawSector bool
	for _, sql := range ftx.execSQL {
		if strings.Contains(sql, "sector_stats") {
			sawSector = true
		}
	}
	if !sawSector {
		t.Fatal("expected sector stats update")
	}
}

func TestApplyOutcomeReplayIsAlreadyProcessed(t *testing.T) {
	ftx := &fakeTx{claimRows: 0}
	r := newRepoWithTx(ftx)

	_, err := r.ApplyOutcome(context.Background(), winUpdate())
	if !errors.Is(err, learning.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	if ftx.committed {
		t.Fatal("replay must not commit")
	}
	if len(ftx.weightArgs) != 0 {
		t.Fatal("replay must not touch weights")
	}
}

func TestApplyOutcomeRollsBackOnFailure(t *testing.T) {
	ftx := &fakeTx{claimRows: 1, failOn: "sector_stats"}
	r := newRepoWithTx(ftx)

	if _, err := r.ApplyOutcome(context.Background(), winUpdate()); err == nil {
		t.Fatal("expected error")
	}
	if ftx.committed || !ftx.rolledBack {
		t.Fatalf("expected rollback without commit, committed=%v rolledBack=%v", ftx.committed, ftx.rolledBack)
	}
}

func TestLearningRepositoryWithoutPool(t *testing.T) {
	r := NewLearningRepository(nil, testTracer)
	if _, err := r.LoadState(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := r.ApplyOutcome(context.Background(), winUpdate()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

package learning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"conviction-engine/internal/domain"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

func outcome(id string, pnl float64, sources ...string) domain.TradeOutcome {
	return domain.TradeOutcome{
		ID:                    id,
		Ticker:                "NVDA",
		Sector:                "semis",
		PnLPercent:            pnl,
		ContributingSourceIDs: sources,
		ClosedAt:              time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC),
	}
}

func newLoop() (*Loop, *MemoryStore) {
	store := NewMemoryStore()
	return NewLoop(store, DefaultRules(), testTracer), store
}

func TestFiveWinsCompoundWeight(t *testing.T) {
	loop, store := newLoop()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := loop.ProcessTradeOutcome(ctx, outcome(fmt.Sprintf("w-%d", i), 2.5, "technical")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	state, _ := store.LoadState(ctx)
	w := state.Weights["technical"]
	want := math.Pow(1.05, 5)
	if math.Abs(w.Weight-want) > 1e-9 {
		t.Fatalf("expected %.6f, got %.6f", want, w.Weight)
	}
	if w.Wins != 5 || w.Losses != 0 {
		t.Fatalf("expected 5 wins, got %+v", w)
	}
	if w.Weight >= domain.MaxEngineWeight {
		t.Fatalf("weight should remain below the ceiling, got %.4f", w.Weight)
	}
}

func TestLargeLossWidensPadding(t *testing.T) {
	loop, store := newLoop()
	ctx := context.Background()
	applied, err := loop.ProcessTradeOutcome(ctx, outcome("loss-1", -6.0, "macro_regime"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(applied.StopLossPadding-1.02) > 1e-9 {
		t.Fatalf("expected padding 1.02, got %.6f", applied.StopLossPadding)
	}
	for i := 0; i < 40; i++ {
		if _, err := loop.ProcessTradeOutcome(ctx, outcome(fmt.Sprintf("loss-%d", i+2), -9, "macro_regime")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	state, _ := store.LoadState(ctx)
	if got := state.Adaptation(domain.ParamStopLossPadding); got != domain.MaxStopLossPadding {
		t.Fatalf("expected padding capped at %.2f, got %.6f", domain.MaxStopLossPadding, got)
	}
}

func TestPaddingRules(t *testing.T) {
	r := DefaultRules()
	cases := []struct {
		current, pnl, want float64
	}{
		{1.0, -6, 1.02},
		{1.0, -5, 1.0},
		{1.0, -0.5, 1.0},
		{1.0, 0, 1.0},
		{1.0, 3, 0.99},
		{0.801, 3, 0.8},
		{1.49, -20, 1.5},
		{0, 3, 0.99},
	}
	for _, tc := range cases {
		if got := r.NudgePadding(tc.current, tc.pnl); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("NudgePadding(%.3f, %.1f)=%.6f want %.6f", tc.current, tc.pnl, got, tc.want)
		}
	}
}

func TestWeightBoundsConverge(t *testing.T) {
	r := DefaultRules()
	w := 1.0
	prev := w
	for i := 0; i < 200; i++ {
		w = r.NudgeWeight(w, domain.ResultWin)
		if w > domain.MaxEngineWeight || w < prev {
			t.Fatalf("win nudge %d produced %.6f", i, w)
		}
		prev = w
	}
	if w != domain.MaxEngineWeight {
		t.Fatalf("expected convergence to %.1f, got %.6f", domain.MaxEngineWeight, w)
	}
	for i := 0; i < 200; i++ {
		w = r.NudgeWeight(w, domain.ResultLoss)
		if w < domain.MinEngineWeight || w > prev {
			t.Fatalf("loss nudge %d produced %.6f", i, w)
		}
		prev = w
	}
	if w != domain.MinEngineWeight {
		t.Fatalf("expected convergence to %.1f, got %.6f", domain.MinEngineWeight, w)
	}
}

func TestBreakEvenIsLossWithoutPaddingChange(t *testing.T) {
	loop, store := newLoop()
	ctx := context.Background()
	applied, err := loop.ProcessTradeOutcome(ctx, outcome("flat", 0, "insider_intent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied.Result != domain.ResultLoss {
		t.Fatalf("expected LOSS, got %s", applied.Result)
	}
	if applied.StopLossPadding != 1.0 {
		t.Fatalf("expected padding unchanged, got %.4f", applied.StopLossPadding)
	}
	state, _ := store.LoadState(ctx)
	if got := state.Weights["insider_intent"].Weight; math.Abs(got-0.95) > 1e-9 {
		t.Fatalf("expected 0.95, got %.6f", got)
	}
}

func TestReplayIsNoOp(t *testing.T) {
	loop, store := newLoop()
	ctx := context.Background()
	o := outcome("dup-1", 4, "technical", "fear_greed")

	if _, err := loop.ProcessTradeOutcome(ctx, o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before, _ := store.LoadState(ctx)

	applied, err := loop.ProcessTradeOutcome(ctx, o)
	if err != nil {
		t.Fatalf("replay should not error, got %v", err)
	}
	if !applied.Duplicate {
		t.Fatal("expected replay to be reported as duplicate")
	}
	after, _ := store.LoadState(ctx)
	if before.Weights["technical"] != after.Weights["technical"] {
		t.Fatalf("replay changed state: %+v vs %+v", before.Weights["technical"], after.Weights["technical"])
	}
	if after.Sectors["semis"].Wins != 1 {
		t.Fatalf("expected a single sector win, got %+v", after.Sectors["semis"])
	}
}

func TestInvalidOutcomeIsPermanent(t *testing.T) {
	loop, _ := newLoop()
	o := outcome("bad", 1, "technical")
	o.Ticker = "  "
	_, err := loop.ProcessTradeOutcome(context.Background(), o)
	if !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
}

type failingStore struct{ err error }

func (f failingStore) ApplyOutcome(context.Context, Update) (Applied, error) { return Applied{}, f.err }

func TestStoreErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	loop := NewLoop(failingStore{err: boom}, DefaultRules(), testTracer)
	_, err := loop.ProcessTradeOutcome(context.Background(), outcome("x", 1, "a"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if errors.Is(err, ErrInvalidOutcome) {
		t.Fatal("store errors must stay retryable")
	}
}

func TestConcurrentOutcomesDoNotLoseUpdates(t *testing.T) {
	loop, store := newLoop()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pnl := 1.0
			if i%2 == 1 {
				pnl = -1.0
			}
			if _, err := loop.ProcessTradeOutcome(ctx, outcome(fmt.Sprintf("c-%d", i), pnl, "shared")); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	state, _ := store.LoadState(ctx)
	w := state.Weights["shared"]
	if w.Wins+w.Losses != n {
		t.Fatalf("expected %d counted outcomes, got %d", n, w.Wins+w.Losses)
	}
	// multiplication commutes, so the order of application does not matter
	want := math.Pow(1.05, 25) * math.Pow(0.95, 25)
	if math.Abs(w.Weight-want) > 1e-9 {
		t.Fatalf("expected %.9f, got %.9f", want, w.Weight)
	}
}

func TestUnseenSourceStartsAtDefault(t *testing.T) {
	loop, _ := newLoop()
	applied, err := loop.ProcessTradeOutcome(context.Background(), outcome("new", -2, "brand_new"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(applied.Weights) != 1 || math.Abs(applied.Weights[0].Weight-0.95) > 1e-9 {
		t.Fatalf("expected 1.0*0.95, got %+v", applied.Weights)
	}
}

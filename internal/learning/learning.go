package learning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"conviction-engine/internal/domain"
)

var (
	// ErrAlreadyProcessed is returned by a Store when the outcome id was claimed before.
	ErrAlreadyProcessed = errors.New("trade outcome already processed")
	// ErrInvalidOutcome marks outcomes that can never succeed and must not be retried.
	ErrInvalidOutcome = errors.New("invalid trade outcome")
)

// Rules are the nudge factors and bounds of the learning loop.
type Rules struct {
	WinFactor      float64
	LossFactor     float64
	MinWeight      float64
	MaxWeight      float64
	DefaultWeight  float64
	LargeLossPnL   float64
	WidenFactor    float64
	TightenFactor  float64
	MinPadding     float64
	MaxPadding     float64
	DefaultPadding float64
}

func DefaultRules() Rules {
	return Rules{
		WinFactor:      1.05,
		LossFactor:     0.95,
		MinWeight:      domain.MinEngineWeight,
		MaxWeight:      domain.MaxEngineWeight,
		DefaultWeight:  domain.DefaultEngineWeight,
		LargeLossPnL:   -5.0,
		WidenFactor:    1.02,
		TightenFactor:  0.99,
		MinPadding:     domain.MinStopLossPadding,
		MaxPadding:     domain.MaxStopLossPadding,
		DefaultPadding: 1.0,
	}
}

// WeightFactor is the multiplier applied to every contributing source.
func (r Rules) WeightFactor(result domain.OutcomeResult) float64 {
	if result == domain.ResultWin {
		return r.WinFactor
	}
	return r.LossFactor
}

// PaddingFactor is the multiplier applied to stop_loss_padding; 1.0 means unchanged.
func (r Rules) PaddingFactor(pnlPercent float64) float64 {
	switch {
	case pnlPercent < r.LargeLossPnL:
		return r.WidenFactor
	case pnlPercent > 0:
		return r.TightenFactor
	default:
		return 1.0
	}
}

// NudgeWeight returns the clamped weight after one outcome.
func (r Rules) NudgeWeight(current float64, result domain.OutcomeResult) float64 {
	if !(current > 0) || math.IsInf(current, 0) {
		current = r.DefaultWeight
	}
	return clamp(current*r.WeightFactor(result), r.MinWeight, r.MaxWeight)
}

// NudgePadding returns the stop_loss_padding after one outcome.
func (r Rules) NudgePadding(current, pnlPercent float64) float64 {
	if !(current > 0) || math.IsInf(current, 0) {
		current = r.DefaultPadding
	}
	f := r.PaddingFactor(pnlPercent)
	if f == 1.0 {
		return current
	}
	return clamp(current*f, r.MinPadding, r.MaxPadding)
}

// Update is one outcome ready to be applied by a Store.
type Update struct {
	Outcome       domain.TradeOutcome
	Result        domain.OutcomeResult
	WeightFactor  float64
	PaddingFactor float64
	Rules         Rules
}

// Applied reports the post-update state.
type Applied struct {
	OutcomeID       string                `json:"outcome_id"`
	Result          domain.OutcomeResult  `json:"result"`
	Weights         []domain.EngineWeight `json:"weights"`
	StopLossPadding float64               `json:"stop_loss_padding"`
	Duplicate       bool                  `json:"duplicate"`
}

// Store applies an update atomically: the outcome id claim, every weight nudge, the
// padding nudge and the sector counters commit together or not at all.
type Store interface {
	ApplyOutcome(ctx context.Context, u Update) (Applied, error)
}

type Loop struct {
	store  Store
	rules  Rules
	tracer trace.Tracer
	now    func() time.Time
}

func NewLoop(store Store, rules Rules, tracer trace.Tracer) *Loop {
	return &Loop{store: store, rules: rules, tracer: tracer, now: time.Now}
}

// ProcessTradeOutcome applies one closed trade. Replays of an already processed
// outcome are reported as Duplicate and are not an error.
func (l *Loop) ProcessTradeOutcome(ctx context.Context, outcome domain.TradeOutcome) (Applied, error) {
	ctx, span := l.tracer.Start(ctx, "learning-loop.process-outcome")
	defer span.End()

	outcome = outcome.Normalize(l.now())
	if err := outcome.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid outcome")
		return Applied{}, fmt.Errorf("%w: %v", ErrInvalidOutcome, err)
	}

	result := outcome.Result()
	span.SetAttributes(
		attribute.String("outcome.id", outcome.ID),
		attribute.String("outcome.ticker", outcome.Ticker),
		attribute.String("outcome.result", string(result)),
		attribute.Int("outcome.sources", len(outcome.ContributingSourceIDs)),
	)

	applied, err := l.store.ApplyOutcome(ctx, Update{
		Outcome:       outcome,
		Result:        result,
		WeightFactor:  l.rules.WeightFactor(result),
		PaddingFactor: l.rules.PaddingFactor(outcome.PnLPercent),
		Rules:         l.rules,
	})
	if errors.Is(err, ErrAlreadyProcessed) {
		log.Info().Str("outcome_id", outcome.ID).Msg("trade outcome already processed, skipping")
		return Applied{OutcomeID: outcome.ID, Result: result, Duplicate: true}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply outcome failed")
		return Applied{}, fmt.Errorf("apply outcome %s: %w", outcome.ID, err)
	}

	log.Info().
		Str("outcome_id", outcome.ID).
		Str("ticker", outcome.Ticker).
		Str("result", string(result)).
		Float64("pnl_percent", outcome.PnLPercent).
		Int("sources", len(applied.Weights)).
		Float64("stop_loss_padding", applied.StopLossPadding).
		Msg("learning loop applied trade outcome")
	return applied, nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

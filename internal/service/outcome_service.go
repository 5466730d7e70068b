package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conviction-engine/internal/domain"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvalidOutcome = errors.New("invalid trade outcome")

type OutcomePublisher interface {
	Publish(ctx context.Context, outcome domain.TradeOutcome) error
}

// OutcomeService accepts closed trades and hands them to the learning queue.
// It never touches learning state itself.
type OutcomeService struct {
	tracer    trace.Tracer
	publisher OutcomePublisher
	now       func() time.Time
}

func NewOutcomeService(tracer trace.Tracer, publisher OutcomePublisher) *OutcomeService {
	return &OutcomeService{tracer: tracer, publisher: publisher, now: time.Now}
}

// Submit normalizes and validates the outcome, then enqueues it. The returned outcome
// carries the id the learning loop will de-duplicate on.
func (s *OutcomeService) Submit(ctx context.Context, outcome domain.TradeOutcome) (domain.TradeOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "outcome-service.submit")
	defer span.End()

	outcome = outcome.Normalize(s.now())
	if err := outcome.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid outcome")
		return domain.TradeOutcome{}, fmt.Errorf("%w: %v", ErrInvalidOutcome, err)
	}
	span.SetAttributes(
		attribute.String("outcome.id", outcome.ID),
		attribute.String("outcome.ticker", outcome.Ticker),
	)

	if err := s.publisher.Publish(ctx, outcome); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return domain.TradeOutcome{}, fmt.Errorf("enqueue outcome %s: %w", outcome.ID, err)
	}

	log.Info().
		Str("outcome_id", outcome.ID).
		Str("ticker", outcome.Ticker).
		Float64("pnl_percent", outcome.PnLPercent).
		Msg("trade outcome queued")
	return outcome, nil
}

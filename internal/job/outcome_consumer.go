package job

import (
	"context"
	"errors"
	"time"

	"conviction-engine/internal/domain"
	"conviction-engine/internal/learning"
	"conviction-engine/internal/queue"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type OutcomeProcessor interface {
	ProcessTradeOutcome(ctx context.Context, outcome domain.TradeOutcome) (learning.Applied, error)
}

// OutcomeConsumerJob feeds queued trade outcomes into the learning loop, one at a time.
// A delivery is acked only once it was applied, rejected as invalid, or recognised as a
// replay. Store failures are retried with exponential backoff and never dropped.
type OutcomeConsumerJob struct {
	tracer       trace.Tracer
	consumer     queue.Consumer
	processor    OutcomeProcessor
	retryMax     int
	initialDelay time.Duration
	maxDelay     time.Duration
}

func NewOutcomeConsumerJob(tracer trace.Tracer, consumer queue.Consumer, processor OutcomeProcessor, retryMax int) *OutcomeConsumerJob {
	if retryMax <= 0 {
		retryMax = 5
	}
	return &OutcomeConsumerJob{
		tracer:       tracer,
		consumer:     consumer,
		processor:    processor,
		retryMax:     retryMax,
		initialDelay: 200 * time.Millisecond,
		maxDelay:     30 * time.Second,
	}
}

// Start blocks until ctx is cancelled or the queue is closed.
func (j *OutcomeConsumerJob) Start(ctx context.Context) {
	if j.consumer == nil || j.processor == nil {
		log.Warn().Msg("outcome consumer disabled: no queue or processor")
		<-ctx.Done()
		return
	}
	log.Info().Int("retry_max", j.retryMax).Msg("outcome consumer starting")

	bo := j.newBackOff()
	for {
		d, err := j.consumer.Receive(ctx)
		if ctx.Err() != nil {
			break
		}
		if errors.Is(err, queue.ErrClosed) {
			log.Info().Msg("outcome queue closed")
			break
		}
		if err != nil {
			delay := bo.NextBackOff()
			log.Error().Err(err).Dur("retry_in", delay).Msg("outcome queue receive failed")
			if !sleepCtx(ctx, delay) {
				break
			}
			continue
		}
		bo.Reset()
		j.handle(ctx, d)
	}
	log.Info().Msg("outcome consumer stopped")
}

func (j *OutcomeConsumerJob) handle(ctx context.Context, d queue.Delivery) {
	ctx, span := j.tracer.Start(ctx, "outcome-consumer.handle")
	defer span.End()

	if d.DecodeErr != nil {
		log.Warn().Err(d.DecodeErr).Msg("dropping undecodable trade outcome")
		j.ack(ctx, d)
		return
	}
	span.SetAttributes(attribute.String("outcome.id", d.Outcome.ID))

	bo := j.newBackOff()
	for attempt := 1; ; attempt++ {
		applied, err := j.processor.ProcessTradeOutcome(ctx, d.Outcome)
		if err == nil {
			span.SetAttributes(
				attribute.Int("outcome.attempts", attempt),
				attribute.Bool("outcome.duplicate", applied.Duplicate),
			)
			j.ack(ctx, d)
			return
		}
		if errors.Is(err, learning.ErrInvalidOutcome) {
			log.Warn().Err(err).Str("outcome_id", d.Outcome.ID).Msg("dropping invalid trade outcome")
			j.ack(ctx, d)
			return
		}

		span.RecordError(err)
		delay := bo.NextBackOff()
		event := log.Warn()
		if attempt >= j.retryMax {
			event = log.Error()
		}
		event.Err(err).
			Str("outcome_id", d.Outcome.ID).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("trade outcome not applied, will retry")

		if !sleepCtx(ctx, delay) {
			// Left unacked so the broker redelivers after restart.
			return
		}
	}
}

// newBackOff doubles the delay on every attempt until retryMax, then holds at maxDelay.
func (j *OutcomeConsumerJob) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = j.initialDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxInterval = j.maxDelay
	bo.Reset()
	return bo
}

func (j *OutcomeConsumerJob) ack(ctx context.Context, d queue.Delivery) {
	if err := d.Ack(ctx); err != nil {
		log.Error().Err(err).Str("outcome_id", d.Outcome.ID).Msg("failed to ack trade outcome")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

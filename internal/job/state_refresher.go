package job

import (
	"context"
	"time"

	"conviction-engine/internal/domain"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

type StateLoader interface {
	Load(ctx context.Context) (domain.LearningState, string)
}

// StateRefresher keeps the cached and last-known learning state warm so evaluations
// after a store outage start from recent values.
type StateRefresher struct {
	tracer       trace.Tracer
	loader       StateLoader
	pollInterval time.Duration
}

func NewStateRefresher(tracer trace.Tracer, loader StateLoader, pollInterval time.Duration) *StateRefresher {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &StateRefresher{tracer: tracer, loader: loader, pollInterval: pollInterval}
}

// Start blocks until ctx is cancelled.
func (r *StateRefresher) Start(ctx context.Context) {
	log.Info().Dur("interval", r.pollInterval).Msg("learning state refresher starting")
	pollLoop(ctx, r.pollInterval, r.refresh)
	log.Info().Msg("learning state refresher stopped")
}

func (r *StateRefresher) refresh(ctx context.Context) {
	ctx, span := r.tracer.Start(ctx, "state-refresher.refresh")
	defer span.End()

	state, source := r.loader.Load(ctx)
	log.Debug().
		Str("source", source).
		Int("weights", len(state.Weights)).
		Int("sectors", len(state.Sectors)).
		Msg("learning state refreshed")
}

// pollLoop runs fn immediately, then on every tick until ctx is done.
func pollLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

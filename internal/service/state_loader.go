package service

import (
	"context"
	"sync"

	"conviction-engine/internal/domain"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Where a LearningState came from.
const (
	StateFromStore     = "store"
	StateFromCache     = "cache"
	StateFromLastKnown = "last_known"
	StateFromDefaults  = "defaults"
)

type StateStore interface {
	LoadState(ctx context.Context) (domain.LearningState, error)
}

type StateCache interface {
	SaveState(ctx context.Context, state domain.LearningState) error
	LoadState(ctx context.Context) (domain.LearningState, bool, error)
}

// StateLoader reads the learning state with a fallback chain: the authoritative store,
// then the Redis copy of the last good read, then the in-process copy, then defaults.
// Load never fails.
type StateLoader struct {
	tracer trace.Tracer
	store  StateStore
	cache  StateCache

	mu        sync.RWMutex
	lastKnown *domain.LearningState
}

func NewStateLoader(tracer trace.Tracer, store StateStore, cache StateCache) *StateLoader {
	return &StateLoader{tracer: tracer, store: store, cache: cache}
}

func (l *StateLoader) Load(ctx context.Context) (domain.LearningState, string) {
	ctx, span := l.tracer.Start(ctx, "state-loader.load")
	defer span.End()

	state, source := l.load(ctx)
	span.SetAttributes(attribute.String("state.source", source))
	return state, source
}

func (l *StateLoader) load(ctx context.Context) (domain.LearningState, string) {
	if l.store != nil {
		state, err := l.store.LoadState(ctx)
		if err == nil {
			l.remember(ctx, state)
			return state, StateFromStore
		}
		log.Warn().Err(err).Msg("learning store unavailable, falling back")
	}

	if l.cache != nil {
		state, ok, err := l.cache.LoadState(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("learning state cache read failed")
		}
		if ok {
			return state, StateFromCache
		}
	}

	l.mu.RLock()
	last := l.lastKnown
	l.mu.RUnlock()
	if last != nil {
		return *last, StateFromLastKnown
	}
	return domain.DefaultLearningState(), StateFromDefaults
}

func (l *StateLoader) remember(ctx context.Context, state domain.LearningState) {
	l.mu.Lock()
	l.lastKnown = &state
	l.mu.Unlock()

	if l.cache != nil {
		if err := l.cache.SaveState(ctx, state); err != nil {
			log.Warn().Err(err).Msg("failed to cache learning state")
		}
	}
}

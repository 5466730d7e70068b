package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"conviction-engine/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const (
	learningStateKey = "conviction:learning-state"
	learningStateTTL = 24 * time.Hour
)

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// StateCache holds the last learning state successfully read from Postgres.
type StateCache struct {
	client RedisClient
	tracer trace.Tracer
}

func NewStateCache(client RedisClient, tracer trace.Tracer) *StateCache {
	return &StateCache{client: client, tracer: tracer}
}

func (c *StateCache) SaveState(ctx context.Context, state domain.LearningState) error {
	_, span := c.tracer.Start(ctx, "state-cache.save")
	defer span.End()

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, learningStateKey, data, learningStateTTL).Err()
}

// LoadState returns ok=false on a cache miss.
func (c *StateCache) LoadState(ctx context.Context) (domain.LearningState, bool, error) {
	_, span := c.tracer.Start(ctx, "state-cache.load")
	defer span.End()

	val, err := c.client.Get(ctx, learningStateKey).Result()
	if errors.Is(err, redis.Nil) {
		return domain.LearningState{}, false, nil
	}
	if err != nil {
		return domain.LearningState{}, false, err
	}

	var state domain.LearningState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return domain.LearningState{}, false, err
	}
	if state.Weights == nil {
		state.Weights = map[string]domain.EngineWeight{}
	}
	if state.Adaptations == nil {
		state.Adaptations = domain.DefaultAdaptations()
	}
	if state.Sectors == nil {
		state.Sectors = map[string]domain.SectorStats{}
	}
	return state, true, nil
}

package provider

import (
	"context"
	"time"

	"conviction-engine/internal/domain"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Request identifies the instrument being evaluated.
type Request struct {
	Ticker string
	Sector string
	Tier   domain.AssetTier
	// Closes is an optional daily close history, oldest first.
	Closes []float64
}

// Provider is one external signal source.
type Provider interface {
	SourceID() string
	Fetch(ctx context.Context, req Request) ([]domain.Signal, error)
}

const (
	defaultProviderTimeout = 2 * time.Second
	defaultMaxSignalAge    = 24 * time.Hour
)

// Collector fans a request out to every provider. Each call gets its own timeout; a
// provider that fails or times out simply contributes nothing.
type Collector struct {
	providers []Provider
	timeout   time.Duration
	maxAge    time.Duration
	tracer    trace.Tracer
	now       func() time.Time
}

func NewCollector(tracer trace.Tracer, timeout time.Duration, providers ...Provider) *Collector {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &Collector{
		providers: providers,
		timeout:   timeout,
		maxAge:    defaultMaxSignalAge,
		tracer:    tracer,
		now:       time.Now,
	}
}

// Providers reports the registered source ids.
func (c *Collector) Providers() []string {
	ids := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		ids = append(ids, p.SourceID())
	}
	return ids
}

func (c *Collector) Collect(ctx context.Context, req Request) domain.SignalSet {
	ctx, span := c.tracer.Start(ctx, "signal-collector.collect")
	defer span.End()

	results := make([][]domain.Signal, len(c.providers))
	var g errgroup.Group
	for i, p := range c.providers {
		g.Go(func() error {
			results[i] = c.fetchOne(ctx, p, req)
			return nil
		})
	}
	_ = g.Wait()

	now := c.now()
	set := domain.SignalSet{}
	for i, signals := range results {
		for _, s := range signals {
			if s.SourceID == "" {
				s.SourceID = c.providers[i].SourceID()
			}
			if s.Ticker == "" {
				s.Ticker = req.Ticker
			}
			if !s.AsOf.IsZero() && now.Sub(s.AsOf) > c.maxAge {
				log.Debug().Str("source_id", s.SourceID).Time("as_of", s.AsOf).Msg("dropping stale signal")
				continue
			}
			set[s.SourceID] = s
		}
	}
	span.SetAttributes(
		attribute.String("ticker", req.Ticker),
		attribute.Int("providers", len(c.providers)),
		attribute.Int("signals", len(set)),
	)
	return set
}

func (c *Collector) fetchOne(ctx context.Context, p Provider, req Request) []domain.Signal {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	signals, err := p.Fetch(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("source_id", p.SourceID()).Str("ticker", req.Ticker).Msg("signal provider unavailable")
		return nil
	}
	return signals
}

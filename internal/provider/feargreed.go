package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"conviction-engine/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const (
	fearGreedBaseURL  = "https://api.alternative.me"
	fearGreedSourceID = "fear_greed"
	fearGreedMaxCache = time.Hour
)

// FearGreedPoint is one reading of the market-wide Fear & Greed index.
type FearGreedPoint struct {
	Value            int
	Classification   string
	Timestamp        time.Time
	TimeUntilUpdateS int
}

// FearGreedProvider turns the alternative.me index into a sentiment signal. The index
// is market-wide, so one reading is shared by every ticker until it is due to update.
type FearGreedProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter

	mu        sync.Mutex
	cached    *FearGreedPoint
	expiresAt time.Time
	now       func() time.Time
}

func NewFearGreedProvider(tracer trace.Tracer) *FearGreedProvider {
	return &FearGreedProvider{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: fearGreedBaseURL,
		tracer:  tracer,
		limiter: NewRateLimiter(10, time.Minute),
		now:     time.Now,
	}
}

func (p *FearGreedProvider) SourceID() string { return fearGreedSourceID }

func (p *FearGreedProvider) Fetch(ctx context.Context, req Request) ([]domain.Signal, error) {
	point, err := p.latest(ctx)
	if err != nil {
		return nil, err
	}
	return []domain.Signal{{
		SourceID: fearGreedSourceID,
		Ticker:   req.Ticker,
		Group:    domain.GroupSentiment,
		Value:    domain.NumericValue(float64(point.Value)),
		AsOf:     point.Timestamp,
	}}, nil
}

func (p *FearGreedProvider) latest(ctx context.Context) (*FearGreedPoint, error) {
	p.mu.Lock()
	if p.cached != nil && p.now().Before(p.expiresAt) {
		point := *p.cached
		p.mu.Unlock()
		return &point, nil
	}
	p.mu.Unlock()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	point, err := p.FetchLatest(ctx)
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(point.TimeUntilUpdateS) * time.Second
	if ttl <= 0 || ttl > fearGreedMaxCache {
		ttl = fearGreedMaxCache
	}
	p.mu.Lock()
	p.cached = point
	p.expiresAt = p.now().Add(ttl)
	p.mu.Unlock()
	return point, nil
}

func (p *FearGreedProvider) FetchLatest(ctx context.Context) (*FearGreedPoint, error) {
	_, span := p.tracer.Start(ctx, "feargreed.fetch-latest")
	defer span.End()

	url := strings.TrimRight(p.baseURL, "/") + "/fng/?limit=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fear & greed API error %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Data []struct {
			Value            string `json:"value"`
			Classification   string `json:"value_classification"`
			Timestamp        string `json:"timestamp"`
			TimeUntilUpdateS string `json:"time_until_update"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode fear & greed response: %w", err)
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("fear & greed response has no rows")
	}

	row := payload.Data[0]
	value, err := strconv.Atoi(strings.TrimSpace(row.Value))
	if err != nil {
		return nil, fmt.Errorf("parse fear & greed value: %w", err)
	}
	if value < 0 || value > 100 {
		return nil, fmt.Errorf("fear & greed value %d out of range", value)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(row.Timestamp), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse fear & greed timestamp: %w", err)
	}
	if ts > 1_000_000_000_000 {
		ts = ts / 1000
	}
	updateS := 0
	if row.TimeUntilUpdateS != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(row.TimeUntilUpdateS)); err == nil && n >= 0 {
			updateS = n
		}
	}

	return &FearGreedPoint{
		Value:            value,
		Classification:   row.Classification,
		Timestamp:        time.Unix(ts, 0).UTC(),
		TimeUntilUpdateS: updateS,
	}, nil
}

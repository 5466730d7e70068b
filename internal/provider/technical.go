package provider

import (
	"context"
	"math"

	"conviction-engine/internal/domain"
	"conviction-engine/internal/ta"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	technicalSourceID = "technical_indicators"

	rsiPeriod       = 14
	macdFast        = 12
	macdSlow        = 26
	macdSignal      = 9
	bollingerPeriod = 20
	bollingerStdDev = 2.0
)

// TechnicalProvider scores the close history supplied with the request. It never calls
// out, and a short history yields no signal rather than an error.
type TechnicalProvider struct {
	tracer trace.Tracer
}

func NewTechnicalProvider(tracer trace.Tracer) *TechnicalProvider {
	return &TechnicalProvider{tracer: tracer}
}

func (p *TechnicalProvider) SourceID() string { return technicalSourceID }

func (p *TechnicalProvider) Fetch(ctx context.Context, req Request) ([]domain.Signal, error) {
	_, span := p.tracer.Start(ctx, "technical-provider.fetch")
	defer span.End()

	score, ok := TechnicalScore(req.Closes)
	span.SetAttributes(attribute.Int("closes", len(req.Closes)), attribute.Bool("scored", ok))
	if !ok {
		return nil, nil
	}
	return []domain.Signal{{
		SourceID: technicalSourceID,
		Ticker:   req.Ticker,
		Group:    domain.GroupTechnical,
		Value:    domain.NumericValue(score),
	}}, nil
}

// TechnicalScore blends RSI, MACD histogram and Bollinger %B into a 0-100 bullishness
// score. The histogram is scaled by the close volatility so it is price independent.
func TechnicalScore(closes []float64) (float64, bool) {
	rsi, ok := ta.RSI(closes, rsiPeriod)
	if !ok {
		return 0, false
	}
	hist, ok := ta.MACDHistogram(closes, macdFast, macdSlow, macdSignal)
	if !ok {
		return 0, false
	}
	pctB, ok := ta.PercentB(closes, bollingerPeriod, bollingerStdDev)
	if !ok {
		return 0, false
	}

	_, std := ta.MeanStd(closes[len(closes)-bollingerPeriod:])
	macdScore := 50.0
	if std > 0 {
		macdScore = 50 + 50*math.Tanh(hist/std)
	}
	bandScore := math.Max(0, math.Min(100, pctB*100))

	score := 0.4*rsi + 0.35*macdScore + 0.25*bandScore
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, false
	}
	return math.Max(0, math.Min(100, score)), true
}

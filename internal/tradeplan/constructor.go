package tradeplan

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"conviction-engine/internal/domain"
)

// Liquidity bias labels understood in Flags.Liquidity.
const (
	LiquidityAccumulation = "ACCUMULATION"
	LiquidityDistribution = "DISTRIBUTION"
)

// Flags are auxiliary signals that shape the plan without feeding the consensus.
type Flags struct {
	TrapZone     bool   `json:"trap_zone"`
	GammaSqueeze bool   `json:"gamma_squeeze"`
	Liquidity    string `json:"liquidity_bias,omitempty"`
}

// Params are the SystemAdaptation values the constructor reads.
type Params struct {
	StopLossPadding     float64
	ConvictionThreshold float64
	MaxAllocationCap    float64
}

// ParamsFrom extracts the plan parameters from a learning state.
func ParamsFrom(state domain.LearningState) Params {
	return Params{
		StopLossPadding:     state.Adaptation(domain.ParamStopLossPadding),
		ConvictionThreshold: state.Adaptation(domain.ParamConvictionThreshold),
		MaxAllocationCap:    state.Adaptation(domain.ParamMaxAllocationCap),
	}
}

type PlanInput struct {
	Ticker     string
	Price      float64
	ATR        float64
	Direction  domain.Direction
	Confidence domain.RecalibratedConfidence
	Profile    domain.VolatilityProfile
	Tier       domain.AssetTier
	Sector     string
	Flags      Flags
	Params     Params
}

type Config struct {
	HighConfidence      int
	MediumConfidence    int
	HighAllocation      float64
	MediumAllocation    float64
	LowAllocation       float64
	ProfileMultipliers  map[domain.VolatilityProfile]float64
	TierStopPercent     map[domain.AssetTier]float64
	DefaultStopPercent  float64
	ATRMultiple         float64
	TrapZoneWidening    float64
	MaxStopPercent      float64
	DefaultRMultiples   [3]float64
	AggressiveRMultiple [3]float64
	AggressiveTiers     map[domain.AssetTier]bool
}

func DefaultConfig() Config {
	return Config{
		HighConfidence:   80,
		MediumConfidence: 60,
		HighAllocation:   8,
		MediumAllocation: 5,
		LowAllocation:    2.5,
		ProfileMultipliers: map[domain.VolatilityProfile]float64{
			domain.ProfileLow:    1.0,
			domain.ProfileMedium: 0.75,
			domain.ProfileHigh:   0.5,
		},
		TierStopPercent: map[domain.AssetTier]float64{
			domain.AssetLargeCap:    0.05,
			domain.AssetMidCap:      0.07,
			domain.AssetSmallCap:    0.09,
			domain.AssetSpeculative: 0.12,
		},
		DefaultStopPercent:  0.07,
		ATRMultiple:         1.5,
		TrapZoneWidening:    1.25,
		MaxStopPercent:      0.5,
		DefaultRMultiples:   [3]float64{1, 2, 3},
		AggressiveRMultiple: [3]float64{1.5, 3, 4.5},
		AggressiveTiers: map[domain.AssetTier]bool{
			domain.AssetSmallCap:    true,
			domain.AssetSpeculative: true,
		},
	}
}

type Constructor struct {
	cfg Config
}

func NewConstructor(cfg Config) *Constructor {
	return &Constructor{cfg: cfg}
}

// Construct turns a calibrated confidence into a plan. Degenerate input yields a
// zero-allocation plan with Direction none; it never fails.
func (c *Constructor) Construct(in PlanInput) domain.TradePlan {
	ticker := strings.ToUpper(strings.TrimSpace(in.Ticker))
	score := in.Confidence.Score

	if ticker == "" {
		return noTrade(ticker, in.Price, "no trade: ticker missing")
	}
	if !(in.Price > 0) || math.IsInf(in.Price, 0) {
		return noTrade(ticker, 0, "no trade: price unavailable")
	}
	if score <= 0 {
		return noTrade(ticker, in.Price, "no trade: confidence unavailable")
	}
	if float64(score) < in.Params.ConvictionThreshold {
		return noTrade(ticker, in.Price, fmt.Sprintf("no trade: confidence %d below conviction threshold %.0f", score, in.Params.ConvictionThreshold))
	}

	// Rounded down so the two-decimal figure never exceeds max_allocation_cap.
	allocation := decimal.NewFromFloat(c.allocation(score, in.Profile, in.Params.MaxAllocationCap)).RoundFloor(2)
	if !allocation.IsPositive() {
		return noTrade(ticker, in.Price, "no trade: allocation rounds to zero under max_allocation_cap")
	}

	direction := in.Direction
	if direction != domain.DirectionShort {
		direction = domain.DirectionLong
	}

	places := int32(8)
	if in.Price >= 1000 {
		places = 2
	}
	entry := decimal.NewFromFloat(in.Price).Round(places)
	if !entry.IsPositive() {
		return noTrade(ticker, in.Price, "no trade: price rounds to zero")
	}

	stopPct := decimal.NewFromFloat(c.stopPercent(in))
	riskRaw := entry.Mul(stopPct)
	multiples := c.rMultiples(in.Tier)

	var stop, tp1, tp2, tp3 decimal.Decimal
	if direction == domain.DirectionLong {
		stop = entry.Sub(riskRaw).Round(places)
		risk := entry.Sub(stop)
		tp1 = entry.Add(risk.Mul(decimal.NewFromFloat(multiples[0]))).Round(places)
		tp2 = entry.Add(risk.Mul(decimal.NewFromFloat(multiples[1]))).Round(places)
		tp3 = entry.Add(risk.Mul(decimal.NewFromFloat(multiples[2]))).Round(places)
		if !(stop.IsPositive() && stop.LessThan(entry) && entry.LessThan(tp1) && tp1.LessThan(tp2) && tp2.LessThan(tp3)) {
			return noTrade(ticker, in.Price, "no trade: price ladder collapsed after rounding")
		}
	} else {
		stop = entry.Add(riskRaw).Round(places)
		risk := stop.Sub(entry)
		tp1 = entry.Sub(risk.Mul(decimal.NewFromFloat(multiples[0]))).Round(places)
		tp2 = entry.Sub(risk.Mul(decimal.NewFromFloat(multiples[1]))).Round(places)
		tp3 = entry.Sub(risk.Mul(decimal.NewFromFloat(multiples[2]))).Round(places)
		if !(tp3.IsPositive() && tp3.LessThan(tp2) && tp2.LessThan(tp1) && tp1.LessThan(entry) && entry.LessThan(stop)) {
			return noTrade(ticker, in.Price, "no trade: short targets fall at or below zero")
		}
	}

	var rr decimal.Decimal
	if direction == domain.DirectionLong {
		rr = tp1.Sub(entry).Div(entry.Sub(stop))
	} else {
		rr = entry.Sub(tp1).Div(stop.Sub(entry))
	}

	return domain.TradePlan{
		Ticker:            ticker,
		Direction:         direction,
		EntryPrimary:      entry.InexactFloat64(),
		StopLoss:          stop.InexactFloat64(),
		TakeProfit1:       tp1.InexactFloat64(),
		TakeProfit2:       tp2.InexactFloat64(),
		TakeProfit3:       tp3.InexactFloat64(),
		AllocationPercent: allocation.InexactFloat64(),
		RiskRewardRatio:   rr.Round(2).InexactFloat64(),
		Rationale:         rationale(in),
	}
}

func (c *Constructor) allocation(score int, profile domain.VolatilityProfile, limit float64) float64 {
	base := c.cfg.LowAllocation
	switch {
	case score >= c.cfg.HighConfidence:
		base = c.cfg.HighAllocation
	case score >= c.cfg.MediumConfidence:
		base = c.cfg.MediumAllocation
	}
	m, ok := c.cfg.ProfileMultipliers[profile]
	if !ok {
		m = c.cfg.ProfileMultipliers[domain.ProfileMedium]
	}
	alloc := base * m
	if math.IsNaN(limit) || limit < 0 {
		limit = 0
	}
	return math.Min(alloc, limit)
}

// stopPercent is the fractional stop distance from entry.
func (c *Constructor) stopPercent(in PlanInput) float64 {
	pct, ok := c.cfg.TierStopPercent[in.Tier]
	if !ok {
		pct = c.cfg.DefaultStopPercent
	}
	if in.ATR > 0 && !math.IsInf(in.ATR, 0) {
		pct = c.cfg.ATRMultiple * in.ATR / in.Price
	}

	padding := in.Params.StopLossPadding
	if !(padding > 0) {
		padding = 1.0
	}
	pct *= padding
	if in.Flags.TrapZone {
		pct *= c.cfg.TrapZoneWidening
	}
	return math.Min(pct, c.cfg.MaxStopPercent)
}

func (c *Constructor) rMultiples(tier domain.AssetTier) [3]float64 {
	if c.cfg.AggressiveTiers[tier] {
		return c.cfg.AggressiveRMultiple
	}
	return c.cfg.DefaultRMultiples
}

// rationale joins factor reasons, in pipeline order, with the flag notes.
func rationale(in PlanInput) string {
	parts := make([]string, 0, len(in.Confidence.AppliedFactors)+3)
	for _, f := range in.Confidence.AppliedFactors {
		if f.Reason != "" {
			parts = append(parts, f.Reason)
		}
	}
	if in.Flags.GammaSqueeze {
		parts = append(parts, "gamma squeeze regime")
	}
	switch strings.ToUpper(strings.TrimSpace(in.Flags.Liquidity)) {
	case LiquidityAccumulation:
		parts = append(parts, "liquidity accumulation bias")
	case LiquidityDistribution:
		parts = append(parts, "liquidity distribution bias")
	}
	if in.Flags.TrapZone {
		parts = append(parts, "trap zone: stop widened")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("confidence %d with no adjustments", in.Confidence.Score)
	}
	return strings.Join(parts, "; ")
}

func noTrade(ticker string, price float64, reason string) domain.TradePlan {
	entry := 0.0
	if price > 0 && !math.IsInf(price, 0) {
		entry = price
	}
	return domain.TradePlan{
		Ticker:       ticker,
		Direction:    domain.DirectionNone,
		EntryPrimary: entry,
		Rationale:    reason,
	}
}

package recalibration

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"conviction-engine/internal/domain"
)

// Stage names, in pipeline order.
const (
	StageAgentReliability    = "agent_reliability"
	StageSectorBias          = "sector_bias"
	StageDrawdownSensitivity = "drawdown_sensitivity"
	StageVolatilityShock     = "volatility_shock"
	StageSeasonal            = "seasonal"
	StageDriftCorrection     = "drift_correction"
)

// Context carries everything the stages may read. Any field may be empty; a stage
// without data contributes a multiplier of 1.0.
type Context struct {
	ContributingSources []string
	Weights             map[string]domain.EngineWeight
	Sector              string
	Sectors             map[string]domain.SectorStats
	Tier                domain.AssetTier
	Volatility          domain.VolatilityRegime
	Month               time.Month
	SpecialEvent        string
	DriftFactor         float64
}

// Adjustment is one stage's verdict. Notes are recorded even when Multiplier is 1.0.
type Adjustment struct {
	Multiplier float64
	Reason     string
	Notes      []string
}

func neutral() Adjustment { return Adjustment{Multiplier: 1.0} }

// Stage computes a multiplier from the context.
type Stage struct {
	Name  string
	Apply func(Context) Adjustment
}

// Tables holds the fixed lookup values used by the stages.
type Tables struct {
	MinSourceTrades  int                                 `yaml:"min_source_trades"`
	MinSectorSamples int                                 `yaml:"min_sector_samples"`
	TierMultipliers  map[domain.AssetTier]float64        `yaml:"tier_multipliers"`
	VolatilityShock  map[domain.VolatilityRegime]float64 `yaml:"volatility_shock"`
	MonthMultipliers map[time.Month]float64              `yaml:"month_multipliers"`
	DriftMin         float64                             `yaml:"drift_min"`
	DriftMax         float64                             `yaml:"drift_max"`
	ReliabilityMin   float64                             `yaml:"reliability_min"`
	ReliabilityMax   float64                             `yaml:"reliability_max"`
	SectorBiasMin    float64                             `yaml:"sector_bias_min"`
	SectorBiasMax    float64                             `yaml:"sector_bias_max"`
}

func DefaultTables() Tables {
	return Tables{
		MinSourceTrades:  5,
		MinSectorSamples: 10,
		TierMultipliers: map[domain.AssetTier]float64{
			domain.AssetLargeCap:    1.0,
			domain.AssetMidCap:      0.95,
			domain.AssetSmallCap:    0.9,
			domain.AssetSpeculative: 0.85,
		},
		VolatilityShock: map[domain.VolatilityRegime]float64{
			domain.VolatilityLow:     1.0,
			domain.VolatilityNormal:  1.0,
			domain.VolatilityHigh:    0.8,
			domain.VolatilityExtreme: 0.5,
		},
		MonthMultipliers: map[time.Month]float64{
			time.January:   1.02,
			time.September: 0.95,
			time.December:  1.03,
		},
		DriftMin:       domain.MinDriftCorrection,
		DriftMax:       domain.MaxDriftCorrection,
		ReliabilityMin: 0.8,
		ReliabilityMax: 1.2,
		SectorBiasMin:  0.9,
		SectorBiasMax:  1.1,
	}
}

// DefaultStages returns the six stages in their fixed order.
func DefaultStages(t Tables) []Stage {
	return []Stage{
		{Name: StageAgentReliability, Apply: t.agentReliability},
		{Name: StageSectorBias, Apply: t.sectorBias},
		{Name: StageDrawdownSensitivity, Apply: t.drawdownSensitivity},
		{Name: StageVolatilityShock, Apply: t.volatilityShock},
		{Name: StageSeasonal, Apply: t.seasonal},
		{Name: StageDriftCorrection, Apply: t.driftCorrection},
	}
}

// agentReliability averages the win rate of contributing sources with enough history.
func (t Tables) agentReliability(c Context) Adjustment {
	ids := append([]string(nil), c.ContributingSources...)
	sort.Strings(ids)

	sum, n := 0.0, 0
	for _, id := range ids {
		w, ok := c.Weights[id]
		if !ok {
			continue
		}
		rate, trades := w.WinRate()
		if trades < t.MinSourceTrades {
			continue
		}
		sum += rate
		n++
	}
	if n == 0 {
		return neutral()
	}
	rate := sum / float64(n)
	m := clamp(0.8+0.4*rate, t.ReliabilityMin, t.ReliabilityMax)
	return Adjustment{
		Multiplier: m,
		Reason:     fmt.Sprintf("source reliability %.0f%% win rate across %d sources (x%.3f)", rate*100, n, m),
	}
}

func (t Tables) sectorBias(c Context) Adjustment {
	if c.Sector == "" {
		return neutral()
	}
	stats, ok := c.Sectors[c.Sector]
	if !ok {
		return neutral()
	}
	rate, samples := stats.WinRate()
	if samples < t.MinSectorSamples {
		return neutral()
	}
	m := clamp(1+0.4*(rate-0.5), t.SectorBiasMin, t.SectorBiasMax)
	return Adjustment{
		Multiplier: m,
		Reason:     fmt.Sprintf("sector %s historical win rate %.0f%% over %d trades (x%.3f)", c.Sector, rate*100, samples, m),
	}
}

func (t Tables) drawdownSensitivity(c Context) Adjustment {
	m, ok := t.TierMultipliers[c.Tier]
	if !ok {
		return neutral()
	}
	return Adjustment{
		Multiplier: m,
		Reason:     fmt.Sprintf("%s drawdown dampener (x%.2f)", c.Tier, m),
	}
}

func (t Tables) volatilityShock(c Context) Adjustment {
	m, ok := t.VolatilityShock[c.Volatility]
	if !ok {
		return neutral()
	}
	return Adjustment{
		Multiplier: m,
		Reason:     fmt.Sprintf("%s volatility regime (x%.2f)", c.Volatility, m),
	}
}

func (t Tables) seasonal(c Context) Adjustment {
	adj := neutral()
	if m, ok := t.MonthMultipliers[c.Month]; ok {
		adj.Multiplier = m
		adj.Reason = fmt.Sprintf("%s seasonality (x%.2f)", c.Month, m)
	}
	if ev := strings.TrimSpace(c.SpecialEvent); ev != "" {
		adj.Notes = append(adj.Notes, fmt.Sprintf("caution: %s in effect", strings.ToUpper(ev)))
	}
	return adj
}

func (t Tables) driftCorrection(c Context) Adjustment {
	if c.DriftFactor <= 0 || math.IsNaN(c.DriftFactor) || math.IsInf(c.DriftFactor, 0) {
		return neutral()
	}
	m := clamp(c.DriftFactor, t.DriftMin, t.DriftMax)
	direction := "over"
	if m > 1 {
		direction = "under"
	}
	return Adjustment{
		Multiplier: m,
		Reason:     fmt.Sprintf("drift correction for recent %s-confidence (x%.3f)", direction, m),
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

package consensus

import (
	"math"
	"sort"
	"strings"

	"conviction-engine/internal/domain"
)

const neutralScore = 50.0

type Input struct {
	Ticker          string
	Signals         domain.SignalSet
	Regime          domain.MacroRegime
	Tier            domain.AssetTier
	Sector          string
	VolatilityProxy *float64
	SourceWeights   map[string]float64
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if len(cfg.RegimeWeights) == 0 {
		cfg.RegimeWeights = DefaultConfig().RegimeWeights
	}
	if cfg.SourceGroups == nil {
		cfg.SourceGroups = map[string]domain.Group{}
	}
	if cfg.StressThreshold <= 0 {
		cfg.StressThreshold = DefaultConfig().StressThreshold
	}
	return &Engine{cfg: cfg}
}

// Compute blends the snapshot into a single 0-100 score. It never fails: missing or
// malformed groups read as neutral and an empty snapshot yields 50/LOW.
func (e *Engine) Compute(in Input) domain.ConsensusResult {
	weights, _ := e.cfg.WeightsFor(in.Regime)

	groupValues, covered := e.groupValues(in)
	breakdown := make(map[domain.Group]float64, len(domain.Groups))
	for _, g := range domain.Groups {
		breakdown[g] = groupValues[g]
	}

	if covered == 0 {
		return domain.ConsensusResult{
			Ticker:         in.Ticker,
			FinalScore:     int(neutralScore),
			Breakdown:      breakdown,
			ConfidenceTier: domain.TierLow,
		}
	}

	raw := 0.0
	for _, g := range domain.Groups {
		raw += groupValues[g] * weights[g]
	}

	adjustment := 0.0
	if in.VolatilityProxy != nil {
		v := *in.VolatilityProxy
		if !math.IsNaN(v) && !math.IsInf(v, 0) && v > e.cfg.StressThreshold {
			adjustment = -e.cfg.StressPenalty
		}
	}
	raw += adjustment

	final := int(math.Round(clamp(raw, 0, 100)))
	return domain.ConsensusResult{
		Ticker:           in.Ticker,
		FinalScore:       final,
		Breakdown:        breakdown,
		RegimeAdjustment: adjustment,
		ConfidenceTier:   TierFor(final),
	}
}

// TierFor buckets a 0-100 score.
func TierFor(score int) domain.ConfidenceTier {
	switch {
	case score >= 80:
		return domain.TierHigh
	case score >= 60:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}

// groupValues averages every source in a group by its learned weight. Sources are
// visited in sorted order so the float sums are reproducible.
func (e *Engine) groupValues(in Input) (map[domain.Group]float64, int) {
	ids := in.Signals.SourceIDs()
	sort.Strings(ids)

	type acc struct{ num, den float64 }
	sums := make(map[domain.Group]*acc, len(domain.Groups))
	for _, id := range ids {
		sig := in.Signals[id]
		group := e.groupOf(id, sig)
		if group == "" {
			continue
		}
		value, ok := Normalize(sig.Value)
		if !ok {
			value = neutralScore
		}
		w := domain.DefaultEngineWeight
		if lw, ok := in.SourceWeights[id]; ok {
			w = clamp(lw, domain.MinEngineWeight, domain.MaxEngineWeight)
		}
		a := sums[group]
		if a == nil {
			a = &acc{}
			sums[group] = a
		}
		a.num += value * w
		a.den += w
	}

	out := make(map[domain.Group]float64, len(domain.Groups))
	covered := 0
	for _, g := range domain.Groups {
		a := sums[g]
		if a == nil || a.den <= 0 {
			out[g] = neutralScore
			continue
		}
		out[g] = clamp(a.num/a.den, 0, 100)
		covered++
	}
	return out, covered
}

func (e *Engine) groupOf(sourceID string, sig domain.Signal) domain.Group {
	if sig.Group.IsValid() {
		return sig.Group
	}
	if g, ok := e.cfg.SourceGroups[sourceID]; ok && g.IsValid() {
		return g
	}
	return ""
}

var labelScores = map[string]float64{
	"STRONG_BULLISH": 90,
	"STRONG_BUY":     90,
	"BULLISH":        75,
	"POSITIVE":       75,
	"BUY":            75,
	"ACCUMULATION":   70,
	"RISK_ON":        70,
	"RECOVERY":       60,
	"NEUTRAL":        50,
	"HOLD":           50,
	"BUBBLE":         40,
	"DISTRIBUTION":   30,
	"RISK_OFF":       30,
	"BEARISH":        25,
	"NEGATIVE":       25,
	"SELL":           25,
	"STRONG_BEARISH": 10,
	"STRONG_SELL":    10,
}

// Normalize maps a signal value onto [0,100]. ok is false when the value is missing
// or cannot be interpreted.
func Normalize(v domain.SignalValue) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if f, ok := v.Numeric(); ok {
		return clamp(f, 0, 100), true
	}
	if l, ok := v.Label(); ok {
		score, known := labelScores[strings.ReplaceAll(l, " ", "_")]
		return score, known
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

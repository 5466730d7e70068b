package consensus

import (
	"fmt"
	"sort"

	"conviction-engine/internal/domain"
)

// Weights is one regime's weight vector over the consensus groups.
type Weights map[domain.Group]float64

func (w Weights) Sum() float64 {
	sum := 0.0
	for _, g := range domain.Groups {
		sum += w[g]
	}
	return sum
}

type Config struct {
	RegimeWeights   map[domain.MacroRegime]Weights `yaml:"regime_weights"`
	SourceGroups    map[string]domain.Group        `yaml:"source_groups"`
	StressThreshold float64                        `yaml:"stress_threshold"`
	StressPenalty   float64                        `yaml:"stress_penalty"`
}

func DefaultConfig() Config {
	return Config{
		RegimeWeights: map[domain.MacroRegime]Weights{
			domain.RegimeRiskOn: {
				domain.GroupMacro:     0.20,
				domain.GroupTechnical: 0.30,
				domain.GroupSentiment: 0.25,
				domain.GroupInsider:   0.10,
				domain.GroupValuation: 0.15,
			},
			domain.RegimeRiskOff: {
				domain.GroupMacro:     0.35,
				domain.GroupTechnical: 0.15,
				domain.GroupSentiment: 0.10,
				domain.GroupInsider:   0.15,
				domain.GroupValuation: 0.25,
			},
			domain.RegimeRecovery: {
				domain.GroupMacro:     0.25,
				domain.GroupTechnical: 0.25,
				domain.GroupSentiment: 0.15,
				domain.GroupInsider:   0.15,
				domain.GroupValuation: 0.20,
			},
			domain.RegimeBubble: {
				domain.GroupMacro:     0.30,
				domain.GroupTechnical: 0.20,
				domain.GroupSentiment: 0.10,
				domain.GroupInsider:   0.20,
				domain.GroupValuation: 0.20,
			},
		},
		SourceGroups: map[string]domain.Group{
			"macro_regime":         domain.GroupMacro,
			"liquidity_bias":       domain.GroupMacro,
			"technical":            domain.GroupTechnical,
			"technical_indicators": domain.GroupTechnical,
			"seasonality":          domain.GroupTechnical,
			"narrative_pressure":   domain.GroupSentiment,
			"fear_greed":           domain.GroupSentiment,
			"insider_intent":       domain.GroupInsider,
			"fundamental_health":   domain.GroupValuation,
		},
		StressThreshold: 25,
		StressPenalty:   15,
	}
}

// Validate checks that every regime vector covers all groups and sums to 1.
func (c Config) Validate() error {
	regimes := make([]string, 0, len(c.RegimeWeights))
	for r := range c.RegimeWeights {
		regimes = append(regimes, string(r))
	}
	sort.Strings(regimes)

	if _, ok := c.RegimeWeights[domain.RegimeRiskOn]; !ok {
		return fmt.Errorf("regime %s weights are required as fallback", domain.RegimeRiskOn)
	}
	for _, name := range regimes {
		w := c.RegimeWeights[domain.MacroRegime(name)]
		for _, g := range domain.Groups {
			if w[g] < 0 {
				return fmt.Errorf("regime %s group %s has negative weight", name, g)
			}
		}
		if sum := w.Sum(); sum < 0.99 || sum > 1.01 {
			return fmt.Errorf("regime %s weights sum to %.3f, expected 1.000", name, sum)
		}
	}
	for source, g := range c.SourceGroups {
		if !g.IsValid() {
			return fmt.Errorf("source %s mapped to unknown group %q", source, g)
		}
	}
	if c.StressPenalty < 0 {
		return fmt.Errorf("stress penalty must be >= 0")
	}
	return nil
}

// WeightsFor returns the vector for regime, falling back to RISK_ON.
func (c Config) WeightsFor(regime domain.MacroRegime) (Weights, domain.MacroRegime) {
	if w, ok := c.RegimeWeights[regime]; ok {
		return w, regime
	}
	return c.RegimeWeights[domain.RegimeRiskOn], domain.RegimeRiskOn
}

package recalibration

import (
	"math"

	"conviction-engine/internal/domain"
)

const (
	MinScore = 1
	MaxScore = 99
)

// Pipeline applies its stages as a running product, in order.
type Pipeline struct {
	stages []Stage
}

// NewPipeline copies stages so later changes to the caller's slice cannot reorder them.
func NewPipeline(stages []Stage) *Pipeline {
	cp := make([]Stage, len(stages))
	copy(cp, stages)
	return &Pipeline{stages: cp}
}

// StageNames reports the pipeline order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Recalibrate never fails. A stage that panics or returns a non-positive multiplier is
// treated as neutral.
func (p *Pipeline) Recalibrate(base float64, c Context) domain.RecalibratedConfidence {
	confidence := base
	factors := make([]domain.AppliedFactor, 0, len(p.stages))

	for _, stage := range p.stages {
		adj := runStage(stage, c)
		confidence *= adj.Multiplier
		if adj.Multiplier != 1.0 {
			factors = append(factors, domain.AppliedFactor{
				Name:       stage.Name,
				Multiplier: adj.Multiplier,
				Reason:     adj.Reason,
			})
		}
		for _, note := range adj.Notes {
			factors = append(factors, domain.AppliedFactor{
				Name:       stage.Name,
				Multiplier: 1.0,
				Reason:     note,
			})
		}
	}

	score := int(clamp(math.Round(confidence), MinScore, MaxScore))
	return domain.RecalibratedConfidence{Score: score, AppliedFactors: factors}
}

func runStage(stage Stage, c Context) (adj Adjustment) {
	defer func() {
		if r := recover(); r != nil {
			adj = neutral()
		}
	}()
	if stage.Apply == nil {
		return neutral()
	}
	adj = stage.Apply(c)
	if adj.Multiplier <= 0 || math.IsNaN(adj.Multiplier) || math.IsInf(adj.Multiplier, 0) {
		adj.Multiplier = 1.0
		adj.Reason = ""
	}
	return adj
}

package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"conviction-engine/internal/domain"
)

// CalibrationSample pairs the confidence a plan was issued with and whether it won.
type CalibrationSample struct {
	PredictedConfidence int
	Win                 bool
	ClosedAt            time.Time
}

// MinDriftSamples is the smallest window ComputeDrift will act on.
const MinDriftSamples = 20

// ComputeDrift returns realized win rate divided by mean predicted probability,
// clamped to the drift bounds. ok is false when there is not enough data.
func ComputeDrift(samples []CalibrationSample, minSamples int) (factor float64, ok bool) {
	if minSamples <= 0 {
		minSamples = MinDriftSamples
	}
	n, wins, predicted := 0, 0, 0.0
	for _, s := range samples {
		if s.PredictedConfidence < 1 || s.PredictedConfidence > 99 {
			continue
		}
		n++
		predicted += float64(s.PredictedConfidence) / 100
		if s.Win {
			wins++
		}
	}
	if n < minSamples || predicted == 0 {
		return 1.0, false
	}
	winRate := float64(wins) / float64(n)
	meanPredicted := predicted / float64(n)
	return clamp(winRate/meanPredicted, domain.MinDriftCorrection, domain.MaxDriftCorrection), true
}

type CalibrationStore interface {
	RecentCalibrationSamples(ctx context.Context, limit int) ([]CalibrationSample, error)
	SetAdaptation(ctx context.Context, key string, value float64) error
}

// Calibrator recomputes the global drift_correction adaptation.
type Calibrator struct {
	store      CalibrationStore
	tracer     trace.Tracer
	window     int
	minSamples int
}

func NewCalibrator(store CalibrationStore, tracer trace.Tracer, window int) *Calibrator {
	if window < MinDriftSamples {
		window = MinDriftSamples
	}
	return &Calibrator{store: store, tracer: tracer, window: window, minSamples: MinDriftSamples}
}

// Recompute persists a new drift factor when the window holds enough samples.
// It returns the factor in effect and whether it was updated.
func (c *Calibrator) Recompute(ctx context.Context) (float64, bool, error) {
	ctx, span := c.tracer.Start(ctx, "calibrator.recompute")
	defer span.End()

	samples, err := c.store.RecentCalibrationSamples(ctx, c.window)
	if err != nil {
		return 1.0, false, fmt.Errorf("load calibration samples: %w", err)
	}
	factor, ok := ComputeDrift(samples, c.minSamples)
	span.SetAttributes(attribute.Int("calibration.samples", len(samples)), attribute.Float64("calibration.factor", factor))
	if !ok {
		log.Debug().Int("samples", len(samples)).Msg("not enough closed trades to recompute drift correction")
		return factor, false, nil
	}
	if err := c.store.SetAdaptation(ctx, domain.ParamDriftCorrection, factor); err != nil {
		return factor, false, fmt.Errorf("persist drift correction: %w", err)
	}
	log.Info().Int("samples", len(samples)).Float64("drift_correction", factor).Msg("drift correction recomputed")
	return factor, true, nil
}

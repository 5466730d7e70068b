package job

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

const DefaultDriftSchedule = "0 3 * * *"

type DriftRecomputer interface {
	Recompute(ctx context.Context) (float64, bool, error)
}

// DriftScheduler recomputes the global drift correction on a cron schedule.
type DriftScheduler struct {
	tracer     trace.Tracer
	calibrator DriftRecomputer
	schedule   string
	cron       *cron.Cron
}

func NewDriftScheduler(tracer trace.Tracer, calibrator DriftRecomputer, schedule string) *DriftScheduler {
	if schedule == "" {
		schedule = DefaultDriftSchedule
	}
	return &DriftScheduler{
		tracer:     tracer,
		calibrator: calibrator,
		schedule:   schedule,
		cron:       cron.New(),
	}
}

// Start registers the job and blocks until ctx is cancelled.
func (s *DriftScheduler) Start(ctx context.Context) error {
	if s.calibrator == nil {
		log.Warn().Msg("drift scheduler disabled: no calibrator")
		<-ctx.Done()
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("register drift schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	log.Info().Str("schedule", s.schedule).Msg("drift scheduler started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	log.Info().Msg("drift scheduler stopped")
	return nil
}

func (s *DriftScheduler) RunOnce(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "drift-scheduler.run-once")
	defer span.End()

	factor, ok, err := s.calibrator.Recompute(ctx)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("drift recompute failed")
		return
	}
	if !ok {
		log.Info().Msg("drift recompute skipped: not enough closed trades")
		return
	}
	log.Info().Float64("drift_correction", factor).Msg("drift correction updated")
}

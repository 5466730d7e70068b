package service

import (
	"context"
	"sort"

	"conviction-engine/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type WeightsView struct {
	Weights     []domain.EngineWeight `json:"weights"`
	StateSource string                `json:"state_source"`
}

type AdaptationsView struct {
	Adaptations []domain.SystemAdaptation `json:"adaptations"`
	StateSource string                    `json:"state_source"`
}

// DiagnosticsService exposes the current learning state read-only.
type DiagnosticsService struct {
	tracer trace.Tracer
	state  *StateLoader
}

func NewDiagnosticsService(tracer trace.Tracer, state *StateLoader) *DiagnosticsService {
	return &DiagnosticsService{tracer: tracer, state: state}
}

func (s *DiagnosticsService) Weights(ctx context.Context) WeightsView {
	ctx, span := s.tracer.Start(ctx, "diagnostics-service.weights")
	defer span.End()

	state, source := s.state.Load(ctx)
	out := make([]domain.EngineWeight, 0, len(state.Weights))
	for id, w := range state.Weights {
		if w.SourceID == "" {
			w.SourceID = id
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return WeightsView{Weights: out, StateSource: source}
}

func (s *DiagnosticsService) Adaptations(ctx context.Context) AdaptationsView {
	ctx, span := s.tracer.Start(ctx, "diagnostics-service.adaptations")
	defer span.End()

	state, source := s.state.Load(ctx)
	merged := domain.DefaultAdaptations()
	for key, a := range state.Adaptations {
		if a.ParamKey == "" {
			a.ParamKey = key
		}
		merged[key] = a
	}
	out := make([]domain.SystemAdaptation, 0, len(merged))
	for _, a := range merged {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParamKey < out[j].ParamKey })
	return AdaptationsView{Adaptations: out, StateSource: source}
}

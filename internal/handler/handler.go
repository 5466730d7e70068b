package handler

import (
	"context"

	"conviction-engine/internal/domain"
	"conviction-engine/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type Evaluator interface {
	Evaluate(ctx context.Context, req service.EvaluationRequest) service.EvaluationResponse
}

type OutcomeSubmitter interface {
	Submit(ctx context.Context, outcome domain.TradeOutcome) (domain.TradeOutcome, error)
}

type Diagnostics interface {
	Weights(ctx context.Context) service.WeightsView
	Adaptations(ctx context.Context) service.AdaptationsView
}

type DecisionReader interface {
	GetDecision(ctx context.Context, id string) (*domain.Decision, error)
}

type Handler struct {
	tracer      trace.Tracer
	evaluator   Evaluator
	outcomes    OutcomeSubmitter
	diagnostics Diagnostics
	decisions   DecisionReader
	checks      map[string]HealthCheck
}

func New(tracer trace.Tracer, evaluator Evaluator, outcomes OutcomeSubmitter, diagnostics Diagnostics) *Handler {
	return &Handler{
		tracer:      tracer,
		evaluator:   evaluator,
		outcomes:    outcomes,
		diagnostics: diagnostics,
	}
}

// SetDecisionReader enables GET /api/decisions/:id. Left unset when no database is configured.
func (h *Handler) SetDecisionReader(r DecisionReader) {
	h.decisions = r
}

func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)

	api := r.Group("/api", APIKeyAuth(apiKey))
	api.POST("/evaluate", h.Evaluate)
	api.POST("/outcomes", h.SubmitOutcome)
	api.GET("/weights", h.GetWeights)
	api.GET("/adaptations", h.GetAdaptations)
	api.GET("/decisions/:id", h.GetDecision)
}

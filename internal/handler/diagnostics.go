package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetWeights godoc
// @Summary      Learned source weights
// @Tags         diagnostics
// @Produce      json
// @Success      200  {object}  service.WeightsView
// @Security     ApiKeyAuth
// @Router       /api/weights [get]
func (h *Handler) GetWeights(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-weights")
	defer span.End()

	c.JSON(http.StatusOK, h.diagnostics.Weights(ctx))
}

// GetAdaptations godoc
// @Summary      Adaptive system parameters
// @Tags         diagnostics
// @Produce      json
// @Success      200  {object}  service.AdaptationsView
// @Security     ApiKeyAuth
// @Router       /api/adaptations [get]
func (h *Handler) GetAdaptations(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-adaptations")
	defer span.End()

	c.JSON(http.StatusOK, h.diagnostics.Adaptations(ctx))
}

// GetDecision godoc
// @Summary      Logged decision
// @Description  Returns one persisted evaluation with its signal snapshot.
// @Tags         diagnostics
// @Produce      json
// @Param        id   path      string  true  "Decision id"
// @Success      200  {object}  domain.Decision
// @Failure      404  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/decisions/{id} [get]
func (h *Handler) GetDecision(c *gin.Context) {
	if h.decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-decision")
	defer span.End()

	id := strings.TrimSpace(c.Param("id"))
	span.SetAttributes(attribute.String("decision.id", id))

	d, err := h.decisions.GetDecision(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "decision not found: " + id})
		return
	}
	c.JSON(http.StatusOK, d)
}

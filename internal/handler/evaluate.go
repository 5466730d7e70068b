package handler

import (
	"net/http"
	"strings"

	"conviction-engine/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// Evaluate godoc
// @Summary      Evaluate a ticker
// @Description  Blends the signal snapshot into a consensus score, recalibrates it and builds a trade plan. Degenerate input, including a blank ticker, yields a zero-allocation plan, not an error.
// @Tags         evaluation
// @Accept       json
// @Produce      json
// @Param        request  body      service.EvaluationRequest  true  "Evaluation request"
// @Success      200      {object}  service.EvaluationResponse
// @Failure      400      {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/evaluate [post]
func (h *Handler) Evaluate(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.evaluate")
	defer span.End()

	var req service.EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	span.SetAttributes(attribute.String("ticker", strings.ToUpper(req.Ticker)))

	c.JSON(http.StatusOK, h.evaluator.Evaluate(ctx, req))
}

package handler

import (
	"errors"
	"net/http"

	"conviction-engine/internal/domain"
	"conviction-engine/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// SubmitOutcome godoc
// @Summary      Submit a closed trade
// @Description  Queues a trade outcome for the learning loop. Processing is asynchronous and idempotent on outcome_id.
// @Tags         learning
// @Accept       json
// @Produce      json
// @Param        outcome  body      domain.TradeOutcome  true  "Closed trade"
// @Success      202      {object}  map[string]string
// @Failure      400      {object}  map[string]string
// @Failure      503      {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/outcomes [post]
func (h *Handler) SubmitOutcome(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.submit-outcome")
	defer span.End()

	var outcome domain.TradeOutcome
	if err := c.ShouldBindJSON(&outcome); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	queued, err := h.outcomes.Submit(ctx, outcome)
	if errors.Is(err, service.ErrInvalidOutcome) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.String("outcome.id", queued.ID))

	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "outcome_id": queued.ID})
}

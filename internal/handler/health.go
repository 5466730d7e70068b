package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthCheck func(ctx context.Context) error

// AddHealthCheck registers a dependency check reported by /health.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	if h.checks == nil {
		h.checks = map[string]HealthCheck{}
	}
	h.checks[name] = check
}

// Health godoc
// @Summary      Health check
// @Description  Reports service health. Failing dependencies mark it degraded; evaluations keep working on fallback state.
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	if len(h.checks) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "healthy"
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "dependencies": deps})
}

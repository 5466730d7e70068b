package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const apiKeyHeader = "X-API-Key"

// APIKeyAuth guards the /api group. An empty key leaves the routes open, which is how
// local runs without API_KEY behave.
func APIKeyAuth(key string) gin.HandlerFunc {
	if key == "" {
		log.Warn().Msg("API_KEY not set, /api routes are unauthenticated")
		return func(c *gin.Context) { c.Next() }
	}
	expected := []byte(key)

	return func(c *gin.Context) {
		provided := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + apiKeyHeader + " header"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			log.Warn().Str("path", c.FullPath()).Str("client_ip", c.ClientIP()).Msg("rejected request with invalid API key")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

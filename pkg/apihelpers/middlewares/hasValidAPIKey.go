package middlewares

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HasValidAPIKey protects the researcher-facing endpoints. The key travels in
// the Api-Key header; study access tokens are a separate credential and never
// accepted here.
func HasValidAPIKey(validKeys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		keysInHeader, ok := c.Request.Header["Api-Key"]
		if !ok || len(keysInHeader) < 1 {
			slog.Warn("API key missing")
			c.JSON(http.StatusBadRequest, gin.H{"error": "a valid API key is required"})
			c.Abort()
			return
		}

		for _, k := range keysInHeader {
			for _, vk := range validKeys {
				if k == vk {
					c.Next()
					return
				}
			}
		}

		slog.Warn("no valid API key in request")
		slog.Debug("received API keys", slog.String("receivedKeys", strings.Join(keysInHeader, ",")))
		c.JSON(http.StatusBadRequest, gin.H{"error": "a valid API key is required"})
		c.Abort()
	}
}

package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetTokenStatus reports the state of the cached write credential. Useful
// when diagnosing authentication failures on long imports.
func (h *Handler) GetTokenStatus(c *gin.Context) {
	info := h.opts.Credentials.Info()
	status := "healthy"
	if !info.IsValid {
		status = "expired"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"token":  info,
	})
}

// ForceTokenRefresh discards the cached credential and fetches a fresh one.
func (h *Handler) ForceTokenRefresh(c *gin.Context) {
	if _, err := h.opts.Credentials.Ensure(c.Request.Context(), true); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   h.opts.Credentials.Info(),
	})
}

// Package callback receives session lifecycle webhooks from the media
// provider. Events are logged for operations; delivery is acknowledged
// unconditionally so the provider does not retry.
package callback

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meghabhansali2911/customer-engagement-platform/pkg/logger"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/response"
)

const maxCallbackBody = 1 << 20

// Handler handles provider webhook requests
type Handler struct{}

// NewHandler creates a new callback handler
func NewHandler() *Handler {
	return &Handler{}
}

// Receive logs a provider webhook event
// POST /api/callback
func (h *Handler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		logger.Warn("failed to read provider callback", zap.Error(err))
		response.Success(c, http.StatusOK, gin.H{"received": false})
		return
	}

	logger.Info("provider callback",
		zap.ByteString("body", body),
		zap.String("remote_addr", c.ClientIP()))

	response.Success(c, http.StatusOK, gin.H{"received": true})
}

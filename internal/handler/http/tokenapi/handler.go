// Package tokenapi issues role-scoped session join tokens over HTTP
package tokenapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/token"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/response"
)

// Handler handles token HTTP requests
type Handler struct {
	issuer *token.Issuer
}

// NewHandler creates a new token handler
func NewHandler(issuer *token.Issuer) *Handler {
	return &Handler{issuer: issuer}
}

// IssueRequest represents a token request. UserData is carried opaquely into
// the token for the other party's display.
type IssueRequest struct {
	SessionID string          `json:"sessionId" binding:"required"`
	Role      string          `json:"role" binding:"required"`
	UserData  json.RawMessage `json:"userData"`
	ExpiresIn int64           `json:"expiresIn"` // seconds, optional
}

// IssueResponse carries the issued token
type IssueResponse struct {
	APIKey    string `json:"apiKey"`
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

// Issue creates a join token for an existing session
// POST /api/token
func (h *Handler) Issue(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	role := domain.Role(req.Role)
	if role != domain.RoleCustomer && role != domain.RoleAgent {
		response.ValidationError(c, "Role must be customer or agent")
		return
	}

	ttl := time.Duration(req.ExpiresIn) * time.Second
	signed, err := h.issuer.Issue(req.SessionID, role, string(req.UserData), ttl)
	if err != nil {
		response.InternalError(c, "Failed to issue token")
		return
	}

	response.Success(c, http.StatusOK, IssueResponse{
		APIKey:    h.issuer.APIKey(),
		SessionID: req.SessionID,
		Token:     signed,
	})
}

// Package callrequest exposes the call-request queue over HTTP: customers
// enqueue requests, agents list and resolve them.
package callrequest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/queue"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/response"
)

// Handler handles call-request HTTP requests
type Handler struct {
	queue *queue.Queue
	coord *queue.Coordinator
}

// NewHandler creates a new call-request handler
func NewHandler(q *queue.Queue, coord *queue.Coordinator) *Handler {
	return &Handler{queue: q, coord: coord}
}

// CreateRequest represents a customer's call request
type CreateRequest struct {
	Name string `json:"name" binding:"required"`
}

// Create enqueues a call request and returns the customer's join credentials
// POST /api/call-request
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	creds, err := h.queue.CreateRequest(c.Request.Context(), req.Name)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			response.ValidationError(c, "Name must not be blank")
		case errors.Is(err, domain.ErrProvider):
			response.ProviderError(c, "Failed to allocate call session")
		default:
			response.InternalError(c, "Failed to create call request")
		}
		return
	}

	response.Success(c, http.StatusCreated, creds)
}

// List returns pending call requests, oldest first
// GET /api/call-requests
func (h *Handler) List(c *gin.Context) {
	response.Success(c, http.StatusOK, h.queue.ListPending())
}

// joinedResponse carries what the accepting agent needs to enter the call
type joinedResponse struct {
	Request     domain.CallRequest `json:"request"`
	Credentials domain.Credentials `json:"credentials"`
}

// Joined claims a pending request for the calling agent
// POST /api/call-request/:id/joined
func (h *Handler) Joined(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}

	req, creds, err := h.coord.PickRequest(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyHandled) {
			response.NotFound(c, "Call request already handled")
			return
		}
		response.InternalError(c, "Failed to join call request")
		return
	}

	response.Success(c, http.StatusOK, joinedResponse{Request: req, Credentials: creds})
}

// Decline removes a pending request without joining it
// POST /api/call-request/:id/decline
func (h *Handler) Decline(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}

	if err := h.coord.DeclineRequest(c.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrAlreadyHandled) {
			response.NotFound(c, "Call request already handled")
			return
		}
		response.InternalError(c, "Failed to decline call request")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Call request declined"})
}

// Errored reports a failed call attempt, removing the pending request
// POST /api/call-request/:id/error
func (h *Handler) Errored(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}

	if err := h.queue.Resolve(id, domain.OutcomeErrored); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(c, "Call request not found")
			return
		}
		response.InternalError(c, "Failed to resolve call request")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Call request marked errored"})
}

func requestID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call request ID")
		return uuid.Nil, false
	}
	return id, true
}

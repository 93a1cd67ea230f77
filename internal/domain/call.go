package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of a call a participant is on
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// Outcome is the terminal disposition of a pending call request
type Outcome string

const (
	OutcomeDeclined Outcome = "declined"
	OutcomeJoined   Outcome = "joined"
	OutcomeErrored  Outcome = "errored"
)

// CallRequest is a customer's pending ask to be connected to an agent.
// The queue is the sole owner; a request is removed on first resolution.
type CallRequest struct {
	ID           uuid.UUID `json:"id"`
	DisplayName  string    `json:"name"`
	SessionID    string    `json:"sessionId"`
	SessionToken string    `json:"-"`
	CreatedAt    time.Time `json:"timestamp"`
}

// Credentials is what a party needs to join a media session. RequestID lets
// the customer report a failed join back to the queue.
type Credentials struct {
	APIKey    string    `json:"apiKey"`
	SessionID string    `json:"sessionId"`
	Token     string    `json:"token"`
	RequestID uuid.UUID `json:"requestId"`
}

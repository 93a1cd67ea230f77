package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
)

// Coordinator performs the agent-side queue operations: picking a pending
// request (which resolves it as joined and issues agent credentials) and
// declining one. Declining sends no signal; the customer learns through its
// own wait timer.
type Coordinator struct {
	queue    *Queue
	tokens   TokenIssuer
	tokenTTL time.Duration
}

// NewCoordinator creates a coordinator over the queue
func NewCoordinator(q *Queue, tokens TokenIssuer, tokenTTL time.Duration) *Coordinator {
	return &Coordinator{queue: q, tokens: tokens, tokenTTL: tokenTTL}
}

// PickRequest resolves a pending request as joined and returns the request
// together with agent credentials for its session. A request that is no
// longer pending yields ErrAlreadyHandled; the caller should refresh its
// pending list and pick another.
func (c *Coordinator) PickRequest(ctx context.Context, id uuid.UUID) (domain.CallRequest, domain.Credentials, error) {
	req, err := c.queue.Get(id)
	if err != nil {
		return domain.CallRequest{}, domain.Credentials{}, domain.ErrAlreadyHandled
	}

	if err := c.queue.Resolve(id, domain.OutcomeJoined); err != nil {
		// Lost the race to another resolver between Get and Resolve.
		return domain.CallRequest{}, domain.Credentials{}, domain.ErrAlreadyHandled
	}

	tok, err := c.tokens.Issue(req.SessionID, domain.RoleAgent, "", c.tokenTTL)
	if err != nil {
		return domain.CallRequest{}, domain.Credentials{}, fmt.Errorf("%w: issue agent token: %v", domain.ErrProvider, err)
	}

	return req, domain.Credentials{
		APIKey:    c.tokens.APIKey(),
		SessionID: req.SessionID,
		Token:     tok,
		RequestID: req.ID,
	}, nil
}

// DeclineRequest resolves a pending request as declined
func (c *Coordinator) DeclineRequest(ctx context.Context, id uuid.UUID) error {
	if err := c.queue.Resolve(id, domain.OutcomeDeclined); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrAlreadyHandled
		}
		return err
	}
	return nil
}

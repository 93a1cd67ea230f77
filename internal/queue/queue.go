// Package queue holds pending customer call requests and mediates their
// resolution. The queue is process-memory-resident and is the sole authority
// on whether a request is still pending: a request is removed, never mutated,
// on its first resolution.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/logger"
)

// SessionAllocator allocates a media session per request. Satisfied by the
// provider implementations.
type SessionAllocator interface {
	CreateSession(ctx context.Context) (string, error)
}

// TokenIssuer issues role-scoped join tokens. Satisfied by token.Issuer.
type TokenIssuer interface {
	APIKey() string
	Issue(sessionID string, role domain.Role, userData string, ttl time.Duration) (string, error)
}

// QueueMetrics receives queue counters. Satisfied by pkg/metrics.
type QueueMetrics interface {
	RecordCallRequestCreated()
	RecordCallRequestResolved(outcome string)
}

// Queue is the pending call-request queue
type Queue struct {
	sessions SessionAllocator
	tokens   TokenIssuer
	metrics  QueueMetrics // may be nil
	tokenTTL time.Duration

	mu       sync.Mutex
	requests map[uuid.UUID]*domain.CallRequest
	order    []uuid.UUID // insertion order, oldest first
}

// New creates an empty queue. tokenTTL bounds the customer token lifetime;
// metrics may be nil.
func New(sessions SessionAllocator, tokens TokenIssuer, metrics QueueMetrics, tokenTTL time.Duration) *Queue {
	return &Queue{
		sessions: sessions,
		tokens:   tokens,
		metrics:  metrics,
		tokenTTL: tokenTTL,
		requests: make(map[uuid.UUID]*domain.CallRequest),
	}
}

// CreateRequest allocates a media session for a new customer request, stores
// the request, and returns the credentials the customer joins with.
func (q *Queue) CreateRequest(ctx context.Context, displayName string) (domain.Credentials, error) {
	if strings.TrimSpace(displayName) == "" {
		return domain.Credentials{}, fmt.Errorf("%w: display name is required", domain.ErrValidation)
	}

	sessionID, err := q.sessions.CreateSession(ctx)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: create session: %v", domain.ErrProvider, err)
	}

	tok, err := q.tokens.Issue(sessionID, domain.RoleCustomer, "", q.tokenTTL)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: issue token: %v", domain.ErrProvider, err)
	}

	req := &domain.CallRequest{
		ID:           uuid.New(),
		DisplayName:  displayName,
		SessionID:    sessionID,
		SessionToken: tok,
		CreatedAt:    time.Now(),
	}

	q.mu.Lock()
	q.requests[req.ID] = req
	q.order = append(q.order, req.ID)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.RecordCallRequestCreated()
	}
	logger.Info("call request created",
		zap.String("request_id", req.ID.String()),
		zap.String("session_id", sessionID))

	return domain.Credentials{
		APIKey:    q.tokens.APIKey(),
		SessionID: sessionID,
		Token:     tok,
		RequestID: req.ID,
	}, nil
}

// ListPending returns all unresolved requests, oldest first
func (q *Queue) ListPending() []domain.CallRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.CallRequest, 0, len(q.requests))
	for _, id := range q.order {
		if req, ok := q.requests[id]; ok {
			out = append(out, *req)
		}
	}
	return out
}

// Get returns a pending request by id
func (q *Queue) Get(id uuid.UUID) (domain.CallRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.requests[id]
	if !ok {
		return domain.CallRequest{}, domain.ErrNotFound
	}
	return *req, nil
}

// Resolve removes a pending request with the given outcome. The first
// resolver wins; a second resolve returns ErrNotFound, which callers must
// treat as "already handled elsewhere", not as a user-facing failure.
func (q *Queue) Resolve(id uuid.UUID, outcome domain.Outcome) error {
	q.mu.Lock()
	_, ok := q.requests[id]
	if ok {
		delete(q.requests, id)
		for i, qid := range q.order {
			if qid == id {
				q.order = append(q.order[:i], q.order[i+1:]...)
				break
			}
		}
	}
	q.mu.Unlock()

	if !ok {
		return domain.ErrNotFound
	}

	if q.metrics != nil {
		q.metrics.RecordCallRequestResolved(string(outcome))
	}
	logger.Info("call request resolved",
		zap.String("request_id", id.String()),
		zap.String("outcome", string(outcome)))
	return nil
}

// Package cobrowse allocates co-browsing sessions on an external screen
// sharing platform and returns the join URL the other call party follows.
package cobrowse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// Service talks to the co-browse platform's REST API
type Service struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewService creates a co-browse client. timeout bounds each allocation
// request; zero means 10 seconds.
func NewService(baseURL, apiKey string, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type createSessionResponse struct {
	SessionURL string `json:"session_url"`
}

// CreateSession allocates a session and returns its join URL. It satisfies
// the collaboration peer's allocator contract.
func (s *Service) CreateSession(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"api_key": s.apiKey})
	if err != nil {
		return "", fmt.Errorf("failed to encode session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cobrowse platform unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("cobrowse platform returned status %d", resp.StatusCode)
	}

	var out createSessionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode session response: %w", err)
	}
	if out.SessionURL == "" {
		return "", fmt.Errorf("cobrowse platform returned no session url")
	}
	return out.SessionURL, nil
}

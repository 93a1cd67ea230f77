package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
)

// Claims carries the session grant embedded in a join token
type Claims struct {
	SessionID string      `json:"session_id"`
	Role      domain.Role `json:"role"`
	UserData  string      `json:"user_data,omitempty"` // opaque JSON supplied by the caller
	jwt.RegisteredClaims
}

// Issuer signs and validates session join tokens
type Issuer struct {
	apiKey     string
	secretKey  string
	defaultTTL time.Duration
}

// NewIssuer creates a token issuer. defaultTTL is used when Issue is called
// with a zero ttl; the original platform grants seven-day tokens.
func NewIssuer(apiKey, secretKey string, defaultTTL time.Duration) *Issuer {
	return &Issuer{
		apiKey:     apiKey,
		secretKey:  secretKey,
		defaultTTL: defaultTTL,
	}
}

// APIKey returns the provider API key handed to joining clients
func (i *Issuer) APIKey() string { return i.apiKey }

// Issue creates a role-scoped join token for a session
func (i *Issuer) Issue(sessionID string, role domain.Role, userData string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = i.defaultTTL
	}

	now := time.Now()
	claims := &Claims{
		SessionID: sessionID,
		Role:      role,
		UserData:  userData,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "call-service",
			Subject:   sessionID,
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return signed, nil
}

// Validate parses a join token and checks its signature and expiry
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(i.secretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}

	return claims, nil
}

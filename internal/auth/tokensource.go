// Package auth supplies credentials for registration requests. Token
// acquisition strategy is the caller's choice; the synchronizer only sees
// the TokenSource seam.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "capsync/pkg/errors"
)

// StaticTokenSource returns the same token on every call. Development and
// test use only.
type StaticTokenSource struct {
	token string
}

// NewStaticTokenSource wraps a fixed token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "no token configured")
	}
	return s.token, nil
}

// Claims are the service-token claims the account server expects.
type Claims struct {
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// ServiceTokenSource mints short-lived HS256 service tokens and caches each
// one until shortly before expiry.
type ServiceTokenSource struct {
	signingKey []byte
	issuer     string
	audience   string
	subject    string
	ttl        time.Duration
	clock      func() time.Time

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

// refreshSkew is how long before expiry a cached token is considered dead,
// so a token never expires mid-request.
const refreshSkew = 30 * time.Second

// ServiceTokenOption configures a ServiceTokenSource.
type ServiceTokenOption func(*ServiceTokenSource)

// WithServiceTokenClock sets the time source for testability.
func WithServiceTokenClock(clock func() time.Time) ServiceTokenOption {
	return func(s *ServiceTokenSource) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServiceTokenSource builds a minting token source.
func NewServiceTokenSource(signingKey, issuer, audience, subject string, ttl time.Duration, opts ...ServiceTokenOption) (*ServiceTokenSource, error) {
	if signingKey == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "signing key is required")
	}
	if ttl <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "token ttl must be positive")
	}

	s := &ServiceTokenSource{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		subject:    subject,
		ttl:        ttl,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Token returns the cached token, minting a fresh one when the cache is
// empty or within the refresh skew of expiry.
func (s *ServiceTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if s.cached != "" && now.Before(s.expiresAt.Add(-refreshSkew)) {
		return s.cached, nil
	}

	expiresAt := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   s.subject,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign service token")
	}

	s.cached = signed
	s.expiresAt = expiresAt
	return signed, nil
}

// Invalidate drops the cached token so the next call mints a fresh one.
// Callers use this after an unauthorized response before retrying the whole
// operation.
func (s *ServiceTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = ""
	s.expiresAt = time.Time{}
}

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultServiceTokenTTL = time.Hour
	bearerPrefix           = "Bearer "
)

var (
	ErrMissingSigningSecret = errors.New("service tokens: signing secret required")
	ErrMissingIssuer        = errors.New("service tokens: issuer required")
	ErrMissingServiceToken  = errors.New("service tokens: token required")
	ErrInvalidServiceToken  = errors.New("service tokens: invalid token")
	ErrExpiredServiceToken  = errors.New("service tokens: token expired")
	ErrMissingSubject       = errors.New("service tokens: subject required")
)

// ServiceTokenConfig describes how service tokens are minted and validated.
type ServiceTokenConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// ServiceTokens issues and validates the HS256 bearer tokens presented by the
// authentication server when it calls the adapter endpoints.
type ServiceTokens struct {
	signingSecret []byte
	issuer        string
	ttl           time.Duration
	clock         func() time.Time
}

// NewServiceTokens constructs a ServiceTokens with the provided configuration.
func NewServiceTokens(cfg ServiceTokenConfig) (*ServiceTokens, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultServiceTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ServiceTokens{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue produces a signed token for subject and its lifetime in seconds.
// A non-positive ttl falls back to the configured default.
func (s *ServiceTokens) Issue(subject string, ttl time.Duration) (string, int64, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", 0, ErrMissingSubject
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.clock().UTC()
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString(s.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(ttl.Seconds()), nil
}

// Validate parses the token and returns its subject.
func (s *ServiceTokens) Validate(tokenString string) (string, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return "", ErrMissingServiceToken
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidServiceToken, t.Method.Alg())
			}
			return s.signingSecret, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredServiceToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidServiceToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return "", ErrInvalidServiceToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}

// ValidateRequest extracts the bearer token from the Authorization header and validates it.
func (s *ServiceTokens) ValidateRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingServiceToken
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrMissingServiceToken
	}
	return s.Validate(strings.TrimPrefix(header, bearerPrefix))
}

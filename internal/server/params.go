package server

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/authbridge/internal/adapter"
)

// queryParams decodes adapter arguments from the query string. An absent key means
// "not supplied"; a present but empty key clears a nullable field.
type queryParams struct {
	values url.Values
}

func newQueryParams(values url.Values) queryParams {
	return queryParams{values: values}
}

func (p queryParams) has(key string) bool {
	_, ok := p.values[key]
	return ok
}

func (p queryParams) text(key string) string {
	return strings.TrimSpace(p.values.Get(key))
}

// exact returns the value as sent, for keys matched verbatim against stored values.
func (p queryParams) exact(key string) string {
	return p.values.Get(key)
}

func (p queryParams) textPointer(key string) *string {
	value := p.values.Get(key)
	if value == "" {
		return nil
	}
	return &value
}

func (p queryParams) optionalText(key string) adapter.Optional[string] {
	if !p.has(key) {
		return adapter.Optional[string]{}
	}
	value := p.values.Get(key)
	if value == "" {
		return adapter.Null[string]()
	}
	return adapter.Some(value)
}

func (p queryParams) timestamp(key string) (time.Time, error) {
	raw := p.text(key)
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", adapter.ErrInvalidInput, key)
	}
	return parsed, nil
}

func (p queryParams) timestampPointer(key string) (*time.Time, error) {
	parsed, err := p.timestamp(key)
	if err != nil || parsed.IsZero() {
		return nil, err
	}
	return &parsed, nil
}

func (p queryParams) optionalTimestamp(key string) (adapter.Optional[time.Time], error) {
	if !p.has(key) {
		return adapter.Optional[time.Time]{}, nil
	}
	parsed, err := p.timestamp(key)
	if err != nil {
		return adapter.Optional[time.Time]{}, err
	}
	if parsed.IsZero() {
		return adapter.Null[time.Time](), nil
	}
	return adapter.Some(parsed), nil
}

func (p queryParams) integerPointer(key string) (*int64, error) {
	raw := p.text(key)
	if raw == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", adapter.ErrInvalidInput, key)
	}
	return &parsed, nil
}

func (p queryParams) user() (adapter.User, error) {
	emailVerified, err := p.timestampPointer("emailVerified")
	if err != nil {
		return adapter.User{}, err
	}
	return adapter.User{
		ID:            p.text("id"),
		Name:          p.textPointer("name"),
		Email:         p.textPointer("email"),
		EmailVerified: emailVerified,
		Image:         p.textPointer("image"),
	}, nil
}

func (p queryParams) userPatch() (adapter.UserPatch, error) {
	emailVerified, err := p.optionalTimestamp("emailVerified")
	if err != nil {
		return adapter.UserPatch{}, err
	}
	return adapter.UserPatch{
		ID:            p.text("id"),
		Name:          p.optionalText("name"),
		Email:         p.optionalText("email"),
		EmailVerified: emailVerified,
		Image:         p.optionalText("image"),
	}, nil
}

func (p queryParams) accountKey() adapter.AccountKey {
	return adapter.AccountKey{
		Provider:          p.text("provider"),
		ProviderAccountID: p.text("providerAccountId"),
		UserID:            p.text("userId"),
	}
}

func (p queryParams) account() (adapter.Account, error) {
	expiresAt, err := p.integerPointer("expires_at")
	if err != nil {
		return adapter.Account{}, err
	}
	return adapter.Account{
		UserID:            p.text("userId"),
		Type:              adapter.AccountType(p.text("type")),
		Provider:          p.text("provider"),
		ProviderAccountID: p.text("providerAccountId"),
		AccessToken:       p.textPointer("access_token"),
		TokenType:         p.textPointer("token_type"),
		IDToken:           p.textPointer("id_token"),
		RefreshToken:      p.textPointer("refresh_token"),
		Scope:             p.textPointer("scope"),
		ExpiresAt:         expiresAt,
		SessionState:      p.textPointer("session_state"),
	}, nil
}

func (p queryParams) session() (adapter.Session, error) {
	expires, err := p.timestamp("expires")
	if err != nil {
		return adapter.Session{}, err
	}
	return adapter.Session{
		SessionToken: p.text("sessionToken"),
		UserID:       p.text("userId"),
		Expires:      expires,
	}, nil
}

func (p queryParams) sessionPatch() (adapter.SessionPatch, error) {
	expires, err := p.optionalTimestamp("expires")
	if err != nil {
		return adapter.SessionPatch{}, err
	}
	return adapter.SessionPatch{
		SessionToken: p.text("sessionToken"),
		UserID:       p.optionalText("userId"),
		Expires:      expires,
	}, nil
}

func (p queryParams) verificationToken() (adapter.VerificationToken, error) {
	expires, err := p.timestamp("expires")
	if err != nil {
		return adapter.VerificationToken{}, err
	}
	return adapter.VerificationToken{
		Identifier: p.text("identifier"),
		Token:      p.text("token"),
		Expires:    expires,
	}, nil
}

package adapter

import (
	"fmt"
	"strings"
	"time"
)

// AccountType enumerates the account kinds the authentication protocol links.
type AccountType string

const (
	// AccountTypeOAuth links an OAuth or OIDC provider identity.
	AccountTypeOAuth AccountType = "oauth"
	// AccountTypeEmail links a passwordless email identity.
	AccountTypeEmail AccountType = "email"
	// AccountTypeCredentials links a credentials-based identity.
	AccountTypeCredentials AccountType = "credentials"
)

// ParseAccountType validates raw input against the supported account kinds.
func ParseAccountType(rawInput string) (AccountType, error) {
	switch AccountType(strings.TrimSpace(rawInput)) {
	case AccountTypeOAuth:
		return AccountTypeOAuth, nil
	case AccountTypeEmail:
		return AccountTypeEmail, nil
	case AccountTypeCredentials:
		return AccountTypeCredentials, nil
	default:
		return "", fmt.Errorf("%w: unknown account type %q", ErrInvalidInput, rawInput)
	}
}

// User is the protocol-facing projection of an authentication user.
type User struct {
	ID            string     `json:"id"`
	Name          *string    `json:"name"`
	Email         *string    `json:"email"`
	EmailVerified *time.Time `json:"emailVerified"`
	Image         *string    `json:"image"`
}

// Account is the protocol-facing projection of a provider link.
type Account struct {
	ID                string      `json:"id,omitempty"`
	UserID            string      `json:"userId"`
	Type              AccountType `json:"type"`
	Provider          string      `json:"provider"`
	ProviderAccountID string      `json:"providerAccountId"`
	AccessToken       *string     `json:"access_token"`
	TokenType         *string     `json:"token_type"`
	IDToken           *string     `json:"id_token"`
	RefreshToken      *string     `json:"refresh_token"`
	Scope             *string     `json:"scope"`
	ExpiresAt         *int64      `json:"expires_at"`
	SessionState      *string     `json:"session_state"`
}

// Session is the protocol-facing projection of a server-side session.
type Session struct {
	SessionToken string    `json:"sessionToken"`
	UserID       string    `json:"userId"`
	Expires      time.Time `json:"expires"`
}

// SessionAndUser pairs a session with its owning user.
type SessionAndUser struct {
	Session Session `json:"session"`
	User    User    `json:"user"`
}

// VerificationToken is the protocol-facing projection of a single-use verification token.
type VerificationToken struct {
	Identifier string    `json:"identifier"`
	Token      string    `json:"token"`
	Expires    time.Time `json:"expires"`
}

// AccountKey addresses an account link. UserID may be empty to match on the provider identity alone.
type AccountKey struct {
	Provider          string
	ProviderAccountID string
	UserID            string
}

// UserPatch carries a partial user update. Unset fields keep their stored values.
type UserPatch struct {
	ID            string
	Name          Optional[string]
	Email         Optional[string]
	EmailVerified Optional[time.Time]
	Image         Optional[string]
}

// SessionPatch carries a partial session update keyed by the session token.
type SessionPatch struct {
	SessionToken string
	UserID       Optional[string]
	Expires      Optional[time.Time]
}

// UserRecord stores an authentication user and its exclusive link to a local identity.
type UserRecord struct {
	ID            string     `gorm:"column:id;primaryKey;size:255;not null"`
	IdentityID    string     `gorm:"column:identity_id;size:190;not null;uniqueIndex"`
	Name          *string    `gorm:"column:name;size:255"`
	Email         *string    `gorm:"column:email;size:255;uniqueIndex"`
	EmailVerified *time.Time `gorm:"column:email_verified"`
	Image         *string    `gorm:"column:image;type:text"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (UserRecord) TableName() string {
	return "authjs_users"
}

func (r UserRecord) projection() User {
	return User{
		ID:            r.ID,
		Name:          r.Name,
		Email:         r.Email,
		EmailVerified: r.EmailVerified,
		Image:         r.Image,
	}
}

// AccountRecord stores a provider link. The provider identity pair is globally unique.
type AccountRecord struct {
	ID                string      `gorm:"column:id;primaryKey;size:255;not null"`
	UserID            string      `gorm:"column:user_id;size:255;not null;index"`
	Type              AccountType `gorm:"column:type;size:32;not null"`
	Provider          string      `gorm:"column:provider;size:255;not null;uniqueIndex:idx_authjs_accounts_provider_account,priority:1"`
	ProviderAccountID string      `gorm:"column:provider_account_id;size:255;not null;uniqueIndex:idx_authjs_accounts_provider_account,priority:2"`
	RefreshToken      *string     `gorm:"column:refresh_token;type:text"`
	AccessToken       *string     `gorm:"column:access_token;type:text"`
	ExpiresAt         *int64      `gorm:"column:expires_at"`
	TokenType         *string     `gorm:"column:token_type;size:255"`
	Scope             *string     `gorm:"column:scope;size:255"`
	IDToken           *string     `gorm:"column:id_token;type:text"`
	SessionState      *string     `gorm:"column:session_state;size:255"`
	CreatedAt         time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (AccountRecord) TableName() string {
	return "authjs_accounts"
}

func (r AccountRecord) projection() Account {
	return Account{
		ID:                r.ID,
		UserID:            r.UserID,
		Type:              r.Type,
		Provider:          r.Provider,
		ProviderAccountID: r.ProviderAccountID,
		AccessToken:       r.AccessToken,
		TokenType:         r.TokenType,
		IDToken:           r.IDToken,
		RefreshToken:      r.RefreshToken,
		Scope:             r.Scope,
		ExpiresAt:         r.ExpiresAt,
		SessionState:      r.SessionState,
	}
}

// SessionRecord stores a session. The storage key is distinct from the bearer session token.
type SessionRecord struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	SessionToken string    `gorm:"column:session_token;size:255;not null;uniqueIndex"`
	UserID       string    `gorm:"column:user_id;size:255;not null;index"`
	Expires      time.Time `gorm:"column:expires;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (SessionRecord) TableName() string {
	return "authjs_sessions"
}

func (r SessionRecord) projection() Session {
	return Session{
		SessionToken: r.SessionToken,
		UserID:       r.UserID,
		Expires:      r.Expires,
	}
}

// VerificationTokenRecord stores a single-use verification token.
type VerificationTokenRecord struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Identifier string    `gorm:"column:identifier;size:255;not null;uniqueIndex:idx_authjs_verification_tokens_pair,priority:1"`
	Token      string    `gorm:"column:token;size:255;not null;uniqueIndex;uniqueIndex:idx_authjs_verification_tokens_pair,priority:2"`
	Expires    time.Time `gorm:"column:expires;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (VerificationTokenRecord) TableName() string {
	return "authjs_verification_tokens"
}

func (r VerificationTokenRecord) projection() VerificationToken {
	return VerificationToken{
		Identifier: r.Identifier,
		Token:      r.Token,
		Expires:    r.Expires,
	}
}

// Models lists every relation owned by the adapter, for schema migration.
func Models() []any {
	return []any{&UserRecord{}, &AccountRecord{}, &SessionRecord{}, &VerificationTokenRecord{}}
}

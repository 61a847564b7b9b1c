package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrIdentityNotFound indicates no local identity exists for the supplied id.
	ErrIdentityNotFound = errors.New("users: identity not found")
	// ErrInvalidIdentity indicates the identity lookup key was empty.
	ErrInvalidIdentity = errors.New("users: invalid identity")
)

// ServiceConfig describes the dependencies required for local identity management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages the canonical local identities that authentication users link to.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// EnsureIdentity returns the identity keyed by (email, username), creating it when absent.
// The supplied handle is used as-is so callers can run it inside their own transaction.
func (s *Service) EnsureIdentity(tx *gorm.DB, email, username string) (Identity, error) {
	if tx == nil {
		tx = s.db
	}
	email = normalize(email)
	username = normalize(username)

	var identity Identity
	err := tx.
		Where("email = ? AND username = ?", email, username).
		Take(&identity).
		Error
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, err
	}

	identifier, err := uuid.NewV7()
	if err != nil {
		return Identity{}, err
	}
	identity = Identity{
		ID:         identifier.String(),
		Username:   username,
		Email:      email,
		LastSeenAt: s.now().UTC(),
	}
	if err := tx.Create(&identity).Error; err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// FindIdentity loads the identity with the provided id.
func (s *Service) FindIdentity(ctx context.Context, identityID string) (Identity, error) {
	identityID = normalize(identityID)
	if identityID == "" {
		return Identity{}, ErrInvalidIdentity
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("id = ?", identityID).
		Take(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrIdentityNotFound
	}
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// RekeyIdentity moves the identity to a new (email, username) key after the projecting
// user changed. The supplied handle is used as-is.
func (s *Service) RekeyIdentity(tx *gorm.DB, identityID, email, username string) (Identity, error) {
	if tx == nil {
		tx = s.db
	}
	identityID = normalize(identityID)
	if identityID == "" {
		return Identity{}, ErrInvalidIdentity
	}

	var identity Identity
	err := tx.Where("id = ?", identityID).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrIdentityNotFound
	}
	if err != nil {
		return Identity{}, err
	}

	email = normalize(email)
	username = normalize(username)
	if identity.Email == email && identity.Username == username {
		return identity, nil
	}
	identity.Email = email
	identity.Username = username
	identity.LastSeenAt = s.now().UTC()
	if err := tx.Save(&identity).Error; err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// ReleaseIdentity removes the identity once the authentication user projecting it is deleted.
// Releasing an identity that is already gone is not an error.
func (s *Service) ReleaseIdentity(tx *gorm.DB, identityID string) error {
	if tx == nil {
		tx = s.db
	}
	identityID = normalize(identityID)
	if identityID == "" {
		return ErrInvalidIdentity
	}
	return tx.Where("id = ?", identityID).Delete(&Identity{}).Error
}

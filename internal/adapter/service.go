package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/authbridge/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome labels reported to the OperationRecorder.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeEmpty    = "empty"
	OutcomeError    = "error"
)

var noOpLogger = zap.NewNop()

// IdentityStore is the local identity collaborator the adapter layers users on top of.
// Methods taking a *gorm.DB run on the caller's transaction.
type IdentityStore interface {
	EnsureIdentity(tx *gorm.DB, email, username string) (users.Identity, error)
	FindIdentity(ctx context.Context, identityID string) (users.Identity, error)
	RekeyIdentity(tx *gorm.DB, identityID, email, username string) (users.Identity, error)
	ReleaseIdentity(tx *gorm.DB, identityID string) error
}

// OperationRecorder observes the outcome of every adapter operation.
type OperationRecorder interface {
	RecordOperation(operation, outcome string)
}

type noOpRecorder struct{}

func (noOpRecorder) RecordOperation(string, string) {}

// ServiceConfig describes the dependencies of the adapter service.
type ServiceConfig struct {
	Database       *gorm.DB
	Identities     IdentityStore
	IDProvider     IDProvider
	UserIDProvider IDProvider
	Recorder       OperationRecorder
	Logger         *zap.Logger
}

// Service implements the authentication adapter contract over the relational store.
// It keeps no state between calls; every operation is a round trip to the store.
type Service struct {
	db         *gorm.DB
	identities IdentityStore
	ids        IDProvider
	userIDs    IDProvider
	recorder   OperationRecorder
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the adapter service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Identities == nil {
		return nil, newServiceError(opServiceNew, "missing_identity_store", errMissingIdentityStore)
	}

	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	userIDs := cfg.UserIDProvider
	if userIDs == nil {
		userIDs = NewHexIDProvider()
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = noOpRecorder{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		identities: cfg.Identities,
		ids:        ids,
		userIDs:    userIDs,
		recorder:   recorder,
		logger:     logger,
	}, nil
}

// CreateUser returns the user with the given id, creating it and its local identity when absent.
// An existing row is returned as stored; the input values are not applied to it.
func (s *Service) CreateUser(ctx context.Context, user User) (User, error) {
	var created User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userID := strings.TrimSpace(user.ID)
		if userID != "" {
			var existing UserRecord
			err := tx.Where("id = ?", userID).Take(&existing).Error
			if err == nil {
				created = existing.projection()
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opCreateUser, "user_select_failed", err)
			}
		} else {
			generated, err := s.userIDs.NewID()
			if err != nil {
				return newServiceError(opCreateUser, "id_generation_failed", err)
			}
			userID = generated
		}

		email, username := identityKey(userID, user.Name, user.Email)
		identity, err := s.identities.EnsureIdentity(tx, email, username)
		if err != nil {
			if isUniqueViolation(err) {
				return newServiceError(opCreateUser, "identity_conflict", fmt.Errorf("%w: %v", ErrConflict, err))
			}
			return newServiceError(opCreateUser, "identity_ensure_failed", err)
		}

		record := UserRecord{
			ID:            userID,
			IdentityID:    identity.ID,
			Name:          user.Name,
			Email:         user.Email,
			EmailVerified: user.EmailVerified,
			Image:         user.Image,
		}
		if err := tx.Create(&record).Error; err != nil {
			if isUniqueViolation(err) {
				return newServiceError(opCreateUser, "user_conflict", fmt.Errorf("%w: %v", ErrConflict, err))
			}
			return newServiceError(opCreateUser, "user_insert_failed", err)
		}
		created = record.projection()
		return nil
	})
	if err := s.finish(opCreateUser, err, zap.String("user_id", user.ID)); err != nil {
		return User{}, err
	}
	return created, nil
}

// GetUser returns the user with the given id.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	record, err := s.takeUser(s.db.WithContext(ctx), opGetUser, userID)
	if err := s.finish(opGetUser, err, zap.String("user_id", userID)); err != nil {
		return User{}, err
	}
	return record.projection(), nil
}

// GetUserByEmail returns the user whose stored email exactly matches.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var record UserRecord
	err := requireKey(opGetUserByEmail, "email", email)
	if err == nil {
		err = s.db.WithContext(ctx).Where("email = ?", email).Take(&record).Error
		err = classifyLookup(opGetUserByEmail, "user", err)
	}
	if err := s.finish(opGetUserByEmail, err); err != nil {
		return User{}, err
	}
	return record.projection(), nil
}

// GetUserByAccount returns the user owning the account link addressed by key.
// When key.UserID is set the link must belong to that user.
func (s *Service) GetUserByAccount(ctx context.Context, key AccountKey) (User, error) {
	var record UserRecord
	err := validateAccountKey(opGetUserByAccount, key)
	if err == nil {
		query := s.db.WithContext(ctx).
			Model(&UserRecord{}).
			Select("authjs_users.*").
			Joins("JOIN authjs_accounts ON authjs_accounts.user_id = authjs_users.id").
			Where("authjs_accounts.provider = ? AND authjs_accounts.provider_account_id = ?", key.Provider, key.ProviderAccountID)
		if key.UserID != "" {
			query = query.Where("authjs_accounts.user_id = ?", key.UserID)
		}
		err = classifyLookup(opGetUserByAccount, "account", query.Take(&record).Error)
	}
	if err := s.finish(opGetUserByAccount, err,
		zap.String("provider", key.Provider),
		zap.String("user_id", key.UserID)); err != nil {
		return User{}, err
	}
	return record.projection(), nil
}

// UpdateUser applies the supplied fields of patch and returns the stored result.
func (s *Service) UpdateUser(ctx context.Context, patch UserPatch) (User, error) {
	var updated User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.takeUser(tx, opUpdateUser, patch.ID)
		if err != nil {
			return err
		}
		patch.Name.Apply(&record.Name)
		patch.Email.Apply(&record.Email)
		patch.EmailVerified.Apply(&record.EmailVerified)
		patch.Image.Apply(&record.Image)
		if patch.Name.IsSet() || patch.Email.IsSet() {
			email, username := identityKey(record.ID, record.Name, record.Email)
			if _, err := s.identities.RekeyIdentity(tx, record.IdentityID, email, username); err != nil {
				if isUniqueViolation(err) {
					return newServiceError(opUpdateUser, "identity_conflict", fmt.Errorf("%w: %v", ErrConflict, err))
				}
				return newServiceError(opUpdateUser, "identity_rekey_failed", err)
			}
		}
		if err := tx.Save(&record).Error; err != nil {
			if isUniqueViolation(err) {
				return newServiceError(opUpdateUser, "user_conflict", fmt.Errorf("%w: %v", ErrConflict, err))
			}
			return newServiceError(opUpdateUser, "user_save_failed", err)
		}
		updated = record.projection()
		return nil
	})
	if err := s.finish(opUpdateUser, err, zap.String("user_id", patch.ID)); err != nil {
		return User{}, err
	}
	return updated, nil
}

// DeleteUser removes the user with its accounts, sessions and local identity,
// returning the user as it was before deletion.
func (s *Service) DeleteUser(ctx context.Context, userID string) (User, error) {
	var deleted User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.takeUser(tx, opDeleteUser, userID)
		if err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", record.ID).Delete(&AccountRecord{}).Error; err != nil {
			return newServiceError(opDeleteUser, "account_delete_failed", err)
		}
		if err := tx.Where("user_id = ?", record.ID).Delete(&SessionRecord{}).Error; err != nil {
			return newServiceError(opDeleteUser, "session_delete_failed", err)
		}
		result := tx.Where("id = ?", record.ID).Delete(&UserRecord{})
		if result.Error != nil {
			return newServiceError(opDeleteUser, "user_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opDeleteUser, "user_not_found", ErrNotFound)
		}
		if err := s.identities.ReleaseIdentity(tx, record.IdentityID); err != nil {
			return newServiceError(opDeleteUser, "identity_release_failed", err)
		}
		deleted = record.projection()
		return nil
	})
	if err := s.finish(opDeleteUser, err, zap.String("user_id", userID)); err != nil {
		return User{}, err
	}
	return deleted, nil
}

// IdentityForUser resolves the local identity linked to the user.
func (s *Service) IdentityForUser(ctx context.Context, userID string) (users.Identity, error) {
	record, err := s.takeUser(s.db.WithContext(ctx), opIdentityForUser, userID)
	var identity users.Identity
	if err == nil {
		identity, err = s.identities.FindIdentity(ctx, record.IdentityID)
		if errors.Is(err, users.ErrIdentityNotFound) {
			err = newServiceError(opIdentityForUser, "identity_not_found", fmt.Errorf("%w: %v", ErrNotFound, err))
		} else if err != nil {
			err = newServiceError(opIdentityForUser, "identity_select_failed", err)
		}
	}
	if err := s.finish(opIdentityForUser, err, zap.String("user_id", userID)); err != nil {
		return users.Identity{}, err
	}
	return identity, nil
}

func (s *Service) takeUser(db *gorm.DB, operation, userID string) (UserRecord, error) {
	if err := requireKey(operation, "user_id", userID); err != nil {
		return UserRecord{}, err
	}
	var record UserRecord
	err := db.Where("id = ?", userID).Take(&record).Error
	return record, classifyLookup(operation, "user", err)
}

// finish records the operation outcome and logs failures once.
func (s *Service) finish(operation string, err error, fields ...zap.Field) error {
	s.recorder.RecordOperation(metricName(operation), outcomeOf(err))
	if err == nil {
		return nil
	}
	attrs := []zap.Field{zap.String("operation", operation), zap.Error(err)}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		attrs = append(attrs, zap.String("code", serviceErr.Code()))
	}
	attrs = append(attrs, fields...)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput):
		s.loggerOrDefault().Debug("adapter lookup failed", attrs...)
	case errors.Is(err, ErrConflict):
		s.loggerOrDefault().Warn("adapter write conflict", attrs...)
	default:
		s.loggerOrDefault().Error("adapter service error", attrs...)
	}
	return err
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func metricName(operation string) string {
	return strings.TrimPrefix(operation, "adapter.")
}

func requireKey(operation, name, value string) error {
	if strings.TrimSpace(value) == "" {
		return newServiceError(operation, "missing_"+name, fmt.Errorf("%w: %s is required", ErrInvalidInput, name))
	}
	return nil
}

func validateAccountKey(operation string, key AccountKey) error {
	if err := requireKey(operation, "provider", key.Provider); err != nil {
		return err
	}
	return requireKey(operation, "provider_account_id", key.ProviderAccountID)
}

// classifyLookup maps a single-row read result onto the adapter error taxonomy.
func classifyLookup(operation, entity string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return newServiceError(operation, entity+"_not_found", ErrNotFound)
	default:
		return newServiceError(operation, entity+"_select_failed", err)
	}
}

// identityKey derives the (email, username) key of a user's local identity. Without
// an email the user id stands in for the username so email-less users never share one.
func identityKey(userID string, name, email *string) (string, string) {
	if strings.TrimSpace(valueOrEmpty(email)) == "" {
		return "", userID
	}
	return valueOrEmpty(email), valueOrEmpty(name)
}

func valueOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

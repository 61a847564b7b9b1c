package adapter

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateSession stores a new session for an existing user.
func (s *Service) CreateSession(ctx context.Context, session Session) (Session, error) {
	var created Session
	err := requireKey(opCreateSession, "session_token", session.SessionToken)
	if err == nil && session.Expires.IsZero() {
		err = newServiceError(opCreateSession, "missing_expires", fmt.Errorf("%w: expires is required", ErrInvalidInput))
	}
	if err == nil {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.takeUser(tx, opCreateSession, session.UserID); err != nil {
				return err
			}

			var existing SessionRecord
			err := tx.Where("session_token = ?", session.SessionToken).Take(&existing).Error
			if err == nil {
				return newServiceError(opCreateSession, "session_token_taken", ErrConflict)
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opCreateSession, "session_select_failed", err)
			}

			sessionID, err := s.ids.NewID()
			if err != nil {
				return newServiceError(opCreateSession, "id_generation_failed", err)
			}
			record := SessionRecord{
				ID:           sessionID,
				SessionToken: session.SessionToken,
				UserID:       session.UserID,
				Expires:      session.Expires.UTC(),
			}
			if err := tx.Create(&record).Error; err != nil {
				if isUniqueViolation(err) {
					return newServiceError(opCreateSession, "session_conflict", fmt.Errorf("%w: %v", ErrConflict, err))
				}
				return newServiceError(opCreateSession, "session_insert_failed", err)
			}
			created = record.projection()
			return nil
		})
	}
	if err := s.finish(opCreateSession, err, zap.String("user_id", session.UserID)); err != nil {
		return Session{}, err
	}
	return created, nil
}

// GetSessionAndUser returns the session addressed by token together with its user.
func (s *Service) GetSessionAndUser(ctx context.Context, sessionToken string) (SessionAndUser, error) {
	var pair SessionAndUser
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := takeSession(tx, opGetSessionAndUser, sessionToken)
		if err != nil {
			return err
		}
		owner, err := s.takeUser(tx, opGetSessionAndUser, record.UserID)
		if err != nil {
			return err
		}
		pair = SessionAndUser{Session: record.projection(), User: owner.projection()}
		return nil
	})
	if err := s.finish(opGetSessionAndUser, err); err != nil {
		return SessionAndUser{}, err
	}
	return pair, nil
}

// LookupSession returns the session addressed by token without loading its user.
func (s *Service) LookupSession(ctx context.Context, sessionToken string) (Session, error) {
	record, err := takeSession(s.db.WithContext(ctx), opLookupSession, sessionToken)
	if err := s.finish(opLookupSession, err); err != nil {
		return Session{}, err
	}
	return record.projection(), nil
}

// UpdateSession applies the supplied fields of patch to the session addressed by its token.
// Expires and UserID can be replaced but not cleared.
func (s *Service) UpdateSession(ctx context.Context, patch SessionPatch) (Session, error) {
	var updated Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := takeSession(tx, opUpdateSession, patch.SessionToken)
		if err != nil {
			return err
		}
		if patch.UserID.IsSet() {
			userID := patch.UserID.Get()
			if userID == nil {
				return newServiceError(opUpdateSession, "cleared_user_id", fmt.Errorf("%w: userId cannot be cleared", ErrInvalidInput))
			}
			if _, err := s.takeUser(tx, opUpdateSession, *userID); err != nil {
				return err
			}
			record.UserID = *userID
		}
		if patch.Expires.IsSet() {
			expires := patch.Expires.Get()
			if expires == nil {
				return newServiceError(opUpdateSession, "cleared_expires", fmt.Errorf("%w: expires cannot be cleared", ErrInvalidInput))
			}
			record.Expires = expires.UTC()
		}
		if err := tx.Save(&record).Error; err != nil {
			return newServiceError(opUpdateSession, "session_save_failed", err)
		}
		updated = record.projection()
		return nil
	})
	if err := s.finish(opUpdateSession, err); err != nil {
		return Session{}, err
	}
	return updated, nil
}

// DeleteSession removes the session addressed by token and returns it as it was before deletion.
func (s *Service) DeleteSession(ctx context.Context, sessionToken string) (Session, error) {
	var deleted Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := takeSession(tx, opDeleteSession, sessionToken)
		if err != nil {
			return err
		}
		result := tx.Where("id = ?", record.ID).Delete(&SessionRecord{})
		if result.Error != nil {
			return newServiceError(opDeleteSession, "session_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opDeleteSession, "session_not_found", ErrNotFound)
		}
		deleted = record.projection()
		return nil
	})
	if err := s.finish(opDeleteSession, err); err != nil {
		return Session{}, err
	}
	return deleted, nil
}

func takeSession(db *gorm.DB, operation, sessionToken string) (SessionRecord, error) {
	if err := requireKey(operation, "session_token", sessionToken); err != nil {
		return SessionRecord{}, err
	}
	var record SessionRecord
	err := db.Where("session_token = ?", sessionToken).Take(&record).Error
	return record, classifyLookup(operation, "session", err)
}

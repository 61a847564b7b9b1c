package adapter

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateVerificationToken stores a new single-use token.
func (s *Service) CreateVerificationToken(ctx context.Context, token VerificationToken) (VerificationToken, error) {
	var created VerificationToken
	err := requireKey(opCreateVerificationToken, "identifier", token.Identifier)
	if err == nil {
		err = requireKey(opCreateVerificationToken, "token", token.Token)
	}
	if err == nil && token.Expires.IsZero() {
		err = newServiceError(opCreateVerificationToken, "missing_expires", fmt.Errorf("%w: expires is required", ErrInvalidInput))
	}
	if err == nil {
		record := VerificationTokenRecord{
			Identifier: token.Identifier,
			Token:      token.Token,
			Expires:    token.Expires.UTC(),
		}
		if createErr := s.db.WithContext(ctx).Create(&record).Error; createErr != nil {
			if isUniqueViolation(createErr) {
				err = newServiceError(opCreateVerificationToken, "token_conflict", fmt.Errorf("%w: %v", ErrConflict, createErr))
			} else {
				err = newServiceError(opCreateVerificationToken, "token_insert_failed", createErr)
			}
		}
		created = record.projection()
	}
	if err := s.finish(opCreateVerificationToken, err, zap.String("identifier", token.Identifier)); err != nil {
		return VerificationToken{}, err
	}
	return created, nil
}

// UseVerificationToken redeems the token: it is deleted and its prior value returned.
// Among concurrent redemptions of one token at most one observes a value; the delete is
// guarded by its affected row count so a lost race reads as "already used".
// Unknown, already used, or failing redemptions return an empty result; only a cancelled
// or expired context is returned as an error.
func (s *Service) UseVerificationToken(ctx context.Context, identifier, token string) (Maybe[VerificationToken], error) {
	redeemed, err := s.useVerificationToken(ctx, identifier, token)
	if err == nil {
		s.recorder.RecordOperation(metricName(opUseVerificationToken), OutcomeOK)
		return Found(redeemed), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil || isContextError(err) {
		return Empty[VerificationToken](), s.finish(opUseVerificationToken, err)
	}

	s.recorder.RecordOperation(metricName(opUseVerificationToken), OutcomeEmpty)
	fields := []zap.Field{
		zap.String("operation", opUseVerificationToken),
		zap.String("identifier", identifier),
		zap.Error(err),
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
		s.loggerOrDefault().Info("could not use verification token", fields...)
	} else {
		s.loggerOrDefault().Error("could not use verification token", fields...)
	}
	return Empty[VerificationToken](), nil
}

func (s *Service) useVerificationToken(ctx context.Context, identifier, token string) (VerificationToken, error) {
	if err := requireKey(opUseVerificationToken, "identifier", identifier); err != nil {
		return VerificationToken{}, err
	}
	if err := requireKey(opUseVerificationToken, "token", token); err != nil {
		return VerificationToken{}, err
	}

	var redeemed VerificationToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record VerificationTokenRecord
		err := tx.Where("identifier = ? AND token = ?", identifier, token).Take(&record).Error
		if err := classifyLookup(opUseVerificationToken, "token", err); err != nil {
			return err
		}
		result := tx.Where("id = ? AND identifier = ? AND token = ?", record.ID, identifier, token).
			Delete(&VerificationTokenRecord{})
		if result.Error != nil {
			return newServiceError(opUseVerificationToken, "token_delete_failed", result.Error)
		}
		if result.RowsAffected != 1 {
			return newServiceError(opUseVerificationToken, "token_already_used", ErrNotFound)
		}
		redeemed = record.projection()
		return nil
	})
	return redeemed, err
}

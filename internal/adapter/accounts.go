package adapter

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LinkAccount links a provider identity to a user, or refreshes the token material of an
// existing link owned by the same user. Every store-level failure, including a provider
// identity already linked to a different user, is logged and reported as an empty result.
// Only a cancelled or expired context is returned as an error.
func (s *Service) LinkAccount(ctx context.Context, account Account) (Maybe[Account], error) {
	linked, err := s.linkAccount(ctx, account)
	if err == nil {
		s.recorder.RecordOperation(metricName(opLinkAccount), OutcomeOK)
		return Found(linked), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil || isContextError(err) {
		return Empty[Account](), s.finish(opLinkAccount, err)
	}

	s.recorder.RecordOperation(metricName(opLinkAccount), OutcomeEmpty)
	s.loggerOrDefault().Warn("could not link account",
		zap.String("operation", opLinkAccount),
		zap.String("user_id", account.UserID),
		zap.String("provider", account.Provider),
		zap.Error(err))
	return Empty[Account](), nil
}

func (s *Service) linkAccount(ctx context.Context, account Account) (Account, error) {
	if err := requireKey(opLinkAccount, "user_id", account.UserID); err != nil {
		return Account{}, err
	}
	if err := validateAccountKey(opLinkAccount, AccountKey{Provider: account.Provider, ProviderAccountID: account.ProviderAccountID}); err != nil {
		return Account{}, err
	}
	accountType, err := ParseAccountType(string(account.Type))
	if err != nil {
		return Account{}, newServiceError(opLinkAccount, "invalid_type", err)
	}

	var linked Account
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.takeUser(tx, opLinkAccount, account.UserID); err != nil {
			return err
		}

		var record AccountRecord
		err := tx.
			Where("provider = ? AND provider_account_id = ?", account.Provider, account.ProviderAccountID).
			Take(&record).
			Error
		creating := errors.Is(err, gorm.ErrRecordNotFound)
		switch {
		case creating:
			accountID, idErr := s.ids.NewID()
			if idErr != nil {
				return newServiceError(opLinkAccount, "id_generation_failed", idErr)
			}
			record = AccountRecord{
				ID:                accountID,
				UserID:            account.UserID,
				Provider:          account.Provider,
				ProviderAccountID: account.ProviderAccountID,
			}
		case err != nil:
			return newServiceError(opLinkAccount, "account_select_failed", err)
		case record.UserID != account.UserID:
			return newServiceError(opLinkAccount, "account_owned_elsewhere",
				fmt.Errorf("%w: provider account already linked to another user", ErrConflict))
		}

		record.Type = accountType
		record.AccessToken = account.AccessToken
		record.TokenType = account.TokenType
		record.IDToken = account.IDToken
		record.RefreshToken = account.RefreshToken
		record.Scope = account.Scope
		record.ExpiresAt = account.ExpiresAt
		record.SessionState = account.SessionState

		if creating {
			err = tx.Create(&record).Error
		} else {
			err = tx.Save(&record).Error
		}
		if err != nil {
			if isUniqueViolation(err) {
				return newServiceError(opLinkAccount, "account_conflict", fmt.Errorf("%w: %v", ErrConflict, err))
			}
			return newServiceError(opLinkAccount, "account_write_failed", err)
		}
		linked = record.projection()
		return nil
	})
	return linked, err
}

// UnlinkAccount removes the account link addressed by key and returns it as it was before deletion.
func (s *Service) UnlinkAccount(ctx context.Context, key AccountKey) (Account, error) {
	var unlinked Account
	err := validateAccountKey(opUnlinkAccount, key)
	if err == nil {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			query := tx.Where("provider = ? AND provider_account_id = ?", key.Provider, key.ProviderAccountID)
			if key.UserID != "" {
				query = query.Where("user_id = ?", key.UserID)
			}
			var record AccountRecord
			if err := classifyLookup(opUnlinkAccount, "account", query.Take(&record).Error); err != nil {
				return err
			}
			result := tx.Where("id = ?", record.ID).Delete(&AccountRecord{})
			if result.Error != nil {
				return newServiceError(opUnlinkAccount, "account_delete_failed", result.Error)
			}
			if result.RowsAffected == 0 {
				return newServiceError(opUnlinkAccount, "account_not_found", ErrNotFound)
			}
			unlinked = record.projection()
			return nil
		})
	}
	if err := s.finish(opUnlinkAccount, err,
		zap.String("provider", key.Provider),
		zap.String("user_id", key.UserID)); err != nil {
		return Account{}, err
	}
	return unlinked, nil
}

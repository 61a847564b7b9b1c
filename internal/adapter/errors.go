package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the lookup key did not match any record.
	ErrNotFound = errors.New("adapter: record not found")
	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New("adapter: uniqueness conflict")
	// ErrInvalidInput indicates a required key was missing or malformed.
	ErrInvalidInput = errors.New("adapter: invalid input")

	errMissingDatabase      = errors.New("database handle is required")
	errMissingIdentityStore = errors.New("identity store is required")
)

// ServiceError carries a stable operation/reason code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew              = "adapter.service.new"
	opCreateUser              = "adapter.create_user"
	opGetUser                 = "adapter.get_user"
	opGetUserByEmail          = "adapter.get_user_by_email"
	opGetUserByAccount        = "adapter.get_user_by_account"
	opUpdateUser              = "adapter.update_user"
	opDeleteUser              = "adapter.delete_user"
	opLinkAccount             = "adapter.link_account"
	opUnlinkAccount           = "adapter.unlink_account"
	opCreateSession           = "adapter.create_session"
	opGetSessionAndUser       = "adapter.get_session_and_user"
	opLookupSession           = "adapter.lookup_session"
	opUpdateSession           = "adapter.update_session"
	opDeleteSession           = "adapter.delete_session"
	opCreateVerificationToken = "adapter.create_verification_token"
	opUseVerificationToken    = "adapter.use_verification_token"
	opIdentityForUser         = "adapter.identity_for_user"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// isUniqueViolation recognizes duplicate-key failures from either supported dialect,
// whether or not the dialector translated them.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") || strings.Contains(message, "duplicate key")
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// outcomeOf classifies an operation result for metrics.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrConflict):
		return OutcomeConflict
	case errors.Is(err, ErrInvalidInput):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

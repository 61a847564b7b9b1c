package adapter

import (
	"strings"

	"github.com/google/uuid"
)

// IDProvider issues opaque identifiers for new records.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

type hexProvider struct{}

// NewHexIDProvider constructs an IDProvider that issues random UUIDs as 32 hex characters,
// the format authentication user ids take when the caller supplies none.
func NewHexIDProvider() IDProvider {
	return &hexProvider{}
}

func (p *hexProvider) NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(value.String(), "-", ""), nil
}

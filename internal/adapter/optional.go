package adapter

import (
	"bytes"
	"encoding/json"
)

// Optional distinguishes a field that was not supplied from one explicitly cleared.
// The zero value means "not supplied".
type Optional[T any] struct {
	set   bool
	value *T
}

// Some returns a supplied value.
func Some[T any](value T) Optional[T] {
	return Optional[T]{set: true, value: &value}
}

// Null returns a supplied, explicitly cleared value.
func Null[T any]() Optional[T] {
	return Optional[T]{set: true}
}

// IsSet reports whether the field was supplied.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// Get returns the supplied value, nil when cleared or not supplied.
func (o Optional[T]) Get() *T {
	if !o.set || o.value == nil {
		return nil
	}
	copied := *o.value
	return &copied
}

// Apply overwrites target with the supplied value when the field was supplied.
func (o Optional[T]) Apply(target **T) {
	if o.set {
		*target = o.Get()
	}
}

// UnmarshalJSON marks the field as supplied; JSON null clears it.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.value = nil
		return nil
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	o.value = &value
	return nil
}

// Maybe carries the outcome of operations that report failure as an empty result
// instead of an error. An empty Maybe encodes as {}.
type Maybe[T any] struct {
	value   T
	present bool
}

// Found wraps a successful outcome.
func Found[T any](value T) Maybe[T] {
	return Maybe[T]{value: value, present: true}
}

// Empty returns the "did not succeed" outcome.
func Empty[T any]() Maybe[T] {
	return Maybe[T]{}
}

// Value returns the wrapped value and whether it is present.
func (m Maybe[T]) Value() (T, bool) {
	return m.value, m.present
}

// Present reports whether the operation produced a value.
func (m Maybe[T]) Present() bool {
	return m.present
}

// MarshalJSON encodes the value, or {} when empty.
func (m Maybe[T]) MarshalJSON() ([]byte, error) {
	if !m.present {
		return []byte("{}"), nil
	}
	return json.Marshal(m.value)
}

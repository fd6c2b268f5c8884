package msg

import "encoding/json"

// Optional distinguishes the three patch states a JSON field can be in:
// absent (leave as is), null (remove), or present (replace/merge).
// The `omitzero` json tag keeps absent fields out of serialized patches.
type Optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some wraps a value into a present Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// Null returns an explicit-null Optional, i.e. a removal.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true, Null: true}
}

// IsZero reports absence, hooking into encoding/json's omitzero.
func (o Optional[T]) IsZero() bool {
	return !o.Set
}

// UnmarshalJSON records presence and explicit null.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Null = true
		var zero T
		o.Value = zero
		return nil
	}
	o.Null = false
	return json.Unmarshal(data, &o.Value)
}

// MarshalJSON writes null for removals and the value otherwise.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Null {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

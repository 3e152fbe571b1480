// Package encoding holds the marshalers used to move documents between their Go,
// structural (map) and byte forms.
package encoding

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshaler interface specifies encoding to byte array and back to the object.
type Marshaler interface {
	// Encodes any object to byte array.
	Marshal(v any) ([]byte, error)
	// Decodes byte array back to its Object type.
	Unmarshal(data []byte, v any) error
}

// Global Default marshaller.
var DefaultMarshaler = NewMarshaler()

// DocumentMarshaler packs and unpacks documents to/from the byte form stored by the
// document stores. You can replace it with your desired Marshaler implementation if
// needed. Defaults to use JSON Marshal.
var DocumentMarshaler = DefaultMarshaler

type defaultMarshaler struct{}

// Returns the default marshaller which uses the golang's json package.
func NewMarshaler() Marshaler {
	return &defaultMarshaler{}
}

// Encodes any object to a byte array.
func (m defaultMarshaler) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decodes a byte array back to its Object type. Numbers decoded into interface values
// are kept as json.Number so integers beyond 2^53 survive the round trip.
func (m defaultMarshaler) Unmarshal(data []byte, v any) error {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	if err := d.Decode(v); err != nil {
		return err
	}
	if d.More() {
		return fmt.Errorf("unexpected data after the top level JSON value")
	}
	return nil
}

// Marshal that can do byte array pass-through.
func Marshal[T any](v T) ([]byte, error) {
	switch t := any(v).(type) {
	case *[]byte:
		return *t, nil
	case []byte:
		return t, nil
	default:
		return DocumentMarshaler.Marshal(v)
	}
}

// Unmarshal that can do byte array pass-through.
func Unmarshal[T any](ba []byte, v *T) error {
	if p, ok := any(v).(*[]byte); ok {
		*p = ba
		return nil
	}
	return DocumentMarshaler.Unmarshal(ba, v)
}

// ToMap converts v to its structural form by a marshal/unmarshal round trip.
// Nested objects come back as map[string]any, arrays as []any and numbers as json.Number.
func ToMap(v any) (map[string]any, error) {
	ba, err := DocumentMarshaler.Marshal(v)
	if err != nil {
		return nil, err
	}
	ba = bytes.TrimSpace(ba)
	if len(ba) == 0 || ba[0] != '{' {
		return nil, fmt.Errorf("value of type %T does not encode to an object", v)
	}
	m := map[string]any{}
	if err := DocumentMarshaler.Unmarshal(ba, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// FromMap decodes the structural form m into target, a pointer.
func FromMap(m map[string]any, target any) error {
	ba, err := DocumentMarshaler.Marshal(m)
	if err != nil {
		return err
	}
	return DocumentMarshaler.Unmarshal(ba, target)
}

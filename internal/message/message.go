// Package message implements the ordered key/value messages exchanged between
// the NAT checker server and its clients, and the framing that carries one
// message per read or write over a connection.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
)

var (
	// ErrMissingField is returned when a requested field is absent.
	ErrMissingField = errors.New("message: missing field")

	// ErrFieldType is returned when a field holds a different scalar type.
	ErrFieldType = errors.New("message: field type mismatch")

	// ErrUnsupportedValue is returned when decoding a non-scalar value.
	ErrUnsupportedValue = errors.New("message: unsupported value")
)

// Kind is the scalar type held by a Value.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Value is a typed scalar.
type Value struct {
	kind Kind
	s    string
	i    int64
	b    bool
}

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// IntValue returns an integer Value.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind returns the scalar type of v.
func (v Value) Kind() Kind { return v.kind }

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

type field struct {
	key   string
	value Value
}

// Message is an ordered set of named scalar fields. Setting an existing key
// replaces its value in place. The zero Message is empty and ready to use.
type Message struct {
	fields []field
}

// New returns an empty Message.
func New() *Message {
	return &Message{}
}

// Set stores v under key.
func (m *Message) Set(key string, v Value) *Message {
	for i := range m.fields {
		if m.fields[i].key == key {
			m.fields[i].value = v
			return m
		}
	}
	m.fields = append(m.fields, field{key: key, value: v})
	return m
}

// SetString stores a string field.
func (m *Message) SetString(key, s string) *Message { return m.Set(key, StringValue(s)) }

// SetInt stores an integer field.
func (m *Message) SetInt(key string, i int64) *Message { return m.Set(key, IntValue(i)) }

// SetBool stores a boolean field.
func (m *Message) SetBool(key string, b bool) *Message { return m.Set(key, BoolValue(b)) }

// Get returns the value stored under key.
func (m *Message) Get(key string) (Value, bool) {
	for _, f := range m.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return Value{}, false
}

// Has reports whether key is present.
func (m *Message) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// HasAll reports whether every key is present.
func (m *Message) HasAll(keys ...string) bool {
	for _, k := range keys {
		if !m.Has(k) {
			return false
		}
	}
	return true
}

func (m *Message) typed(key string, kind Kind) (Value, error) {
	v, ok := m.Get(key)
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	if v.kind != kind {
		return Value{}, fmt.Errorf("%w: %s is %s, want %s", ErrFieldType, key, v.kind, kind)
	}
	return v, nil
}

// String returns the string field stored under key.
func (m *Message) String(key string) (string, error) {
	v, err := m.typed(key, KindString)
	return v.s, err
}

// Int returns the integer field stored under key.
func (m *Message) Int(key string) (int64, error) {
	v, err := m.typed(key, KindInt)
	return v.i, err
}

// Bool returns the boolean field stored under key.
func (m *Message) Bool(key string) (bool, error) {
	v, err := m.typed(key, KindBool)
	return v.b, err
}

// Keys returns the field names in insertion order.
func (m *Message) Keys() []string {
	keys := make([]string, len(m.fields))
	for i, f := range m.fields {
		keys[i] = f.key
	}
	return keys
}

// Len returns the number of fields.
func (m *Message) Len() int { return len(m.fields) }

// Clear removes all fields.
func (m *Message) Clear() { m.fields = m.fields[:0] }

// MarshalJSON encodes m as a JSON object with keys in insertion order.
func (m *Message) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')

		var raw []byte
		switch f.value.kind {
		case KindString:
			raw, err = json.Marshal(f.value.s)
		case KindInt:
			raw = strconv.AppendInt(nil, f.value.i, 10)
		case KindBool:
			raw = strconv.AppendBool(nil, f.value.b)
		default:
			err = fmt.Errorf("%w: field %s has no value", ErrUnsupportedValue, f.key)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object, preserving key order. Nested
// objects, arrays, nulls and non-integer numbers are rejected.
func (m *Message) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("message: decode: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: top level must be an object", ErrUnsupportedValue)
	}

	m.Clear()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("message: decode: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: non-string key", ErrUnsupportedValue)
		}

		tok, err = dec.Token()
		if err != nil {
			return fmt.Errorf("message: decode %s: %w", key, err)
		}
		switch v := tok.(type) {
		case string:
			m.SetString(key, v)
		case bool:
			m.SetBool(key, v)
		case json.Number:
			i, err := v.Int64()
			if err != nil {
				return fmt.Errorf("%w: %s is not an integer", ErrUnsupportedValue, key)
			}
			m.SetInt(key, i)
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedValue, key)
		}
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("message: decode: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data", ErrUnsupportedValue)
	}
	return nil
}

// LogValue renders m as a group of its fields for structured logging.
func (m *Message) LogValue() slog.Value {
	attrs := make([]slog.Attr, len(m.fields))
	for i, f := range m.fields {
		attrs[i] = slog.String(f.key, f.value.String())
	}
	return slog.GroupValue(attrs...)
}

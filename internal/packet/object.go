package packet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Object is a JSON object that remembers the order of its members.
// Objects returned by decoding or by a Packet are read-only.
type Object struct {
	keys   []string
	values map[string]json.RawMessage
}

func newObject() *Object {
	return &Object{values: make(map[string]json.RawMessage)}
}

func (o *Object) set(key string, raw json.RawMessage) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = raw
}

// Len returns the number of members.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Keys returns the member names in the order they were received.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	keys := make([]string, len(o.keys))
	copy(keys, o.keys)
	return keys
}

// Has reports whether the member exists, regardless of its value.
func (o *Object) Has(key string) bool {
	if o == nil {
		return false
	}
	_, ok := o.values[key]
	return ok
}

// Raw returns the undecoded JSON of a member.
func (o *Object) Raw(key string) (json.RawMessage, bool) {
	if o == nil {
		return nil, false
	}
	raw, ok := o.values[key]
	return raw, ok
}

// Range calls f for each member in order until f returns false.
func (o *Object) Range(f func(key string, raw json.RawMessage) bool) {
	if o == nil {
		return
	}
	for _, key := range o.keys {
		if !f(key, o.values[key]) {
			return
		}
	}
}

func (o *Object) lookup(key, want string) (json.RawMessage, error) {
	raw, ok := o.Raw(key)
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, ErrFieldMissing)
	}
	if got := Kind(raw); got != want {
		return nil, fmt.Errorf("%q: expected %s, got %s: %w", key, want, got, ErrTypeMismatch)
	}
	return raw, nil
}

// GetString returns a string member.
func (o *Object) GetString(key string) (string, error) {
	raw, err := o.lookup(key, KindString)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%q: %v: %w", key, err, ErrTypeMismatch)
	}
	return s, nil
}

// GetInt returns an integer member. Numbers with a fractional part are a
// type mismatch.
func (o *Object) GetInt(key string) (int64, error) {
	raw, err := o.lookup(key, KindNumber)
	if err != nil {
		return 0, err
	}
	n, err := parseInt(raw)
	if err != nil {
		return 0, fmt.Errorf("%q: %v: %w", key, err, ErrTypeMismatch)
	}
	return n, nil
}

// GetBool returns a boolean member.
func (o *Object) GetBool(key string) (bool, error) {
	raw, err := o.lookup(key, KindBool)
	if err != nil {
		return false, err
	}
	return bytes.Equal(bytes.TrimSpace(raw), []byte("true")), nil
}

// GetObject returns a nested object member.
func (o *Object) GetObject(key string) (*Object, error) {
	raw, err := o.lookup(key, KindObject)
	if err != nil {
		return nil, err
	}
	obj := newObject()
	if err := obj.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("%q: %w", key, err)
	}
	return obj, nil
}

// GetStrings returns an array member whose elements are all strings.
func (o *Object) GetStrings(key string) ([]string, error) {
	raw, err := o.lookup(key, KindArray)
	if err != nil {
		return nil, err
	}
	var s []string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%q: %v: %w", key, err, ErrTypeMismatch)
	}
	return s, nil
}

// StringWithDefault returns a string member, or def if the member is
// missing or not a string.
func (o *Object) StringWithDefault(key, def string) string {
	s, err := o.GetString(key)
	if err != nil {
		return def
	}
	return s
}

// IntWithDefault returns an integer member, or def if the member is missing
// or not an integer.
func (o *Object) IntWithDefault(key string, def int64) int64 {
	n, err := o.GetInt(key)
	if err != nil {
		return def
	}
	return n
}

// MarshalJSON encodes the members in order.
func (o *Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(o.values[key])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping member order. A repeated
// member keeps its first position and its last value.
func (o *Object) UnmarshalJSON(data []byte) error {
	if Kind(data) != KindObject {
		return fmt.Errorf("expected object, got %s: %w", Kind(data), ErrTypeMismatch)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return err
	}
	o.keys = nil
	o.values = make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		o.set(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// JSON value kinds as reported by Kind.
const (
	KindObject  = "object"
	KindArray   = "array"
	KindString  = "string"
	KindNumber  = "number"
	KindBool    = "boolean"
	KindNull    = "null"
	KindInvalid = "invalid"
)

// Kind returns the JSON kind of an encoded value.
func Kind(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return KindInvalid
	}
	switch c := raw[0]; {
	case c == '{':
		return KindObject
	case c == '[':
		return KindArray
	case c == '"':
		return KindString
	case c == 't' || c == 'f':
		return KindBool
	case c == 'n':
		return KindNull
	case c == '-' || (c >= '0' && c <= '9'):
		return KindNumber
	}
	return KindInvalid
}

func parseInt(raw json.RawMessage) (int64, error) {
	num := json.Number(bytes.TrimSpace(raw))
	if n, err := num.Int64(); err == nil {
		return n, nil
	}
	f, err := num.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%s is not an integer", num)
	}
	return int64(f), nil
}

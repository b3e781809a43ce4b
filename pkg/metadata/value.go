// Package metadata implements the self-describing tree attached to every
// data object: a tagged union of null, bool, double, string, bytes, array
// and object values.
//
// A Value exclusively owns its children. Values handed to Append, InsertAt,
// Set and Insert are deep-copied, so a tree can never contain a cycle or a
// node shared with another tree. Object keys keep their insertion order.
package metadata

import (
	"bytes"
	"math"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
)

// Kind is the variant of a Value. The numeric value is the on-disk tag.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindDouble
	KindString
	KindBytes
	KindArray
	KindObject
)

var kindNames = [...]string{"null", "bool", "double", "string", "bytes", "array", "object"}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is one node of a metadata tree.
type Value struct {
	kind   Kind
	b      bool
	d      float64
	s      string
	raw    []byte
	items  []*Value
	keys   []string
	fields map[string]*Value
}

// Null returns a null value.
func Null() *Value { return &Value{kind: KindNull} }

// Bool returns a bool value.
func Bool(b bool) *Value { return &Value{kind: KindBool, b: b} }

// Double returns a double value.
func Double(f float64) *Value { return &Value{kind: KindDouble, d: f} }

// String returns a string value.
func String(s string) *Value { return &Value{kind: KindString, s: s} }

// Bytes returns a bytes value holding a copy of b.
func Bytes(b []byte) *Value {
	return &Value{kind: KindBytes, raw: append([]byte{}, b...)}
}

// NewArray returns an empty array.
func NewArray() *Value { return &Value{kind: KindArray} }

// NewObject returns an empty object.
func NewObject() *Value {
	return &Value{kind: KindObject, fields: make(map[string]*Value)}
}

// Kind returns the variant. A nil Value is null.
func (v *Value) Kind() Kind {
	if v == nil {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether v is null.
func (v *Value) IsNull() bool { return v.Kind() == KindNull }

// AsBool returns the bool payload.
func (v *Value) AsBool() (bool, bool) {
	if v.Kind() != KindBool {
		return false, false
	}
	return v.b, true
}

// AsDouble returns the double payload.
func (v *Value) AsDouble() (float64, bool) {
	if v.Kind() != KindDouble {
		return 0, false
	}
	return v.d, true
}

// AsString returns the string payload.
func (v *Value) AsString() (string, bool) {
	if v.Kind() != KindString {
		return "", false
	}
	return v.s, true
}

// AsBytes returns a copy of the bytes payload.
func (v *Value) AsBytes() ([]byte, bool) {
	if v.Kind() != KindBytes {
		return nil, false
	}
	return append([]byte{}, v.raw...), true
}

// Len returns the number of children of an array or object, 0 otherwise.
func (v *Value) Len() int {
	switch v.Kind() {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.keys)
	}
	return 0
}

func (v *Value) expect(k Kind, op string) error {
	if v.Kind() != k {
		return errors.Newf(errors.ErrorTypeTypeMismatch, "%s on %s value, want %s", op, v.Kind(), k).
			WithDetail("kind", v.Kind().String())
	}
	return nil
}

// owned returns the deep copy stored when child is inserted.
func owned(child *Value) *Value {
	if child == nil {
		return Null()
	}
	return child.Clone()
}

// Append adds a copy of child to the end of an array.
func (v *Value) Append(child *Value) error {
	if err := v.expect(KindArray, "append"); err != nil {
		return err
	}
	v.items = append(v.items, owned(child))
	return nil
}

// InsertAt inserts a copy of child before index i; i == Len appends.
func (v *Value) InsertAt(i int, child *Value) error {
	if err := v.expect(KindArray, "insert"); err != nil {
		return err
	}
	if i < 0 || i > len(v.items) {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "index %d out of range [0, %d]", i, len(v.items))
	}
	v.items = append(v.items, nil)
	copy(v.items[i+1:], v.items[i:])
	v.items[i] = owned(child)
	return nil
}

// RemoveAt removes the element at index i.
func (v *Value) RemoveAt(i int) error {
	if err := v.expect(KindArray, "remove"); err != nil {
		return err
	}
	if i < 0 || i >= len(v.items) {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "index %d out of range [0, %d)", i, len(v.items))
	}
	v.items = append(v.items[:i], v.items[i+1:]...)
	return nil
}

// At returns the element at index i. The returned node is owned by v.
func (v *Value) At(i int) (*Value, bool) {
	if v.Kind() != KindArray || i < 0 || i >= len(v.items) {
		return nil, false
	}
	return v.items[i], true
}

// Set stores a copy of child under key, replacing an existing entry in place.
func (v *Value) Set(key string, child *Value) error {
	if err := v.expect(KindObject, "set"); err != nil {
		return err
	}
	if _, ok := v.fields[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.fields[key] = owned(child)
	return nil
}

// Insert stores a copy of child under a new key. An existing key is a
// conflict and leaves v unchanged.
func (v *Value) Insert(key string, child *Value) error {
	if err := v.expect(KindObject, "insert"); err != nil {
		return err
	}
	if _, ok := v.fields[key]; ok {
		return errors.Newf(errors.ErrorTypeConflict, "key %q already exists", key).WithDetail("key", key)
	}
	v.keys = append(v.keys, key)
	v.fields[key] = owned(child)
	return nil
}

// Remove deletes key, reporting whether it was present.
func (v *Value) Remove(key string) bool {
	if v.Kind() != KindObject {
		return false
	}
	if _, ok := v.fields[key]; !ok {
		return false
	}
	delete(v.fields, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the child stored under key. The returned node is owned by v
// and may be edited in place.
func (v *Value) Get(key string) (*Value, bool) {
	if v.Kind() != KindObject {
		return nil, false
	}
	c, ok := v.fields[key]
	return c, ok
}

// Lookup follows a path of object keys from v.
func (v *Value) Lookup(path ...string) (*Value, bool) {
	cur := v
	for _, k := range path {
		next, ok := cur.Get(k)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Keys returns the object keys in insertion order.
func (v *Value) Keys() []string {
	if v.Kind() != KindObject {
		return nil
	}
	return append([]string(nil), v.keys...)
}

// Clone returns a deep copy of v.
func (v *Value) Clone() *Value {
	if v == nil {
		return Null()
	}
	out := &Value{kind: v.kind, b: v.b, d: v.d, s: v.s}
	switch v.kind {
	case KindBytes:
		out.raw = append([]byte{}, v.raw...)
	case KindArray:
		out.items = make([]*Value, len(v.items))
		for i, c := range v.items {
			out.items[i] = c.Clone()
		}
	case KindObject:
		out.keys = append([]string(nil), v.keys...)
		out.fields = make(map[string]*Value, len(v.fields))
		for k, c := range v.fields {
			out.fields[k] = c.Clone()
		}
	}
	return out
}

// Equal reports structural equality, including object key order. Doubles
// compare by bit pattern so NaN equals itself.
func (v *Value) Equal(o *Value) bool {
	if v.Kind() != o.Kind() {
		return false
	}
	switch v.Kind() {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindDouble:
		return math.Float64bits(v.d) == math.Float64bits(o.d)
	case KindString:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindArray:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.keys) != len(o.keys) {
			return false
		}
		for i, k := range v.keys {
			if o.keys[i] != k || !v.fields[k].Equal(o.fields[k]) {
				return false
			}
		}
		return true
	}
	return false
}

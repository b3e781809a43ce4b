package metadata

import (
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/stream"
)

// MaxDepth bounds container nesting accepted by Decode.
const MaxDepth = 256

// Encode writes v at the stream position: one tag byte, then the scalar
// payload inline, or a uint32 count followed by the children. Object
// children are (key string, node) pairs.
func Encode(s *stream.Stream, v *Value) {
	k := v.Kind()
	s.WriteUint8(uint8(k))
	switch k {
	case KindBool:
		s.WriteBool(v.b)
	case KindDouble:
		s.WriteFloat64(v.d)
	case KindString:
		s.WriteString(v.s)
	case KindBytes:
		s.WriteBytes(v.raw)
	case KindArray:
		s.WriteUint32(uint32(len(v.items)))
		for _, c := range v.items {
			Encode(s, c)
		}
	case KindObject:
		s.WriteUint32(uint32(len(v.keys)))
		for _, key := range v.keys {
			s.WriteString(key)
			Encode(s, v.fields[key])
		}
	}
}

// Decode reads one tree at the stream position. Unknown tags, nesting past
// MaxDepth, counts that cannot fit in the remaining bytes and duplicate
// object keys fail with corrupt_data.
func Decode(s *stream.Stream) (*Value, error) {
	v := decode(s, 0)
	if err := s.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

func corrupt(s *stream.Stream, format string, args ...interface{}) *Value {
	s.Fail(errors.Newf(errors.ErrorTypeCorruptData, format, args...))
	return nil
}

func decode(s *stream.Stream, depth int) *Value {
	tag := s.ReadUint8()
	if !s.Ok() {
		return nil
	}
	switch Kind(tag) {
	case KindNull:
		return Null()
	case KindBool:
		return Bool(s.ReadBool())
	case KindDouble:
		return Double(s.ReadFloat64())
	case KindString:
		return String(s.ReadString())
	case KindBytes:
		b := s.ReadBytes()
		return &Value{kind: KindBytes, raw: b}
	case KindArray, KindObject:
		if depth >= MaxDepth {
			return corrupt(s, "metadata nested deeper than %d", MaxDepth)
		}
		n := s.ReadUint32()
		if !s.Ok() {
			return nil
		}
		// every child needs at least one tag byte, object entries five more
		if int64(n) > s.Remaining() {
			return corrupt(s, "metadata count %d exceeds %d remaining bytes", n, s.Remaining())
		}
		if Kind(tag) == KindArray {
			arr := &Value{kind: KindArray, items: make([]*Value, 0, n)}
			for i := uint32(0); i < n; i++ {
				c := decode(s, depth+1)
				if !s.Ok() {
					return nil
				}
				arr.items = append(arr.items, c)
			}
			return arr
		}
		obj := NewObject()
		obj.keys = make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			key := s.ReadString()
			c := decode(s, depth+1)
			if !s.Ok() {
				return nil
			}
			if _, dup := obj.fields[key]; dup {
				return corrupt(s, "duplicate metadata key %q", key)
			}
			obj.keys = append(obj.keys, key)
			obj.fields[key] = c
		}
		return obj
	default:
		return corrupt(s, "unknown metadata tag %d", tag)
	}
}

// Marshal encodes v into a standalone byte slice.
func Marshal(v *Value) ([]byte, error) {
	buf := &stream.Buffer{}
	s := stream.New(buf)
	Encode(s, v)
	if err := s.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a tree that must span all of data.
func Unmarshal(data []byte) (*Value, error) {
	s := stream.New(stream.NewBuffer(data))
	v, err := Decode(s)
	if err != nil {
		return nil, err
	}
	if s.Remaining() != 0 {
		return nil, errors.Newf(errors.ErrorTypeCorruptData, "%d trailing bytes after metadata", s.Remaining())
	}
	return v, nil
}

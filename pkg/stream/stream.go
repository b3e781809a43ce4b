// Package stream implements the binary codec every data object is read and
// written through.
//
// Scalars are little-endian and fixed width. Strings and byte blobs carry a
// uint32 byte length followed by the raw bytes. A Stream remembers the first
// failure: once an operation fails, every later operation is a no-op that
// returns the zero value, until Reset. Callers check Err once after a
// sequence of operations.
//
//	s := stream.New(medium)
//	n := s.ReadUint32()
//	name := s.ReadString()
//	if err := s.Err(); err != nil {
//	    return err
//	}
package stream

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
)

// MaxLength is the largest string or blob length representable on disk.
const MaxLength = math.MaxUint32

// Stream is a positioned codec over a Medium with a sticky error.
type Stream struct {
	m   Medium
	pos int64
	err error
}

// New returns a stream positioned at the start of m.
func New(m Medium) *Stream {
	return &Stream{m: m}
}

// NewAt returns a stream positioned at pos.
func NewAt(m Medium, pos int64) *Stream {
	return &Stream{m: m, pos: pos}
}

// Medium returns the underlying medium.
func (s *Stream) Medium() Medium { return s.m }

// Pos returns the current position.
func (s *Stream) Pos() int64 { return s.pos }

// Seek moves the position. It does not clear the error flag.
func (s *Stream) Seek(pos int64) { s.pos = pos }

// Err returns the first failure since construction or the last Reset.
func (s *Stream) Err() error { return s.err }

// Ok reports whether no operation has failed.
func (s *Stream) Ok() bool { return s.err == nil }

// Reset clears the error flag.
func (s *Stream) Reset() { s.err = nil }

// Remaining returns the bytes between the position and the end of the medium.
func (s *Stream) Remaining() int64 {
	n, err := s.m.Size()
	if err != nil || n < s.pos {
		return 0
	}
	return n - s.pos
}

func (s *Stream) fail(err *errors.Error) {
	if s.err == nil {
		s.err = err.WithDetail("offset", s.pos)
	}
}

// Fail records err as the stream failure unless one is already set. Codecs
// layered on a Stream use it to report structural errors.
func (s *Stream) Fail(err error) {
	if s.err != nil || err == nil {
		return
	}
	var e *errors.Error
	if errors.As(err, &e) {
		s.fail(e)
		return
	}
	s.err = err
}

func (s *Stream) read(n int) []byte {
	if s.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf
	}
	got, err := s.m.ReadAt(buf, s.pos)
	if got < n {
		if err != nil && err != io.EOF && !errors.IsType(err, errors.ErrorTypeCorruptData) {
			s.fail(errors.Wrap(err, errors.ErrorTypeIO, "read failed"))
			return nil
		}
		s.fail(errors.Newf(errors.ErrorTypeCorruptData, "short read: wanted %d bytes, got %d", n, got))
		return nil
	}
	s.pos += int64(n)
	return buf
}

func (s *Stream) write(p []byte) {
	if s.err != nil {
		return
	}
	n, err := s.m.WriteAt(p, s.pos)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		s.fail(errors.Wrap(err, errors.ErrorTypeIO, "write failed"))
		return
	}
	s.pos += int64(n)
}

// WriteUint8 writes one byte.
func (s *Stream) WriteUint8(v uint8) { s.write([]byte{v}) }

// WriteUint16 writes a little-endian uint16.
func (s *Stream) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	s.write(b[:])
}

// WriteUint32 writes a little-endian uint32.
func (s *Stream) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	s.write(b[:])
}

// WriteUint64 writes a little-endian uint64.
func (s *Stream) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	s.write(b[:])
}

// WriteInt8 writes v as its two's complement byte.
func (s *Stream) WriteInt8(v int8) { s.WriteUint8(uint8(v)) }

// WriteInt16 writes a little-endian int16.
func (s *Stream) WriteInt16(v int16) { s.WriteUint16(uint16(v)) }

// WriteInt32 writes a little-endian int32.
func (s *Stream) WriteInt32(v int32) { s.WriteUint32(uint32(v)) }

// WriteInt64 writes a little-endian int64.
func (s *Stream) WriteInt64(v int64) { s.WriteUint64(uint64(v)) }

// WriteFloat32 writes the IEEE-754 bits of v.
func (s *Stream) WriteFloat32(v float32) { s.WriteUint32(math.Float32bits(v)) }

// WriteFloat64 writes the IEEE-754 bits of v.
func (s *Stream) WriteFloat64(v float64) { s.WriteUint64(math.Float64bits(v)) }

// WriteBool writes 1 for true and 0 for false.
func (s *Stream) WriteBool(v bool) {
	if v {
		s.WriteUint8(1)
	} else {
		s.WriteUint8(0)
	}
}

// WriteBytes writes a length-prefixed blob.
func (s *Stream) WriteBytes(p []byte) {
	if s.err != nil {
		return
	}
	if uint64(len(p)) > MaxLength {
		s.fail(errors.Newf(errors.ErrorTypeInvalidArgument, "blob of %d bytes exceeds length limit", len(p)))
		return
	}
	s.WriteUint32(uint32(len(p)))
	s.write(p)
}

// WriteString writes a length-prefixed UTF-8 string.
func (s *Stream) WriteString(v string) { s.WriteBytes([]byte(v)) }

// WriteRaw writes p without a length prefix.
func (s *Stream) WriteRaw(p []byte) { s.write(p) }

// ReadUint8 reads one byte.
func (s *Stream) ReadUint8() uint8 {
	b := s.read(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadUint16 reads a little-endian uint16.
func (s *Stream) ReadUint16() uint16 {
	b := s.read(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// ReadUint32 reads a little-endian uint32.
func (s *Stream) ReadUint32() uint32 {
	b := s.read(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadUint64 reads a little-endian uint64.
func (s *Stream) ReadUint64() uint64 {
	b := s.read(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ReadInt8 reads one two's complement byte.
func (s *Stream) ReadInt8() int8 { return int8(s.ReadUint8()) }

// ReadInt16 reads a little-endian int16.
func (s *Stream) ReadInt16() int16 { return int16(s.ReadUint16()) }

// ReadInt32 reads a little-endian int32.
func (s *Stream) ReadInt32() int32 { return int32(s.ReadUint32()) }

// ReadInt64 reads a little-endian int64.
func (s *Stream) ReadInt64() int64 { return int64(s.ReadUint64()) }

// ReadFloat32 reads an IEEE-754 single.
func (s *Stream) ReadFloat32() float32 { return math.Float32frombits(s.ReadUint32()) }

// ReadFloat64 reads an IEEE-754 double.
func (s *Stream) ReadFloat64() float64 { return math.Float64frombits(s.ReadUint64()) }

// ReadBool reads a byte; any non-zero value is true.
func (s *Stream) ReadBool() bool { return s.ReadUint8() != 0 }

// ReadBytes reads a length-prefixed blob. A length running past the end of
// the medium fails with corrupt_data and returns nil.
func (s *Stream) ReadBytes() []byte {
	n := s.ReadLength()
	if s.err != nil {
		return nil
	}
	return s.read(int(n))
}

// ReadString reads a length-prefixed string.
func (s *Stream) ReadString() string {
	b := s.ReadBytes()
	if b == nil {
		return ""
	}
	return string(b)
}

// ReadRaw reads exactly n bytes without a length prefix.
func (s *Stream) ReadRaw(n int) []byte {
	if n < 0 {
		s.fail(errors.Newf(errors.ErrorTypeInvalidArgument, "negative read length %d", n))
		return nil
	}
	return s.read(n)
}

// ReadLength reads a uint32 length prefix and checks it against the bytes
// remaining, so a corrupt length never triggers a huge allocation.
func (s *Stream) ReadLength() uint32 {
	n := s.ReadUint32()
	if s.err != nil {
		return 0
	}
	if int64(n) > s.Remaining() {
		s.fail(errors.Newf(errors.ErrorTypeCorruptData, "length %d exceeds %d remaining bytes", n, s.Remaining()))
		return 0
	}
	return n
}

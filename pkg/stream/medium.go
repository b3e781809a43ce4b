package stream

import (
	"io"
	"os"
	"sync"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
)

// Medium is a random access byte store a Stream reads and writes.
// *os.File satisfies it through FileMedium; Buffer is the in-memory form.
type Medium interface {
	io.ReaderAt
	io.WriterAt
	// Size returns the current length of the medium in bytes.
	Size() (int64, error)
}

// Buffer is a growable in-memory Medium. The zero value is empty and ready
// to use.
type Buffer struct {
	mu   sync.RWMutex
	data []byte
}

// NewBuffer returns a Buffer holding a copy of data.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: append([]byte(nil), data...)}
}

// ReadAt implements io.ReaderAt.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if off < 0 {
		return 0, errors.New(errors.ErrorTypeInvalidArgument, "negative offset")
	}
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt, zero filling any gap past the end.
func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if off < 0 {
		return 0, errors.New(errors.ErrorTypeInvalidArgument, "negative offset")
	}
	if end := off + int64(len(p)); end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	return copy(b.data[off:], p), nil
}

// Size returns the buffer length.
func (b *Buffer) Size() (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.data)), nil
}

// Truncate resizes the buffer, zero filling on growth.
func (b *Buffer) Truncate(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= int64(len(b.data)) {
		b.data = b.data[:n]
		return
	}
	grown := make([]byte, n)
	copy(grown, b.data)
	b.data = grown
}

// Bytes returns a copy of the contents.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]byte(nil), b.data...)
}

// SectionMedium exposes the tail of another Medium starting at Offset, so
// payload positions count from zero.
type SectionMedium struct {
	M      Medium
	Offset int64
}

// ReadAt implements io.ReaderAt.
func (s SectionMedium) ReadAt(p []byte, off int64) (int, error) {
	return s.M.ReadAt(p, s.Offset+off)
}

// WriteAt implements io.WriterAt.
func (s SectionMedium) WriteAt(p []byte, off int64) (int, error) {
	return s.M.WriteAt(p, s.Offset+off)
}

// Size returns the length past Offset.
func (s SectionMedium) Size() (int64, error) {
	n, err := s.M.Size()
	if err != nil {
		return 0, err
	}
	if n < s.Offset {
		return 0, nil
	}
	return n - s.Offset, nil
}

// FileMedium adapts an *os.File.
type FileMedium struct {
	*os.File
}

// Size returns the file length.
func (f FileMedium) Size() (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

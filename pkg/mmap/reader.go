// Package mmap provides a read-only memory mapped view of a data object file.
//
// Merges and dumps only read their inputs, so the file is mapped once and
// every header, metadata and record read becomes a slice copy.
package mmap

import (
	"io"
	"os"
	"sync"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
)

// Reader is an io.ReaderAt over a memory mapped file.
type Reader struct {
	file   *os.File
	data   []byte
	size   int64
	mapped bool

	mu sync.RWMutex
}

// Open maps filename read-only. Empty files are valid and yield a zero size
// reader without a mapping.
func Open(filename string) (*Reader, error) {
	file, err := os.Open(filename) //nolint:gosec // path is chosen by the caller
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeIO, "failed to open %s", filename).
			WithDetail("path", filename)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, errors.ErrorTypeIO, "failed to stat %s", filename).
			WithDetail("path", filename)
	}

	r := &Reader{file: file, size: stat.Size()}
	if r.size == 0 {
		return r, nil
	}

	data, mapped, err := mapFile(file, r.size)
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, errors.ErrorTypeIO, "failed to map %s", filename).
			WithDetail("path", filename)
	}
	r.data = data
	r.mapped = mapped
	return r, nil
}

// ReadAt implements io.ReaderAt.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.file == nil {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, errors.New(errors.ErrorTypeInvalidArgument, "negative offset")
	}
	if off >= r.size {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt always fails: the mapping is read-only.
func (r *Reader) WriteAt(p []byte, off int64) (int, error) {
	return 0, errors.New(errors.ErrorTypeIO, "object is opened read-only")
}

// Size returns the mapped length.
func (r *Reader) Size() (int64, error) {
	return r.size, nil
}

// Bytes exposes the mapping. The slice is invalid after Close.
func (r *Reader) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data
}

// Close unmaps the file and closes it
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.data != nil && r.mapped {
		err = unmapFile(r.data)
	}
	r.data = nil

	if r.file != nil {
		if closeErr := r.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		r.file = nil
	}

	return err
}

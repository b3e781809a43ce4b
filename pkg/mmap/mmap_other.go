//go:build !linux && !darwin
// +build !linux,!darwin

package mmap

import (
	"io"
	"os"
)

// mapFile falls back to reading the whole file on platforms without mmap.
func mapFile(f *os.File, size int64) ([]byte, bool, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, false, err
	}
	return data, false, nil
}

func unmapFile(b []byte) error {
	return nil
}

//go:build linux
// +build linux

package mmap

import (
	"os"
	"syscall"
)

func mapFile(f *os.File, size int64) ([]byte, bool, error) {
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, false, err
	}
	// readers walk records front to back
	_ = syscall.Madvise(data, syscall.MADV_SEQUENTIAL)
	return data, true, nil
}

func unmapFile(b []byte) error {
	return syscall.Munmap(b)
}

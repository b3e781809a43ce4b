//go:build darwin
// +build darwin

package mmap

import (
	"os"
	"syscall"
	"unsafe"
)

const madvSequential = 2

func mapFile(f *os.File, size int64) ([]byte, bool, error) {
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, false, err
	}
	_, _, _ = syscall.Syscall(syscall.SYS_MADVISE, uintptr(unsafe.Pointer(&data[0])), uintptr(len(data)), madvSequential)
	return data, true, nil
}

func unmapFile(b []byte) error {
	return syscall.Munmap(b)
}

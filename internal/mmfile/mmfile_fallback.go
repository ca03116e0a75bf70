//go:build !unix

package mmfile

import (
	"fmt"
	"os"
)

func noop() error { return nil }

// Map falls back to reading the whole file on platforms without mmap.
func Map(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, noop, fmt.Errorf("mmfile: read %s: %w", path, err)
	}
	return data, noop, nil
}

// Anon returns a zeroed heap buffer of size bytes.
func Anon(size int) ([]byte, func() error, error) {
	return make([]byte, max(size, 0)), noop, nil
}

// SyncFile flushes f's contents to stable storage.
func SyncFile(f *os.File) error {
	return f.Sync()
}

package source

import (
	"context"
	"fmt"
	"io"
	"os"
)

// FileSource reads from a local file. It is the non-network reference
// source: no reconnect support, no capability flags.
type FileSource struct {
	f *os.File
}

// OpenFile opens path for random-access reads.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}
	return &FileSource{f: f}, nil
}

// ReadAt reads up to len(p) bytes at offset off.
func (s *FileSource) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	n, err := s.f.ReadAt(p, off)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		err = io.EOF
	}
	return 0, err
}

// Flags reports no capabilities: local files need neither prefetching nor
// reconnects.
func (s *FileSource) Flags() Flags { return 0 }

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.f.Close()
}

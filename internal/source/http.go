package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// HTTPSource streams a remote resource over HTTP range requests. It keeps
// one open response body at the current position so sequential fetches
// ride a single connection; a read at any other offset reopens the
// request there.
type HTTPSource struct {
	url    string
	client *http.Client
	logger *zap.Logger

	mu   sync.Mutex
	body io.ReadCloser
	pos  int64
}

// NewHTTPSource creates a source for the given URL. A nil client falls
// back to http.DefaultClient.
func NewHTTPSource(url string, client *http.Client, logger *zap.Logger) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSource{url: url, client: client, logger: logger}
}

// Flags marks the source as network-backed and wanting a prefetch layer.
func (s *HTTPSource) Flags() Flags {
	return FlagNetworkBacked | FlagWantsPrefetching
}

// ReadAt reads up to len(p) bytes at offset off. (0, io.EOF) signals end
// of stream.
func (s *HTTPSource) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.body == nil || s.pos != off {
		if err := s.connectLocked(ctx, off); err != nil {
			return 0, err
		}
	}
	if s.body == nil {
		// Range starts at or past the end of the resource.
		return 0, io.EOF
	}

	n, err := s.body.Read(p)
	s.pos += int64(n)
	if n > 0 {
		return n, nil
	}
	if err == io.EOF {
		return 0, io.EOF
	}
	// Broken body; drop it so the next read reconnects.
	s.closeLocked()
	return 0, fmt.Errorf("read %s at %d: %w", s.url, off, err)
}

// ReconnectAt drops the current connection and re-establishes it at off.
// A server that ignores range requests cannot be resumed mid-stream and
// reports ErrReconnectUnsupported.
func (s *HTTPSource) ReconnectAt(ctx context.Context, off int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()
	return s.connectLocked(ctx, off)
}

// Disconnect closes the streaming body and any idle connections. The next
// read transparently reconnects.
func (s *HTTPSource) Disconnect() {
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
	s.client.CloseIdleConnections()
}

// Close releases the connection for good.
func (s *HTTPSource) Close() error {
	s.Disconnect()
	return nil
}

// connectLocked opens an open-ended range request starting at off. On
// success s.body is positioned at off; a satisfiable-range miss (the
// offset is at or past the end) leaves s.body nil.
func (s *HTTPSource) connectLocked(ctx context.Context, off int64) error {
	s.closeLocked()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", s.url, err)
	}
	if off > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", off))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect %s at %d: %w", s.url, off, err)
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent,
		resp.StatusCode == http.StatusOK && off == 0:
		s.body = resp.Body
		s.pos = off
		return nil
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		_ = resp.Body.Close()
		return nil
	case resp.StatusCode == http.StatusOK:
		// Server ignored the Range header; resuming mid-stream is
		// structurally impossible.
		_ = resp.Body.Close()
		s.logger.Warn("server does not support range requests",
			zap.String("url", s.url))
		return ErrReconnectUnsupported
	default:
		_ = resp.Body.Close()
		return fmt.Errorf("connect %s at %d: unexpected status %s",
			s.url, off, resp.Status)
	}
}

func (s *HTTPSource) closeLocked() {
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
	}
}

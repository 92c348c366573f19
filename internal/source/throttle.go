package source

import (
	"context"

	"golang.org/x/time/rate"
)

// ThrottledSource caps the byte rate drawn from a wrapped source with a
// token bucket. Useful to keep background prefetching polite on shared
// links, and to simulate slow sources in tests.
type ThrottledSource struct {
	src     Source
	limiter *rate.Limiter
}

// NewThrottledSource wraps src with a bytesPerSec token bucket allowing
// bursts of up to burst bytes.
func NewThrottledSource(src Source, bytesPerSec float64, burst int) *ThrottledSource {
	return &ThrottledSource{
		src:     src,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
	}
}

// ReadAt waits for rate budget covering len(p) bytes, then delegates.
func (s *ThrottledSource) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if b := s.limiter.Burst(); len(p) > b {
		p = p[:b]
	}
	if err := s.limiter.WaitN(ctx, len(p)); err != nil {
		return 0, err
	}
	return s.src.ReadAt(ctx, p, off)
}

// Flags reports the wrapped source's capabilities.
func (s *ThrottledSource) Flags() Flags { return s.src.Flags() }

// ReconnectAt delegates when the wrapped source supports reconnects.
func (s *ThrottledSource) ReconnectAt(ctx context.Context, off int64) error {
	if rc, ok := s.src.(Reconnecter); ok {
		return rc.ReconnectAt(ctx, off)
	}
	return ErrReconnectUnsupported
}

// Disconnect delegates when the wrapped source supports disconnects.
func (s *ThrottledSource) Disconnect() {
	if d, ok := s.src.(Disconnecter); ok {
		d.Disconnect()
	}
}

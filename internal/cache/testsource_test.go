package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/lakefront/streamcache/internal/source"
)

var errSimulatedIO = errors.New("simulated i/o failure")

// scriptedSource serves a fixed byte slice and can be told to fail the
// next N reads. It does not implement Reconnecter: reconnects against it
// are unsupported.
type scriptedSource struct {
	mu          sync.Mutex
	data        []byte
	flags       source.Flags
	failNext    int
	failFrom    int64 // reads at or past this offset fail; -1 disables
	reads       int
	readOffsets []int64
}

func newScriptedSource(data []byte) *scriptedSource {
	return &scriptedSource{data: data, failFrom: -1}
}

func (s *scriptedSource) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	s.readOffsets = append(s.readOffsets, off)

	if s.failNext > 0 {
		s.failNext--
		return 0, errSimulatedIO
	}
	if s.failFrom >= 0 && off >= s.failFrom {
		return 0, errSimulatedIO
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	return copy(p, s.data[off:]), nil
}

func (s *scriptedSource) Flags() source.Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

func (s *scriptedSource) setFailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

func (s *scriptedSource) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *scriptedSource) sawReadAt(off int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.readOffsets {
		if o == off {
			return true
		}
	}
	return false
}

func (s *scriptedSource) maxReadOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := int64(-1)
	for _, o := range s.readOffsets {
		if o > max {
			max = o
		}
	}
	return max
}

// netSource is a scriptedSource with reconnect/disconnect support, as a
// network-backed source would have.
type netSource struct {
	*scriptedSource
	reconnectErr error // nil = reconnect succeeds
	reconnects   int
	disconnects  int
}

func newNetSource(data []byte) *netSource {
	s := &netSource{scriptedSource: newScriptedSource(data)}
	s.flags = source.FlagNetworkBacked | source.FlagWantsPrefetching
	return s
}

func (s *netSource) ReconnectAt(_ context.Context, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return s.reconnectErr
}

func (s *netSource) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
}

func (s *netSource) disconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

func (s *netSource) reconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// blockingSource parks every read until its context is cancelled, as a
// stalled network source would.
type blockingSource struct{}

func (s *blockingSource) ReadAt(ctx context.Context, _ []byte, _ int64) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (s *blockingSource) Flags() source.Flags { return 0 }

// testParams returns tuning that makes the background loop fast enough
// for tests.
func testParams() Params {
	return Params{
		PageSize:       1024,
		HighWaterBytes: 1 << 30,
		LowWaterBytes:  1 << 20,
		MaxRetries:     10,
		RetryBackoff:   time.Millisecond,
		IdleTick:       time.Millisecond,
		ReadPoll:       time.Millisecond,
	}
}

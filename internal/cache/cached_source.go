// Package cache implements a streaming, read-ahead, memory-bounded cache in
// front of a slow or unreliable random-access byte source.
//
// A single background loop fetches ahead of the reader into fixed-size
// pages until a high-water mark, pauses, and resumes once the reader has
// consumed down to a low-water mark. Transient fetch errors are retried
// with backoff behind the reader's back; seeks re-anchor the window.
package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lakefront/streamcache/internal/source"
)

// ErrClosed is returned by ReadAt after Close.
var ErrClosed = errors.New("cache: closed")

// errTryAgain is the internal sentinel for "not satisfiable yet, re-poll".
var errTryAgain = errors.New("cache: try again")

// readRequest is the single in-flight foreground read handed to the
// background loop.
type readRequest struct {
	off  int64
	buf  []byte
	done bool
	n    int
	err  error
}

// CachedSource presents synchronous random-access reads over a Source,
// serving them from a prefetched in-memory window wherever possible.
//
// The design contract is one logical consumer at a time; concurrent
// callers of ReadAt are serialized, not fanned out.
type CachedSource struct {
	src    source.Source
	params Params
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// serial enforces at most one in-flight logical read.
	serial sync.Mutex

	// mu guards everything below. The background loop never holds it
	// across source I/O.
	mu            sync.Mutex
	cond          *sync.Cond
	pool          *PagePool
	window        *Window
	cacheOffset   int64 // logical offset of the window start
	lastAccessPos int64
	finalStatus   error // nil = ok, io.EOF = end of stream
	fetching      bool
	retriesLeft   int
	lastFetchTime time.Time
	pending       *readRequest
	closed        bool

	wake      chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New creates a CachedSource over src and starts its background loop.
// Zero fields of params fall back to defaults. A nil logger is replaced
// with a no-op one.
func New(src source.Source, params Params, logger *zap.Logger) *CachedSource {
	params.sanitize()
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &CachedSource{
		src:         src,
		params:      params,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		pool:        NewPagePool(params.PageSize),
		window:      NewWindow(),
		fetching:    true,
		retriesLeft: params.MaxRetries,
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)

	go c.loop()
	return c
}

// Flags reports the underlying source's capabilities, minus its wish for
// prefetching: this cache is that prefetch layer.
func (c *CachedSource) Flags() source.Flags {
	return c.src.Flags() &^ source.FlagWantsPrefetching
}

// ReadAt reads len(p) bytes at offset off, blocking until the data is
// cached or a terminal condition is reached. At end of stream it returns
// the remaining bytes with io.EOF; after the retry budget is exhausted it
// returns the recorded fetch error once cached bytes ahead of off are
// drained.
func (c *CachedSource) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// A request larger than the window can ever hold would never
	// complete; serve it as a short read.
	if int64(len(p)) > c.params.HighWaterBytes {
		p = p[:c.params.HighWaterBytes]
	}

	c.serial.Lock()
	defer c.serial.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}

	size := int64(len(p))
	if off >= c.cacheOffset && off+size <= c.cacheOffset+c.window.Size() {
		c.window.Copy(off-c.cacheOffset, p)
		c.lastAccessPos = off + size
		readsTotal.WithLabelValues("hit").Inc()
		bytesServed.Add(float64(size))
		return len(p), nil
	}

	readsTotal.WithLabelValues("miss").Inc()
	req := &readRequest{off: off, buf: p}
	c.pending = req
	c.kick()

	for !req.done && !c.closed {
		c.cond.Wait()
	}
	if !req.done {
		return 0, ErrClosed
	}
	if req.n > 0 {
		c.lastAccessPos = off + int64(req.n)
		bytesServed.Add(float64(req.n))
	}
	switch {
	case errors.Is(req.err, io.EOF):
		readsTotal.WithLabelValues("eos").Inc()
	case req.err != nil:
		readsTotal.WithLabelValues("error").Inc()
	}
	return req.n, req.err
}

// CachedSize returns the number of bytes currently held in the window.
func (c *CachedSource) CachedSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window.Size()
}

// ApproxDataRemaining returns the cached bytes ahead of the last access
// position and the terminal status, if any. While retries remain, a
// transient fetch error is reported as ok; end of stream is always
// reported.
func (c *CachedSource) ApproxDataRemaining() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.finalStatus
	if status != nil && !errors.Is(status, io.EOF) && c.retriesLeft > 0 {
		// Still inside the retry grace period.
		status = nil
	}

	end := c.cacheOffset + c.window.Size()
	if c.lastAccessPos < end {
		return end - c.lastAccessPos, status
	}
	return 0, status
}

// ResumeFetchingIfNecessary hints that a paused or disconnected source
// should resume eagerly, bypassing the low-water gate once.
func (c *CachedSource) ResumeFetchingIfNecessary() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restartPrefetcherLocked(true) {
		c.kick()
	}
}

// Close halts the background loop, fails any pending read, and releases
// all pages. It is idempotent.
func (c *CachedSource) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.cancel()
		<-c.doneCh

		c.mu.Lock()
		c.closed = true
		if req := c.pending; req != nil {
			req.done = true
			req.err = ErrClosed
			c.pending = nil
		}
		c.window.Clear(c.pool)
		windowBytes.Set(0)
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	return nil
}

// kick nudges the background loop out of its current delay.
func (c *CachedSource) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// readInternalLocked resolves a pending request against the current state.
// It returns errTryAgain when the request cannot be satisfied yet; the
// loop re-evaluates it on the next tick.
func (c *CachedSource) readInternalLocked(off int64, p []byte) (int, error) {
	size := int64(len(p))

	// Explicit demand implies renewed interest: resume a paused
	// prefetcher regardless of the low-water gate.
	if !c.fetching {
		c.lastAccessPos = off
		c.restartPrefetcherLocked(true)
	}

	if off < c.cacheOffset || off >= c.cacheOffset+c.window.Size() {
		c.seekLocked(off)
	}

	delta := off - c.cacheOffset

	if c.terminalLocked() {
		if delta >= c.window.Size() {
			if errors.Is(c.finalStatus, io.EOF) {
				return 0, io.EOF
			}
			return 0, c.finalStatus
		}
		avail := c.window.Size() - delta
		if avail > size {
			avail = size
		}
		c.window.Copy(delta, p[:avail])
		return int(avail), nil
	}

	if off+size <= c.cacheOffset+c.window.Size() {
		c.window.Copy(delta, p)
		return int(size), nil
	}

	return 0, errTryAgain
}

// terminalLocked reports whether the cache has stopped for good: end of
// stream, or a fetch error with no retries left.
func (c *CachedSource) terminalLocked() bool {
	if c.finalStatus == nil {
		return false
	}
	if errors.Is(c.finalStatus, io.EOF) {
		return true
	}
	return c.retriesLeft == 0
}

// seekLocked re-anchors the window a little before the requested offset.
// The padding absorbs nearby reads from sibling streams that would
// otherwise force a reseek each time. If the padded anchor still lands
// inside the window (its end included), the in-flight fetch will cover
// the request and nothing is discarded. A real seek is a fresh attempt at
// the byte range: terminal status is cleared and the retry budget
// restored.
func (c *CachedSource) seekLocked(off int64) {
	anchor := off - c.params.SeekPadding
	if anchor < 0 {
		anchor = 0
	}
	c.lastAccessPos = anchor

	if anchor >= c.cacheOffset && anchor <= c.cacheOffset+c.window.Size() {
		return
	}

	c.logger.Debug("seek outside window, re-anchoring",
		zap.Int64("offset", off),
		zap.Int64("anchor", anchor),
		zap.Int64("window_start", c.cacheOffset),
		zap.Int64("window_bytes", c.window.Size()))

	c.window.Clear(c.pool)
	windowBytes.Set(0)
	c.cacheOffset = anchor
	c.finalStatus = nil
	c.retriesLeft = c.params.MaxRetries
	c.fetching = true
	seeks.Inc()
}

// restartPrefetcherLocked evicts consumed pages and restarts fetching.
// With ignoreLowWater false it is a no-op while the unconsumed tail is
// still above the low-water mark. A gray area of recently consumed bytes
// near the access position is kept. Reports whether fetching was
// (re)started.
func (c *CachedSource) restartPrefetcherLocked(ignoreLowWater bool) bool {
	if c.fetching || c.terminalLocked() {
		return false
	}

	if !ignoreLowWater &&
		c.cacheOffset+c.window.Size()-c.lastAccessPos >= c.params.LowWaterBytes {
		return false
	}

	maxBytes := c.lastAccessPos - c.cacheOffset
	if maxBytes < c.params.GrayArea {
		return false
	}
	maxBytes -= c.params.GrayArea

	released := c.window.ReleaseFromStart(maxBytes, c.pool)
	c.cacheOffset += released
	bytesEvicted.Add(float64(released))
	windowBytes.Set(float64(c.window.Size()))

	c.fetching = true
	return true
}

package cache

import (
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/lakefront/streamcache/internal/source"
)

// loop is the single background goroutine owning the fetch state machine.
// Each tick reschedules itself with an explicit delay, so two fetch
// iterations can never overlap. A kick cuts the current delay short.
func (c *CachedSource) loop() {
	defer close(c.doneCh)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-c.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		// A wake or timer expiry can race with shutdown; the stop
		// request always wins so Close, not a final tick, resolves any
		// pending read.
		select {
		case <-c.stopCh:
			return
		default:
		}

		timer.Reset(c.tick())
	}
}

// tick runs one iteration: resolve a pending foreground read, fetch if the
// watermarks or the keep-alive timer call for it, then pick the delay
// until the next iteration.
func (c *CachedSource) tick() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.servicePendingLocked()

	keepAlive := !c.fetching && c.finalStatus == nil &&
		c.params.KeepAliveInterval > 0 &&
		time.Since(c.lastFetchTime) >= c.params.KeepAliveInterval

	if c.fetching || keepAlive {
		if keepAlive {
			keepAlives.Inc()
			c.logger.Debug("keep-alive fetch",
				zap.Int64("offset", c.cacheOffset+c.window.Size()))
		}

		c.fetchLocked()
		c.lastFetchTime = time.Now()

		if c.fetching && c.window.Size() >= c.params.HighWaterBytes {
			c.logger.Debug("high water reached, pausing prefetch",
				zap.Int64("window_bytes", c.window.Size()))
			c.fetching = false
			c.disconnectLocked()
		}

		// Freshly fetched bytes may complete the pending read.
		c.servicePendingLocked()
	} else {
		// Idle: resume fetching once the reader has drained the
		// window below the low-water mark.
		c.restartPrefetcherLocked(false)
	}

	var delay time.Duration
	if c.fetching {
		if c.finalStatus != nil && c.retriesLeft > 0 {
			delay = c.params.RetryBackoff
		}
	} else {
		delay = c.params.IdleTick
	}
	if c.pending != nil && delay > c.params.ReadPoll {
		delay = c.params.ReadPoll
	}
	return delay
}

// servicePendingLocked tries to resolve the pending foreground request,
// waking the caller when it either completes or hits a terminal status.
func (c *CachedSource) servicePendingLocked() {
	req := c.pending
	if req == nil {
		return
	}

	n, err := c.readInternalLocked(req.off, req.buf)
	if errors.Is(err, errTryAgain) {
		return
	}

	req.n = n
	req.err = err
	req.done = true
	c.pending = nil
	c.cond.Broadcast()
}

// fetchLocked performs one fetch iteration: a reconnect attempt if the
// last fetch failed, then a single page read at the window end. The state
// lock is released around all source I/O.
func (c *CachedSource) fetchLocked() {
	if c.finalStatus != nil && c.retriesLeft > 0 {
		c.reconnectLocked()
		if c.finalStatus != nil {
			return
		}
	}

	off := c.cacheOffset + c.window.Size()
	page := c.pool.Acquire()

	c.mu.Unlock()
	n, err := c.src.ReadAt(c.ctx, page.data, off)
	c.mu.Lock()

	switch {
	case n > 0:
		page.used = n
		c.window.Append(page)
		windowBytes.Set(float64(c.window.Size()))
		bytesFetched.Add(float64(n))
		c.finalStatus = nil
		c.retriesLeft = c.params.MaxRetries
	case err == nil || errors.Is(err, io.EOF):
		c.logger.Info("end of stream", zap.Int64("offset", off))
		c.finalStatus = io.EOF
		c.fetching = false
		c.pool.Release(page)
	default:
		if c.ctx.Err() != nil {
			// Shutdown cancelled the fetch mid-flight; Close fails the
			// pending read with ErrClosed, not with this error.
			c.pool.Release(page)
			return
		}
		c.logger.Error("background fetch failed",
			zap.Int64("offset", off),
			zap.Int("retries_left", c.retriesLeft),
			zap.Error(err))
		fetchErrors.Inc()
		c.finalStatus = err
		c.pool.Release(page)
	}
}

// reconnectLocked attempts to re-establish the source at the window end.
// Sources without reconnect support fail permanently; otherwise each
// failed attempt consumes one retry.
func (c *CachedSource) reconnectLocked() {
	off := c.cacheOffset + c.window.Size()

	var err error
	if rc, ok := c.src.(source.Reconnecter); ok {
		c.mu.Unlock()
		err = rc.ReconnectAt(c.ctx, off)
		c.mu.Lock()
	} else {
		err = source.ErrReconnectUnsupported
	}

	if c.ctx.Err() != nil {
		// Shutdown raced the reconnect; leave the retry budget alone.
		return
	}

	switch {
	case errors.Is(err, source.ErrReconnectUnsupported):
		reconnects.WithLabelValues("unsupported").Inc()
		c.logger.Error("source cannot reconnect, giving up",
			zap.Int64("offset", off),
			zap.Error(c.finalStatus))
		c.retriesLeft = 0
		c.fetching = false
	case err != nil:
		reconnects.WithLabelValues("failed").Inc()
		c.retriesLeft--
		c.logger.Warn("reconnect failed",
			zap.Int64("offset", off),
			zap.Int("retries_left", c.retriesLeft),
			zap.Error(err))
		if c.retriesLeft == 0 {
			c.logger.Error("retry budget exhausted",
				zap.Error(c.finalStatus))
			c.fetching = false
		}
	default:
		reconnects.WithLabelValues("ok").Inc()
		c.finalStatus = nil
	}
}

// disconnectLocked drops a network-backed source's connection while the
// cache is paused at high water.
func (c *CachedSource) disconnectLocked() {
	if !c.params.DisconnectAtHighWater {
		return
	}
	if c.src.Flags()&source.FlagNetworkBacked == 0 {
		return
	}
	d, ok := c.src.(source.Disconnecter)
	if !ok {
		return
	}

	c.logger.Debug("disconnecting source at high water")
	c.mu.Unlock()
	d.Disconnect()
	c.mu.Lock()
}

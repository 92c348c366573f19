package cache

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Defaults tuned for media-style streaming over flaky transports.
const (
	DefaultPageSize       = 64 << 10
	DefaultHighWaterBytes = 20 << 20
	DefaultLowWaterBytes  = 4 << 20

	DefaultKeepAliveInterval = 15 * time.Second
	DefaultMaxRetries        = 10
	DefaultRetryBackoff      = 3 * time.Second
	DefaultIdleTick          = 100 * time.Millisecond
	DefaultReadPoll          = 50 * time.Millisecond

	DefaultSeekPadding = 256 << 10
	DefaultGrayArea    = 1 << 20
)

// Params tunes the cache. Zero values for the page size, watermarks,
// retry budget, backoff, and tick intervals mean the defaults above; a
// zero KeepAliveInterval, SeekPadding, or GrayArea is an explicit "off".
type Params struct {
	// PageSize is the fetch and allocation granularity.
	PageSize int

	// HighWaterBytes pauses prefetching once the window holds this much;
	// LowWaterBytes resumes it once the unconsumed tail drops below this.
	HighWaterBytes int64
	LowWaterBytes  int64

	// KeepAliveInterval issues a fetch on an idle paused source to keep
	// the connection warm. Zero disables keep-alives.
	KeepAliveInterval time.Duration

	// MaxRetries bounds consecutive failed reconnect attempts before the
	// recorded fetch error becomes terminal.
	MaxRetries   int
	RetryBackoff time.Duration

	// IdleTick is the loop interval while paused; ReadPoll caps the
	// interval while a foreground read is waiting.
	IdleTick time.Duration
	ReadPoll time.Duration

	// SeekPadding anchors the window this many bytes before a seek
	// target so that slightly earlier reads still hit.
	SeekPadding int64

	// GrayArea keeps this many recently consumed bytes behind the access
	// position when evicting from the window head.
	GrayArea int64

	// DisconnectAtHighWater drops a network-backed source's connection
	// while the cache is paused full.
	DisconnectAtHighWater bool
}

// DefaultParams returns the full default tuning.
func DefaultParams() Params {
	return Params{
		PageSize:          DefaultPageSize,
		HighWaterBytes:    DefaultHighWaterBytes,
		LowWaterBytes:     DefaultLowWaterBytes,
		KeepAliveInterval: DefaultKeepAliveInterval,
		MaxRetries:        DefaultMaxRetries,
		RetryBackoff:      DefaultRetryBackoff,
		IdleTick:          DefaultIdleTick,
		ReadPoll:          DefaultReadPoll,
		SeekPadding:       DefaultSeekPadding,
		GrayArea:          DefaultGrayArea,
	}
}

// ApplySpec overlays a "<lowKB>/<highKB>/<keepAliveSecs>" tuning string.
// A field of -1 selects the default; a keep-alive of 0 disables it. A
// malformed spec is logged and ignored; inverted watermarks reset both
// to their defaults.
func (p *Params) ApplySpec(spec string, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var lowKB, highKB, keepAliveSecs int64
	n, err := fmt.Sscanf(spec, "%d/%d/%d", &lowKB, &highKB, &keepAliveSecs)
	if err != nil || n != 3 {
		logger.Warn("malformed cache tuning spec, ignoring",
			zap.String("spec", spec))
		return
	}

	if lowKB >= 0 {
		p.LowWaterBytes = lowKB * 1024
	} else {
		p.LowWaterBytes = DefaultLowWaterBytes
	}
	if highKB >= 0 {
		p.HighWaterBytes = highKB * 1024
	} else {
		p.HighWaterBytes = DefaultHighWaterBytes
	}
	if keepAliveSecs >= 0 {
		p.KeepAliveInterval = time.Duration(keepAliveSecs) * time.Second
	} else {
		p.KeepAliveInterval = DefaultKeepAliveInterval
	}

	if p.LowWaterBytes >= p.HighWaterBytes {
		p.LowWaterBytes = DefaultLowWaterBytes
		p.HighWaterBytes = DefaultHighWaterBytes
	}
}

// sanitize fills zero fields with defaults and repairs inverted
// watermarks. KeepAliveInterval, SeekPadding, and GrayArea stay zero
// when zero: those are valid "off" settings.
func (p *Params) sanitize() {
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.HighWaterBytes <= 0 {
		p.HighWaterBytes = DefaultHighWaterBytes
	}
	if p.LowWaterBytes <= 0 {
		p.LowWaterBytes = DefaultLowWaterBytes
	}
	if p.LowWaterBytes >= p.HighWaterBytes {
		p.LowWaterBytes = DefaultLowWaterBytes
		p.HighWaterBytes = DefaultHighWaterBytes
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = DefaultRetryBackoff
	}
	if p.IdleTick <= 0 {
		p.IdleTick = DefaultIdleTick
	}
	if p.ReadPoll <= 0 {
		p.ReadPoll = DefaultReadPoll
	}
}

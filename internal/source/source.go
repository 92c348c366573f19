// Package source defines the byte-source contract the cache sits in front
// of, plus the concrete sources shipped with the daemon (local file, HTTP
// range requests, S3 ranged GetObject).
package source

import (
	"context"
	"errors"
)

// Flags describe capabilities of a source.
type Flags uint32

const (
	// FlagNetworkBacked marks sources whose reads travel over a network
	// connection that can be dropped and re-established.
	FlagNetworkBacked Flags = 1 << iota

	// FlagWantsPrefetching marks sources that would like a caching layer
	// in front of them. The cache strips this flag from what it
	// advertises, since it is that layer.
	FlagWantsPrefetching
)

// ErrReconnectUnsupported is returned by ReconnectAt when a source cannot
// re-establish its connection at a new offset. The cache treats it as a
// permanent failure: no retry can succeed.
var ErrReconnectUnsupported = errors.New("source: reconnect unsupported")

// Source is a random-access byte source. ReadAt reads up to len(p) bytes
// starting at offset off. It returns the number of bytes read; (0, io.EOF)
// or (0, nil) means end of stream. Implementations may return fewer bytes
// than requested without that signalling EOS.
//
// Unlike io.ReaderAt, a short read with a nil error is normal here; the
// caller keeps issuing reads at advancing offsets.
type Source interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	Flags() Flags
}

// Reconnecter is implemented by sources that can drop and re-establish
// their underlying connection at a given offset after a transient failure.
type Reconnecter interface {
	ReconnectAt(ctx context.Context, off int64) error
}

// Disconnecter is implemented by sources that can proactively release
// their connection while idle (e.g. when the cache pauses at high water).
type Disconnecter interface {
	Disconnect()
}

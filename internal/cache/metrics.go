package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcache_reads_total",
			Help: "Foreground reads by result",
		},
		[]string{"result"}, // hit, miss, error, eos
	)

	bytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcache_bytes_served_total",
			Help: "Bytes returned to foreground readers",
		},
	)

	bytesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcache_bytes_fetched_total",
			Help: "Bytes fetched from the underlying source",
		},
	)

	fetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcache_fetch_errors_total",
			Help: "Transient fetch errors observed by the prefetcher",
		},
	)

	reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcache_reconnects_total",
			Help: "Reconnect attempts by outcome",
		},
		[]string{"outcome"}, // ok, failed, unsupported
	)

	keepAlives = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcache_keepalive_fetches_total",
			Help: "Fetches issued only to keep an idle connection warm",
		},
	)

	seeks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcache_seeks_total",
			Help: "Window resets caused by out-of-window reads",
		},
	)

	bytesEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcache_bytes_evicted_total",
			Help: "Bytes released from the window head",
		},
	)

	windowBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamcache_window_bytes",
			Help: "Bytes currently held in the cache window",
		},
	)
)

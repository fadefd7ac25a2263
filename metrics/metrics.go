package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Page cache metrics
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xkv_cache_hits_total",
			Help: "Total number of page cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xkv_cache_misses_total",
			Help: "Total number of page cache misses",
		},
	)

	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xkv_cache_evictions_total",
			Help: "Total number of pages evicted from the cache",
		},
	)

	CacheUsedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xkv_cache_used_bytes",
			Help: "Bytes currently held by resident pages",
		},
	)

	PagesFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xkv_pages_flushed_total",
			Help: "Total number of dirty pages written to the device",
		},
	)

	// Transaction metrics
	TxnCommits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xkv_txn_commits_total",
			Help: "Total number of committed transactions",
		},
	)

	TxnAborts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xkv_txn_aborts_total",
			Help: "Total number of aborted transactions",
		},
	)

	// Extended key cache metrics
	ExtkeyCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xkv_extkey_cache_hits_total",
			Help: "Total number of extended key cache hits",
		},
	)

	ExtkeyCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xkv_extkey_cache_misses_total",
			Help: "Total number of extended key cache misses",
		},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(
		CacheHits,
		CacheMisses,
		CacheEvictions,
		CacheUsedBytes,
		PagesFlushed,
		TxnCommits,
		TxnAborts,
		ExtkeyCacheHits,
		ExtkeyCacheMisses,
	)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepulse_cache_hits_total",
			Help: "Cache hits by tier",
		},
		[]string{"tier"},
	)
	cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepulse_cache_misses_total",
			Help: "Cache misses by tier",
		},
		[]string{"tier"},
	)
	oracleReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepulse_oracle_reads_total",
			Help: "Oracle RPC reads by outcome",
		},
		[]string{"outcome"},
	)
	broadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepulse_ws_broadcasts_total",
			Help: "Price update messages pushed to subscribers",
		},
	)
)

func init() {
	prometheus.MustRegister(cacheHitsTotal, cacheMissesTotal, oracleReadsTotal, broadcastsTotal)
}

func CacheHit(tier string)  { cacheHitsTotal.WithLabelValues(tier).Inc() }
func CacheMiss(tier string) { cacheMissesTotal.WithLabelValues(tier).Inc() }

func OracleRead(outcome string) { oracleReadsTotal.WithLabelValues(outcome).Inc() }

func Broadcast() { broadcastsTotal.Inc() }

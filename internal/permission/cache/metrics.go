package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mathilda_permission_cache_hits_total",
		Help: "Permission cache hits by tier.",
	}, []string{"tier"})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mathilda_permission_cache_misses_total",
		Help: "Permission cache lookups answered by neither tier.",
	})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mathilda_permission_cache_evictions_total",
		Help: "Local tier entries evicted to stay under the size limit.",
	})
)

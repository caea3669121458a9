package wiki

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var siteCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nfcbot_site_cache_hits",
	Help: "Number of site lookups served from cache",
}, []string{"cache"})

var siteCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nfcbot_site_cache_misses",
	Help: "Number of site lookups passed to the API",
}, []string{"cache"})

var siteSaveCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nfcbot_site_saves",
	Help: "Number of page writes, by outcome",
}, []string{"status"})

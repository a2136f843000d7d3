package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var moderationCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "risk_moderation_calls_total",
	Help: "Number of moderation provider calls, by result",
}, []string{"result"})

var moderationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "risk_moderation_call_duration_sec",
	Help: "Duration of moderation provider calls",
})

var moderationCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "risk_moderation_cache_hits_total",
	Help: "Number of calibrations served from the run cache",
})

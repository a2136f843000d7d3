package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var alertsEmitted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "risk_alerts_emitted_total",
	Help: "Number of alerts emitted for monitored authors",
})

var collectionFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "risk_collection_failures_total",
	Help: "Number of failed collector calls, including per-author checks",
})

var runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "risk_run_duration_sec",
	Help:    "Duration of pipeline runs",
	Buckets: prometheus.ExponentialBuckets(1, 2, 12),
}, []string{"run"})

var monitoredAuthors = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "risk_monitored_authors",
	Help: "Number of authors currently monitored",
})

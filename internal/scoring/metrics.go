package scoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var postsScored = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "risk_posts_scored_total",
	Help: "Number of records scored, by violence category",
}, []string{"category"})

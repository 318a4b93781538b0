package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	observationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_observations_total",
		Help: "Transform observations applied to the store by source",
	}, []string{"source"})

	invalidTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_observations_invalid_total",
		Help: "Observations rejected before reaching the store",
	}, []string{"reason"})

	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_results_published_total",
		Help: "Composed transforms published on query topics",
	})
)

package frames

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_resolve_total",
		Help: "Transform resolutions by outcome",
	}, []string{"result"})

	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frames_resolve_duration_seconds",
		Help:    "Time spent resolving and composing a query",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
	})

	pathLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frames_path_length",
		Help:    "Number of edges composed per successful query",
		Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
	})

	storeEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frames_edges",
		Help: "Edges currently held by the transform store",
	})

	edgeMissingRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_edge_missing_retries_total",
		Help: "Resolutions retried because an edge vanished before composition",
	})
)

// resultLabel maps an engine error onto the result label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnknownFrame):
		return "unknown_frame"
	case errors.Is(err, ErrNoPath):
		return "no_path"
	case errors.Is(err, ErrInvalidHints):
		return "invalid_hints"
	case errors.Is(err, ErrIllFormedTransform):
		return "ill_formed"
	case errors.Is(err, ErrEdgeMissing):
		return "edge_missing"
	default:
		return "error"
	}
}

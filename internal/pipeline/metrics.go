package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "docpilot",
	Subsystem: "pipeline",
	Name:      "stage_duration_seconds",
	Help:      "Wall time of each pipeline stage",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
}, []string{"stage", "outcome"})

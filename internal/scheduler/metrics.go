package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docpilot",
		Subsystem: "processor",
		Name:      "runs_total",
		Help:      "Batch runs by outcome",
	}, []string{"outcome"})

	messagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docpilot",
		Subsystem: "processor",
		Name:      "messages_total",
		Help:      "Messages consumed by batch runs, by final status",
	}, []string{"status"})

	proposalsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docpilot",
		Subsystem: "processor",
		Name:      "proposals_total",
		Help:      "Proposals persisted by batch runs, by initial status",
	}, []string{"status"})
)

package llmcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docpilot",
		Subsystem: "llm_cache",
		Name:      "hits_total",
		Help:      "LLM cache lookups answered from storage",
	}, []string{"purpose"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docpilot",
		Subsystem: "llm_cache",
		Name:      "misses_total",
		Help:      "LLM cache lookups that required a model call",
	}, []string{"purpose"})
)

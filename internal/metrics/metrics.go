// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemoteRequests counts marketplace HTTP attempts by method and status code.
	// Transport failures are recorded with status "error".
	RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_remote_requests_total",
		Help: "Marketplace HTTP attempts by method and status.",
	}, []string{"method", "status"})

	// RemoteRetries counts retries scheduled after transient faults
	RemoteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_remote_retries_total",
		Help: "Marketplace requests retried after a transient fault.",
	})

	// Runs counts terminal runs by phase and status
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_runs_total",
		Help: "Workflow runs reaching a terminal status.",
	}, []string{"phase", "status"})

	// SalesInserted counts sale records written by the reconciler
	SalesInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_sales_inserted_total",
		Help: "Sale records inserted by reconciliation.",
	})

	// LLMTokens counts model tokens by task, tier and kind (prompt or output)
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_llm_tokens_total",
		Help: "LLM tokens consumed by task, tier and kind.",
	}, []string{"task", "tier", "kind"})

	// LLMRetries counts structured replies that had to be requested again
	LLMRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_llm_retries_total",
		Help: "LLM calls repeated because the reply was not valid JSON.",
	}, []string{"task"})
)

// ObserveRemote records one remote attempt
func ObserveRemote(method string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	RemoteRequests.WithLabelValues(method, label).Inc()
}

// ObserveRun records a terminal run
func ObserveRun(phase, status string) {
	Runs.WithLabelValues(phase, status).Inc()
}

// ObserveLLMTokens records the token usage of one model call
func ObserveLLMTokens(task, tier string, prompt, output int32) {
	LLMTokens.WithLabelValues(task, tier, "prompt").Add(float64(prompt))
	LLMTokens.WithLabelValues(task, tier, "output").Add(float64(output))
}

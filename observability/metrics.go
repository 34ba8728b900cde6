package observability

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce    sync.Once
	metricsEnabled atomic.Bool

	messagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbus_messages_delivered_total",
			Help: "Messages delivered to agent handlers",
		},
		[]string{"handler", "type"},
	)

	toolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbus_tool_executions_total",
			Help: "Tool executions by outcome",
		},
		[]string{"tool", "status"},
	)

	toolExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentbus_tool_execution_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbus_queries_total",
			Help: "User queries by outcome",
		},
		[]string{"status"},
	)

	queryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentbus_query_duration_seconds",
			Help:    "End-to-end user query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// InitMetrics registers the collectors with the default registry and
// enables recording. Until it is called the Record helpers are no-ops,
// so libraries can call them unconditionally.
func InitMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(
			messagesDelivered,
			toolExecutionsTotal,
			toolExecutionDuration,
			queriesTotal,
			queryDuration,
		)
		metricsEnabled.Store(true)
	})
}

// RecordMessage counts one message delivered to a handler.
func RecordMessage(handler, msgType string) {
	if !metricsEnabled.Load() {
		return
	}
	messagesDelivered.WithLabelValues(handler, msgType).Inc()
}

// RecordToolExecution counts one tool execution outcome.
func RecordToolExecution(tool, status string, d time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	toolExecutionsTotal.WithLabelValues(tool, status).Inc()
	toolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordQuery counts one end-to-end user query.
func RecordQuery(status string, d time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	queriesTotal.WithLabelValues(status).Inc()
	queryDuration.Observe(d.Seconds())
}

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the API.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	tokensUsed      *prometheus.CounterVec
	storeOps        *prometheus.CounterVec
	storeRetries    *prometheus.CounterVec
	storeScans      *prometheus.CounterVec
	tasks           *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billingiq_request_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billingiq_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billingiq_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billingiq_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billingiq_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		storeOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billingiq_store_operations_total",
				Help: "Store operations by table, operation and outcome.",
			},
			[]string{"table", "op", "outcome"},
		),
		storeRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billingiq_store_retries_total",
				Help: "Store calls retried after throttling.",
			},
			[]string{"table", "op"},
		),
		storeScans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billingiq_store_scans_total",
				Help: "Full-table scans issued. Should stay near zero.",
			},
			[]string{"table"},
		),
		tasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billingiq_background_tasks_total",
				Help: "Background tasks by name and outcome.",
			},
			[]string{"task", "outcome"},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billingiq_events_total",
				Help: "Business events handed to the event bus.",
			},
			[]string{"detail_type", "outcome"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrStoreOp counts one store call.
func (m *Metrics) IncrStoreOp(table, op, outcome string) {
	m.storeOps.WithLabelValues(table, op, outcome).Inc()
}

// IncrStoreRetry counts one throttling retry.
func (m *Metrics) IncrStoreRetry(table, op string) {
	m.storeRetries.WithLabelValues(table, op).Inc()
}

// IncrScan counts one full-table scan.
func (m *Metrics) IncrScan(table string) {
	m.storeScans.WithLabelValues(table).Inc()
}

// IncrTask counts one background task completion.
func (m *Metrics) IncrTask(task, outcome string) {
	m.tasks.WithLabelValues(task, outcome).Inc()
}

// IncrEvent counts one event publication attempt.
func (m *Metrics) IncrEvent(detailType, outcome string) {
	m.eventsPublished.WithLabelValues(detailType, outcome).Inc()
}

// ScanCount returns how many scans were issued against table.
func (m *Metrics) ScanCount(table string) float64 {
	return getCounterValue(m.storeScans, table)
}

// StoreRetryCount returns the retries recorded for table/op.
func (m *Metrics) StoreRetryCount(table, op string) float64 {
	return getCounterValue(m.storeRetries, table, op)
}

// TaskCount returns the completions recorded for task/outcome.
func (m *Metrics) TaskCount(task, outcome string) float64 {
	return getCounterValue(m.tasks, task, outcome)
}

// EventCount returns the publications recorded for detailType/outcome.
func (m *Metrics) EventCount(detailType, outcome string) float64 {
	return getCounterValue(m.eventsPublished, detailType, outcome)
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

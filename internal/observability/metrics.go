package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values shared by the pipeline and its collectors.
const (
	QuestionOutcomeAnswered          = "answered"
	QuestionOutcomeSchemaUnavailable = "schema_unavailable"
	QuestionOutcomeCompletionFailed  = "completion_failed"
	QuestionOutcomeExecutionFailed   = "execution_failed"
	QuestionOutcomeRejected          = "rejected"

	AutoFixApplied  = "applied"
	AutoFixNoFix    = "no_fix"
	AutoFixRepeated = "repeated"

	CompletionKindSQL     = "sql"
	CompletionKindSummary = "summary"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscribe_http_requests_total",
			Help: "Total number of HTTP requests, by route pattern.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlscribe_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status"},
	)

	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscribe_questions_total",
			Help: "Total number of questions handled, by outcome.",
		},
		[]string{"outcome"},
	)
	correctionsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscribe_corrections_applied_total",
			Help: "Total number of static correction rules applied to generated SQL.",
		},
		[]string{"rule"},
	)
	autoFixTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscribe_autofix_total",
			Help: "Total number of auto-fix decisions after unknown column errors.",
		},
		[]string{"result"},
	)
	executionAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlscribe_execution_attempts",
			Help:    "Store calls needed per executed question.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)
	completionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlscribe_completion_duration_seconds",
			Help:    "Text completion call latency in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"kind"},
	)
	schemaTables = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlscribe_schema_tables",
			Help: "Number of tables in the current schema snapshot.",
		},
	)
	schemaRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscribe_schema_refresh_total",
			Help: "Total number of schema refreshes, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		questionsTotal,
		correctionsAppliedTotal,
		autoFixTotal,
		executionAttempts,
		completionDurationSeconds,
		schemaTables,
		schemaRefreshTotal,
	)
}

func ObserveQuestion(outcome string) {
	questionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveCorrections(descriptions []string) {
	for _, description := range descriptions {
		correctionsAppliedTotal.WithLabelValues(description).Inc()
	}
}

func ObserveAutoFix(result string) {
	autoFixTotal.WithLabelValues(result).Inc()
}

func ObserveExecutionAttempts(attempts int) {
	if attempts <= 0 {
		return
	}
	executionAttempts.Observe(float64(attempts))
}

func ObserveCompletion(kind string, elapsed time.Duration) {
	completionDurationSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveSchemaRefresh records a refresh result. A failed refresh leaves the
// registry empty, so the table gauge drops to zero.
func ObserveSchemaRefresh(tables int, err error) {
	if err != nil {
		schemaRefreshTotal.WithLabelValues("error").Inc()
		schemaTables.Set(0)
		return
	}
	schemaRefreshTotal.WithLabelValues("ok").Inc()
	schemaTables.Set(float64(tables))
}

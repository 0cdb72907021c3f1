package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	apiCallDuration            *prometheus.HistogramVec
	apiCallCounter             *prometheus.CounterVec
	rateLimitBlockedCounter    *prometheus.CounterVec
	usageUpdateConflictCounter *prometheus.CounterVec
	usageUpdateFailureCounter  *prometheus.CounterVec
	callLogFailureCounter      prometheus.Counter

	sqlListRecordsDuration  prometheus.Histogram
	sqlUpdateRecordDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.apiCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "crm_connector_api_call_duration",
		Help: "The amount of time an intercepted API call took",
	}, []string{"api_type", "method"})

	metrics.apiCallCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_api_call_count",
		Help: "The number of intercepted API calls",
	}, []string{"api_type", "status"})

	metrics.rateLimitBlockedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_rate_limit_blocked_count",
		Help: "The number of API calls rejected by the rate limiter",
	}, []string{"api_type"})

	metrics.usageUpdateConflictCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_rate_limit_update_conflict_count",
		Help: "The number of versioned usage updates that hit a conflict",
	}, []string{"api_type"})

	metrics.usageUpdateFailureCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_rate_limit_update_failure_count",
		Help: "The number of usage updates that failed after retry exhaustion",
	}, []string{"api_type"})

	metrics.callLogFailureCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_connector_api_call_log_failure_count",
		Help: "The number of call log rows that failed to be appended",
	})

	metrics.sqlListRecordsDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "crm_connector_sql_list_rate_limit_records_duration",
		Help: "The amount of time it took to list rate limit records in the db",
	})

	metrics.sqlUpdateRecordDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "crm_connector_sql_update_rate_limit_record_duration",
		Help: "The amount of time it took to update a rate limit record in the db",
	})

	return metrics
}

var (
	metrics = NewMetrics()
)

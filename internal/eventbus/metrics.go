package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	eventsReceivedCounter    prometheus.Counter
	eventsProcessedCounter   prometheus.Counter
	eventsSkippedCounter     prometheus.Counter
	eventProcessingDuration  prometheus.Histogram
	processingFailureCounter prometheus.Counter
	reconnectCounter         prometheus.Counter
	schemaCacheHitCounter    prometheus.Counter
	schemaCacheMissCounter   prometheus.Counter
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.eventsReceivedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_connector_event_bus_events_received_count",
		Help: "The number of change events received from the event bus",
	})

	metrics.eventsProcessedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_connector_event_bus_events_processed_count",
		Help: "The number of change events processed successfully",
	})

	metrics.eventsSkippedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_connector_event_bus_events_skipped_count",
		Help: "The number of change events skipped due to a missing or invalid header",
	})

	metrics.eventProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "crm_connector_event_bus_event_processing_duration",
		Help: "The amount of time it took to decode and dispatch a change event",
	})

	metrics.processingFailureCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_connector_event_bus_processing_failure_count",
		Help: "The number of change events that failed during decode or dispatch",
	})

	metrics.reconnectCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_connector_event_bus_reconnect_count",
		Help: "The number of times the subscribe stream was re-established",
	})

	metrics.schemaCacheHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_connector_event_bus_schema_cache_hit_count",
		Help: "The number of schema lookups served from the cache",
	})

	metrics.schemaCacheMissCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_connector_event_bus_schema_cache_miss_count",
		Help: "The number of schema lookups that required a broker round trip",
	})

	return metrics
}

var (
	metrics = NewMetrics()
)

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signage",
		Name:      "frames_accepted_total",
		Help:      "Total number of ingested frames accepted",
	})

	FramesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signage",
		Name:      "frames_rejected_total",
		Help:      "Total number of ingested frames rejected by validation",
	})

	TriggerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signage",
		Name:      "trigger_decisions_total",
		Help:      "Trigger start/end decisions emitted",
	}, []string{"type"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signage",
		Name:      "events_published_total",
		Help:      "Events pushed to per-player delivery queues",
	}, []string{"transport"})

	ForwardDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signage",
		Name:      "forward_deliveries_total",
		Help:      "Archive forward delivery attempts by outcome",
	}, []string{"outcome"})

	SSEConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signage",
		Name:      "sse_connections",
		Help:      "Number of open SSE player streams",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signage",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	AggregationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "signage",
		Name:      "aggregation_duration_seconds",
		Help:      "Duration of dashboard aggregation runs",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signage",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

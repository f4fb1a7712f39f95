package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Status API requests by radio and route.",
		},
		[]string{"radio", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meshctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"radio", "method", "route", "status"},
	)
	packetsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshctl",
			Subsystem: "mesh",
			Name:      "packets_sent_total",
			Help:      "Mesh packets handed to the transport, including resends.",
		},
		[]string{"port"},
	)
	packetsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshctl",
			Subsystem: "mesh",
			Name:      "packets_received_total",
			Help:      "Inbound mesh packets by application port.",
		},
		[]string{"port"},
	)
	envelopesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshctl",
			Subsystem: "mesh",
			Name:      "envelopes_dropped_total",
			Help:      "Inbound envelopes discarded by the session.",
		},
		[]string{"reason"},
	)
	txQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshctl",
			Subsystem: "txqueue",
			Name:      "depth",
			Help:      "Outbound packets waiting for device capacity.",
		},
	)
	txQueueFree = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshctl",
			Subsystem: "txqueue",
			Name:      "free",
			Help:      "Device-reported free outbound slots, -1 when never reported.",
		},
	)
	waitResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshctl",
			Subsystem: "mesh",
			Name:      "waits_total",
			Help:      "Completed synchronous waits by kind and result.",
		},
		[]string{"kind", "result"},
	)
	sessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshctl",
			Subsystem: "session",
			Name:      "phase",
			Help:      "Session phase: 0 disconnected, 1 awaiting config, 2 connected.",
		},
	)
	knownNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshctl",
			Subsystem: "nodedb",
			Name:      "nodes",
			Help:      "Records in the node database.",
		},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshctl",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events delivered to subscribers by topic.",
		},
		[]string{"topic"},
	)
	eventBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshctl",
			Subsystem: "events",
			Name:      "backlog",
			Help:      "Events queued for the dispatch worker.",
		},
	)
	subscriberPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshctl",
			Subsystem: "events",
			Name:      "subscriber_panics_total",
			Help:      "Recovered subscriber panics by topic.",
		},
		[]string{"topic"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			packetsSent, packetsReceived, envelopesDropped,
			txQueueDepth, txQueueFree,
			waitResults, sessionState, knownNodes,
			eventsPublished, eventBacklog, subscriberPanics,
		)
		txQueueFree.Set(-1)
	})
}

func RecordHTTPRequest(radio, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(radio, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(radio, method, route, statusLabel).Observe(duration.Seconds())
}

func RecordPacketSent(port string) {
	RegisterMetrics()
	packetsSent.WithLabelValues(port).Inc()
}

func RecordPacketReceived(port string) {
	RegisterMetrics()
	packetsReceived.WithLabelValues(port).Inc()
}

func RecordEnvelopeDropped(reason string) {
	RegisterMetrics()
	envelopesDropped.WithLabelValues(reason).Inc()
}

// SetTxQueue publishes queue depth and free slots. known is false until the
// device first reports its queue status.
func SetTxQueue(depth int, free uint32, known bool) {
	RegisterMetrics()
	txQueueDepth.Set(float64(depth))
	if known {
		txQueueFree.Set(float64(free))
	} else {
		txQueueFree.Set(-1)
	}
}

func RecordWait(kind string, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	waitResults.WithLabelValues(kind, result).Inc()
}

func SetSessionPhase(phase int) {
	RegisterMetrics()
	sessionState.Set(float64(phase))
}

func SetKnownNodes(n int) {
	RegisterMetrics()
	knownNodes.Set(float64(n))
}

func RecordEvent(topic string) {
	RegisterMetrics()
	eventsPublished.WithLabelValues(topic).Inc()
}

func SetEventBacklog(n int) {
	RegisterMetrics()
	eventBacklog.Set(float64(n))
}

func RecordSubscriberPanic(topic string) {
	RegisterMetrics()
	subscriberPanics.WithLabelValues(topic).Inc()
}

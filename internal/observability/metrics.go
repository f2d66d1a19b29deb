package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Direction labels for frame and byte counters.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Request outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeTimeout = "timeout"
	OutcomeClosed  = "closed"
	OutcomeError   = "error"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgelink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	channelFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "channel",
			Name:      "frames_total",
			Help:      "Frames (or raw chunks) moved over a channel.",
		},
		[]string{"channel", "direction"},
	)
	channelBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "channel",
			Name:      "bytes_total",
			Help:      "Bytes moved over a channel.",
		},
		[]string{"channel", "direction"},
	)
	channelConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "channel",
			Name:      "connects_total",
			Help:      "Sessions established.",
		},
		[]string{"channel", "transport"},
	)
	channelDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "channel",
			Name:      "disconnects_total",
			Help:      "Sessions torn down, by reason.",
		},
		[]string{"channel", "reason"},
	)
	channelRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "channel",
			Name:      "rejected_peers_total",
			Help:      "Incoming peers closed because a session was already live.",
		},
		[]string{"channel"},
	)
	channelRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "channel",
			Name:      "requests_total",
			Help:      "Correlated requests by outcome.",
		},
		[]string{"channel", "outcome"},
	)
	channelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "edgelink",
			Subsystem: "channel",
			Name:      "state",
			Help:      "Current connection state code.",
		},
		[]string{"channel", "transport"},
	)
	channelQueued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "edgelink",
			Subsystem: "channel",
			Name:      "queued_bytes",
			Help:      "Bytes accepted for writing but not yet flushed.",
		},
		[]string{"channel"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			channelFrames, channelBytes, channelConnects, channelDisconnects,
			channelRejected, channelRequests, channelState, channelQueued,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordTraffic counts one frame (or raw chunk) of n bytes.
func RecordTraffic(channel, direction string, n int) {
	RegisterMetrics()
	channelFrames.WithLabelValues(channel, direction).Inc()
	channelBytes.WithLabelValues(channel, direction).Add(float64(n))
}

func RecordConnect(channel, transport string) {
	RegisterMetrics()
	channelConnects.WithLabelValues(channel, transport).Inc()
}

func RecordDisconnect(channel, reason string) {
	RegisterMetrics()
	channelDisconnects.WithLabelValues(channel, reason).Inc()
}

func RecordRejectedPeer(channel string) {
	RegisterMetrics()
	channelRejected.WithLabelValues(channel).Inc()
}

// RecordRequests counts n requests that resolved with outcome.
func RecordRequests(channel, outcome string, n int) {
	RegisterMetrics()
	channelRequests.WithLabelValues(channel, outcome).Add(float64(n))
}

func SetChannelState(channel, transport string, code int) {
	RegisterMetrics()
	channelState.WithLabelValues(channel, transport).Set(float64(code))
}

func SetQueuedBytes(channel string, n int) {
	RegisterMetrics()
	channelQueued.WithLabelValues(channel).Set(float64(n))
}

// Package metrics holds the Prometheus collectors for the comet client and
// the development gateway.
//
// Every recorder is nil-safe so callers can leave metrics disabled by passing
// a nil registerer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "comet"

// Call outcomes.
const (
	StatusOK          = "ok"
	StatusRemoteError = "remote_error"
	StatusTransport   = "transport_error"
	StatusCanceled    = "canceled"
)

// Drop reasons for inbound frames that affect no call and reach no handler.
const (
	DropDecode       = "decode"
	DropUnknownReply = "unknown_reply"
	DropNoHandler    = "no_handler"
)

// Client records session activity.
type Client struct {
	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	pending       prometheus.Gauge
	notifications *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	connects      *prometheus.CounterVec
}

// NewClient registers client collectors with reg. A nil reg disables metrics.
func NewClient(reg prometheus.Registerer, namespace string) *Client {
	if reg == nil {
		return nil
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)
	return &Client{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Total number of calls completed, by method and outcome",
		}, []string{"method", "status"}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "Time from sending a request to its completion",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "pending_calls",
			Help:      "Number of requests awaiting a reply",
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "notifications_total",
			Help:      "Total number of notifications delivered to handlers",
		}, []string{"method"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "dropped_frames_total",
			Help:      "Inbound frames discarded without affecting any call",
		}, []string{"reason"}),
		connects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by result",
		}, []string{"result"}),
	}
}

// CallStarted tracks a newly registered pending request.
func (m *Client) CallStarted() {
	if m == nil {
		return
	}
	m.pending.Inc()
}

// CallFinished records the outcome of a request removed from the pending table.
func (m *Client) CallFinished(method string, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pending.Dec()
	m.calls.WithLabelValues(method, status).Inc()
	m.callDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Notification records a notification handed to handlers.
func (m *Client) Notification(method string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(method).Inc()
}

// Dropped records a discarded inbound frame.
func (m *Client) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Connect records the result of a connection attempt.
func (m *Client) Connect(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.connects.WithLabelValues(result).Inc()
}

// Gateway records development gateway activity.
type Gateway struct {
	connections   prometheus.Gauge
	requests      *prometheus.CounterVec
	notifications prometheus.Counter
	tokens        prometheus.Counter
}

// NewGateway registers gateway collectors with reg. A nil reg disables metrics.
func NewGateway(reg prometheus.Registerer, namespace string) *Gateway {
	if reg == nil {
		return nil
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)
	return &Gateway{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open websocket connections",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Requests handled, by method and outcome",
		}, []string{"method", "status"}),
		notifications: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "notifications_total",
			Help:      "Notifications pushed to connections",
		}),
		tokens: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "tokens_issued_total",
			Help:      "Connection tokens issued by the bootstrap endpoint",
		}),
	}
}

// ConnectionOpened increments the open connection gauge.
func (m *Gateway) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Gateway) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// Request records a handled request.
func (m *Gateway) Request(method string, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, status).Inc()
}

// NotificationSent records a pushed notification.
func (m *Gateway) NotificationSent() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

// TokenIssued records an issued token.
func (m *Gateway) TokenIssued() {
	if m == nil {
		return
	}
	m.tokens.Inc()
}

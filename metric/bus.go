package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "testbedbus"

// Request outcomes used as label values.
const (
	OutcomeAnswered       = "answered"
	OutcomeAnswerTimeout  = "answer_timeout"
	OutcomePublishTimeout = "publish_timeout"
	OutcomeError          = "error"
)

// Metrics holds the bus and request/reply metrics of an agent process.
// Every Record method is a no-op on a nil receiver.
type Metrics struct {
	BusState          *prometheus.GaugeVec
	Reconnects        *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	MessagesUnmatched *prometheus.CounterVec
	MessagesPublished *prometheus.CounterVec
	CallbackPanics    *prometheus.CounterVec

	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec
	PendingRequests *prometheus.GaugeVec
	RequestsServed  *prometheus.CounterVec
	DeferredAnswers *prometheus.CounterVec

	ErrorsPublished *prometheus.CounterVec
	HealthStatus    *prometheus.GaugeVec
}

// NewMetrics creates the metric vectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		BusState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "state",
				Help:      "Bus client state (0=disconnected, 1=connecting, 2=connected, 3=ready)",
			},
			[]string{"client"},
		),

		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "connects_total",
				Help:      "Number of broker connections, including reconnections",
			},
			[]string{"client"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Messages delivered by the broker",
			},
			[]string{"client"},
		),

		MessagesUnmatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "unmatched_total",
				Help:      "Messages dropped because no callback matched",
			},
			[]string{"client"},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Publish attempts by result",
			},
			[]string{"client", "status"},
		),

		CallbackPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "callback_panics_total",
				Help:      "Callbacks that panicked while handling a message",
			},
			[]string{"client"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "request",
				Name:      "duration_seconds",
				Help:      "Request round trip duration by outcome",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command", "outcome"},
		),

		RequestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "request",
				Name:      "errors_total",
				Help:      "Failed requests by kind",
			},
			[]string{"command", "kind"},
		),

		PendingRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "request",
				Name:      "pending",
				Help:      "Requests waiting for an answer",
			},
			[]string{"command"},
		),

		RequestsServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "request",
				Name:      "served_total",
				Help:      "Requests handled by request servers",
			},
			[]string{"command"},
		),

		DeferredAnswers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "request",
				Name:      "deferred_total",
				Help:      "Requests answered later through the deferred path",
			},
			[]string{"command"},
		),

		ErrorsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "published_total",
				Help:      "Error reports published on the error topic",
			},
			[]string{"agent"},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.BusState,
		m.Reconnects,
		m.MessagesReceived,
		m.MessagesUnmatched,
		m.MessagesPublished,
		m.CallbackPanics,
		m.RequestDuration,
		m.RequestErrors,
		m.PendingRequests,
		m.RequestsServed,
		m.DeferredAnswers,
		m.ErrorsPublished,
		m.HealthStatus,
	}
}

// RecordBusState updates the bus state gauge.
func (m *Metrics) RecordBusState(client string, state int) {
	if m == nil {
		return
	}
	m.BusState.WithLabelValues(client).Set(float64(state))
}

// RecordCallbackPanic counts a callback that panicked.
func (m *Metrics) RecordCallbackPanic(client string) {
	if m == nil {
		return
	}
	m.CallbackPanics.WithLabelValues(client).Inc()
}

// RecordConnect counts a broker connection.
func (m *Metrics) RecordConnect(client string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(client).Inc()
}

// RecordMessageReceived counts a delivered message and whether a callback
// handled it.
func (m *Metrics) RecordMessageReceived(client string, matched bool) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(client).Inc()
	if !matched {
		m.MessagesUnmatched.WithLabelValues(client).Inc()
	}
}

// RecordPublish counts a publish attempt.
func (m *Metrics) RecordPublish(client string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.MessagesPublished.WithLabelValues(client, status).Inc()
}

// RequestStarted marks a request as pending and returns the function
// recording its outcome.
func (m *Metrics) RequestStarted(command string) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.PendingRequests.WithLabelValues(command).Inc()
	return func(outcome string) {
		m.PendingRequests.WithLabelValues(command).Dec()
		m.RequestDuration.WithLabelValues(command, outcome).Observe(time.Since(start).Seconds())
		if outcome != OutcomeAnswered {
			m.RequestErrors.WithLabelValues(command, outcome).Inc()
		}
	}
}

// RecordRequestServed counts a request handled by a server, deferred or not.
func (m *Metrics) RecordRequestServed(command string, deferred bool) {
	if m == nil {
		return
	}
	m.RequestsServed.WithLabelValues(command).Inc()
	if deferred {
		m.DeferredAnswers.WithLabelValues(command).Inc()
	}
}

// RecordErrorPublished counts an error report.
func (m *Metrics) RecordErrorPublished(agent string) {
	if m == nil {
		return
	}
	m.ErrorsPublished.WithLabelValues(agent).Inc()
}

// RecordHealthStatus updates the health gauge of a component.
func (m *Metrics) RecordHealthStatus(component string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.HealthStatus.WithLabelValues(component).Set(value)
}

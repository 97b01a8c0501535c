package natsclient

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/testbedbus/metric"
)

// connMetrics exports the statistics of the NATS connection.
type connMetrics struct {
	messages   *prometheus.GaugeVec // Messages by direction
	bytes      *prometheus.GaugeVec // Bytes by direction
	reconnects prometheus.Gauge
	rtt        prometheus.Gauge
	errors     *prometheus.CounterVec // Failed operations
}

func newConnMetrics(registry *metric.MetricsRegistry) (*connMetrics, error) {
	messages := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "testbedbus",
		Subsystem: "nats",
		Name:      "messages",
		Help:      "Messages exchanged on the NATS connection",
	}, []string{"direction"})
	bytes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "testbedbus",
		Subsystem: "nats",
		Name:      "bytes",
		Help:      "Bytes exchanged on the NATS connection",
	}, []string{"direction"})
	conn := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "testbedbus",
		Subsystem: "nats",
		Name:      "connection",
		Help:      "Connection statistics (reconnects, rtt_seconds)",
	}, []string{"stat"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testbedbus",
		Subsystem: "nats",
		Name:      "operation_errors_total",
		Help:      "Total number of failed NATS operations",
	}, []string{"operation"})

	if err := registry.RegisterGaugeVec("natsclient", "messages", messages); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("natsclient", "bytes", bytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("natsclient", "connection", conn); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("natsclient", "errors", errs); err != nil {
		return nil, err
	}

	return &connMetrics{
		messages:   messages,
		bytes:      bytes,
		reconnects: conn.WithLabelValues("reconnects"),
		rtt:        conn.WithLabelValues("rtt_seconds"),
		errors:     errs,
	}, nil
}

// recordError records a failed operation.
func (m *connMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// update copies the connection statistics. Fails gracefully if the
// connection is gone.
func (m *connMetrics) update(conn *nats.Conn) {
	if m == nil || conn == nil {
		return
	}
	stats := conn.Stats()
	m.messages.WithLabelValues("in").Set(float64(stats.InMsgs))
	m.messages.WithLabelValues("out").Set(float64(stats.OutMsgs))
	m.bytes.WithLabelValues("in").Set(float64(stats.InBytes))
	m.bytes.WithLabelValues("out").Set(float64(stats.OutBytes))
	m.reconnects.Set(float64(stats.Reconnects))

	if !conn.IsConnected() {
		return
	}
	if rtt, err := conn.RTT(); err == nil {
		m.rtt.Set(rtt.Seconds())
	}
}

// startPoller polls conn every interval until the returned cancel
// function is called.
func (m *connMetrics) startPoller(conn *nats.Conn, interval time.Duration) context.CancelFunc {
	if m == nil || interval <= 0 {
		return func() {} // No-op if metrics disabled
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.update(conn)
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

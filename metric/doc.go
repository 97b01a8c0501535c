// Package metric exposes the prometheus metrics of a testbed agent.
//
// A MetricsRegistry owns a private prometheus registry with the core bus
// metrics (Metrics) and the Go runtime collectors. The bus client records
// connection state, received and published messages; request clients and
// servers record round trip durations, failures by kind, pending and
// deferred requests; error servers count published error reports.
//
// Server exposes the registry on /metrics and the agent health on /health:
//
//	registry := metric.NewMetricsRegistry()
//	srv := metric.NewServer(9090, "/metrics", registry, monitorFn)
//	go srv.Start()
//	defer srv.Stop()
//
// All Record methods accept a nil *Metrics so that components may run
// without metrics.
package metric

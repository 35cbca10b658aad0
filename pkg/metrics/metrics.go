// Package metrics wires the gateway's counters and histograms through
// the OpenTelemetry SDK, exported for Prometheus scraping.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Recorder holds the instruments the gateway records against during
// request handling, upstream health probing, and tool index rebuilds.
type Recorder struct {
	provider *sdkmetric.MeterProvider

	proxyRequests metric.Int64Counter
	proxyLatency  metric.Float64Histogram
	probeTotal    metric.Int64Counter
	probeLatency  metric.Float64Histogram
	indexRebuilds metric.Int64Counter
}

// New builds a Recorder backed by a Prometheus exporter. The exporter
// registers its collector with the default Prometheus registry; the
// caller mounts promhttp.Handler() on the internal HTTP surface to
// serve it.
func New() (*Recorder, *prometheus.Exporter, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("mcp-gateway-registry")

	r := &Recorder{provider: provider}

	r.proxyRequests, err = meter.Int64Counter("gateway_proxy_requests_total",
		metric.WithDescription("Count of requests proxied to registered MCP services, by path and status class."))
	if err != nil {
		return nil, nil, err
	}
	r.proxyLatency, err = meter.Float64Histogram("gateway_proxy_request_duration_seconds",
		metric.WithDescription("End-to-end latency of proxied requests, including the auth sub-request."))
	if err != nil {
		return nil, nil, err
	}
	r.probeTotal, err = meter.Int64Counter("gateway_health_probes_total",
		metric.WithDescription("Count of health probe attempts, by service path and outcome."))
	if err != nil {
		return nil, nil, err
	}
	r.probeLatency, err = meter.Float64Histogram("gateway_health_probe_duration_seconds",
		metric.WithDescription("Duration of the initialize/tools-list health probe handshake."))
	if err != nil {
		return nil, nil, err
	}
	r.indexRebuilds, err = meter.Int64Counter("gateway_tool_index_rebuilds_total",
		metric.WithDescription("Count of tool index rebuild cycles."))
	if err != nil {
		return nil, nil, err
	}

	return r, exporter, nil
}

// ObserveProxyRequest records one proxied request's outcome.
func (r *Recorder) ObserveProxyRequest(servicePath string, status int, dur time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("service", servicePath),
		attribute.String("status_class", strconv.Itoa(status/100)+"xx"),
	)
	r.proxyRequests.Add(context.Background(), 1, attrs)
	r.proxyLatency.Record(context.Background(), dur.Seconds(), attrs)
}

// ObserveProbe records one health probe attempt's outcome.
func (r *Recorder) ObserveProbe(servicePath, outcome string, dur time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("service", servicePath),
		attribute.String("outcome", outcome),
	)
	r.probeTotal.Add(context.Background(), 1, attrs)
	r.probeLatency.Record(context.Background(), dur.Seconds(), attrs)
}

// ObserveIndexRebuild records one completed tool index rebuild cycle.
func (r *Recorder) ObserveIndexRebuild(toolCount int) {
	if r == nil {
		return
	}
	r.indexRebuilds.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Int("tool_count", toolCount),
	))
}

// Shutdown flushes and stops the underlying MeterProvider.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.provider.Shutdown(ctx)
}

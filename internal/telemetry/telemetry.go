// Package telemetry wires the OpenTelemetry meter used across the daemon and
// exposes the scrape endpoint. Metrics follow the concerns of this system:
// download sessions, sync removals and the REST surface.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Telemetry holds all telemetry instruments and providers. A zero value is a
// disabled no-op, so callers never need nil checks at the call site.
type Telemetry struct {
	meterProvider metric.MeterProvider
	meter         metric.Meter

	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	downloadsTotal   metric.Int64Counter
	downloadsActive  metric.Int64UpDownCounter
	downloadDuration metric.Float64Histogram
	downloadBytes    metric.Int64Counter

	syncRemovalsTotal  metric.Int64Counter
	storeRemovalsTotal metric.Int64Counter
	updateTicksTotal   metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled     bool
	ServiceName string
}

// New creates a new telemetry instance backed by a prometheus exporter.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	)

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	meter := otel.Meter(cfg.ServiceName)

	t := &Telemetry{
		meterProvider: meterProvider,
		meter:         meter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	return t, nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.httpRequestsTotal, err = t.meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total HTTP requests")); err != nil {
		return err
	}

	if t.httpRequestDuration, err = t.meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration")); err != nil {
		return err
	}

	if t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter("http_requests_in_flight",
		metric.WithDescription("In-flight HTTP requests")); err != nil {
		return err
	}

	if t.downloadsTotal, err = t.meter.Int64Counter("blocklist_downloads_total",
		metric.WithDescription("Completed block list download tasks by status")); err != nil {
		return err
	}

	if t.downloadsActive, err = t.meter.Int64UpDownCounter("blocklist_downloads_active",
		metric.WithDescription("Download tasks currently in flight")); err != nil {
		return err
	}

	if t.downloadDuration, err = t.meter.Float64Histogram("blocklist_download_duration_seconds",
		metric.WithDescription("Download task duration")); err != nil {
		return err
	}

	if t.downloadBytes, err = t.meter.Int64Counter("blocklist_download_bytes_total",
		metric.WithDescription("Bytes downloaded")); err != nil {
		return err
	}

	if t.syncRemovalsTotal, err = t.meter.Int64Counter("blocklist_file_removals_total",
		metric.WithDescription("Rule files removed from the container during sync")); err != nil {
		return err
	}

	if t.storeRemovalsTotal, err = t.meter.Int64Counter("rulestore_removals_total",
		metric.WithDescription("Compiled rule lists removed from the store during sync")); err != nil {
		return err
	}

	if t.updateTicksTotal, err = t.meter.Int64Counter("updater_ticks_total",
		metric.WithDescription("Automatic update checks by outcome")); err != nil {
		return err
	}

	return nil
}

// Handler returns the prometheus scrape handler.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records request metrics for the REST surface.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

func (t *Telemetry) IncrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

func (t *Telemetry) DecrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordDownload records one finished download task.
func (t *Telemetry) RecordDownload(status string, duration time.Duration, bytes int64) {
	if t.downloadsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	t.downloadsTotal.Add(context.Background(), 1, attrs)
	t.downloadDuration.Record(context.Background(), duration.Seconds(), attrs)
	t.downloadBytes.Add(context.Background(), bytes, attrs)
}

func (t *Telemetry) IncrementActiveDownloads() {
	if t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), 1)
	}
}

func (t *Telemetry) DecrementActiveDownloads() {
	if t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), -1)
	}
}

// RecordFileRemovals records rule files pruned from the container dir.
func (t *Telemetry) RecordFileRemovals(count int) {
	if t.syncRemovalsTotal != nil {
		t.syncRemovalsTotal.Add(context.Background(), int64(count))
	}
}

// RecordStoreRemovals records compiled lists pruned from the rule store.
func (t *Telemetry) RecordStoreRemovals(count int) {
	if t.storeRemovalsTotal != nil {
		t.storeRemovalsTotal.Add(context.Background(), int64(count))
	}
}

// RecordUpdateTick records one automatic update check by outcome
// (skipped, updated, failed).
func (t *Telemetry) RecordUpdateTick(outcome string) {
	if t.updateTicksTotal != nil {
		t.updateTicksTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

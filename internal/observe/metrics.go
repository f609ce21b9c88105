// Package observe provides application-wide observability primitives for
// Vaani: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vaani metrics.
const meterName = "github.com/nkhattar/vaani"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks speech-to-text transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// ExtractionDuration tracks grammar extraction and normalization latency.
	ExtractionDuration metric.Float64Histogram

	// ReconciliationDuration tracks catalog matching latency.
	ReconciliationDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end voice processing latency.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// Attempts counts processing attempts. Use with attributes:
	//   attribute.String("status", ...), attribute.String("language", ...)
	Attempts metric.Int64Counter

	// ItemsExtracted counts items successfully extracted from transcripts.
	ItemsExtracted metric.Int64Counter

	// ItemsMatched counts extracted items matched to a catalog product. Use
	// with attribute: attribute.String("match_type", ...)
	ItemsMatched metric.Int64Counter

	// --- Error counters ---

	// TranscriberErrors counts speech provider failures. Use with attribute:
	//   attribute.String("provider", ...)
	TranscriberErrors metric.Int64Counter

	// CatalogErrors counts failed catalog lookup batches.
	CatalogErrors metric.Int64Counter

	// MetricsWriteFailures counts voice-metrics records that could not be
	// persisted. These are swallowed by the pipeline, so the counter is the
	// only signal that the analytics store is unhealthy.
	MetricsWriteFailures metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both fast in-process stages and remote recognition calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("vaani.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractionDuration, err = m.Float64Histogram("vaani.extraction.duration",
		metric.WithDescription("Latency of grammar extraction and normalization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReconciliationDuration, err = m.Float64Histogram("vaani.reconciliation.duration",
		metric.WithDescription("Latency of catalog matching."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("vaani.pipeline.duration",
		metric.WithDescription("End-to-end voice processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Attempts, err = m.Int64Counter("vaani.attempts",
		metric.WithDescription("Total processing attempts by status and language."),
	); err != nil {
		return nil, err
	}
	if met.ItemsExtracted, err = m.Int64Counter("vaani.items.extracted",
		metric.WithDescription("Total items extracted from transcripts."),
	); err != nil {
		return nil, err
	}
	if met.ItemsMatched, err = m.Int64Counter("vaani.items.matched",
		metric.WithDescription("Total extracted items matched to a catalog product, by match type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TranscriberErrors, err = m.Int64Counter("vaani.transcriber.errors",
		metric.WithDescription("Total speech provider failures by provider."),
	); err != nil {
		return nil, err
	}
	if met.CatalogErrors, err = m.Int64Counter("vaani.catalog.errors",
		metric.WithDescription("Total failed catalog lookup batches."),
	); err != nil {
		return nil, err
	}
	if met.MetricsWriteFailures, err = m.Int64Counter("vaani.metrics.write_failures",
		metric.WithDescription("Total voice-metrics records that failed to persist."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vaani.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAttempt is a convenience method that records an attempt counter
// increment with the standard attribute set.
func (m *Metrics) RecordAttempt(ctx context.Context, status, language string) {
	m.Attempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("language", language),
		),
	)
}

// RecordItemsMatched is a convenience method that records matched item counts
// for one match type.
func (m *Metrics) RecordItemsMatched(ctx context.Context, matchType string, n int64) {
	if n == 0 {
		return
	}
	m.ItemsMatched.Add(ctx, n,
		metric.WithAttributes(attribute.String("match_type", matchType)),
	)
}

// RecordTranscriberError is a convenience method that records a speech
// provider failure.
func (m *Metrics) RecordTranscriberError(ctx context.Context, provider string) {
	m.TranscriberErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

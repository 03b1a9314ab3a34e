// Package observe provides application-wide observability primitives for
// voxbridge: OpenTelemetry metrics and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxbridge metrics.
const meterName = "github.com/voxwire/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SessionDuration tracks connected time per completed session. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("outcome", ...)
	SessionDuration metric.Float64Histogram

	// FramesSent counts captured audio frames shipped to the provider. Use
	// with attribute: attribute.String("provider", ...)
	FramesSent metric.Int64Counter

	// ChunksReceived counts playback chunks received from the provider. Use
	// with attribute: attribute.String("provider", ...)
	ChunksReceived metric.Int64Counter

	// BargeIns counts playback flushes triggered by caller speech.
	BargeIns metric.Int64Counter

	// ProviderErrors counts provider-reported protocol errors. Use with
	// attribute: attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// SessionCost accrues finalized session cost in USD. Use with attribute:
	//   attribute.String("provider", ...)
	SessionCost metric.Float64Counter

	// ActiveSessions tracks the number of live bridge sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// sessionBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-call durations.
var sessionBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionDuration, err = m.Float64Histogram("voxbridge.session.duration",
		metric.WithDescription("Connected time per completed session by provider and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesSent, err = m.Int64Counter("voxbridge.frames.sent",
		metric.WithDescription("Total captured audio frames shipped to the provider."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("voxbridge.chunks.received",
		metric.WithDescription("Total playback audio chunks received from the provider."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voxbridge.barge_ins",
		metric.WithDescription("Total playback flushes triggered by caller speech."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxbridge.provider.errors",
		metric.WithDescription("Total provider-reported protocol errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.SessionCost, err = m.Float64Counter("voxbridge.session.cost",
		metric.WithDescription("Finalized session cost in USD by provider."),
		metric.WithUnit("USD"),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxbridge.active_sessions",
		metric.WithDescription("Number of live bridge sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
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
			panic("observe: creating default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

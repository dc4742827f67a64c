package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/crewtrack/crewtrack"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session metrics
	CheckInsTotal  metric.Int64Counter
	CheckOutsTotal metric.Int64Counter

	// Sampler metrics
	SamplesProducedTotal  metric.Int64Counter
	SampleFailuresTotal   metric.Int64Counter
	SamplerDegradedTotal  metric.Int64Counter
	SampleProduceDuration metric.Float64Histogram

	// Fan-out metrics
	ActiveWatches        metric.Int64UpDownCounter
	DeliveriesTotal      metric.Int64Counter
	EventsDroppedTotal   metric.Int64Counter
	WatchesTornDownTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.CheckInsTotal, _ = meter.Int64Counter(
		"crewtrack.sessions.checkins.total",
		metric.WithDescription("Total number of successful check-ins"),
		metric.WithUnit("{session}"),
	)

	m.CheckOutsTotal, _ = meter.Int64Counter(
		"crewtrack.sessions.checkouts.total",
		metric.WithDescription("Total number of successful check-outs"),
		metric.WithUnit("{session}"),
	)

	m.SamplesProducedTotal, _ = meter.Int64Counter(
		"crewtrack.sampler.samples.total",
		metric.WithDescription("Total number of location samples published"),
		metric.WithUnit("{sample}"),
	)

	m.SampleFailuresTotal, _ = meter.Int64Counter(
		"crewtrack.sampler.failures.total",
		metric.WithDescription("Total number of failed position reads"),
		metric.WithUnit("{error}"),
	)

	m.SamplerDegradedTotal, _ = meter.Int64Counter(
		"crewtrack.sampler.degraded.total",
		metric.WithDescription("Total number of sampler degraded escalations"),
		metric.WithUnit("{event}"),
	)

	m.SampleProduceDuration, _ = meter.Float64Histogram(
		"crewtrack.sampler.produce.duration",
		metric.WithDescription("Duration of position read and publish"),
		metric.WithUnit("ms"),
	)

	m.ActiveWatches, _ = meter.Int64UpDownCounter(
		"crewtrack.router.watches.active",
		metric.WithDescription("Number of currently open watches"),
		metric.WithUnit("{watch}"),
	)

	m.DeliveriesTotal, _ = meter.Int64Counter(
		"crewtrack.router.deliveries.total",
		metric.WithDescription("Total number of presence events delivered to watches"),
		metric.WithUnit("{event}"),
	)

	m.EventsDroppedTotal, _ = meter.Int64Counter(
		"crewtrack.events.dropped.total",
		metric.WithDescription("Total number of events dropped due to full subscriber channels"),
		metric.WithUnit("{event}"),
	)

	m.WatchesTornDownTotal, _ = meter.Int64Counter(
		"crewtrack.router.watches.torndown.total",
		metric.WithDescription("Total number of watches torn down for inactivity"),
		metric.WithUnit("{watch}"),
	)

	return m
}

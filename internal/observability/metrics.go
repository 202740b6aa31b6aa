package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the orchestrator's instruments. A nil *Metrics records nothing.
type Metrics struct {
	meter metric.Meter

	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	JobsSubmitted       metric.Int64Counter
	JobTransitions      metric.Int64Counter
	CallbacksDiscarded  metric.Int64Counter
	ProviderDuration    metric.Float64Histogram
	ProviderErrorsTotal metric.Int64Counter
	Reconciliations     metric.Int64Counter
	LedgerOperations    metric.Int64Counter
	EventsPublished     metric.Int64Counter
}

// NewMetrics creates the instruments and returns the handler serving them.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter("ucloud-orchestrator"))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}

	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	); err != nil {
		return nil, err
	}

	if m.JobsSubmitted, err = meter.Int64Counter(
		"jobs_submitted_total",
		metric.WithDescription("Jobs accepted by the orchestrator"),
	); err != nil {
		return nil, err
	}

	if m.JobTransitions, err = meter.Int64Counter(
		"job_transitions_total",
		metric.WithDescription("Applied job state transitions by target state"),
	); err != nil {
		return nil, err
	}

	if m.CallbacksDiscarded, err = meter.Int64Counter(
		"callbacks_discarded_total",
		metric.WithDescription("Provider callbacks that were logged and dropped"),
	); err != nil {
		return nil, err
	}

	if m.ProviderDuration, err = meter.Float64Histogram(
		"provider_request_duration_seconds",
		metric.WithDescription("Latency of calls to providers"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		return nil, err
	}

	if m.ProviderErrorsTotal, err = meter.Int64Counter(
		"provider_errors_total",
		metric.WithDescription("Failed calls to providers"),
	); err != nil {
		return nil, err
	}

	if m.Reconciliations, err = meter.Int64Counter(
		"reconciliations_total",
		metric.WithDescription("Per-job reconciliation results by outcome"),
	); err != nil {
		return nil, err
	}

	if m.LedgerOperations, err = meter.Int64Counter(
		"ledger_operations_total",
		metric.WithDescription("Payment gate operations by kind and result"),
	); err != nil {
		return nil, err
	}

	if m.EventsPublished, err = meter.Int64Counter(
		"job_events_published_total",
		metric.WithDescription("Job events handed to the broker"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordHTTPRequest records a completed request against its route template.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(methodAttr(method), pathAttr(route), statusAttr(status))
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, d.Seconds(), attrs)
	if status >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordJobSubmitted(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.JobsSubmitted.Add(ctx, 1, metric.WithAttributes(providerAttr(provider)))
}

func (m *Metrics) RecordTransition(ctx context.Context, provider, state string) {
	if m == nil {
		return
	}
	m.JobTransitions.Add(ctx, 1, metric.WithAttributes(providerAttr(provider), stateAttr(state)))
}

func (m *Metrics) RecordCallbackDiscarded(ctx context.Context, provider, reason string) {
	if m == nil {
		return
	}
	m.CallbacksDiscarded.Add(ctx, 1, metric.WithAttributes(providerAttr(provider), reasonAttr(reason)))
}

// RecordProviderCall records one call to a provider operation.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(providerAttr(provider), opAttr(op))
	m.ProviderDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.ProviderErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordReconciliation(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.Reconciliations.Add(ctx, 1, metric.WithAttributes(providerAttr(provider), outcomeAttr(outcome)))
}

func (m *Metrics) RecordLedger(ctx context.Context, kind, result string) {
	if m == nil {
		return
	}
	m.LedgerOperations.Add(ctx, 1, metric.WithAttributes(kindAttr(kind), resultAttr(result)))
}

func (m *Metrics) RecordEventPublished(ctx context.Context, kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsPublished.Add(ctx, 1, metric.WithAttributes(kindAttr(kind), resultAttr(result)))
}

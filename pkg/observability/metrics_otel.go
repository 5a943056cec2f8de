package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/platinummonkey/cadplug"

// OTelMetrics holds OpenTelemetry metric instruments. They mirror the
// Prometheus metrics for deployments that export over OTLP instead of
// being scraped.
type OTelMetrics struct {
	verifications        metric.Int64Counter
	verificationDuration metric.Float64Histogram
	ledgerWrites         metric.Int64Counter
	rescans              metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithProvider(otel.GetMeterProvider())
}

// NewOTelMetricsWithProvider creates instruments on provider
func NewOTelMetricsWithProvider(provider metric.MeterProvider) (*OTelMetrics, error) {
	meter := provider.Meter(meterName)

	m := &OTelMetrics{}
	var err error

	m.verifications, err = meter.Int64Counter(
		"cadplug.verifications",
		metric.WithDescription("Total number of package verifications"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifications counter: %w", err)
	}

	m.verificationDuration, err = meter.Float64Histogram(
		"cadplug.verification.duration",
		metric.WithDescription("Package verification duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification duration histogram: %w", err)
	}

	m.ledgerWrites, err = meter.Int64Counter(
		"cadplug.ledger.writes",
		metric.WithDescription("Verification records written to the ledger"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger writes counter: %w", err)
	}

	m.rescans, err = meter.Int64Counter(
		"cadplug.rescans",
		metric.WithDescription("Scheduled re-verification passes"),
		metric.WithUnit("{rescan}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rescans counter: %w", err)
	}

	return m, nil
}

// RecordVerification records a verification outcome
func (m *OTelMetrics) RecordVerification(ctx context.Context, mode string, valid bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("cadplug.mode", mode),
		attribute.Bool("cadplug.valid", valid),
	)
	m.verifications.Add(ctx, 1, attrs)
	m.verificationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordLedgerWrite records a ledger insert attempt
func (m *OTelMetrics) RecordLedgerWrite(ctx context.Context, err error) {
	m.ledgerWrites.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", err != nil)))
}

// RecordRescan records one scheduled rescan over count archives
func (m *OTelMetrics) RecordRescan(ctx context.Context, count int) {
	m.rescans.Add(ctx, 1, metric.WithAttributes(attribute.Int("cadplug.archives", count)))
}

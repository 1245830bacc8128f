package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BusinessMetrics defines the interface for recording business operation metrics.
// Implementations track operation counts and durations for observability across
// the crypto domains (crypto, rotation, reencrypt, provider).
type BusinessMetrics interface {
	// RecordOperation records a business operation with its status.
	// Domain examples: "crypto", "rotation", "reencrypt"
	// Operation examples: "encrypt", "decrypt", "rotate", "key_fetch"
	// Status examples: "success", "error"
	RecordOperation(ctx context.Context, domain, operation, status string)

	// RecordDuration records the duration of a business operation with its status.
	// Duration is recorded in seconds as a histogram for percentile calculations.
	RecordDuration(ctx context.Context, domain, operation string, duration time.Duration, status string)

	// RecordFailover records a regional failover during a key fetch. Region is
	// the region that finally served the request ("" when every region failed);
	// status is "recovered" or "exhausted". Failover occurring at all is an
	// operational signal, so it is counted separately from plain operations.
	RecordFailover(ctx context.Context, region, status string)

	// RecordMigratedRecords adds to the re-encryption record counter.
	// Status examples: "reencrypted", "skipped", "failed".
	RecordMigratedRecords(ctx context.Context, count int64, status string)
}

// businessMetrics implements BusinessMetrics using OpenTelemetry metrics.
type businessMetrics struct {
	operationCounter metric.Int64Counter
	durationHisto    metric.Float64Histogram
	failoverCounter  metric.Int64Counter
	migratedCounter  metric.Int64Counter
}

// NewBusinessMetrics creates a new BusinessMetrics implementation using the provided meter provider.
// The namespace parameter is used as a prefix for all metric names (e.g., "fieldcrypt").
// Returns error if meters cannot be initialized.
func NewBusinessMetrics(meterProvider metric.MeterProvider, namespace string) (BusinessMetrics, error) {
	meter := meterProvider.Meter(namespace)

	// Create counter for total operations
	operationCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_operations_total", namespace),
		metric.WithDescription("Total number of business operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation counter: %w", err)
	}

	// Create histogram for operation durations
	durationHisto, err := meter.Float64Histogram(
		fmt.Sprintf("%s_operation_duration_seconds", namespace),
		metric.WithDescription("Duration of business operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	// Create counter for key fetch failovers
	failoverCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_key_fetch_failovers_total", namespace),
		metric.WithDescription("Total number of key fetches served away from the primary region"),
		metric.WithUnit("{failover}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failover counter: %w", err)
	}

	// Create counter for migrated records
	migratedCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_reencrypted_records_total", namespace),
		metric.WithDescription("Total number of records visited by re-encryption runs"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrated records counter: %w", err)
	}

	return &businessMetrics{
		operationCounter: operationCounter,
		durationHisto:    durationHisto,
		failoverCounter:  failoverCounter,
		migratedCounter:  migratedCounter,
	}, nil
}

// RecordOperation increments the operation counter with domain, operation, and status labels.
func (b *businessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	b.operationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("domain", domain),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordDuration records the operation duration in seconds with domain, operation, and status labels.
func (b *businessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
	b.durationHisto.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("domain", domain),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordFailover increments the failover counter with region and status labels.
func (b *businessMetrics) RecordFailover(ctx context.Context, region, status string) {
	b.failoverCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("region", region),
			attribute.String("status", status),
		),
	)
}

// RecordMigratedRecords adds count to the migrated records counter with a status label.
func (b *businessMetrics) RecordMigratedRecords(ctx context.Context, count int64, status string) {
	b.migratedCounter.Add(ctx, count,
		metric.WithAttributes(
			attribute.String("status", status),
		),
	)
}

// NoOpBusinessMetrics is a no-op implementation of BusinessMetrics for when metrics are disabled.
type NoOpBusinessMetrics struct{}

// NewNoOpBusinessMetrics creates a no-op BusinessMetrics implementation.
func NewNoOpBusinessMetrics() BusinessMetrics {
	return &NoOpBusinessMetrics{}
}

// RecordOperation does nothing when metrics are disabled.
func (n *NoOpBusinessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	// No-op
}

// RecordDuration does nothing when metrics are disabled.
func (n *NoOpBusinessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
	// No-op
}

// RecordFailover does nothing when metrics are disabled.
func (n *NoOpBusinessMetrics) RecordFailover(ctx context.Context, region, status string) {
	// No-op
}

// RecordMigratedRecords does nothing when metrics are disabled.
func (n *NoOpBusinessMetrics) RecordMigratedRecords(ctx context.Context, count int64, status string) {
	// No-op
}

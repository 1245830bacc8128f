package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertBizMetricLine checks that the Prometheus output contains a business metric
// matching the given name, partial label pattern, and value. Uses regex to handle
// extra OTel scope labels injected by the Prometheus exporter.
func assertBizMetricLine(t *testing.T, output, name, labels, value string) {
	t.Helper()
	pattern := name + `\{[^}]*` + labels + `[^}]*\} ` + value
	assert.Regexp(t, pattern, output)
}

func TestNewBusinessMetrics(t *testing.T) {
	t.Run("Success_CreateBusinessMetrics", func(t *testing.T) {
		provider, err := NewProvider()
		require.NoError(t, err)

		businessMetrics, err := NewBusinessMetrics(provider.MeterProvider(), "test_app")

		require.NoError(t, err)
		assert.NotNil(t, businessMetrics)
	})
}

func TestBusinessMetrics_RecordOperation(t *testing.T) {
	provider, err := NewProvider()
	require.NoError(t, err)

	bm, err := NewBusinessMetrics(provider.MeterProvider(), "test_app")
	require.NoError(t, err)

	t.Run("Success_RecordSuccessfulOperation", func(t *testing.T) {
		// Should not panic
		bm.RecordOperation(context.Background(), "crypto", "encrypt", "success")
	})

	t.Run("Success_RecordFailedOperation", func(t *testing.T) {
		// Should not panic
		bm.RecordOperation(context.Background(), "crypto", "decrypt", "error")
	})

	t.Run("Success_RecordMultipleDomains", func(t *testing.T) {
		bm.RecordOperation(context.Background(), "crypto", "key_fetch", "success")
		bm.RecordOperation(context.Background(), "rotation", "rotate", "success")
		bm.RecordOperation(context.Background(), "reencrypt", "run", "error")
	})
}

func TestBusinessMetrics_RecordDuration(t *testing.T) {
	provider, err := NewProvider()
	require.NoError(t, err)

	bm, err := NewBusinessMetrics(provider.MeterProvider(), "test_app")
	require.NoError(t, err)

	t.Run("Success_RecordSuccessfulDuration", func(t *testing.T) {
		// Should not panic
		bm.RecordDuration(context.Background(), "rotation", "rotate", 123*time.Millisecond, "success")
	})

	t.Run("Success_RecordFailedDuration", func(t *testing.T) {
		// Should not panic
		bm.RecordDuration(context.Background(), "rotation", "rotate", 456*time.Millisecond, "error")
	})
}

func TestBusinessMetrics_RecordFailover(t *testing.T) {
	provider, err := NewProvider()
	require.NoError(t, err)

	bm, err := NewBusinessMetrics(provider.MeterProvider(), "test_app")
	require.NoError(t, err)

	t.Run("Success_RecordRecovered", func(t *testing.T) {
		bm.RecordFailover(context.Background(), "us-west-2", "recovered")
	})

	t.Run("Success_RecordExhausted", func(t *testing.T) {
		bm.RecordFailover(context.Background(), "", "exhausted")
	})
}

func TestNewNoOpBusinessMetrics(t *testing.T) {
	noOpMetrics := NewNoOpBusinessMetrics()

	assert.NotNil(t, noOpMetrics)
	assert.IsType(t, &NoOpBusinessMetrics{}, noOpMetrics)

	t.Run("NoOp_RecordOperationDoesNotPanic", func(t *testing.T) {
		// Should not panic or do anything
		noOpMetrics.RecordOperation(context.Background(), "crypto", "encrypt", "success")
		noOpMetrics.RecordOperation(context.Background(), "rotation", "rotate", "error")
	})

	t.Run("NoOp_RecordDurationDoesNotPanic", func(t *testing.T) {
		// Should not panic or do anything
		noOpMetrics.RecordDuration(
			context.Background(),
			"crypto",
			"encrypt",
			100*time.Millisecond,
			"success",
		)
	})

	t.Run("NoOp_RecordFailoverDoesNotPanic", func(t *testing.T) {
		noOpMetrics.RecordFailover(context.Background(), "us-east-1", "recovered")
	})

	t.Run("NoOp_RecordMigratedRecordsDoesNotPanic", func(t *testing.T) {
		noOpMetrics.RecordMigratedRecords(context.Background(), 100, "reencrypted")
	})
}

func TestBusinessMetrics_Integration(t *testing.T) {
	provider, err := NewProvider()
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, provider.Shutdown(context.Background()))
	}()

	bm, err := NewBusinessMetrics(provider.MeterProvider(), "integration_test")
	require.NoError(t, err)

	// Record various operations
	ctx := context.Background()

	// Record operation counts
	bm.RecordOperation(ctx, "crypto", "encrypt", "success")
	bm.RecordOperation(ctx, "crypto", "encrypt", "success")
	bm.RecordOperation(ctx, "crypto", "encrypt", "error")
	bm.RecordOperation(ctx, "rotation", "rotate", "success")
	bm.RecordOperation(ctx, "reencrypt", "run", "success")

	// Record operation durations
	bm.RecordDuration(ctx, "crypto", "encrypt", 50*time.Millisecond, "success")
	bm.RecordDuration(ctx, "crypto", "encrypt", 60*time.Millisecond, "success")
	bm.RecordDuration(ctx, "rotation", "rotate", 150*time.Millisecond, "success")

	// Record failovers and migrated records
	bm.RecordFailover(ctx, "us-west-2", "recovered")
	bm.RecordMigratedRecords(ctx, 42, "reencrypted")
	bm.RecordMigratedRecords(ctx, 8, "skipped")

	// Metrics should be recorded without errors
	// Verify metrics in Prometheus registry
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	provider.Handler().ServeHTTP(w, req)

	output := w.Body.String()

	// Check operation counts
	assertBizMetricLine(
		t,
		output,
		`integration_test_operations_total`,
		`domain="crypto".*operation="encrypt".*status="success"`,
		`2`,
	)
	assertBizMetricLine(
		t,
		output,
		`integration_test_operations_total`,
		`domain="crypto".*operation="encrypt".*status="error"`,
		`1`,
	)
	assertBizMetricLine(
		t,
		output,
		`integration_test_operations_total`,
		`domain="rotation".*operation="rotate".*status="success"`,
		`1`,
	)

	// Check durations (existence)
	assertBizMetricLine(
		t,
		output,
		`integration_test_operation_duration_seconds_count`,
		`domain="crypto".*operation="encrypt".*status="success"`,
		`2`,
	)

	// Check failover and migrated record counters
	assertBizMetricLine(
		t,
		output,
		`integration_test_key_fetch_failovers_total`,
		`region="us-west-2".*status="recovered"`,
		`1`,
	)
	assertBizMetricLine(
		t,
		output,
		`integration_test_reencrypted_records_total`,
		`status="reencrypted"`,
		`42`,
	)
	assertBizMetricLine(
		t,
		output,
		`integration_test_reencrypted_records_total`,
		`status="skipped"`,
		`8`,
	)
}

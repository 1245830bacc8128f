// Package domain defines the result types of re-encryption runs.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MigrationReport summarizes one re-encryption run over the encrypted field
// store. Skipped counts records that needed no work (already current, or
// outside the version filter); SkippedFailed counts records left in place
// because they failed authentication.
type MigrationReport struct {
	RunID         uuid.UUID `json:"run_id"`
	DryRun        bool      `json:"dry_run"`
	Scanned       int       `json:"scanned"`
	Reencrypted   int       `json:"reencrypted"`
	Skipped       int       `json:"skipped"`
	SkippedFailed int       `json:"skipped_failed"`
	Batches       int       `json:"batches"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Elapsed returns the wall time the run took.
func (m *MigrationReport) Elapsed() time.Duration {
	return m.FinishedAt.Sub(m.StartedAt)
}

// RecordsPerSecond returns the scan throughput of the run, zero when the run
// recorded no elapsed time.
func (m *MigrationReport) RecordsPerSecond() float64 {
	elapsed := m.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}

	return float64(m.Scanned) / elapsed
}

package interfaces

import (
	"context"

	"keeper-oracle/src/models"
)

// -----------------------------------------------------------------------------
// IDatabase defines the contract for storage operations.
// -----------------------------------------------------------------------------

type IDatabase interface {

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// RegisterFeeds upserts the configured feeds into the feed registry.
	RegisterFeeds(ctx context.Context, feeds []models.MFeedStatus) error

	// -----------------------------------------------------------------------------

	// SaveCycle stores one aggregation cycle with its per-feed snapshots.
	SaveCycle(ctx context.Context, cycle models.MAggregationCycle) error

	// -----------------------------------------------------------------------------

	// LatestCycles returns up to limit cycles, newest first.
	LatestCycles(ctx context.Context, limit int) ([]models.MAggregationCycle, error)

	// -----------------------------------------------------------------------------

	// CleanupOldData removes data older than the retention policy.
	CleanupOldData() error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}

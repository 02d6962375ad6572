// Package storage defines the time-series store interfaces for canonical
// candle persistence and provides the TimescaleDB and in-memory
// implementations. Writes are conflict-aware upserts keyed on
// (time, asset_id): re-running an already-populated range is a no-op on
// unchanged rows and a correction on changed ones.
package storage

import (
	"context"

	"github.com/quantlake/go-market-etl/internal/models"
)

// CandleWriter persists batches of canonical candles.
type CandleWriter interface {
	// StoreBatch upserts a batch in a single statement and returns the
	// number of rows written. The batch applies atomically: a rejected
	// batch writes nothing and surfaces as a PersistenceError.
	StoreBatch(ctx context.Context, candles []models.Candle) (int, error)
}

// CandleReader retrieves stored candles.
type CandleReader interface {
	// GetLatest returns the most recent candle for an asset, or nil if
	// the asset has no stored candles.
	GetLatest(ctx context.Context, assetID int64) (*models.Candle, error)
}

// HealthChecker verifies the store is reachable. The pipeline runs this
// pre-flight so a dead connection fails the run before any exchange call.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CandleStore combines all store capabilities used by the pipeline.
type CandleStore interface {
	CandleWriter
	CandleReader
	HealthChecker
	Close()
}

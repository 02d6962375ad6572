package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	qerrors "github.com/quantlake/go-market-etl/internal/errors"
	"github.com/quantlake/go-market-etl/internal/models"
)

// MemoryStorage is an in-memory CandleStore with the same upsert
// semantics as the TimescaleDB implementation, used in tests. A batch
// applies atomically: every candle is validated before any is stored.
type MemoryStorage struct {
	mu sync.RWMutex

	// candles: asset_id -> open time -> candle
	candles map[int64]map[time.Time]models.Candle
	closed  bool

	// FailNext makes the next StoreBatch calls fail, simulating a store
	// rejection. Each failure decrements the counter.
	FailNext int
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{candles: make(map[int64]map[time.Time]models.Candle)}
}

// StoreBatch implements CandleWriter.
func (m *MemoryStorage) StoreBatch(ctx context.Context, candles []models.Candle) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &qerrors.PersistenceError{Operation: "upsert", Table: "candles", Err: err}
	}
	if len(candles) == 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, &qerrors.PersistenceError{Operation: "upsert", Table: "candles", Err: errors.New("storage is closed")}
	}
	if m.FailNext > 0 {
		m.FailNext--
		return 0, &qerrors.PersistenceError{Operation: "upsert", Table: "candles", Err: errors.New("simulated batch rejection")}
	}

	// Validate the whole batch before applying anything.
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return 0, &qerrors.PersistenceError{
				Operation: "upsert",
				Table:     "candles",
				Err:       fmt.Errorf("invalid candle at index %d: %w", i, err),
			}
		}
	}

	for _, c := range candles {
		byTime, ok := m.candles[c.AssetID]
		if !ok {
			byTime = make(map[time.Time]models.Candle)
			m.candles[c.AssetID] = byTime
		}
		byTime[c.Time] = c
	}
	return len(candles), nil
}

// GetLatest implements CandleReader.
func (m *MemoryStorage) GetLatest(_ context.Context, assetID int64) (*models.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.Candle
	for t, c := range m.candles[assetID] {
		if latest == nil || t.After(latest.Time) {
			candle := c
			latest = &candle
		}
	}
	return latest, nil
}

// All returns every stored candle for an asset, sorted by time. Test helper.
func (m *MemoryStorage) All(assetID int64) []models.Candle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Candle, 0, len(m.candles[assetID]))
	for _, c := range m.candles[assetID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Count returns the number of stored candles for an asset. Test helper.
func (m *MemoryStorage) Count(assetID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.candles[assetID])
}

// HealthCheck implements HealthChecker.
func (m *MemoryStorage) HealthCheck(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errors.New("storage is closed")
	}
	return nil
}

// Close marks the store closed.
func (m *MemoryStorage) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quantlake/go-market-etl/internal/errors"
	"github.com/quantlake/go-market-etl/internal/exchange"
	"github.com/quantlake/go-market-etl/internal/models"
	"github.com/quantlake/go-market-etl/internal/normalize"
	"github.com/quantlake/go-market-etl/internal/registry"
	"github.com/quantlake/go-market-etl/internal/storage"
)

// stubSource serves pre-canned candle data per symbol. Data ends at
// horizon; pages honor the caller's limit so multi-page runs work.
// Safe for the orchestrator's concurrent symbol tasks.
type stubSource struct {
	horizon   time.Time
	failAfter int // total pages across all symbols before failing, -1 disables

	mu     sync.Mutex
	served int

	// mangleAt marks open times whose raw candles are served malformed.
	mangleAt map[time.Time]bool
}

func newStubSource(horizon time.Time) *stubSource {
	return &stubSource{horizon: horizon, failAfter: -1}
}

func (s *stubSource) Klines(_ context.Context, _ string, interval models.Interval, start, _ time.Time, limit int) ([]exchange.RawCandle, error) {
	s.mu.Lock()
	failed := s.failAfter >= 0 && s.served >= s.failAfter
	if !failed {
		s.served++
	}
	s.mu.Unlock()
	if failed {
		return nil, errors.New("exchange down")
	}

	var page []exchange.RawCandle
	for t := start; len(page) < limit && t.Before(s.horizon); t = t.Add(interval.Width()) {
		raw := exchange.RawCandle{
			OpenTime: t,
			Open:     "100", High: "110", Low: "90", Close: "105",
			Volume: "3.5",
		}
		if s.mangleAt[t] {
			raw.Volume = "garbage"
		}
		page = append(page, raw)
	}
	return page, nil
}

type fixture struct {
	source *stubSource
	store  *storage.MemoryStorage
	norm   *normalize.Normalizer
	orch   *Orchestrator
}

func newFixture(horizon time.Time) *fixture {
	reg := registry.NewMemoryRegistry("BINANCE")
	reg.Register("BTCUSDT", 1)
	reg.Register("ETHUSDT", 2)

	source := newStubSource(horizon)
	store := storage.NewMemoryStorage()
	norm := normalize.New(reg, slog.Default())
	return &fixture{
		source: source,
		store:  store,
		norm:   norm,
		orch:   NewOrchestrator(source, norm, store, 2, slog.Default()),
	}
}

func hourRange(start time.Time, hours int) models.TimeRange {
	return models.TimeRange{Start: start, End: start.Add(time.Duration(hours) * time.Hour), Interval: "1h"}
}

func TestOrchestratorRunSuccess(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(base.Add(48 * time.Hour))

	report := f.orch.Run(context.Background(), []string{"BTCUSDT", "ETHUSDT"}, hourRange(base, 48))

	require.Len(t, report.Summaries, 2)
	assert.False(t, report.Failed())
	for _, sum := range report.Summaries {
		assert.Equal(t, models.StatusSucceeded, sum.Status)
		assert.Equal(t, 48, sum.CandlesFetched)
		assert.Equal(t, 48, sum.CandlesWritten)
		assert.Zero(t, sum.CandlesDropped)
		assert.NoError(t, sum.Err)
		assert.Equal(t, base.Add(47*time.Hour), sum.LastCursor)
	}
	assert.Equal(t, 48, f.store.Count(1))
	assert.Equal(t, 48, f.store.Count(2))
	assert.NotEmpty(t, report.RunID)
}

func TestOrchestratorUnknownSymbolIsIsolated(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(base.Add(24 * time.Hour))

	report := f.orch.Run(context.Background(), []string{"BTCUSDT", "DOGEUSDT"}, hourRange(base, 24))

	require.Len(t, report.Summaries, 2)
	assert.True(t, report.Failed())

	assert.Equal(t, models.StatusSucceeded, report.Summaries[0].Status)
	assert.Equal(t, 24, f.store.Count(1), "healthy symbol must be fully written despite the failed one")

	failed := report.Summaries[1]
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.True(t, qerrors.IsUnknownAsset(failed.Err))
	assert.Zero(t, failed.CandlesFetched, "unregistered symbols fail before any fetch")
}

// flakyStore delegates to a MemoryStorage but rejects every StoreBatch
// call from failFrom (0-based call index) onward.
type flakyStore struct {
	*storage.MemoryStorage
	calls    int
	failFrom int
}

func (s *flakyStore) StoreBatch(ctx context.Context, candles []models.Candle) (int, error) {
	idx := s.calls
	s.calls++
	if idx >= s.failFrom {
		return 0, &qerrors.PersistenceError{Operation: "upsert", Err: errors.New("store rejected batch")}
	}
	return s.MemoryStorage.StoreBatch(ctx, candles)
}

func TestOrchestratorPartialOnWriteFailure(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hours := exchange.MaxCandlesPerRequest + 200
	f := newFixture(base.Add(time.Duration(hours) * time.Hour))

	// The first page's write succeeds; the second page's write fails on
	// both the attempt and its single retry.
	store := &flakyStore{MemoryStorage: f.store, failFrom: 1}
	orch := NewOrchestrator(f.source, f.norm, store, 1, slog.Default())

	report := orch.Run(context.Background(), []string{"BTCUSDT"}, hourRange(base, hours))

	sum := report.Summaries[0]
	assert.Equal(t, models.StatusPartial, sum.Status)
	assert.True(t, qerrors.IsPersistence(sum.Err))
	assert.Equal(t, exchange.MaxCandlesPerRequest, sum.CandlesWritten)
	assert.Equal(t, exchange.MaxCandlesPerRequest, f.store.Count(1), "first page stays durably written")
	assert.Equal(t, base.Add(time.Duration(exchange.MaxCandlesPerRequest-1)*time.Hour), sum.LastCursor)
}

func TestOrchestratorFailedWhenNothingWritten(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(base.Add(24 * time.Hour))

	// Both the write attempt and its retry are rejected.
	f.store.FailNext = 2
	report := f.orch.Run(context.Background(), []string{"BTCUSDT"}, hourRange(base, 24))

	sum := report.Summaries[0]
	assert.Equal(t, models.StatusFailed, sum.Status)
	assert.True(t, qerrors.IsPersistence(sum.Err))
	assert.Zero(t, sum.CandlesWritten)
	assert.Zero(t, f.store.Count(1))
}

func TestOrchestratorWriteRetryRecovers(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(base.Add(24 * time.Hour))

	// A single transient rejection is absorbed by the one write retry.
	f.store.FailNext = 1
	report := f.orch.Run(context.Background(), []string{"BTCUSDT"}, hourRange(base, 24))

	sum := report.Summaries[0]
	assert.Equal(t, models.StatusSucceeded, sum.Status)
	assert.Equal(t, 24, sum.CandlesWritten)
	assert.Equal(t, 24, f.store.Count(1))
}

func TestOrchestratorPartialOnFetchFailure(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hours := exchange.MaxCandlesPerRequest * 2
	f := newFixture(base.Add(time.Duration(hours) * time.Hour))

	// The second fetch fails after the first page was written.
	f.source.failAfter = 1
	report := f.orch.Run(context.Background(), []string{"BTCUSDT"}, hourRange(base, hours))

	sum := report.Summaries[0]
	assert.Equal(t, models.StatusPartial, sum.Status)
	assert.Equal(t, exchange.MaxCandlesPerRequest, sum.CandlesWritten)

	fe, ok := qerrors.IsFetch(sum.Err)
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Duration(exchange.MaxCandlesPerRequest-1)*time.Hour), fe.LastFetched)
}

// recordingStore wraps a MemoryStorage and records GetLatest lookups.
type recordingStore struct {
	*storage.MemoryStorage
	mu          sync.Mutex
	latestCalls []int64
}

func (s *recordingStore) GetLatest(ctx context.Context, assetID int64) (*models.Candle, error) {
	s.mu.Lock()
	s.latestCalls = append(s.latestCalls, assetID)
	s.mu.Unlock()
	return s.MemoryStorage.GetLatest(ctx, assetID)
}

func TestOrchestratorReadsDurableResumePointOnFailure(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hours := exchange.MaxCandlesPerRequest * 2
	f := newFixture(base.Add(time.Duration(hours) * time.Hour))
	f.source.failAfter = 1

	store := &recordingStore{MemoryStorage: f.store}
	orch := NewOrchestrator(f.source, f.norm, store, 1, slog.Default())

	report := orch.Run(context.Background(), []string{"BTCUSDT"}, hourRange(base, hours))

	require.Equal(t, models.StatusPartial, report.Summaries[0].Status)

	// The aborted symbol's durable resume point comes from the store,
	// not from this run's in-memory cursor.
	require.Equal(t, []int64{1}, store.latestCalls)
	latest, err := store.GetLatest(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, base.Add(time.Duration(exchange.MaxCandlesPerRequest-1)*time.Hour), latest.Time)
}

func TestOrchestratorSkipsResumeLookupOnSuccess(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(base.Add(24 * time.Hour))

	store := &recordingStore{MemoryStorage: f.store}
	orch := NewOrchestrator(f.source, f.norm, store, 1, slog.Default())

	report := orch.Run(context.Background(), []string{"BTCUSDT"}, hourRange(base, 24))

	require.Equal(t, models.StatusSucceeded, report.Summaries[0].Status)
	assert.Empty(t, store.latestCalls)
}

func TestOrchestratorDropsMalformedCandles(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(base.Add(24 * time.Hour))
	f.source.mangleAt = map[time.Time]bool{
		base.Add(3 * time.Hour): true,
		base.Add(9 * time.Hour): true,
	}

	report := f.orch.Run(context.Background(), []string{"BTCUSDT"}, hourRange(base, 24))

	sum := report.Summaries[0]
	assert.Equal(t, models.StatusSucceeded, sum.Status)
	assert.Equal(t, 24, sum.CandlesFetched)
	assert.Equal(t, 2, sum.CandlesDropped)
	assert.Equal(t, 22, sum.CandlesWritten)
	assert.Equal(t, 22, f.store.Count(1))
}

func TestOrchestratorCancelledContext(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(base.Add(24 * time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := f.orch.Run(ctx, []string{"BTCUSDT"}, hourRange(base, 24))

	sum := report.Summaries[0]
	assert.Equal(t, models.StatusFailed, sum.Status)
	assert.Zero(t, f.store.Count(1))
}

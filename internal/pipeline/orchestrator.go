package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	qerrors "github.com/quantlake/go-market-etl/internal/errors"
	"github.com/quantlake/go-market-etl/internal/exchange"
	"github.com/quantlake/go-market-etl/internal/models"
	"github.com/quantlake/go-market-etl/internal/normalize"
	"github.com/quantlake/go-market-etl/internal/storage"
)

const (
	// DefaultConcurrency bounds how many symbols are processed at once.
	DefaultConcurrency = 4

	// writeRetries is the number of times a rejected batch write is
	// retried before the symbol is marked partial or failed.
	writeRetries = 1
)

// Orchestrator runs the pipeline for each symbol of a run. Symbols are
// independent tasks sharing only the read-only asset cache and the store
// connection pool; a failure in one symbol never aborts the others.
//
// Within a symbol, fetch -> normalize -> write is strictly sequential per
// page, because cursor advancement depends on each page being durably
// handled before the next request. Concurrent runs over the same symbol
// and range are undefined behavior: the storage upsert tolerates them,
// but the resume bookkeeping assumes a single writer per symbol per run.
type Orchestrator struct {
	source      exchange.KlineSource
	normalizer  *normalize.Normalizer
	store       storage.CandleStore
	logger      *slog.Logger
	concurrency int
}

// NewOrchestrator wires the pipeline components together.
func NewOrchestrator(source exchange.KlineSource, normalizer *normalize.Normalizer, store storage.CandleStore, concurrency int, logger *slog.Logger) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		source:      source,
		normalizer:  normalizer,
		store:       store,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Run processes every symbol over the planned range and returns the
// per-symbol outcome report. Cancelling the context stops new fetch and
// write calls promptly; rows already upserted stay committed and the
// report reflects whatever was durably written.
func (o *Orchestrator) Run(ctx context.Context, symbols []string, rng models.TimeRange) *models.RunReport {
	report := &models.RunReport{
		RunID:     uuid.NewString(),
		Range:     rng,
		Summaries: make([]models.RunSummary, len(symbols)),
	}

	o.logger.Info("starting pipeline run",
		"run_id", report.RunID,
		"symbols", len(symbols),
		"range", rng.String())

	start := time.Now()
	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup

	for i, symbol := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				report.Summaries[i] = models.RunSummary{
					Symbol: symbol,
					Status: models.StatusFailed,
					Err:    ctx.Err(),
				}
				return
			}

			report.Summaries[i] = o.runSymbol(ctx, symbol, rng)
		}(i, symbol)
	}
	wg.Wait()

	report.Elapsed = time.Since(start)
	for i := range report.Summaries {
		o.logger.Info("symbol finished", "run_id", report.RunID, "summary", report.Summaries[i].String())
	}
	o.logger.Info("pipeline run finished",
		"run_id", report.RunID,
		"elapsed", report.Elapsed,
		"failed", report.Failed())
	return report
}

// runSymbol drives one symbol through the per-symbol state machine.
func (o *Orchestrator) runSymbol(ctx context.Context, symbol string, rng models.TimeRange) models.RunSummary {
	start := time.Now()
	sum := models.RunSummary{Symbol: symbol, Status: models.StatusPending}
	defer func() { sum.Elapsed = time.Since(start) }()

	logger := o.logger.With("symbol", symbol)

	// Unregistered symbols fail fast, before any exchange traffic.
	assetID, err := o.normalizer.ResolveAsset(ctx, symbol)
	if err != nil {
		logger.Error("asset resolution failed", "error", err)
		sum.Status = models.StatusFailed
		sum.Err = err
		return sum
	}

	stream := exchange.NewPageStream(o.source, symbol, rng)

	for {
		if err := ctx.Err(); err != nil {
			o.finish(&sum, err)
			return sum
		}

		sum.Status = models.StatusFetching
		page, err := stream.Next(ctx)
		if err != nil {
			if fe, ok := qerrors.IsFetch(err); ok && !fe.LastFetched.IsZero() {
				logger.Error("fetch failed, range resumable", "error", err, "resume_from", fe.LastFetched)
			} else {
				logger.Error("fetch failed", "error", err)
			}
			o.logResumePoint(ctx, logger, assetID)
			o.finish(&sum, err)
			return sum
		}
		if page == nil {
			sum.Status = models.StatusSucceeded
			return sum
		}
		sum.CandlesFetched += len(page)

		sum.Status = models.StatusNormalizing
		candles, dropped := o.normalizer.Page(symbol, assetID, rng.Interval, page)
		sum.CandlesDropped += dropped
		if len(candles) == 0 {
			continue
		}

		sum.Status = models.StatusWriting
		written, err := o.writeWithRetry(ctx, logger, candles)
		if err != nil {
			logger.Error("batch write failed after retry", "error", err)
			o.logResumePoint(ctx, logger, assetID)
			o.finish(&sum, err)
			return sum
		}
		sum.CandlesWritten += written
		sum.LastCursor = candles[len(candles)-1].Time
	}
}

// writeWithRetry attempts the batch upsert, retrying a rejected batch a
// bounded number of times before surfacing the PersistenceError.
func (o *Orchestrator) writeWithRetry(ctx context.Context, logger *slog.Logger, candles []models.Candle) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= writeRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, &qerrors.PersistenceError{Operation: "upsert", Err: err}
		}
		written, err := o.store.StoreBatch(ctx, candles)
		if err == nil {
			return written, nil
		}
		lastErr = err
		if attempt < writeRetries {
			logger.Warn("batch write rejected, retrying once", "error", err, "batch_size", len(candles))
		}
	}
	return 0, lastErr
}

// logResumePoint reads the store's newest durable candle for an aborted
// symbol and logs it. The in-memory cursor only reflects this run; the
// store read is authoritative when a prior run already covered part of
// the range.
func (o *Orchestrator) logResumePoint(ctx context.Context, logger *slog.Logger, assetID int64) {
	latest, err := o.store.GetLatest(ctx, assetID)
	if err != nil {
		logger.Warn("durable resume point lookup failed", "error", err)
		return
	}
	if latest == nil {
		logger.Info("no durable candles stored, restart the range from its beginning")
		return
	}
	logger.Info("durable resume point", "resume_from", latest.Time)
}

// finish records the terminal status for an aborted symbol: PARTIAL when
// at least one page was durably written before the error, FAILED when
// nothing was.
func (o *Orchestrator) finish(sum *models.RunSummary, err error) {
	sum.Err = err
	if sum.CandlesWritten > 0 {
		sum.Status = models.StatusPartial
	} else {
		sum.Status = models.StatusFailed
	}
}

// Package normalize maps raw exchange candles into canonical OHLCV
// records. Numeric fields are parsed into decimals, the OHLC ordering
// invariant is re-validated, and timestamps are aligned to the requested
// interval boundary. A single malformed candle is dropped and logged
// rather than aborting the page.
package normalize

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	qerrors "github.com/quantlake/go-market-etl/internal/errors"
	"github.com/quantlake/go-market-etl/internal/exchange"
	"github.com/quantlake/go-market-etl/internal/models"
	"github.com/quantlake/go-market-etl/internal/registry"
)

// Normalizer converts raw candle pages into validated canonical records
// for one run. Asset resolution goes through the shared cached resolver,
// so the registry is hit at most once per symbol.
type Normalizer struct {
	resolver registry.Resolver
	logger   *slog.Logger
}

// New creates a Normalizer.
func New(resolver registry.Resolver, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{resolver: resolver, logger: logger}
}

// ResolveAsset resolves a symbol to its asset ID. An UnknownAssetError is
// fatal for that symbol's run; the orchestrator calls this before any
// fetch so unregistered symbols fail fast without network traffic.
func (n *Normalizer) ResolveAsset(ctx context.Context, symbol string) (int64, error) {
	return n.resolver.Resolve(ctx, symbol)
}

// Page normalizes one raw page. Malformed rows are dropped and logged;
// the returned dropped count reports how many. The returned candles are
// in the same order the exchange delivered them.
func (n *Normalizer) Page(symbol string, assetID int64, interval models.Interval, page []exchange.RawCandle) ([]models.Candle, int) {
	candles := make([]models.Candle, 0, len(page))
	dropped := 0

	for i := range page {
		candle, err := n.one(symbol, assetID, interval, &page[i])
		if err != nil {
			dropped++
			n.logger.Warn("dropping malformed candle",
				"symbol", symbol,
				"open_time", page[i].OpenTime,
				"error", err)
			continue
		}
		candles = append(candles, candle)
	}
	return candles, dropped
}

// one normalizes a single raw candle or fails with a DataFormatError.
func (n *Normalizer) one(symbol string, assetID int64, interval models.Interval, raw *exchange.RawCandle) (models.Candle, error) {
	if raw.OpenTime.IsZero() {
		return models.Candle{}, &qerrors.DataFormatError{Symbol: symbol, Field: "open_time", Message: "open time is missing"}
	}

	parse := func(field, value string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, &qerrors.DataFormatError{Symbol: symbol, Field: field, Message: "invalid decimal " + value, Err: err}
		}
		return d, nil
	}

	open, err := parse("open", raw.Open)
	if err != nil {
		return models.Candle{}, err
	}
	high, err := parse("high", raw.High)
	if err != nil {
		return models.Candle{}, err
	}
	low, err := parse("low", raw.Low)
	if err != nil {
		return models.Candle{}, err
	}
	closePrice, err := parse("close", raw.Close)
	if err != nil {
		return models.Candle{}, err
	}
	volume, err := parse("volume", raw.Volume)
	if err != nil {
		return models.Candle{}, err
	}

	candle := models.Candle{
		Time:    interval.Align(raw.OpenTime),
		AssetID: assetID,
		Open:    open,
		High:    high,
		Low:     low,
		Close:   closePrice,
		Volume:  volume,
	}

	if err := candle.Validate(); err != nil {
		return models.Candle{}, &qerrors.DataFormatError{Symbol: symbol, Message: "OHLCV invariant violated", Err: err}
	}
	return candle, nil
}

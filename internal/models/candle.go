// Package models provides the core data structures for the market ETL
// pipeline: canonical OHLCV candles, registered assets, time ranges and
// per-symbol run summaries.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is the canonical OHLCV record persisted to the time-series store.
// It is keyed by (Time, AssetID): at most one candle per asset per
// interval slot ever persists, and a second write to the same key replaces
// the prior values.
type Candle struct {
	Time    time.Time       `json:"time" db:"time"`
	AssetID int64           `json:"asset_id" db:"asset_id"`
	Open    decimal.Decimal `json:"open" db:"open"`
	High    decimal.Decimal `json:"high" db:"high"`
	Low     decimal.Decimal `json:"low" db:"low"`
	Close   decimal.Decimal `json:"close" db:"close"`
	Volume  decimal.Decimal `json:"volume" db:"volume"`
}

// ValidationError reports a candle field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks the candle against the canonical OHLCV invariants:
// a non-zero UTC timestamp, a resolved asset, non-negative prices and
// volume, and low <= min(open, close) <= max(open, close) <= high.
func (c *Candle) Validate() error {
	if c.Time.IsZero() {
		return &ValidationError{Field: "time", Message: "time cannot be zero"}
	}
	if c.AssetID <= 0 {
		return &ValidationError{Field: "asset_id", Message: "asset_id must be resolved before validation"}
	}

	zero := decimal.Zero
	if c.Open.LessThan(zero) {
		return &ValidationError{Field: "open", Message: "open price must be non-negative"}
	}
	if c.High.LessThan(zero) {
		return &ValidationError{Field: "high", Message: "high price must be non-negative"}
	}
	if c.Low.LessThan(zero) {
		return &ValidationError{Field: "low", Message: "low price must be non-negative"}
	}
	if c.Close.LessThan(zero) {
		return &ValidationError{Field: "close", Message: "close price must be non-negative"}
	}
	if c.Volume.LessThan(zero) {
		return &ValidationError{Field: "volume", Message: "volume must be non-negative"}
	}

	maxOpenClose := decimal.Max(c.Open, c.Close)
	if c.High.LessThan(maxOpenClose) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close) (%s)", c.High, maxOpenClose),
		}
	}

	minOpenClose := decimal.Min(c.Open, c.Close)
	if c.Low.GreaterThan(minOpenClose) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close) (%s)", c.Low, minOpenClose),
		}
	}

	return nil
}

// String implements fmt.Stringer for log output.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{Time: %s, AssetID: %d, O: %s, H: %s, L: %s, C: %s, V: %s}",
		c.Time.Format(time.RFC3339), c.AssetID, c.Open, c.High, c.Low, c.Close, c.Volume)
}

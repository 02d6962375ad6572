// Package errors defines the pipeline error taxonomy. Every failure mode
// of the fetch-paginate-normalize-upsert pipeline maps to one of the typed
// errors here, which determines how far the failure propagates:
//
//   - ConfigurationError: invalid range or config inputs, aborts the whole
//     run pre-flight, before any network call.
//   - UnknownAssetError: symbol not registered, fatal for that symbol only.
//   - FetchError: retry-exhausted exchange failure, fatal for that symbol;
//     carries the last successfully fetched timestamp for manual resume.
//   - DataFormatError: one malformed candle, absorbed and logged, the page
//     continues.
//   - PersistenceError: batch write rejected after its single retry, fatal
//     for that symbol.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ConfigurationError reports invalid or contradictory run inputs.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// NewConfigurationError creates a ConfigurationError for the given field.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UnknownAssetError reports a symbol with no matching registered asset.
type UnknownAssetError struct {
	Symbol   string
	Exchange string
}

func (e *UnknownAssetError) Error() string {
	return fmt.Sprintf("unknown asset: symbol %q is not registered for exchange %q", e.Symbol, e.Exchange)
}

// FetchError reports a retry-exhausted exchange API failure. LastFetched
// is the open time of the last candle successfully fetched before the
// failure (zero if none); a caller can resume the range from there.
type FetchError struct {
	Symbol      string
	LastFetched time.Time
	Err         error
}

func (e *FetchError) Error() string {
	if e.LastFetched.IsZero() {
		return fmt.Sprintf("fetch failed for %s before any candle was retrieved: %v", e.Symbol, e.Err)
	}
	return fmt.Sprintf("fetch failed for %s, last fetched candle at %s: %v",
		e.Symbol, e.LastFetched.Format(time.RFC3339), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DataFormatError reports a single malformed candle within a page.
type DataFormatError struct {
	Symbol  string
	Field   string
	Message string
	Err     error
}

func (e *DataFormatError) Error() string {
	msg := fmt.Sprintf("malformed candle for %s: %s", e.Symbol, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("malformed candle for %s: field %s: %s", e.Symbol, e.Field, e.Message)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *DataFormatError) Unwrap() error { return e.Err }

// PersistenceError reports a rejected batch write. The batch fails
// atomically; no rows from it were applied.
type PersistenceError struct {
	Operation string
	Table     string
	Err       error
}

func (e *PersistenceError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("persistence error: %s on %s: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("persistence error: %s: %v", e.Operation, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Classification helpers used by the orchestrator when recording outcomes.

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsUnknownAsset reports whether err is an UnknownAssetError.
func IsUnknownAsset(err error) bool {
	var ue *UnknownAssetError
	return errors.As(err, &ue)
}

// IsFetch reports whether err is a FetchError and returns it.
func IsFetch(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

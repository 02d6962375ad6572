package exchange

import (
	"context"
	"time"

	qerrors "github.com/quantlake/go-market-etl/internal/errors"
	"github.com/quantlake/go-market-etl/internal/models"
)

// PageStream traverses one (symbol, interval, range) triple as a lazy,
// finite, non-restartable sequence of raw candle pages. Memory use is
// bounded by one page regardless of the range size.
//
// The cursor advances only after a successfully processed page, and by
// exactly one candle width past the page's last open time. Advancing by
// anything else would silently re-fetch or skip a slot, so this rule is
// the stream's central invariant: no candle is fetched twice across page
// boundaries and none is skipped.
type PageStream struct {
	source KlineSource
	symbol string
	rng    models.TimeRange

	cursor      time.Time
	lastFetched time.Time
	done        bool
}

// NewPageStream creates a stream positioned at the start of the range.
// A stream is bound to a single fetch loop; it is not safe for concurrent
// use and cannot be restarted.
func NewPageStream(source KlineSource, symbol string, rng models.TimeRange) *PageStream {
	return &PageStream{
		source: source,
		symbol: symbol,
		rng:    rng,
		cursor: rng.Start,
	}
}

// Next fetches and returns the next page of raw candles, or (nil, nil)
// once the range is exhausted. Transient fetch failures are retried by
// the underlying source without advancing the cursor; once retries are
// exhausted Next returns a FetchError carrying the last successfully
// fetched candle time, and the stream is terminal.
func (s *PageStream) Next(ctx context.Context) ([]RawCandle, error) {
	if s.done {
		return nil, nil
	}
	if !s.cursor.Before(s.rng.End) {
		s.done = true
		return nil, nil
	}

	page, err := s.source.Klines(ctx, s.symbol, s.rng.Interval, s.cursor, s.rng.End, MaxCandlesPerRequest)
	if err != nil {
		s.done = true
		return nil, &qerrors.FetchError{Symbol: s.symbol, LastFetched: s.lastFetched, Err: err}
	}

	// Range exhausted: the exchange has no more data in the window.
	if len(page) == 0 {
		s.done = true
		return nil, nil
	}

	fetched := len(page)
	last := page[len(page)-1].OpenTime

	switch {
	case !last.Before(s.rng.End):
		// The page ran past the range end; trim candles at or past
		// End and stop.
		trimmed := page[:0]
		for _, c := range page {
			if c.OpenTime.Before(s.rng.End) {
				trimmed = append(trimmed, c)
			}
		}
		page = trimmed
		s.done = true
	case fetched < MaxCandlesPerRequest:
		// Short page: this was the last data available.
		s.done = true
	default:
		// Full page with more range left: advance by exactly one
		// candle width past the last open time.
		s.cursor = last.Add(s.rng.Interval.Width())
	}

	if len(page) == 0 {
		return nil, nil
	}
	s.lastFetched = page[len(page)-1].OpenTime
	return page, nil
}

// Done reports whether the stream is exhausted or terminally failed.
func (s *PageStream) Done() bool {
	return s.done
}

// LastFetched returns the open time of the last candle returned by Next,
// or the zero time if no candle has been fetched yet.
func (s *PageStream) LastFetched() time.Time {
	return s.lastFetched
}

package models

import (
	"fmt"
	"time"
)

// Interval is a candle granularity such as "1m", "1h" or "1d".
type Interval string

// Supported intervals and their candle widths. These match the exchange's
// kline granularities up to one day; weekly and monthly buckets are not
// fixed-width and are not supported by the pipeline.
var intervalWidths = map[Interval]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseInterval validates an interval token and returns it as an Interval.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalWidths[iv]; !ok {
		return "", fmt.Errorf("unsupported interval: %q", s)
	}
	return iv, nil
}

// Width returns the duration of one candle at this granularity.
func (i Interval) Width() time.Duration {
	return intervalWidths[i]
}

// Align truncates t to the interval boundary in UTC. Some APIs return
// slightly-off timestamps at day boundaries; aligned times keep the
// (time, asset_id) key stable across re-fetches.
func (i Interval) Align(t time.Time) time.Time {
	return t.UTC().Truncate(i.Width())
}

func (i Interval) String() string {
	return string(i)
}

// TimeRange is a half-open interval [Start, End) in UTC at a fixed candle
// granularity. It is produced once per run by the planner and is immutable
// after creation; every page fetch for every symbol in the run consumes
// the same range.
type TimeRange struct {
	Start    time.Time
	End      time.Time
	Interval Interval
}

// Contains reports whether t falls inside the half-open range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Slots returns the number of full candle slots the range spans.
func (r TimeRange) Slots() int64 {
	return int64(r.End.Sub(r.Start) / r.Interval.Width())
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s) @ %s", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339), r.Interval)
}

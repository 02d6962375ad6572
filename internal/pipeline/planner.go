// Package pipeline composes the fetch-paginate-normalize-upsert flow:
// the planner turns CLI-level intent into one concrete UTC time range,
// and the orchestrator drives it per symbol with bounded concurrency.
package pipeline

import (
	"time"

	qerrors "github.com/quantlake/go-market-etl/internal/errors"
	"github.com/quantlake/go-market-etl/internal/models"
)

// PlanInput carries the run's range intent. Exactly one mode is active:
// a present StartDate selects backfill mode and overrides Days.
type PlanInput struct {
	// Days is the incremental-mode lookback window from now.
	Days int
	// StartDate selects backfill mode; interpreted as 00:00:00 UTC.
	StartDate *time.Time
	// EndDate bounds a backfill; defaults to now when nil.
	EndDate  *time.Time
	Interval models.Interval
}

// Planner converts plan inputs into immutable half-open time ranges.
// The zero value uses the wall clock; tests inject Now.
type Planner struct {
	Now func() time.Time
}

// Plan validates the inputs and produces the run's [start, end) range.
// Invalid or contradictory inputs fail with a ConfigurationError before
// any network call is made. Plan has no side effects.
func (p *Planner) Plan(in PlanInput) (models.TimeRange, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	if in.Interval.Width() <= 0 {
		return models.TimeRange{}, qerrors.NewConfigurationError("interval", "unsupported interval %q", string(in.Interval))
	}

	var start, end time.Time
	if in.StartDate != nil {
		start = midnightUTC(*in.StartDate)
		if in.EndDate != nil {
			end = midnightUTC(*in.EndDate)
		} else {
			end = now().UTC()
		}
		if !start.Before(end) {
			return models.TimeRange{}, qerrors.NewConfigurationError("start-date",
				"start %s must be before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
	} else {
		if in.Days < 1 {
			return models.TimeRange{}, qerrors.NewConfigurationError("days", "lookback days must be >= 1, got %d", in.Days)
		}
		end = now().UTC()
		start = end.AddDate(0, 0, -in.Days)
	}

	return models.TimeRange{Start: start, End: end, Interval: in.Interval}, nil
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

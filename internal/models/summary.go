package models

import (
	"fmt"
	"time"
)

// SymbolStatus tracks a symbol's progress through the per-symbol state
// machine: PENDING -> FETCHING -> NORMALIZING -> WRITING and finally one
// of SUCCEEDED, PARTIAL or FAILED.
type SymbolStatus string

const (
	StatusPending     SymbolStatus = "PENDING"
	StatusFetching    SymbolStatus = "FETCHING"
	StatusNormalizing SymbolStatus = "NORMALIZING"
	StatusWriting     SymbolStatus = "WRITING"
	StatusSucceeded   SymbolStatus = "SUCCEEDED"
	StatusPartial     SymbolStatus = "PARTIAL"
	StatusFailed      SymbolStatus = "FAILED"
)

// Terminal reports whether the status is a final state.
func (s SymbolStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// RunSummary is the per-symbol outcome record produced by the orchestrator.
// It exists for observability only and is never persisted.
type RunSummary struct {
	Symbol         string
	Status         SymbolStatus
	CandlesFetched int
	CandlesWritten int
	CandlesDropped int
	// LastCursor is the open time of the last candle durably written,
	// reported so an operator can resume a failed symbol from there.
	LastCursor time.Time
	Err        error
	Elapsed    time.Duration
}

func (s *RunSummary) String() string {
	msg := fmt.Sprintf("%s: %s fetched=%d written=%d dropped=%d",
		s.Symbol, s.Status, s.CandlesFetched, s.CandlesWritten, s.CandlesDropped)
	if !s.LastCursor.IsZero() {
		msg += fmt.Sprintf(" last_cursor=%s", s.LastCursor.Format(time.RFC3339))
	}
	if s.Err != nil {
		msg += fmt.Sprintf(" error=%q", s.Err.Error())
	}
	return msg
}

// RunReport aggregates the per-symbol summaries for one pipeline run.
type RunReport struct {
	RunID     string
	Range     TimeRange
	Summaries []RunSummary
	Elapsed   time.Duration
}

// Failed reports whether any symbol in the run ended FAILED. The process
// exit status is derived from this.
func (r *RunReport) Failed() bool {
	for i := range r.Summaries {
		if r.Summaries[i].Status == StatusFailed {
			return true
		}
	}
	return false
}

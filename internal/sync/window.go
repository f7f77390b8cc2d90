package sync

import (
	"errors"
	"fmt"
	"time"
)

// MaxWindowDays caps custom date ranges. Larger windows hammer the provider
// APIs for little benefit since scheduled runs overlap anyway.
const MaxWindowDays = 90

// ErrInvalidDateRange is returned for date ranges that violate the window
// rules.
var ErrInvalidDateRange = errors.New("invalid date range")

// DateRange is an explicit, inclusive sync interval.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Window is the resolved time interval a run fetches transactions for.
type Window struct {
	Start time.Time
	End   time.Time
}

// resolveWindow turns the run options into a concrete window:
// an explicit date range wins, then an N-days lookback, then the default of
// the last 24 hours.
func resolveWindow(opts Options, now time.Time) (Window, error) {
	now = now.UTC()

	if opts.DateRange != nil {
		start, end := opts.DateRange.Start.UTC(), opts.DateRange.End.UTC()

		if start.After(end) {
			return Window{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidDateRange, start.Format(time.DateOnly), end.Format(time.DateOnly))
		}

		if end.After(now) {
			return Window{}, fmt.Errorf("%w: end %s is in the future", ErrInvalidDateRange, end.Format(time.DateOnly))
		}

		if end.Sub(start) > MaxWindowDays*24*time.Hour {
			return Window{}, fmt.Errorf("%w: range exceeds %d days", ErrInvalidDateRange, MaxWindowDays)
		}

		return Window{Start: start, End: end}, nil
	}

	if opts.Days > 0 {
		if opts.Days > MaxWindowDays {
			return Window{}, fmt.Errorf("%w: lookback exceeds %d days", ErrInvalidDateRange, MaxWindowDays)
		}

		return Window{Start: now.AddDate(0, 0, -opts.Days), End: now}, nil
	}

	return Window{Start: now.Add(-24 * time.Hour), End: now}, nil
}

package receivers

import (
	"fmt"
	"time"
)

// Resolution is the time granularity of a measured-value sequence.
// The wire values follow the ISO 8601 duration codes used on the market
// messages.
type Resolution string

const (
	ResolutionQuarterHourly Resolution = "PT15M"
	ResolutionHourly        Resolution = "PT1H"
	ResolutionDaily         Resolution = "P1D"
	ResolutionMonthly       Resolution = "P1M"
)

// Valid reports whether r is one of the known resolutions.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionQuarterHourly, ResolutionHourly, ResolutionDaily, ResolutionMonthly:
		return true
	}
	return false
}

// Duration returns the fixed length of one unit, or (0, false) for
// ResolutionMonthly, whose unit length depends on the calendar.
func (r Resolution) Duration() (time.Duration, bool) {
	switch r {
	case ResolutionQuarterHourly:
		return 15 * time.Minute, true
	case ResolutionHourly:
		return time.Hour, true
	case ResolutionDaily:
		return 24 * time.Hour, true
	}
	return 0, false
}

// Next returns the start of the unit following the one starting at t.
// Months use calendar-day arithmetic, not a fixed duration.
func (r Resolution) Next(t time.Time) time.Time {
	if r == ResolutionMonthly {
		return t.AddDate(0, 1, 0)
	}
	d, ok := r.Duration()
	if !ok {
		panic(fmt.Sprintf("receivers: unknown resolution %q", r))
	}
	return t.Add(d)
}

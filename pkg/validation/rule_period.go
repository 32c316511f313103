package validation

import (
	"fmt"
	"math"
	"strconv"

	"github.com/gridmesh/procman/pkg/receivers"
)

// periodEpsilon is the tolerance on the fractional unit count. Periods
// come from wire timestamps with second precision, so anything beyond
// this is a genuinely non-integral period, not float noise.
const periodEpsilon = 1e-9

// PeriodRule checks that the period's elapsed length is an exact integer
// multiple of the resolution. A non-integral result is reported with the
// computed remainder embedded in the message for diagnostics.
type PeriodRule struct{}

func (PeriodRule) Validate(in Input) []Error {
	if in.Period.IsEmpty() {
		return []Error{{
			Code: "E17",
			Message: Message{
				English: "The period end must be after the period start",
				Danish:  "Periodens sluttidspunkt skal ligge efter starttidspunktet",
			},
		}}
	}
	if !in.Resolution.Valid() {
		return []Error{{
			Code: "D23",
			Message: Message{
				English: fmt.Sprintf("Unknown resolution %q", in.Resolution),
				Danish:  fmt.Sprintf("Ukendt opløsning %q", in.Resolution),
			},
		}}
	}

	units, remainder := unitCount(in.Period, in.Resolution)
	if remainder <= periodEpsilon {
		return nil
	}

	rem := strconv.FormatFloat(remainder, 'g', -1, 64)
	return []Error{{
		Code: "E17",
		Message: Message{
			English: fmt.Sprintf("The period is not a whole multiple of resolution %s: %d whole units with remainder %s", in.Resolution, units, rem),
			Danish:  fmt.Sprintf("Perioden er ikke et helt multiplum af opløsningen %s: %d hele enheder med rest %s", in.Resolution, units, rem),
		},
	}}
}

// PositionCountRule checks that the number of reported values matches
// the number of resolution units the period spans. It only fires when
// the period itself is integral; PeriodRule covers the other case.
type PositionCountRule struct{}

func (PositionCountRule) Validate(in Input) []Error {
	if in.Period.IsEmpty() || !in.Resolution.Valid() {
		return nil
	}
	units, remainder := unitCount(in.Period, in.Resolution)
	if remainder > periodEpsilon {
		return nil
	}
	if len(in.Values) == units {
		return nil
	}
	return []Error{{
		Code: "E87",
		Message: Message{
			English: fmt.Sprintf("Expected %d positions for the period at resolution %s, got %d", units, in.Resolution, len(in.Values)),
			Danish:  fmt.Sprintf("Forventede %d positioner for perioden med opløsning %s, fik %d", units, in.Resolution, len(in.Values)),
		},
	}}
}

// unitCount returns the number of whole resolution units in the period
// and the fractional remainder of a trailing partial unit (0 <= r < 1).
// Months are counted by calendar walking; the remainder of a partial
// month is its covered fraction of that specific month.
func unitCount(p receivers.Interval, r receivers.Resolution) (int, float64) {
	if r == receivers.ResolutionMonthly {
		units := 0
		cur := p.Start
		for {
			next := r.Next(cur)
			if next.After(p.End) {
				if cur.Equal(p.End) {
					return units, 0
				}
				frac := float64(p.End.Sub(cur)) / float64(next.Sub(cur))
				return units, frac
			}
			units++
			cur = next
			if cur.Equal(p.End) {
				return units, 0
			}
		}
	}

	d, _ := r.Duration()
	ratio := float64(p.End.Sub(p.Start)) / float64(d)
	units := math.Floor(ratio)
	remainder := ratio - units

	// Absorb float noise just below a whole unit.
	if 1-remainder <= periodEpsilon {
		return int(units) + 1, 0
	}
	return int(units), remainder
}

package models

import (
	"fmt"
	"time"
)

// Half identifies which half of a month a period covers.
type Half int

const (
	// FirstHalf covers days 1-15.
	FirstHalf Half = 1
	// SecondHalf covers day 16 through the end of the month.
	SecondHalf Half = 2
)

// PeriodsPerYear is the number of semi-month periods in a calendar year.
const PeriodsPerYear = 24

// String returns the wire representation of the half ("first" or "second").
func (h Half) String() string {
	switch h {
	case FirstHalf:
		return "first"
	case SecondHalf:
		return "second"
	default:
		return fmt.Sprintf("Half(%d)", int(h))
	}
}

// ParseHalf converts a wire representation back into a Half.
func ParseHalf(s string) (Half, error) {
	switch s {
	case "first":
		return FirstHalf, nil
	case "second":
		return SecondHalf, nil
	default:
		return 0, fmt.Errorf("invalid half %q: must be \"first\" or \"second\"", s)
	}
}

// Period is a semi-month bucket, the atomic time unit for aggregation and
// forecasting. Periods are totally ordered by (Year, Month, Half).
type Period struct {
	Year  int  `json:"year"`
	Month int  `json:"month"`
	Half  Half `json:"half"`
}

// PeriodOf returns the period containing the given date.
// Days 1-15 fall in the first half, the rest in the second half.
func PeriodOf(date time.Time) Period {
	half := FirstHalf
	if date.Day() > 15 {
		half = SecondHalf
	}
	return Period{Year: date.Year(), Month: int(date.Month()), Half: half}
}

// NewPeriod builds a period and validates its components.
func NewPeriod(year, month int, half Half) (Period, error) {
	p := Period{Year: year, Month: month, Half: half}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate checks that the period components are in range.
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("invalid period month %d: must be 1-12", p.Month)
	}
	if p.Half != FirstHalf && p.Half != SecondHalf {
		return fmt.Errorf("invalid period half %d: must be first or second", int(p.Half))
	}
	return nil
}

// index maps the period onto a single ordered integer axis so that lag
// resolution is plain arithmetic instead of calendar walking.
func (p Period) index() int {
	return p.Year*PeriodsPerYear + (p.Month-1)*2 + int(p.Half) - 1
}

// periodFromIndex is the inverse of index.
func periodFromIndex(idx int) Period {
	year := idx / PeriodsPerYear
	rem := idx % PeriodsPerYear
	if rem < 0 {
		year--
		rem += PeriodsPerYear
	}
	return Period{
		Year:  year,
		Month: rem/2 + 1,
		Half:  Half(rem%2 + 1),
	}
}

// Prev returns the immediately preceding period.
func (p Period) Prev() Period {
	return periodFromIndex(p.index() - 1)
}

// Next returns the immediately following period.
func (p Period) Next() Period {
	return periodFromIndex(p.index() + 1)
}

// Minus returns the period lag semi-month steps before p.
// A lag of PeriodsPerYear lands on the equivalent period one year earlier.
func (p Period) Minus(lag int) Period {
	return periodFromIndex(p.index() - lag)
}

// Before reports whether p is strictly earlier than other.
func (p Period) Before(other Period) bool {
	return p.index() < other.index()
}

// After reports whether p is strictly later than other.
func (p Period) After(other Period) bool {
	return p.index() > other.index()
}

// Start returns the first day covered by the period.
func (p Period) Start() time.Time {
	day := 1
	if p.Half == SecondHalf {
		day = 16
	}
	return time.Date(p.Year, time.Month(p.Month), day, 0, 0, 0, 0, time.UTC)
}

// End returns the last day covered by the period, accounting for month
// length and leap years.
func (p Period) End() time.Time {
	if p.Half == FirstHalf {
		return time.Date(p.Year, time.Month(p.Month), 15, 0, 0, 0, 0, time.UTC)
	}
	// Day zero of the next month is the last day of this month.
	return time.Date(p.Year, time.Month(p.Month)+1, 0, 0, 0, 0, 0, time.UTC)
}

// Contains reports whether the given date falls inside the period.
func (p Period) Contains(date time.Time) bool {
	return PeriodOf(date) == p
}

// String renders the period as e.g. "2024-01/first".
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d/%s", p.Year, p.Month, p.Half)
}

// ParsePeriod is the inverse of String, accepting e.g. "2024-01/first".
func ParsePeriod(s string) (Period, error) {
	var year, month int
	var halfStr string
	if _, err := fmt.Sscanf(s, "%d-%d/%s", &year, &month, &halfStr); err != nil {
		return Period{}, fmt.Errorf("invalid period %q: want YYYY-MM/first or YYYY-MM/second", s)
	}
	half, err := ParseHalf(halfStr)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return NewPeriod(year, month, half)
}

// PeriodsBetween returns all periods from first to last inclusive, in order.
func PeriodsBetween(first, last Period) []Period {
	if first.After(last) {
		return nil
	}
	periods := make([]Period, 0, last.index()-first.index()+1)
	for idx := first.index(); idx <= last.index(); idx++ {
		periods = append(periods, periodFromIndex(idx))
	}
	return periods
}

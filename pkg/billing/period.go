// Package billing owns the daily and billing-cycle buckets. The billing
// cycle is anchored at a configurable start day rather than the calendar
// month, so a reading before the start day belongs to the previous month's
// cycle.
package billing

import (
	"fmt"
	"time"
)

// MaxHistoryMonths bounds the rolling archive of closed cycles.
const MaxHistoryMonths = 12

// PeriodFor returns the (year, month) of the billing cycle containing t.
// If the day of month is at or past startDay the cycle is the calendar
// month, otherwise it is the previous month, rolling the year back at
// January.
func PeriodFor(t time.Time, startDay int) (int, int) {
	year, month := t.Year(), int(t.Month())
	if t.Day() >= startDay {
		return year, month
	}
	month--
	if month == 0 {
		month = 12
		year--
	}
	return year, month
}

// MonthKey formats a billing period as its storage key, "YYYY-MM". Keys
// sort chronologically.
func MonthKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// CycleStart returns midnight on the cycle's start day in loc.
func CycleStart(year, month, startDay int, loc *time.Location) time.Time {
	return time.Date(year, time.Month(month), startDay, 0, 0, 0, 0, loc)
}

// DaysInCycle returns the number of days between the cycle's start and the
// next cycle's start. Varies with month length.
func DaysInCycle(year, month, startDay int, loc *time.Location) int {
	start := CycleStart(year, month, startDay, loc)
	end := start.AddDate(0, 1, 0)
	return int(end.Sub(start).Hours() / 24)
}

// DaysElapsed returns the number of whole or partial days of the cycle
// that have begun as of now, at least 1.
func DaysElapsed(now time.Time, year, month, startDay int, loc *time.Location) int {
	start := CycleStart(year, month, startDay, loc)
	days := int(now.Sub(start).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	return days
}

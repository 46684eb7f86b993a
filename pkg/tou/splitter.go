package tou

import "time"

// Split apportions an energy delta accrued over [start, end) into peak and
// off-peak shares. Consumption is assumed uniform across the interval; the
// split is proportional to the time spent inside the peak window. This is a
// modeling approximation: only the total energy and the window boundaries are
// known, not the instantaneous power curve.
//
// The returned shares always sum to deltaKWH exactly.
func Split(deltaKWH float64, start, end time.Time, isHoliday bool) (peakKWH, offPeakKWH float64) {
	if deltaKWH <= 0 {
		return 0, 0
	}
	if isHoliday {
		return 0, deltaKWH
	}

	// Degenerate interval: classify by the end timestamp alone.
	if !end.After(start) {
		if IsPeak(end, isHoliday) {
			return deltaKWH, 0
		}
		return 0, deltaKWH
	}

	start = start.In(myLocation)
	end = end.In(myLocation)

	var peakSecs float64
	totalSecs := end.Sub(start).Seconds()

	// Walk the interval boundary to boundary, accumulating time spent in
	// peak classification.
	for cur := start; cur.Before(end); {
		next := nextBoundary(cur, end)
		if IsPeak(cur, isHoliday) {
			peakSecs += next.Sub(cur).Seconds()
		}
		cur = next
	}

	peakKWH = deltaKWH * (peakSecs / totalSecs)
	offPeakKWH = deltaKWH - peakKWH
	return peakKWH, offPeakKWH
}

// nextBoundary returns the earliest classification boundary strictly after
// cur: the day's peak start, the day's peak end, the next midnight, or end.
func nextBoundary(cur, end time.Time) time.Time {
	next := end

	peakStart := time.Date(cur.Year(), cur.Month(), cur.Day(), peakStartHour, 0, 0, 0, myLocation)
	peakEnd := time.Date(cur.Year(), cur.Month(), cur.Day(), peakEndHour, 0, 0, 0, myLocation)
	midnight := time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, myLocation).AddDate(0, 0, 1)

	for _, b := range []time.Time{peakStart, peakEnd, midnight} {
		if b.After(cur) && b.Before(next) {
			next = b
		}
	}
	return next
}

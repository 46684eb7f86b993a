// Package tou implements the TNB time-of-use schedule: classification of
// timestamps into peak/off-peak and proportional splitting of energy deltas
// across the peak window boundaries.
package tou

import (
	"fmt"
	"time"
)

// The ToU schedule is defined in local Malaysian time.
var myLocation = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kuala_Lumpur")
	if err != nil {
		panic(fmt.Errorf("failed to load kuala lumpur location: %w", err))
	}
	return loc
}()

const (
	peakStartHour = 14 // 2PM
	peakEndHour   = 22 // 10PM
)

// Location returns the location the ToU schedule is evaluated in.
func Location() *time.Location {
	return myLocation
}

// IsPeak reports whether the timestamp falls in the peak window. Holidays and
// weekends are always off-peak; otherwise peak is weekdays 14:00-22:00 local.
func IsPeak(t time.Time, isHoliday bool) bool {
	if isHoliday {
		return false
	}
	t = t.In(myLocation)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	h := t.Hour()
	return h >= peakStartHour && h < peakEndHour
}

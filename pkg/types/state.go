package types

import (
	"fmt"
	"time"
)

// CurrentStateVersion is the current version of the persisted site state.
// Increment this value when adding new fields that require default values.
const CurrentStateVersion = 3

// SiteState is the one serializable document persisted per configured meter
// pair. The engine treats it as a versioned structured blob and tolerates
// missing fields by filling in defaults via MigrateState.
type SiteState struct {
	Billing          *BillingBucket             `json:"billing,omitempty"`
	Daily            *DailyBucket               `json:"daily,omitempty"`
	Overrides        TariffOverrides            `json:"overrides"`
	History          map[string]HistoricalMonth `json:"history,omitempty"`      // keyed by YYYY-MM
	HolidayCache     map[string]bool            `json:"holidayCache,omitempty"` // ISO date -> holiday
	HolidayLastFetch *time.Time                 `json:"holidayLastFetch,omitempty"`
}

// MigrateState migrates a loaded state document to the current version,
// filling in defaults for fields added after the document was written. It
// returns the migrated state and whether any changes were made.
func MigrateState(s SiteState, currentVersion int) (SiteState, bool, error) {
	if currentVersion >= CurrentStateVersion {
		return s, false, nil
	}

	migrated := false
	for version := currentVersion + 1; version <= CurrentStateVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.Overrides.Source == "" {
				s.Overrides.Source = TariffSourceDefault
				migrated = true
			}
		case 2:
			// version 2: billing cycles anchored on a configurable start day
			if s.Billing != nil && s.Billing.BillingStartDay == 0 {
				s.Billing.BillingStartDay = 1
				migrated = true
			}
		case 3:
			// version 3: rolling history and holiday cache
			if s.History == nil {
				s.History = map[string]HistoricalMonth{}
				migrated = true
			}
			if s.HolidayCache == nil {
				s.HolidayCache = map[string]bool{}
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown state version: %d", version)
		}
	}

	return s, migrated, nil
}

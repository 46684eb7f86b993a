package types

import "fmt"

// CurrentSettingsVersion is the current version of the settings. Increment
// this value when adding new fields that require default values.
const CurrentSettingsVersion = 2

// Settings is the per-site dynamic configuration, stored separately from
// the accumulated state so operators can change behavior without touching
// the buckets.
type Settings struct {
	// TOUEnabled selects the time-of-use tariff as the active mode.
	TOUEnabled bool `json:"touEnabled"`
	// BillingStartDay is the configured cycle anchor. Takes effect at the
	// next rollover, not retroactively.
	BillingStartDay int `json:"billingStartDay"`
	// SpikeThresholdKWH caps the accepted delta per poll interval.
	SpikeThresholdKWH float64 `json:"spikeThresholdKWH"`
	// HighUsageThresholdKWH triggers the high-usage flag on snapshots.
	HighUsageThresholdKWH float64 `json:"highUsageThresholdKWH"`
	// TariffAPIURL overrides the globally configured scraper URL.
	TariffAPIURL string `json:"tariffAPIURL,omitempty"`
}

// MigrateSettings migrates the given settings to the latest version and
// returns the new settings and whether or not they were migrated.
func MigrateSettings(s Settings, version int) (Settings, bool, error) {
	if version >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	for v := version + 1; v <= CurrentSettingsVersion; v++ {
		switch v {
		case 1:
			// version 1: initial
			if s.BillingStartDay < 1 || s.BillingStartDay > 28 {
				s.BillingStartDay = 1
				migrated = true
			}
			if s.SpikeThresholdKWH <= 0 {
				s.SpikeThresholdKWH = 10
				migrated = true
			}
		case 2:
			// version 2: high-usage alerting
			if s.HighUsageThresholdKWH <= 0 {
				s.HighUsageThresholdKWH = 550
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", v)
		}
	}

	return s, migrated, nil
}

package tariff

import (
	"fmt"
	"math"

	"github.com/tnbcalc/tnbcalc/pkg/types"
)

// ResolvedRates is the full rate set the calculators run on, after
// overrides have been applied over the defaults.
type ResolvedRates struct {
	AFARate  float64
	Schedule types.TariffSchedule
	// Source tags where the winning override came from, for display only.
	Source types.TariffSource
}

// Resolve produces the effective rates from the stored overrides. An
// override that is present and non-nil wins over the default; the override
// origin never influences resolution, only the tag carried for display.
func Resolve(ov types.TariffOverrides) ResolvedRates {
	r := ResolvedRates{
		AFARate:  DefaultAFARate,
		Schedule: DefaultSchedule(),
		Source:   types.TariffSourceDefault,
	}
	if ov.Source != "" {
		r.Source = ov.Source
	}
	if ov.AFARate != nil {
		r.AFARate = *ov.AFARate
	}
	if ov.Schedule != nil {
		r.Schedule = *ov.Schedule
	}
	return r
}

// ValidateSchedule rejects a schedule payload before it is allowed into
// the override store. All rates must be finite, shared and generation
// rates non-negative, and the ICT table non-empty with ascending
// non-overlapping bands.
func ValidateSchedule(s *types.TariffSchedule) error {
	if s == nil {
		return fmt.Errorf("missing schedule")
	}
	positives := []struct {
		name string
		v    float64
	}{
		{"non_tou.tier1_generation", s.NonTOU.Tier1Generation},
		{"non_tou.tier2_generation", s.NonTOU.Tier2Generation},
		{"tou.peak_rate", s.TOU.PeakRate},
		{"tou.offpeak_rate", s.TOU.OffPeakRate},
		{"tou.peak_rate_high", s.TOU.PeakRateHigh},
		{"tou.offpeak_rate_high", s.TOU.OffPeakRateHigh},
		{"shared.capacity_rate", s.Shared.CapacityRate},
		{"shared.network_rate", s.Shared.NetworkRate},
	}
	for _, c := range positives {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			return fmt.Errorf("%s is not finite", c.name)
		}
		if c.v <= 0 {
			return fmt.Errorf("%s is required and must be positive", c.name)
		}
	}
	if math.IsNaN(s.Shared.RetailingCharge) || math.IsInf(s.Shared.RetailingCharge, 0) || s.Shared.RetailingCharge < 0 {
		return fmt.Errorf("shared.retailing_charge must be a non-negative number")
	}
	if s.TOU.ThresholdKWH <= 0 {
		return fmt.Errorf("tou.threshold_kwh must be positive")
	}
	if len(s.ICTTiers) == 0 {
		return fmt.Errorf("ict_tiers must not be empty")
	}
	prevMax := 0.0
	for i, t := range s.ICTTiers {
		if math.IsNaN(t.Rate) || math.IsInf(t.Rate, 0) {
			return fmt.Errorf("ict_tiers[%d].rate is not finite", i)
		}
		if t.MinKWH > t.MaxKWH {
			return fmt.Errorf("ict_tiers[%d]: min %.0f above max %.0f", i, t.MinKWH, t.MaxKWH)
		}
		if t.MinKWH <= prevMax {
			return fmt.Errorf("ict_tiers[%d]: bands must ascend without overlap", i)
		}
		prevMax = t.MaxKWH
	}
	return nil
}

// ValidateAFARate bounds a manual or fetched AFA override. The published
// adjustment is a small per-kWh figure, positive or negative.
func ValidateAFARate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("afa rate is not finite")
	}
	if rate < -1 || rate > 1 {
		return fmt.Errorf("afa rate %.4f out of range", rate)
	}
	return nil
}

// Package tariff holds the TNB residential rate tables and resolves the
// effective rates from stored overrides, falling back to hardcoded
// defaults.
package tariff

import "github.com/tnbcalc/tnbcalc/pkg/types"

const (
	// AFAThresholdKWH is the monthly import at which the AFA adjustment,
	// retailing charge and service tax come into effect.
	AFAThresholdKWH = 600
	// KWTBBThresholdKWH is the monthly import above which the KWTBB levy
	// applies.
	KWTBBThresholdKWH = 300
	// ServiceTaxRate is applied to the import charge above the AFA
	// threshold.
	ServiceTaxRate = 0.08
	// KWTBBRate is the renewable-energy fund levy.
	KWTBBRate = 0.016

	// DefaultAFARate is the published AFA adjustment per kWh.
	DefaultAFARate = 0.0145
)

// DefaultSchedule returns the hardcoded TNB residential schedule effective
// July 2025. Values are RM per kWh except RetailingCharge (RM per month).
func DefaultSchedule() types.TariffSchedule {
	return types.TariffSchedule{
		NonTOU: types.NonTOUTariff{
			Tier1Generation: 0.2703,
			Tier2Generation: 0.2703,
		},
		TOU: types.TOUTariff{
			PeakRate:        0.2852,
			OffPeakRate:     0.2443,
			PeakRateHigh:    0.3852,
			OffPeakRateHigh: 0.3443,
			ThresholdKWH:    1500,
		},
		Shared: types.SharedTariff{
			CapacityRate:    0.0455,
			NetworkRate:     0.1285,
			RetailingCharge: 10,
		},
		ICTTiers: defaultICTTiers(),
	}
}

func defaultICTTiers() []types.ICTTier {
	return []types.ICTTier{
		{MinKWH: 1, MaxKWH: 200, Rate: -0.25},
		{MinKWH: 201, MaxKWH: 250, Rate: -0.245},
		{MinKWH: 251, MaxKWH: 300, Rate: -0.225},
		{MinKWH: 301, MaxKWH: 350, Rate: -0.21},
		{MinKWH: 351, MaxKWH: 400, Rate: -0.17},
		{MinKWH: 401, MaxKWH: 450, Rate: -0.145},
		{MinKWH: 451, MaxKWH: 500, Rate: -0.12},
		{MinKWH: 501, MaxKWH: 550, Rate: -0.105},
		{MinKWH: 551, MaxKWH: 600, Rate: -0.09},
		{MinKWH: 601, MaxKWH: 650, Rate: -0.075},
		{MinKWH: 651, MaxKWH: 700, Rate: -0.055},
		{MinKWH: 701, MaxKWH: 750, Rate: -0.045},
		{MinKWH: 751, MaxKWH: 800, Rate: -0.04},
		{MinKWH: 801, MaxKWH: 850, Rate: -0.025},
		{MinKWH: 851, MaxKWH: 900, Rate: -0.01},
		{MinKWH: 901, MaxKWH: 1000, Rate: -0.005},
	}
}

// ICTRateTOU looks up the incentive rate for the time-of-use bill. The
// greatest tier whose floor is at or below the import wins, so imports past
// the last floor keep the last tier's rate.
func ICTRateTOU(tiers []types.ICTTier, importKWH float64) float64 {
	if len(tiers) == 0 {
		return 0
	}
	rate := tiers[0].Rate
	for _, t := range tiers {
		if importKWH >= t.MinKWH {
			rate = t.Rate
		}
	}
	return rate
}

// ICTRateNonTOU looks up the incentive rate for the flat bill. The first
// tier whose ceiling is at or above the import wins, and imports past the
// last ceiling get no incentive. This intentionally differs from the
// time-of-use lookup for the same import.
func ICTRateNonTOU(tiers []types.ICTTier, importKWH float64) float64 {
	for _, t := range tiers {
		if importKWH <= t.MaxKWH {
			return t.Rate
		}
	}
	return 0
}

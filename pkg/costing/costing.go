// Package costing prices accumulated energy under the two TNB residential
// tariff modes. Both calculators are pure: identical inputs and rates
// always produce identical breakdowns.
package costing

import (
	"math"

	"github.com/tnbcalc/tnbcalc/pkg/tariff"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

// Round rounds a currency amount to 2 decimals (sen).
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}

// RoundEnergy rounds a kWh figure to 3 decimals.
func RoundEnergy(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// TOU prices a time-of-use bill. Export is credited against peak first
// (capped at peak import), the remainder against off-peak, always at the
// tier-1 generation rates regardless of the import tier.
func TOU(r tariff.ResolvedRates, importPeak, importOffPeak, exportTotal float64) types.TOUCosts {
	importTotal := importPeak + importOffPeak
	exportPeak := math.Min(importPeak, exportTotal)
	exportOffPeak := exportTotal - exportPeak

	genPeak := r.Schedule.TOU.PeakRate
	genOffPeak := r.Schedule.TOU.OffPeakRate
	if importTotal >= r.Schedule.TOU.ThresholdKWH {
		genPeak = r.Schedule.TOU.PeakRateHigh
		genOffPeak = r.Schedule.TOU.OffPeakRateHigh
	}
	capRate := r.Schedule.Shared.CapacityRate
	netRate := r.Schedule.Shared.NetworkRate

	var afa float64
	if importTotal >= tariff.AFAThresholdKWH {
		afa = importTotal * r.AFARate
	}
	var retailing float64
	if importTotal > tariff.AFAThresholdKWH {
		retailing = r.Schedule.Shared.RetailingCharge
	}
	ictRate := tariff.ICTRateTOU(r.Schedule.ICTTiers, importTotal)
	ict := importTotal * ictRate

	chargePeak := importPeak * genPeak
	chargeOffPeak := importOffPeak * genOffPeak
	capacity := importTotal * capRate
	network := importTotal * netRate
	importCharge := chargePeak + chargeOffPeak + afa + capacity + network + retailing + ict

	var serviceTax, kwtbb float64
	if importTotal > tariff.AFAThresholdKWH {
		serviceTax = importCharge * tariff.ServiceTaxRate
	}
	if importTotal > tariff.KWTBBThresholdKWH {
		kwtbb = importCharge * tariff.KWTBBRate
	}

	// NEM credits always use the tier-1 generation rates.
	nemPeak := -exportPeak * r.Schedule.TOU.PeakRate
	nemOffPeak := -exportOffPeak * r.Schedule.TOU.OffPeakRate
	nemCapacity := -exportTotal * capRate
	nemNetwork := -exportTotal * netRate
	insentif := -exportTotal * ictRate

	total := importCharge + serviceTax + kwtbb + nemPeak + nemOffPeak + nemCapacity + nemNetwork + insentif

	return types.TOUCosts{
		GenerationPeak:    Round(chargePeak),
		GenerationOffPeak: Round(chargeOffPeak),
		AFA:               Round(afa),
		Capacity:          Round(capacity),
		Network:           Round(network),
		Retailing:         Round(retailing),
		ICT:               Round(ict),
		ImportCharge:      Round(importCharge),
		ServiceTax:        Round(serviceTax),
		KWTBB:             Round(kwtbb),
		NEMPeak:           Round(nemPeak),
		NEMOffPeak:        Round(nemOffPeak),
		NEMCapacity:       Round(nemCapacity),
		NEMNetwork:        Round(nemNetwork),
		Insentif:          Round(insentif),
		Total:             Round(total),

		RateGenerationPeak:    genPeak,
		RateGenerationOffPeak: genOffPeak,
		RateCapacity:          capRate,
		RateNetwork:           netRate,
		RateICT:               ictRate,
	}
}

// Flat prices a flat-tariff bill. Import splits into a tier at or below
// the AFA threshold and the excess above it. Retailing and service tax
// only apply to the excess tier, KWTBB is computed per tier but only
// charged when total import crosses its own threshold. Export is credited
// at the same flat rates.
func Flat(r tariff.ResolvedRates, importKWH, exportKWH float64) types.FlatCosts {
	ictRate := tariff.ICTRateNonTOU(r.Schedule.ICTTiers, importKWH)
	capRate := r.Schedule.Shared.CapacityRate
	netRate := r.Schedule.Shared.NetworkRate

	tier1 := math.Min(importKWH, tariff.AFAThresholdKWH)
	tier2 := math.Max(importKWH-tariff.AFAThresholdKWH, 0)

	gen1 := tier1 * r.Schedule.NonTOU.Tier1Generation
	cap1 := tier1 * capRate
	net1 := tier1 * netRate
	ict1 := tier1 * ictRate
	kwtbb1 := (gen1 + cap1 + net1 + ict1) * tariff.KWTBBRate

	gen2 := tier2 * r.Schedule.NonTOU.Tier2Generation
	cap2 := tier2 * capRate
	net2 := tier2 * netRate
	ict2 := tier2 * ictRate
	var retailing float64
	if tier2 > 0 {
		retailing = r.Schedule.Shared.RetailingCharge
	}
	kwtbb2 := (gen2 + cap2 + net2 + ict2) * tariff.KWTBBRate
	serviceTax := (gen2 + cap2 + net2 + retailing + ict2) * tariff.ServiceTaxRate

	var kwtbb float64
	if importKWH > tariff.KWTBBThresholdKWH {
		kwtbb = kwtbb1 + kwtbb2
	}

	generation := gen1 + gen2
	capacity := cap1 + cap2
	network := net1 + net2
	ict := importKWH * ictRate
	importCharge := generation + capacity + network + retailing + ict + kwtbb + serviceTax

	exportCredit := -exportKWH * (r.Schedule.NonTOU.Tier1Generation + capRate + netRate + ictRate)

	return types.FlatCosts{
		Generation:   Round(generation),
		Capacity:     Round(capacity),
		Network:      Round(network),
		Retailing:    Round(retailing),
		ICT:          Round(ict),
		KWTBB:        Round(kwtbb),
		ServiceTax:   Round(serviceTax),
		ImportCharge: Round(importCharge),
		ExportCredit: Round(exportCredit),
		Total:        Round(importCharge + exportCredit),

		RateGeneration: r.Schedule.NonTOU.Tier1Generation,
		RateCapacity:   capRate,
		RateNetwork:    netRate,
		RateICT:        ictRate,
	}
}

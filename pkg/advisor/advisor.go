// Package advisor recommends a monthly import target that minimizes the
// marginal cost of the remaining consumption around the AFA rebate
// threshold.
package advisor

import (
	"github.com/tnbcalc/tnbcalc/pkg/costing"
	"github.com/tnbcalc/tnbcalc/pkg/tariff"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

const (
	candidateMin  = 550
	candidateMax  = tariff.AFAThresholdKWH
	candidateStep = 5

	// stayPutFloor is the import at which holding steady is reported as a
	// deliberate position rather than ordinary usage.
	stayPutFloor = 550
)

// Inputs is the cycle position the advisor evaluates from.
type Inputs struct {
	ImportPeak    float64
	ImportOffPeak float64
	ExportTotal   float64
	TOUEnabled    bool
	Rates         tariff.ResolvedRates
}

// Recommend evaluates both tariff modes independently and marks the one
// matching the active mode as primary. Returns nil when there is no import
// yet to advise on.
func Recommend(in Inputs) *types.Recommendation {
	importTotal := in.ImportPeak + in.ImportOffPeak
	if importTotal <= 0 {
		return nil
	}

	peakRatio := in.ImportPeak / importTotal

	touCost := func(target float64) float64 {
		peak := target * peakRatio
		return costing.TOU(in.Rates, peak, target-peak, in.ExportTotal).Total
	}
	flatCost := func(target float64) float64 {
		return costing.Flat(in.Rates, target, in.ExportTotal).Total
	}

	rec := &types.Recommendation{
		TOU:     advise(importTotal, touCost),
		Flat:    advise(importTotal, flatCost),
		Primary: "flat",
	}
	if in.TOUEnabled {
		rec.Primary = "tou"
	}
	return rec
}

// advise simulates the bill at each candidate target and classifies the
// cheapest marginal rate. Movement is only recommended when the marginal
// energy is clearly cheap; otherwise the caller is told to stay where it
// is.
func advise(current float64, costAt func(float64) float64) *types.Advice {
	if current >= tariff.AFAThresholdKWH {
		return &types.Advice{
			TargetKWH: costing.RoundEnergy(current),
			Zone:      types.ZoneAboveThreshold,
		}
	}

	costNow := costAt(current)
	avgRate := 0.0
	if current > 0 {
		avgRate = costNow / current
	}

	best := (*types.Advice)(nil)
	for c := float64(candidateMin); c <= candidateMax; c += candidateStep {
		if c <= current {
			continue
		}
		costC := costAt(c)
		marginal := (costC - costNow) / (c - current)
		a := &types.Advice{
			TargetKWH:    c,
			MarginalRate: marginal,
			CostAtTarget: costing.Round(costC),
			Zone:         classify(marginal, avgRate),
		}
		if best == nil || a.MarginalRate < best.MarginalRate {
			best = a
		}
	}
	if best == nil {
		// Current sits between the last candidate and the threshold.
		return &types.Advice{TargetKWH: costing.RoundEnergy(current), Zone: types.ZoneStayPut}
	}

	switch best.Zone {
	case types.ZoneSavesMoney, types.ZoneSuperValue, types.ZoneValue:
		best.Recommended = true
		return best
	}

	// Moving does not pay off.
	zone := types.ZoneNormal
	if current >= stayPutFloor {
		zone = types.ZoneStayPut
	}
	return &types.Advice{
		TargetKWH:    costing.RoundEnergy(current),
		MarginalRate: best.MarginalRate,
		CostAtTarget: costing.Round(costNow),
		Zone:         zone,
	}
}

// classify grades a marginal rate against the current average rate. With
// no usable average (early cycle, credits exceeding charges) absolute
// thresholds stand in.
func classify(marginal, avgRate float64) types.RateZone {
	if marginal < 0 {
		return types.ZoneSavesMoney
	}
	if avgRate <= 0 {
		if marginal <= 0.05 {
			return types.ZoneValue
		}
		return types.ZoneNormal
	}
	ratio := marginal / avgRate
	switch {
	case ratio <= 0.25:
		return types.ZoneSuperValue
	case ratio <= 0.6:
		return types.ZoneValue
	case ratio <= 1.0:
		return types.ZoneNormal
	default:
		return types.ZoneExpensive
	}
}

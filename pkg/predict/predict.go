// Package predict forecasts the month-end bill by blending the current
// cost trend with the recent billing history.
package predict

import (
	"github.com/tnbcalc/tnbcalc/pkg/costing"
	"github.com/tnbcalc/tnbcalc/pkg/tariff"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

const (
	// TolerancePercent is the band shown around the trend projection.
	TolerancePercent = 0.05
	// historyMonths caps how many recent cycles feed the historical
	// projection.
	historyMonths = 3
)

// Inputs is everything the forecast needs, pre-staged by the caller.
type Inputs struct {
	DaysElapsed int
	DaysInCycle int
	// CurrentCost is the accumulated cost of the cycle so far, at the
	// active tariff mode.
	CurrentCost float64
	ImportKWH   float64
	PeakKWH     float64
	TOUEnabled  bool
	// History is the archived cycles, newest first.
	History []types.HistoricalMonth
	Rates   tariff.ResolvedRates
}

// Forecast produces the month-end prediction. Returns nil when no days
// have elapsed yet.
func Forecast(in Inputs) *types.Prediction {
	if in.DaysElapsed <= 0 {
		return nil
	}

	dailyCost := in.CurrentCost / float64(in.DaysElapsed)
	dailyKWH := in.ImportKWH / float64(in.DaysElapsed)
	trend := dailyCost * float64(in.DaysInCycle)
	tolerance := trend * TolerancePercent

	p := &types.Prediction{
		MonthlyCost:      costing.Round(trend),
		MonthlyKWH:       costing.RoundEnergy(dailyKWH * float64(in.DaysInCycle)),
		Confidence:       confidence(in.DaysElapsed, len(in.History)),
		Method:           "Cost Trend",
		TrendWeight:      1,
		DailyAverageCost: costing.Round(dailyCost),
		DailyAverageKWH:  costing.RoundEnergy(dailyKWH),
		Tolerance:        costing.Round(tolerance),
		RangeMin:         costing.Round(trend - tolerance),
		RangeMax:         costing.Round(trend + tolerance),
		DaysRemaining:    in.DaysInCycle - in.DaysElapsed,
	}
	roundedTrend := costing.Round(trend)
	p.FromTrend = &roundedTrend

	if len(in.History) < 2 {
		return p
	}

	historical := historicalProjection(in)
	roundedHist := costing.Round(historical)
	p.FromHistory = &roundedHist

	weight := trendWeight(in.DaysElapsed)
	p.TrendWeight = weight
	p.MonthlyCost = costing.Round(trend*weight + historical*(1-weight))
	p.Method = "Hybrid (Cost + History)"
	return p
}

// historicalProjection re-costs the mean of the most recent cycles at
// today's rates, using the current peak ratio when available.
func historicalProjection(in Inputs) float64 {
	recent := in.History
	if len(recent) > historyMonths {
		recent = recent[:historyMonths]
	}

	var sumKWH, sumPeak, sumExport, sumTotal float64
	for _, m := range recent {
		sumKWH += m.TotalKWH
		sumPeak += m.PeakKWH
		sumExport += m.ExportKWH
		sumTotal += m.TotalKWH
	}
	n := float64(len(recent))
	avgKWH := sumKWH / n
	avgExport := sumExport / n

	if !in.TOUEnabled {
		return costing.Flat(in.Rates, avgKWH, avgExport).Total
	}

	peakRatio := types.DefaultPeakRatio
	if in.ImportKWH > 0 {
		peakRatio = in.PeakKWH / in.ImportKWH
	} else if sumTotal > 0 && sumPeak > 0 {
		peakRatio = sumPeak / sumTotal
	}
	peak := avgKWH * peakRatio
	offPeak := avgKWH - peak
	return costing.TOU(in.Rates, peak, offPeak, avgExport).Total
}

// trendWeight keys the blend on how far into the cycle we are. Early on
// the history dominates, late in the cycle the observed trend does.
func trendWeight(daysElapsed int) float64 {
	switch {
	case daysElapsed < 7:
		return 0.3
	case daysElapsed > 20:
		return 0.8
	default:
		return 0.6
	}
}

// confidence labels the forecast. Nothing is trustworthy in the first
// week of a cycle regardless of how much history exists.
func confidence(daysElapsed, historyCount int) string {
	if daysElapsed < 7 {
		return "Low"
	}
	switch {
	case historyCount >= 3:
		return "High"
	case historyCount >= 1:
		return "Medium"
	default:
		return "Low"
	}
}

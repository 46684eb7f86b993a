// Package engine orchestrates one poll cycle: meter deltas, bucket
// accumulation, cost calculation, prediction, and the optimization
// recommendation, plus the administrative mutations (calibration, tariff
// overrides). One cycle runs to completion before the next begins.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tnbcalc/tnbcalc/pkg/advisor"
	"github.com/tnbcalc/tnbcalc/pkg/billing"
	"github.com/tnbcalc/tnbcalc/pkg/costing"
	"github.com/tnbcalc/tnbcalc/pkg/holiday"
	"github.com/tnbcalc/tnbcalc/pkg/log"
	"github.com/tnbcalc/tnbcalc/pkg/meter"
	"github.com/tnbcalc/tnbcalc/pkg/predict"
	"github.com/tnbcalc/tnbcalc/pkg/storage"
	"github.com/tnbcalc/tnbcalc/pkg/tariff"
	"github.com/tnbcalc/tnbcalc/pkg/tou"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

// Storage health values reported on each snapshot.
const (
	StorageOK        = "OK"
	StorageMissing   = "Missing"
	StorageCorrupted = "Corrupted"
)

// Engine runs the billing computation against one storage backend. All
// state mutation is serialized through mu so two poll cycles (or a poll
// and a calibration) never interleave for the same process.
type Engine struct {
	db       storage.Database
	holidays *holiday.Fetcher
	tariffs  *tariff.Fetcher

	mu sync.Mutex
}

// New creates an Engine. holidays and tariffs may be unconfigured; the
// engine degrades to its cached/default values when they cannot fetch.
func New(db storage.Database, holidays *holiday.Fetcher, tariffs *tariff.Fetcher) *Engine {
	return &Engine{
		db:       db,
		holidays: holidays,
		tariffs:  tariffs,
	}
}

// Settings loads and migrates the site's settings, persisting the migrated
// document when defaults were filled in.
func (e *Engine) Settings(ctx context.Context, siteID string) (types.Settings, error) {
	s, version, err := e.db.GetSettings(ctx, siteID)
	if err != nil {
		return types.Settings{}, err
	}
	migrated, changed, err := types.MigrateSettings(s, version)
	if err != nil {
		return types.Settings{}, err
	}
	if changed {
		if err := e.db.SetSettings(ctx, siteID, migrated, types.CurrentSettingsVersion); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to persist migrated settings", slog.String("siteID", siteID), slog.Any("err", err))
		}
	}
	return migrated, nil
}

// UpdateSettings validates and stores new settings for the site.
func (e *Engine) UpdateSettings(ctx context.Context, siteID string, s types.Settings) error {
	if s.BillingStartDay < 1 || s.BillingStartDay > 28 {
		return fmt.Errorf("billing start day must be between 1 and 28, got %d", s.BillingStartDay)
	}
	if s.SpikeThresholdKWH < 0 {
		return fmt.Errorf("spike threshold must not be negative")
	}
	if s.HighUsageThresholdKWH < 0 {
		return fmt.Errorf("high usage threshold must not be negative")
	}
	return e.db.SetSettings(ctx, siteID, s, types.CurrentSettingsVersion)
}

// loadState reads and migrates the site state, reporting the document's
// health. A corrupted or missing document yields a usable fresh state; the
// poll continues and the condition is surfaced on the snapshot.
func (e *Engine) loadState(ctx context.Context, siteID string) (types.SiteState, string) {
	st, version, err := e.db.GetState(ctx, siteID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "state document unreadable, starting fresh", slog.String("siteID", siteID), slog.Any("err", err))
		st, _, _ = types.MigrateState(types.SiteState{}, 0)
		return st, StorageCorrupted
	}
	health := StorageOK
	if version == 0 && st.Billing == nil && st.Daily == nil {
		health = StorageMissing
	}
	migrated, _, err := types.MigrateState(st, version)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "state migration failed, starting fresh", slog.String("siteID", siteID), slog.Any("err", err))
		st, _, _ = types.MigrateState(types.SiteState{}, 0)
		return st, StorageCorrupted
	}
	return migrated, health
}

// Poll executes one full billing cycle for the site and persists the
// mutated state before returning. Sub-computations that fail degrade the
// snapshot instead of aborting it; only a persistence failure is fatal.
func (e *Engine) Poll(ctx context.Context, siteID string, readings []types.MeterReading, now time.Time) (types.BillingSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	localNow := now.In(tou.Location())

	settings, err := e.Settings(ctx, siteID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load settings, using defaults", slog.String("siteID", siteID), slog.Any("err", err))
		settings, _, _ = types.MigrateSettings(types.Settings{}, 0)
	}

	st, health := e.loadState(ctx, siteID)

	if e.holidays != nil {
		e.holidays.RefreshIfNeeded(ctx, &st, localNow)
	}
	isHoliday := holiday.IsHoliday(st.HolidayCache, localNow)

	var issues []string
	importReading, importOK := pickReading(readings, types.MeterImport, &issues)
	exportReading, exportOK := pickReading(readings, types.MeterExport, &issues)

	rates := tariff.Resolve(st.Overrides)
	costOf := func(b *types.BillingBucket) float64 {
		if settings.TOUEnabled {
			return costing.TOU(rates, b.ImportPeak, b.ImportOffPeak, b.ExportTotal).Total
		}
		return costing.Flat(rates, b.ImportTotal, b.ExportTotal).Total
	}

	archivedKey := billing.Roll(&st, localNow, settings.BillingStartDay, costOf)
	if archivedKey != "" {
		if err := e.db.UpsertBillingMonth(ctx, siteID, archivedKey, st.History[archivedKey]); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to archive closed billing month", slog.String("siteID", siteID), slog.String("month", archivedKey), slog.Any("err", err))
		}
	}

	// Interval start for the peak/off-peak split. Captured before the daily
	// roll so an interval crossing midnight is still split correctly.
	intervalStart := localNow
	if st.Daily != nil {
		intervalStart = st.Daily.LastUpdate
	}
	billing.RollDaily(&st, localNow, importReading, exportReading)

	threshold := settings.SpikeThresholdKWH
	if threshold == 0 {
		threshold = meter.DefaultThreshold
	}
	tracker := meter.Tracker{Threshold: threshold}

	b := st.Billing
	d := st.Daily

	if importOK {
		res, err := tracker.Advance(b.ImportLast, b.ImportSpikePolls, importReading)
		if err != nil {
			issues = append(issues, fmt.Sprintf("import reading rejected: %v", err))
		} else {
			baseline := res.Baseline
			b.ImportLast = &baseline
			b.ImportSpikePolls = res.SpikePolls
			switch res.Event {
			case meter.EventReset:
				issues = append(issues, "import meter reset detected")
			case meter.EventSpike:
				issues = append(issues, fmt.Sprintf("import spike rejected (reading %.2f, baseline %.2f)", importReading, baseline))
			}
			if res.Delta > 0 {
				peak, offPeak := tou.Split(res.Delta, intervalStart, localNow, isHoliday)
				b.ImportTotal += res.Delta
				b.ImportPeak += peak
				b.ImportOffPeak += offPeak
				d.ImportTotal += res.Delta
				d.ImportPeak += peak
				d.ImportOffPeak += offPeak
			}
		}
	}

	if exportOK {
		res, err := tracker.Advance(b.ExportLast, b.ExportSpikePolls, exportReading)
		if err != nil {
			issues = append(issues, fmt.Sprintf("export reading rejected: %v", err))
		} else {
			baseline := res.Baseline
			b.ExportLast = &baseline
			b.ExportSpikePolls = res.SpikePolls
			switch res.Event {
			case meter.EventReset:
				issues = append(issues, "export meter reset detected")
			case meter.EventSpike:
				issues = append(issues, fmt.Sprintf("export spike rejected (reading %.2f, baseline %.2f)", exportReading, baseline))
			}
			if res.Delta > 0 {
				b.ExportTotal += res.Delta
				d.ExportTotal += res.Delta
			}
		}
	}
	d.LastUpdate = localNow

	snap := e.buildSnapshot(ctx, st, settings, rates, localNow, isHoliday)
	snap.StorageHealth = health
	snap.ValidationStatus = "OK"
	if len(issues) > 0 {
		snap.ValidationStatus = strings.Join(issues, "; ")
	}

	if err := e.db.SetState(ctx, siteID, st, types.CurrentStateVersion); err != nil {
		return snap, fmt.Errorf("failed to persist state: %w", err)
	}
	if err := e.db.InsertSnapshot(ctx, siteID, snap); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to record snapshot", slog.String("siteID", siteID), slog.Any("err", err))
	}
	return snap, nil
}

// buildSnapshot prices the buckets and attaches the derived figures.
// Prediction and recommendation failures degrade to absent fields.
func (e *Engine) buildSnapshot(ctx context.Context, st types.SiteState, settings types.Settings, rates tariff.ResolvedRates, localNow time.Time, isHoliday bool) types.BillingSnapshot {
	b := st.Billing
	d := st.Daily

	touCosts := costing.TOU(rates, b.ImportPeak, b.ImportOffPeak, b.ExportTotal)
	flatCosts := costing.Flat(rates, b.ImportTotal, b.ExportTotal)
	todayTOU := costing.TOU(rates, d.ImportPeak, d.ImportOffPeak, d.ExportTotal)
	todayFlat := costing.Flat(rates, d.ImportTotal, d.ExportTotal)

	activeCost := flatCosts.Total
	if settings.TOUEnabled {
		activeCost = touCosts.Total
	}

	snap := types.BillingSnapshot{
		Timestamp: localNow,
		Cycle: types.EnergyTotals{
			Import:        costing.RoundEnergy(b.ImportTotal),
			Export:        costing.RoundEnergy(b.ExportTotal),
			Net:           costing.RoundEnergy(b.ImportTotal - b.ExportTotal),
			ImportPeak:    costing.RoundEnergy(b.ImportPeak),
			ImportOffPeak: costing.RoundEnergy(b.ImportOffPeak),
		},
		Today: types.EnergyTotals{
			Import:        costing.RoundEnergy(d.ImportTotal),
			Export:        costing.RoundEnergy(d.ExportTotal),
			Net:           costing.RoundEnergy(d.ImportTotal - d.ExportTotal),
			ImportPeak:    costing.RoundEnergy(d.ImportPeak),
			ImportOffPeak: costing.RoundEnergy(d.ImportOffPeak),
		},
		BillingMonth:    b.BillingMonth,
		BillingYear:     b.BillingYear,
		BillingStartDay: b.BillingStartDay,
		DayStatus:       dayStatus(localNow, isHoliday),
		PeriodStatus:    periodStatus(localNow, isHoliday),
		TierStatus:      tierStatus(b.ImportTotal),
		IsHoliday:       isHoliday,
		HighUsage:       settings.HighUsageThresholdKWH > 0 && b.ImportTotal >= settings.HighUsageThresholdKWH,
		TOU:             &touCosts,
		Flat:            flatCosts,
		TodayTOU:        &todayTOU,
		TodayFlat:       todayFlat,
		ActiveCost:      activeCost,
		AssumedSplit:    b.AssumedSplit,
	}

	startDay := billing.ActiveStartDay(b)
	daysElapsed := billing.DaysElapsed(localNow, b.BillingYear, b.BillingMonth, startDay, tou.Location())
	daysInCycle := billing.DaysInCycle(b.BillingYear, b.BillingMonth, startDay, tou.Location())

	snap.Prediction = safeForecast(ctx, predict.Inputs{
		DaysElapsed: daysElapsed,
		DaysInCycle: daysInCycle,
		CurrentCost: activeCost,
		ImportKWH:   b.ImportTotal,
		PeakKWH:     b.ImportPeak,
		TOUEnabled:  settings.TOUEnabled,
		History:     billing.RecentHistory(st.History, billing.MaxHistoryMonths),
		Rates:       rates,
	})
	snap.Recommendation = safeRecommend(ctx, advisor.Inputs{
		ImportPeak:    b.ImportPeak,
		ImportOffPeak: b.ImportOffPeak,
		ExportTotal:   b.ExportTotal,
		TOUEnabled:    settings.TOUEnabled,
		Rates:         rates,
	})
	return snap
}

// safeForecast isolates the prediction so a failure there cannot take the
// cost and energy figures down with it.
func safeForecast(ctx context.Context, in predict.Inputs) (p *types.Prediction) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).ErrorContext(ctx, "prediction failed", slog.Any("panic", r))
			p = nil
		}
	}()
	return predict.Forecast(in)
}

func safeRecommend(ctx context.Context, in advisor.Inputs) (rec *types.Recommendation) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).ErrorContext(ctx, "recommendation failed", slog.Any("panic", r))
			rec = nil
		}
	}()
	return advisor.Recommend(in)
}

// pickReading finds the reading of the given kind, recording a validation
// issue and substituting zero when it is absent or unusable. ok is false
// when the meter should not be advanced this cycle.
func pickReading(readings []types.MeterReading, kind types.MeterKind, issues *[]string) (float64, bool) {
	for _, r := range readings {
		if r.Kind != kind {
			continue
		}
		if !r.Valid {
			*issues = append(*issues, fmt.Sprintf("%s entity unavailable", kind))
			return 0, false
		}
		return r.Value, true
	}
	return 0, false
}

func dayStatus(t time.Time, isHoliday bool) string {
	switch {
	case isHoliday:
		return "Holiday"
	case t.Weekday() == time.Saturday || t.Weekday() == time.Sunday:
		return "Weekend"
	default:
		return "Weekday"
	}
}

func periodStatus(t time.Time, isHoliday bool) string {
	if tou.IsPeak(t, isHoliday) {
		return "Peak"
	}
	switch {
	case isHoliday:
		return "Off-Peak (Holiday)"
	case t.Weekday() == time.Saturday || t.Weekday() == time.Sunday:
		return "Off-Peak (Weekend)"
	default:
		return "Off-Peak"
	}
}

func tierStatus(importKWH float64) string {
	switch {
	case importKWH < 600:
		return "Below 600 kWh"
	case importKWH < 1500:
		return "600-1500 kWh"
	default:
		return "Above 1500 kWh"
	}
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tnbcalc/tnbcalc/pkg/billing"
	"github.com/tnbcalc/tnbcalc/pkg/costing"
	"github.com/tnbcalc/tnbcalc/pkg/holiday"
	"github.com/tnbcalc/tnbcalc/pkg/log"
	"github.com/tnbcalc/tnbcalc/pkg/tariff"
	"github.com/tnbcalc/tnbcalc/pkg/tou"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

// Snapshot prices the current buckets without advancing the meters. Used by
// the read-only snapshot endpoint; nothing is persisted.
func (e *Engine) Snapshot(ctx context.Context, siteID string, now time.Time) (types.BillingSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	localNow := now.In(tou.Location())
	settings, err := e.Settings(ctx, siteID)
	if err != nil {
		return types.BillingSnapshot{}, err
	}
	st, health := e.loadState(ctx, siteID)
	if st.Billing == nil || st.Daily == nil {
		return types.BillingSnapshot{}, fmt.Errorf("site %s has not polled yet", siteID)
	}
	isHoliday := holiday.IsHoliday(st.HolidayCache, localNow)

	snap := e.buildSnapshot(ctx, st, settings, tariff.Resolve(st.Overrides), localNow, isHoliday)
	snap.StorageHealth = health
	snap.ValidationStatus = "OK"
	return snap, nil
}

// Calibrate applies a manual correction to the current billing bucket and
// persists the result. The bucket is left untouched on any validation
// failure.
func (e *Engine) Calibrate(ctx context.Context, siteID string, req billing.CalibrationRequest, now time.Time) (billing.CalibrationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	localNow := now.In(tou.Location())
	st, _ := e.loadState(ctx, siteID)
	if st.Billing == nil {
		return billing.CalibrationResult{}, fmt.Errorf("site %s has no active billing cycle", siteID)
	}
	isPeakNow := tou.IsPeak(localNow, holiday.IsHoliday(st.HolidayCache, localNow))

	res, err := billing.Calibrate(st.Billing, req, localNow, isPeakNow)
	if err != nil {
		return billing.CalibrationResult{}, err
	}
	if err := e.db.SetState(ctx, siteID, st, types.CurrentStateVersion); err != nil {
		return billing.CalibrationResult{}, fmt.Errorf("failed to persist calibration: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "calibration applied",
		slog.String("siteID", siteID),
		slog.String("kind", string(res.Kind)),
		slog.Float64("previous", res.Previous),
		slog.Float64("current", res.Current),
	)
	return res, nil
}

// SetAFAOverride stores a manual AFA rate. The override survives until
// reset or overwritten by a later fetch or webhook push.
func (e *Engine) SetAFAOverride(ctx context.Context, siteID string, rate float64, now time.Time) error {
	if err := tariff.ValidateAFARate(rate); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st, _ := e.loadState(ctx, siteID)
	t := now
	st.Overrides.AFARate = &rate
	st.Overrides.Source = types.TariffSourceManual
	st.Overrides.LastUpdated = &t
	return e.db.SetState(ctx, siteID, st, types.CurrentStateVersion)
}

// ResetOverrides drops every stored override, returning the site to the
// hardcoded default schedule.
func (e *Engine) ResetOverrides(ctx context.Context, siteID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, _ := e.loadState(ctx, siteID)
	st.Overrides = types.TariffOverrides{Source: types.TariffSourceDefault}
	return e.db.SetState(ctx, siteID, st, types.CurrentStateVersion)
}

// FetchTariff pulls current rates from the scraper API and stores them as
// overrides. complete selects the full schedule payload over the
// AFA-rate-only one. A fetch failure leaves the stored overrides alone.
func (e *Engine) FetchTariff(ctx context.Context, siteID string, complete bool, now time.Time) error {
	if e.tariffs == nil {
		return fmt.Errorf("tariff fetcher not configured")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	settings, err := e.Settings(ctx, siteID)
	if err != nil {
		return err
	}
	st, _ := e.loadState(ctx, siteID)
	t := now

	if complete {
		schedule, err := e.tariffs.FetchComplete(ctx, settings.TariffAPIURL)
		if err != nil {
			return err
		}
		st.Overrides.Schedule = &schedule
	} else {
		simple, err := e.tariffs.FetchSimple(ctx, settings.TariffAPIURL)
		if err != nil {
			return err
		}
		st.Overrides.AFARate = &simple.AFARate
		st.Overrides.EffectiveDate = simple.EffectiveDate
	}
	st.Overrides.Source = types.TariffSourceAPI
	st.Overrides.LastUpdated = &t
	st.Overrides.APIURL = settings.TariffAPIURL
	return e.db.SetState(ctx, siteID, st, types.CurrentStateVersion)
}

// ApplyWebhookSchedule stores a schedule pushed by an external publisher.
// The payload is validated at this boundary; malformed schedules never
// reach the resolver.
func (e *Engine) ApplyWebhookSchedule(ctx context.Context, siteID string, schedule types.TariffSchedule, afaRate *float64, now time.Time) error {
	if err := tariff.ValidateSchedule(&schedule); err != nil {
		return fmt.Errorf("rejecting webhook schedule: %w", err)
	}
	if afaRate != nil {
		if err := tariff.ValidateAFARate(*afaRate); err != nil {
			return fmt.Errorf("rejecting webhook afa rate: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, _ := e.loadState(ctx, siteID)
	t := now
	st.Overrides.Schedule = &schedule
	if afaRate != nil {
		st.Overrides.AFARate = afaRate
	}
	st.Overrides.Source = types.TariffSourceWebhook
	st.Overrides.LastUpdated = &t
	return e.db.SetState(ctx, siteID, st, types.CurrentStateVersion)
}

// CompareResult reports how an actual TNB bill lines up against the
// computed cycle cost.
type CompareResult struct {
	ComputedCost float64 `json:"computedCost"`
	ActualBill   float64 `json:"actualBill"`
	Difference   float64 `json:"difference"` // actual minus computed
	PercentDiff  float64 `json:"percentDiff,omitempty"`
}

// Compare checks an actual bill amount against the active mode's computed
// cost for the current cycle.
func (e *Engine) Compare(ctx context.Context, siteID string, actualBill float64) (CompareResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	settings, err := e.Settings(ctx, siteID)
	if err != nil {
		return CompareResult{}, err
	}
	st, _ := e.loadState(ctx, siteID)
	if st.Billing == nil {
		return CompareResult{}, fmt.Errorf("site %s has no active billing cycle", siteID)
	}

	rates := tariff.Resolve(st.Overrides)
	computed := costing.Flat(rates, st.Billing.ImportTotal, st.Billing.ExportTotal).Total
	if settings.TOUEnabled {
		computed = costing.TOU(rates, st.Billing.ImportPeak, st.Billing.ImportOffPeak, st.Billing.ExportTotal).Total
	}

	res := CompareResult{
		ComputedCost: computed,
		ActualBill:   actualBill,
		Difference:   costing.Round(actualBill - computed),
	}
	if computed != 0 {
		res.PercentDiff = costing.Round((actualBill - computed) / computed * 100)
	}
	return res, nil
}

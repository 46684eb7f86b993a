package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tnbcalc/tnbcalc/pkg/billing"
	"github.com/tnbcalc/tnbcalc/pkg/storage/storagemock"
	"github.com/tnbcalc/tnbcalc/pkg/tou"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

func f(v float64) *float64 { return &v }

// July 16 2025 is a Wednesday; 15:00 falls inside the peak window.
func testNow() time.Time {
	return time.Date(2025, 7, 16, 15, 0, 0, 0, tou.Location())
}

func migratedSettings() types.Settings {
	s, _, _ := types.MigrateSettings(types.Settings{}, 0)
	return s
}

// seededState returns a state mid-cycle with the daily bucket half an hour
// stale so the next poll's interval is 14:30 to 15:00 (all peak).
func seededState(now time.Time) types.SiteState {
	st, _, _ := types.MigrateState(types.SiteState{}, 0)
	st.Billing = &types.BillingBucket{
		BillingYear:     now.Year(),
		BillingMonth:    int(now.Month()),
		BillingStartDay: 1,
		ImportTotal:     150,
		ImportPeak:      90,
		ImportOffPeak:   60,
		ExportTotal:     20,
		ImportLast:      f(1000),
		ExportLast:      f(200),
	}
	st.Daily = &types.DailyBucket{
		Date:          now.Format("2006-01-02"),
		ImportTotal:   4,
		ImportPeak:    1,
		ImportOffPeak: 3,
		ImportStart:   996,
		ExportStart:   200,
		LastUpdate:    now.Add(-30 * time.Minute),
	}
	return st
}

func readings(now time.Time, imp, exp float64) []types.MeterReading {
	return []types.MeterReading{
		{Kind: types.MeterImport, Value: imp, Timestamp: now, Valid: true},
		{Kind: types.MeterExport, Value: exp, Timestamp: now, Valid: true},
	}
}

func TestPollFreshSite(t *testing.T) {
	ctx := context.Background()
	now := testNow()
	db := &storagemock.MockDatabase{}
	db.On("GetSettings", mock.Anything, "site1").Return(types.Settings{}, 0, nil)
	db.On("SetSettings", mock.Anything, "site1", migratedSettings(), types.CurrentSettingsVersion).Return(nil)
	db.On("GetState", mock.Anything, "site1").Return(types.SiteState{}, 0, nil)

	var saved types.SiteState
	db.On("SetState", mock.Anything, "site1", mock.Anything, types.CurrentStateVersion).
		Run(func(args mock.Arguments) { saved = args.Get(2).(types.SiteState) }).
		Return(nil)
	db.On("InsertSnapshot", mock.Anything, "site1", mock.Anything).Return(nil)

	e := New(db, nil, nil)
	snap, err := e.Poll(ctx, "site1", readings(now, 1000, 200), now)
	require.NoError(t, err)

	assert.Equal(t, StorageMissing, snap.StorageHealth)
	assert.Equal(t, "OK", snap.ValidationStatus)
	assert.Equal(t, 2025, snap.BillingYear)
	assert.Equal(t, 7, snap.BillingMonth)
	assert.Equal(t, "Weekday", snap.DayStatus)
	assert.Equal(t, "Peak", snap.PeriodStatus)
	assert.Equal(t, "Below 600 kWh", snap.TierStatus)
	// First reading establishes the baseline without accruing energy.
	assert.Zero(t, snap.Cycle.Import)
	assert.Zero(t, snap.ActiveCost)

	require.NotNil(t, saved.Billing)
	require.NotNil(t, saved.Billing.ImportLast)
	assert.Equal(t, 1000.0, *saved.Billing.ImportLast)
	require.NotNil(t, saved.Billing.ExportLast)
	assert.Equal(t, 200.0, *saved.Billing.ExportLast)
	db.AssertCalled(t, "SetSettings", mock.Anything, "site1", migratedSettings(), types.CurrentSettingsVersion)
}

func TestPollAccumulates(t *testing.T) {
	ctx := context.Background()
	now := testNow()
	st := seededState(now)

	db := &storagemock.MockDatabase{}
	db.On("GetSettings", mock.Anything, "site1").Return(migratedSettings(), types.CurrentSettingsVersion, nil)
	db.On("GetState", mock.Anything, "site1").Return(st, types.CurrentStateVersion, nil)

	var saved types.SiteState
	db.On("SetState", mock.Anything, "site1", mock.Anything, types.CurrentStateVersion).
		Run(func(args mock.Arguments) { saved = args.Get(2).(types.SiteState) }).
		Return(nil)
	db.On("InsertSnapshot", mock.Anything, "site1", mock.Anything).Return(nil)

	e := New(db, nil, nil)
	snap, err := e.Poll(ctx, "site1", readings(now, 1002.5, 201), now)
	require.NoError(t, err)

	assert.Equal(t, StorageOK, snap.StorageHealth)
	assert.Equal(t, "OK", snap.ValidationStatus)
	// 14:30 to 15:00 on a Wednesday is entirely peak.
	assert.InDelta(t, 152.5, snap.Cycle.Import, 1e-9)
	assert.InDelta(t, 92.5, snap.Cycle.ImportPeak, 1e-9)
	assert.InDelta(t, 60, snap.Cycle.ImportOffPeak, 1e-9)
	assert.InDelta(t, 21, snap.Cycle.Export, 1e-9)
	assert.InDelta(t, 6.5, snap.Today.Import, 1e-9)

	assert.Equal(t, 1002.5, *saved.Billing.ImportLast)
	assert.Equal(t, 201.0, *saved.Billing.ExportLast)
	assert.NotNil(t, snap.Prediction)
	assert.NotNil(t, snap.Recommendation)
	assert.Positive(t, snap.ActiveCost)
}

func TestPollInvalidReading(t *testing.T) {
	ctx := context.Background()
	now := testNow()
	st := seededState(now)

	db := &storagemock.MockDatabase{}
	db.On("GetSettings", mock.Anything, "site1").Return(migratedSettings(), types.CurrentSettingsVersion, nil)
	db.On("GetState", mock.Anything, "site1").Return(st, types.CurrentStateVersion, nil)

	var saved types.SiteState
	db.On("SetState", mock.Anything, "site1", mock.Anything, types.CurrentStateVersion).
		Run(func(args mock.Arguments) { saved = args.Get(2).(types.SiteState) }).
		Return(nil)
	db.On("InsertSnapshot", mock.Anything, "site1", mock.Anything).Return(nil)

	e := New(db, nil, nil)
	snap, err := e.Poll(ctx, "site1", []types.MeterReading{
		{Kind: types.MeterImport, Valid: false},
		{Kind: types.MeterExport, Value: 201, Timestamp: now, Valid: true},
	}, now)
	require.NoError(t, err)

	assert.Contains(t, snap.ValidationStatus, "import entity unavailable")
	// The import baseline is untouched; the export still advanced.
	assert.Equal(t, 1000.0, *saved.Billing.ImportLast)
	assert.Equal(t, 201.0, *saved.Billing.ExportLast)
	assert.InDelta(t, 150, snap.Cycle.Import, 1e-9)
}

func TestPollSpikeRejected(t *testing.T) {
	ctx := context.Background()
	now := testNow()
	st := seededState(now)

	db := &storagemock.MockDatabase{}
	db.On("GetSettings", mock.Anything, "site1").Return(migratedSettings(), types.CurrentSettingsVersion, nil)
	db.On("GetState", mock.Anything, "site1").Return(st, types.CurrentStateVersion, nil)

	var saved types.SiteState
	db.On("SetState", mock.Anything, "site1", mock.Anything, types.CurrentStateVersion).
		Run(func(args mock.Arguments) { saved = args.Get(2).(types.SiteState) }).
		Return(nil)
	db.On("InsertSnapshot", mock.Anything, "site1", mock.Anything).Return(nil)

	e := New(db, nil, nil)
	snap, err := e.Poll(ctx, "site1", readings(now, 1100, 201), now)
	require.NoError(t, err)

	assert.Contains(t, snap.ValidationStatus, "import spike rejected")
	assert.InDelta(t, 150, snap.Cycle.Import, 1e-9)
	assert.Equal(t, 1000.0, *saved.Billing.ImportLast)
	assert.Equal(t, 1, saved.Billing.ImportSpikePolls)
}

func TestPollRollover(t *testing.T) {
	ctx := context.Background()
	now := testNow()
	st := seededState(now)
	// Bucket from June; polling in July closes and archives it.
	st.Billing.BillingMonth = 6

	db := &storagemock.MockDatabase{}
	db.On("GetSettings", mock.Anything, "site1").Return(migratedSettings(), types.CurrentSettingsVersion, nil)
	db.On("GetState", mock.Anything, "site1").Return(st, types.CurrentStateVersion, nil)
	db.On("UpsertBillingMonth", mock.Anything, "site1", "2025-06", mock.Anything).Return(nil)

	var saved types.SiteState
	db.On("SetState", mock.Anything, "site1", mock.Anything, types.CurrentStateVersion).
		Run(func(args mock.Arguments) { saved = args.Get(2).(types.SiteState) }).
		Return(nil)
	db.On("InsertSnapshot", mock.Anything, "site1", mock.Anything).Return(nil)

	e := New(db, nil, nil)
	snap, err := e.Poll(ctx, "site1", readings(now, 1002.5, 201), now)
	require.NoError(t, err)

	db.AssertCalled(t, "UpsertBillingMonth", mock.Anything, "site1", "2025-06", mock.Anything)
	assert.Equal(t, 7, snap.BillingMonth)
	// The fresh bucket starts from the carried baseline, so only the new
	// delta shows.
	assert.InDelta(t, 2.5, snap.Cycle.Import, 1e-9)
	rec, ok := saved.History["2025-06"]
	require.True(t, ok)
	assert.InDelta(t, 150, rec.TotalKWH, 1e-9)
	assert.Positive(t, rec.TotalCost)
}

func TestCalibrate(t *testing.T) {
	ctx := context.Background()
	now := testNow()

	t.Run("applies and persists", func(t *testing.T) {
		st := seededState(now)
		db := &storagemock.MockDatabase{}
		db.On("GetState", mock.Anything, "site1").Return(st, types.CurrentStateVersion, nil)

		var saved types.SiteState
		db.On("SetState", mock.Anything, "site1", mock.Anything, types.CurrentStateVersion).
			Run(func(args mock.Arguments) { saved = args.Get(2).(types.SiteState) }).
			Return(nil)

		e := New(db, nil, nil)
		res, err := e.Calibrate(ctx, "site1", billing.CalibrationRequest{
			Kind:         types.MeterImport,
			Op:           billing.OpSetExact,
			Value:        200,
			Distribution: types.DistributionProportional,
		}, now)
		require.NoError(t, err)
		assert.Equal(t, 150.0, res.Previous)
		assert.Equal(t, 200.0, res.Current)
		assert.InDelta(t, 200, saved.Billing.ImportTotal, 1e-9)
		// Ratio 90/150 preserved.
		assert.InDelta(t, 120, saved.Billing.ImportPeak, 1e-9)
	})

	t.Run("rejection leaves storage alone", func(t *testing.T) {
		st := seededState(now)
		db := &storagemock.MockDatabase{}
		db.On("GetState", mock.Anything, "site1").Return(st, types.CurrentStateVersion, nil)

		e := New(db, nil, nil)
		_, err := e.Calibrate(ctx, "site1", billing.CalibrationRequest{
			Kind:          types.MeterImport,
			Op:            billing.OpSetExact,
			Value:         200,
			Distribution:  types.DistributionManual,
			ManualPeak:    f(50),
			ManualOffPeak: f(50),
		}, now)
		require.Error(t, err)
		db.AssertNotCalled(t, "SetState", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestTariffOverrides(t *testing.T) {
	ctx := context.Background()
	now := testNow()

	t.Run("manual afa", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetState", mock.Anything, "site1").Return(seededState(now), types.CurrentStateVersion, nil)

		var saved types.SiteState
		db.On("SetState", mock.Anything, "site1", mock.Anything, types.CurrentStateVersion).
			Run(func(args mock.Arguments) { saved = args.Get(2).(types.SiteState) }).
			Return(nil)

		e := New(db, nil, nil)
		require.NoError(t, e.SetAFAOverride(ctx, "site1", -0.05, now))
		require.NotNil(t, saved.Overrides.AFARate)
		assert.Equal(t, -0.05, *saved.Overrides.AFARate)
		assert.Equal(t, types.TariffSourceManual, saved.Overrides.Source)
	})

	t.Run("invalid afa rejected", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		e := New(db, nil, nil)
		require.Error(t, e.SetAFAOverride(ctx, "site1", 5, now))
		db.AssertNotCalled(t, "SetState", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("reset", func(t *testing.T) {
		st := seededState(now)
		st.Overrides.AFARate = f(-0.05)
		st.Overrides.Source = types.TariffSourceManual

		db := &storagemock.MockDatabase{}
		db.On("GetState", mock.Anything, "site1").Return(st, types.CurrentStateVersion, nil)

		var saved types.SiteState
		db.On("SetState", mock.Anything, "site1", mock.Anything, types.CurrentStateVersion).
			Run(func(args mock.Arguments) { saved = args.Get(2).(types.SiteState) }).
			Return(nil)

		e := New(db, nil, nil)
		require.NoError(t, e.ResetOverrides(ctx, "site1"))
		assert.Nil(t, saved.Overrides.AFARate)
		assert.Equal(t, types.TariffSourceDefault, saved.Overrides.Source)
	})

	t.Run("webhook schedule validated", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		e := New(db, nil, nil)
		err := e.ApplyWebhookSchedule(ctx, "site1", types.TariffSchedule{}, nil, now)
		require.Error(t, err)
		db.AssertNotCalled(t, "SetState", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	now := testNow()
	st := seededState(now)

	db := &storagemock.MockDatabase{}
	db.On("GetSettings", mock.Anything, "site1").Return(migratedSettings(), types.CurrentSettingsVersion, nil)
	db.On("GetState", mock.Anything, "site1").Return(st, types.CurrentStateVersion, nil)

	e := New(db, nil, nil)
	res, err := e.Compare(ctx, "site1", 50)
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.ActualBill)
	assert.Positive(t, res.ComputedCost)
	assert.InDelta(t, res.ActualBill-res.ComputedCost, res.Difference, 0.01)
}

func TestSnapshotRequiresPoll(t *testing.T) {
	ctx := context.Background()
	db := &storagemock.MockDatabase{}
	db.On("GetSettings", mock.Anything, "site1").Return(migratedSettings(), types.CurrentSettingsVersion, nil)
	db.On("GetState", mock.Anything, "site1").Return(types.SiteState{}, 0, nil)

	e := New(db, nil, nil)
	_, err := e.Snapshot(ctx, "site1", testNow())
	require.Error(t, err)
}

package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

func TestFirestoreProvider(t *testing.T) {
	// Check if emulator is running or configured
	// We assume it is running on localhost:8087 as per task
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")

	// Use a test project ID
	projectID := "test-project-id"

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: projectID,
		database:  randDB,
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("Settings", func(t *testing.T) {
		settings := types.Settings{
			TOUEnabled:            true,
			BillingStartDay:       15,
			SpikeThresholdKWH:     10,
			HighUsageThresholdKWH: 550,
		}
		require.NoError(t, f.SetSettings(ctx, "test-site", settings, types.CurrentSettingsVersion))

		gotSettings, version, err := f.GetSettings(ctx, "test-site")
		require.NoError(t, err)
		assert.Equal(t, types.CurrentSettingsVersion, version)
		assert.Equal(t, settings.TOUEnabled, gotSettings.TOUEnabled)
		assert.Equal(t, settings.BillingStartDay, gotSettings.BillingStartDay)
		assert.Equal(t, settings.SpikeThresholdKWH, gotSettings.SpikeThresholdKWH)
		assert.Equal(t, settings.HighUsageThresholdKWH, gotSettings.HighUsageThresholdKWH)
	})

	t.Run("SettingsMissing", func(t *testing.T) {
		settings, version, err := f.GetSettings(ctx, "fresh-site")
		require.NoError(t, err)
		assert.Equal(t, 0, version)
		assert.Equal(t, types.Settings{}, settings)
	})

	t.Run("EmptySiteID", func(t *testing.T) {
		_, _, err := f.GetSettings(ctx, "")
		assert.ErrorContains(t, err, "siteID cannot be empty")
	})

	t.Run("State", func(t *testing.T) {
		last := 812.5
		st := types.SiteState{
			Billing: &types.BillingBucket{
				BillingMonth:    7,
				BillingYear:     2025,
				BillingStartDay: 15,
				ImportPeak:      120.4,
				ImportOffPeak:   210.7,
				ImportLast:      &last,
			},
			Overrides: types.TariffOverrides{Source: types.TariffSourceDefault},
			History: map[string]types.HistoricalMonth{
				"2025-06": {TotalKWH: 540, TotalCost: 261.12},
			},
			HolidayCache: map[string]bool{"2025-08-31": true},
		}
		require.NoError(t, f.SetState(ctx, "test-site", st, types.CurrentStateVersion))

		got, version, err := f.GetState(ctx, "test-site")
		require.NoError(t, err)
		assert.Equal(t, types.CurrentStateVersion, version)
		require.NotNil(t, got.Billing)
		assert.Equal(t, 7, got.Billing.BillingMonth)
		assert.Equal(t, 120.4, got.Billing.ImportPeak)
		require.NotNil(t, got.Billing.ImportLast)
		assert.Equal(t, 812.5, *got.Billing.ImportLast)
		assert.Equal(t, st.History, got.History)
		assert.True(t, got.HolidayCache["2025-08-31"])

		t.Run("MissingState", func(t *testing.T) {
			got, version, err := f.GetState(ctx, "fresh-site")
			require.NoError(t, err)
			assert.Equal(t, 0, version)
			assert.Nil(t, got.Billing)
		})
	})

	t.Run("BillingHistory", func(t *testing.T) {
		months := map[string]types.HistoricalMonth{
			"2025-04": {TotalKWH: 480, TotalCost: 228.91, PeakKWH: 190, OffPeakKWH: 290},
			"2025-05": {TotalKWH: 512, TotalCost: 247.03, PeakKWH: 205, OffPeakKWH: 307},
			"2025-06": {TotalKWH: 540, TotalCost: 261.12, PeakKWH: 216, OffPeakKWH: 324},
		}
		for key, rec := range months {
			require.NoError(t, f.UpsertBillingMonth(ctx, "test-site", key, rec))
		}

		got, err := f.GetBillingHistory(ctx, "test-site", "2025-05", "2025-07")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, months["2025-05"], got["2025-05"])
		assert.Equal(t, months["2025-06"], got["2025-06"])
		_, ok := got["2025-04"]
		assert.False(t, ok, "month before the start key should not be returned")

		t.Run("UpsertOverwrite", func(t *testing.T) {
			updated := types.HistoricalMonth{TotalKWH: 541, TotalCost: 262.0, PeakKWH: 216, OffPeakKWH: 325}
			require.NoError(t, f.UpsertBillingMonth(ctx, "test-site", "2025-06", updated))

			got, err := f.GetBillingHistory(ctx, "test-site", "2025-06", "2025-07")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, updated, got["2025-06"])
		})
	})

	t.Run("Snapshots", func(t *testing.T) {
		now := time.Now().Truncate(time.Second).UTC() // Firestore doc IDs are RFC3339 (seconds)
		s1 := types.BillingSnapshot{
			Timestamp:        now.Add(-1 * time.Hour),
			Cycle:            types.EnergyTotals{Import: 331.1, ImportPeak: 120.4},
			ActiveCost:       152.33,
			ValidationStatus: "OK",
		}
		s2 := types.BillingSnapshot{
			Timestamp:        now,
			Cycle:            types.EnergyTotals{Import: 333.2, ImportPeak: 121.1},
			ActiveCost:       153.01,
			ValidationStatus: "OK",
		}
		s3 := types.BillingSnapshot{
			Timestamp:        now.Add(-26 * time.Hour),
			Cycle:            types.EnergyTotals{Import: 300.0},
			ActiveCost:       140.00,
			ValidationStatus: "OK",
		}
		require.NoError(t, f.InsertSnapshot(ctx, "test-site", s1))
		require.NoError(t, f.InsertSnapshot(ctx, "test-site", s2))
		require.NoError(t, f.InsertSnapshot(ctx, "test-site", s3))

		snaps, err := f.GetSnapshotHistory(ctx, "test-site", now.Add(-2*time.Hour), now.Add(1*time.Minute))
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		// Ordered ascending by timestamp
		assert.True(t, snaps[0].Timestamp.Equal(s1.Timestamp))
		assert.True(t, snaps[1].Timestamp.Equal(s2.Timestamp))
		assert.Equal(t, 153.01, snaps[1].ActiveCost)

		// s3 is outside the range
		for _, s := range snaps {
			assert.False(t, s.Timestamp.Equal(s3.Timestamp), "snapshot outside range should not be returned")
		}
	})

	t.Run("Sites", func(t *testing.T) {
		site := types.Site{
			Name:         "Test House",
			ImportEntity: "sensor.tnb_import",
			ExportEntity: "sensor.tnb_export",
			Created:      time.Now().Truncate(time.Second).UTC(),
		}

		t.Run("CreateSite", func(t *testing.T) {
			require.NoError(t, f.CreateSite(ctx, "site-crud", site))

			got, err := f.GetSite(ctx, "site-crud")
			require.NoError(t, err)
			assert.Equal(t, "site-crud", got.ID)
			assert.Equal(t, "Test House", got.Name)
			assert.Equal(t, "sensor.tnb_import", got.ImportEntity)
		})

		t.Run("CreateSiteDuplicate", func(t *testing.T) {
			// Create uses Firestore's Create which should fail on duplicates
			err := f.CreateSite(ctx, "site-crud", site)
			assert.Error(t, err)
		})

		t.Run("GetSiteNotFound", func(t *testing.T) {
			_, err := f.GetSite(ctx, "nonexistent")
			assert.ErrorIs(t, err, ErrSiteNotFound)
		})

		t.Run("ListSites", func(t *testing.T) {
			site2 := types.Site{Name: "Second House", ImportEntity: "sensor.import2"}
			require.NoError(t, f.CreateSite(ctx, "site2", site2))

			sites, err := f.ListSites(ctx)
			require.NoError(t, err)

			foundCrud := false
			foundSite2 := false
			for _, s := range sites {
				if s.ID == "site-crud" {
					foundCrud = true
				}
				if s.ID == "site2" {
					foundSite2 = true
				}
			}
			assert.True(t, foundCrud, "ListSites did not return site-crud")
			assert.True(t, foundSite2, "ListSites did not return site2")
		})
	})
}

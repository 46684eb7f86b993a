package advisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tnbcalc/tnbcalc/pkg/tariff"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

func inputs(peak, offPeak float64) Inputs {
	return Inputs{
		ImportPeak:    peak,
		ImportOffPeak: offPeak,
		TOUEnabled:    true,
		Rates:         tariff.Resolve(types.TariffOverrides{}),
	}
}

func TestRecommend(t *testing.T) {
	t.Run("nil with no import", func(t *testing.T) {
		assert.Nil(t, Recommend(inputs(0, 0)))
	})

	t.Run("above threshold", func(t *testing.T) {
		rec := Recommend(inputs(400, 250))
		require.NotNil(t, rec)
		require.NotNil(t, rec.TOU)
		assert.Equal(t, types.ZoneAboveThreshold, rec.TOU.Zone)
		assert.False(t, rec.TOU.Recommended)
		assert.Equal(t, 650.0, rec.TOU.TargetKWH)
	})

	t.Run("primary follows the active mode", func(t *testing.T) {
		in := inputs(60, 40)
		rec := Recommend(in)
		require.NotNil(t, rec)
		assert.Equal(t, "tou", rec.Primary)

		in.TOUEnabled = false
		rec = Recommend(in)
		require.NotNil(t, rec)
		assert.Equal(t, "flat", rec.Primary)
	})

	t.Run("low usage is not pushed toward the threshold", func(t *testing.T) {
		// At 100 kWh every candidate's marginal rate is far above the
		// average rate, so the advisor must not recommend moving.
		rec := Recommend(inputs(60, 40))
		require.NotNil(t, rec)
		for _, a := range []*types.Advice{rec.TOU, rec.Flat} {
			require.NotNil(t, a)
			assert.False(t, a.Recommended)
			assert.Equal(t, types.ZoneNormal, a.Zone)
			assert.Equal(t, 100.0, a.TargetKWH)
		}
	})

	t.Run("near threshold holds position", func(t *testing.T) {
		rec := Recommend(inputs(336, 224)) // 560 kWh at a 60/40 split
		require.NotNil(t, rec)
		require.NotNil(t, rec.TOU)
		assert.False(t, rec.TOU.Recommended)
		assert.Equal(t, types.ZoneStayPut, rec.TOU.Zone)
		assert.Equal(t, 560.0, rec.TOU.TargetKWH)
	})

	t.Run("negative afa makes crossing the threshold pay", func(t *testing.T) {
		afa := -0.05
		in := inputs(336, 224)
		in.Rates = tariff.Resolve(types.TariffOverrides{AFARate: &afa, Source: types.TariffSourceManual})
		rec := Recommend(in)
		require.NotNil(t, rec)
		require.NotNil(t, rec.TOU)
		assert.True(t, rec.TOU.Recommended)
		assert.Equal(t, types.ZoneSavesMoney, rec.TOU.Zone)
		assert.Equal(t, 600.0, rec.TOU.TargetKWH)
		assert.Negative(t, rec.TOU.MarginalRate)
		assert.InDelta(t, 184.61, rec.TOU.CostAtTarget, 0.02)
	})

	t.Run("both modes evaluated independently", func(t *testing.T) {
		rec := Recommend(inputs(336, 224))
		require.NotNil(t, rec)
		require.NotNil(t, rec.TOU)
		require.NotNil(t, rec.Flat)
		// Same import, different formulas, both present.
		assert.Equal(t, rec.TOU.TargetKWH, rec.Flat.TargetKWH)
	})
}

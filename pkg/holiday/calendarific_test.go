package holiday

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

const sampleResponse = `{
	"response": {
		"holidays": [
			{"name": "Chinese New Year", "date": {"iso": "2025-01-29"}},
			{"name": "Hari Raya Haji", "date": {"iso": "2025-06-07"}},
			{"name": "Hari Raya Haji Day 2", "date": {"iso": "2025-06-08"}},
			{"name": "Merdeka Day", "date": {"iso": "2025-08-31T00:00:00"}}
		]
	}
}`

func testFetcher(url string) *Fetcher {
	return &Fetcher{
		apiURL:  url,
		apiKey:  "test-key",
		country: "MY",
		client:  &http.Client{Timeout: time.Second},
	}
}

func TestFetchYear(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/holidays", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "MY", r.URL.Query().Get("country"))
		assert.Equal(t, "2025", r.URL.Query().Get("year"))
		assert.Equal(t, "national", r.URL.Query().Get("type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer ts.Close()

	f := testFetcher(ts.URL)
	got, err := f.FetchYear(context.Background(), 2025)
	require.NoError(t, err)

	assert.True(t, got["2025-01-29"])
	assert.True(t, got["2025-06-07"])
	assert.False(t, got["2025-06-08"], "second day of Hari Raya Haji is not a TNB holiday")
	assert.True(t, got["2025-08-31"], "timestamp iso dates are truncated")
	assert.True(t, got["2025-01-01"], "new year's day is always a TNB holiday")
}

func TestRefreshIfNeeded(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer ts.Close()

	f := testFetcher(ts.URL)
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	t.Run("fetches and stamps", func(t *testing.T) {
		st := &types.SiteState{}
		assert.True(t, f.RefreshIfNeeded(context.Background(), st, now))
		assert.Equal(t, 1, requests)
		require.NotNil(t, st.HolidayLastFetch)
		assert.True(t, st.HolidayCache["2025-01-29"])

		// Within 24 hours nothing happens.
		assert.False(t, f.RefreshIfNeeded(context.Background(), st, now.Add(time.Hour)))
		assert.Equal(t, 1, requests)

		// After 24 hours it fetches again.
		assert.True(t, f.RefreshIfNeeded(context.Background(), st, now.Add(25*time.Hour)))
		assert.Equal(t, 2, requests)
	})

	t.Run("replaces only the fetched year", func(t *testing.T) {
		st := &types.SiteState{
			HolidayCache: map[string]bool{
				"2024-12-25": true,
				"2025-03-03": true, // stale entry for the fetched year
			},
		}
		require.True(t, f.RefreshIfNeeded(context.Background(), st, now))
		assert.True(t, st.HolidayCache["2024-12-25"], "other years survive")
		assert.False(t, st.HolidayCache["2025-03-03"], "fetched year is rebuilt")
		assert.True(t, st.HolidayCache["2025-06-07"])
	})

	t.Run("disabled without api key", func(t *testing.T) {
		st := &types.SiteState{}
		disabled := testFetcher(ts.URL)
		disabled.apiKey = ""
		assert.False(t, disabled.RefreshIfNeeded(context.Background(), st, now))
		assert.Nil(t, st.HolidayLastFetch)
	})

	t.Run("failure keeps the cache", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer bad.Close()

		st := &types.SiteState{HolidayCache: map[string]bool{"2025-01-29": true}}
		f := testFetcher(bad.URL)
		assert.False(t, f.RefreshIfNeeded(context.Background(), st, now))
		assert.True(t, st.HolidayCache["2025-01-29"])
		assert.Nil(t, st.HolidayLastFetch)
	})
}

func TestIsHoliday(t *testing.T) {
	cache := map[string]bool{"2025-08-31": true}
	assert.True(t, IsHoliday(cache, time.Date(2025, 8, 31, 15, 0, 0, 0, time.UTC)))
	assert.False(t, IsHoliday(cache, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, IsHoliday(nil, time.Now()))
}

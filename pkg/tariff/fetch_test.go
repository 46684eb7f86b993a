package tariff

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetcher(url string) *Fetcher {
	return &Fetcher{
		apiURL: url,
		client: &http.Client{Timeout: time.Second},
	}
}

func TestFetchSimple(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/afa/simple", r.URL.Path)
		_, _ = w.Write([]byte(`{"afa_rate": -0.0145, "effective_date": "2025-07-01", "last_scraped": "2025-08-01T02:00:00Z"}`))
	}))
	defer ts.Close()

	f := testFetcher(ts.URL)
	got, err := f.FetchSimple(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, -0.0145, got.AFARate)
	assert.Equal(t, "2025-07-01", got.EffectiveDate)

	// Cached on the second call.
	_, err = f.FetchSimple(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
}

func TestFetchSimpleRejectsBadRate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"afa_rate": 50}`))
	}))
	defer ts.Close()

	_, err := testFetcher(ts.URL).FetchSimple(context.Background(), "")
	assert.Error(t, err)
}

func TestFetchSimpleNoURL(t *testing.T) {
	_, err := testFetcher("").FetchSimple(context.Background(), "")
	assert.Error(t, err)
}

func TestFetchComplete(t *testing.T) {
	payload := `{
		"non_tou": {"tier1_generation": 0.2703, "tier2_generation": 0.2703},
		"tou": {"peak_rate": 0.2852, "offpeak_rate": 0.2443, "peak_rate_high": 0.3852, "offpeak_rate_high": 0.3443, "threshold_kwh": 1500},
		"shared": {"capacity_rate": 0.0455, "network_rate": 0.1285, "retailing_charge": 10},
		"ict_tiers": [
			{"min_kwh": 1, "max_kwh": 200, "rate": -0.25},
			{"min_kwh": 201, "max_kwh": 250, "rate": -0.245}
		]
	}`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/complete", r.URL.Path)
		_, _ = w.Write([]byte(payload))
	}))
	defer ts.Close()

	got, err := testFetcher(ts.URL).FetchComplete(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0.2852, got.TOU.PeakRate)
	assert.Equal(t, 10.0, got.Shared.RetailingCharge)
	require.Len(t, got.ICTTiers, 2)
	assert.Equal(t, -0.245, got.ICTTiers[1].Rate)
}

func TestFetchCompleteRejectsPartialPayload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tou": {"peak_rate": 0.2852}}`))
	}))
	defer ts.Close()

	_, err := testFetcher(ts.URL).FetchComplete(context.Background(), "")
	assert.Error(t, err)
}

func TestFetchOverrideURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"afa_rate": 0.0145}`))
	}))
	defer ts.Close()

	// No configured URL, per-site override carries it.
	f := testFetcher("")
	got, err := f.FetchSimple(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, 0.0145, got.AFARate)
}

// Package holiday keeps a per-site cache of Malaysian public holidays,
// refreshed from the Calendarific API. TNB treats holidays as off-peak
// days under the time-of-use schedule.
package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/tnbcalc/tnbcalc/pkg/common"
	"github.com/tnbcalc/tnbcalc/pkg/log"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

// refreshInterval is how often the yearly holiday list is re-fetched.
const refreshInterval = 24 * time.Hour

// Fetcher retrieves the national holiday list for a year.
type Fetcher struct {
	apiURL  string
	apiKey  string
	country string
	client  *http.Client
}

// Configured sets up flags for the fetcher and returns the instance.
func Configured() *Fetcher {
	f := &Fetcher{
		client: common.HTTPClient(10 * time.Second),
	}
	apiURL := lflag.String("holiday-api-url", "https://calendarific.com/api/v2", "base URL for the Calendarific API")
	apiKey := lflag.String("holiday-api-key", "", "Calendarific API key (holidays disabled when empty)")
	country := lflag.String("holiday-country", "MY", "country code for holiday lookups")
	lflag.Do(func() {
		f.apiURL = *apiURL
		f.apiKey = *apiKey
		f.country = *country
	})
	return f
}

// Validate ensures the configuration is valid.
func (f *Fetcher) Validate() error {
	if _, err := url.Parse(f.apiURL); err != nil {
		return fmt.Errorf("failed to parse holiday api url (%s): %w", f.apiURL, err)
	}
	return nil
}

// Enabled reports whether holiday lookups are configured at all. Without
// an API key every day classifies as a non-holiday.
func (f *Fetcher) Enabled() bool {
	return f.apiKey != ""
}

type calendarificResponse struct {
	Response struct {
		Holidays []struct {
			Name string `json:"name"`
			Date struct {
				ISO string `json:"iso"`
			} `json:"date"`
		} `json:"holidays"`
	} `json:"response"`
}

// FetchYear retrieves the national holidays for one year as a set of
// YYYY-MM-DD keys, with the TNB adjustments applied: the second day of
// Hari Raya Haji is dropped and New Year's Day is always included.
func (f *Fetcher) FetchYear(ctx context.Context, year int) (map[string]bool, error) {
	u, err := url.Parse(f.apiURL + "/holidays")
	if err != nil {
		return nil, fmt.Errorf("invalid holiday api url: %w", err)
	}
	params := url.Values{}
	params.Set("api_key", f.apiKey)
	params.Set("country", f.country)
	params.Set("year", strconv.Itoa(year))
	params.Set("type", "national")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching holidays", slog.Int("year", year))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch holidays: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("holiday api returned status: %d", resp.StatusCode)
	}
	var data calendarificResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode holidays: %w", err)
	}

	out := make(map[string]bool, len(data.Response.Holidays))
	for _, h := range data.Response.Holidays {
		date := h.Date.ISO
		if len(date) > 10 {
			date = date[:10]
		}
		if date == "" {
			continue
		}
		name := strings.ToLower(h.Name)
		// TNB only recognizes one day of Hari Raya Haji.
		if strings.Contains(name, "haji") && strings.Contains(name, "day 2") {
			continue
		}
		out[date] = true
	}
	// New Year's Day is a TNB holiday even when the national list
	// omits it.
	out[fmt.Sprintf("%04d-01-01", year)] = true

	log.Ctx(ctx).DebugContext(ctx, "fetched holidays", slog.Int("year", year), slog.Int("count", len(out)))
	return out, nil
}

// RefreshIfNeeded updates the site's holiday cache at most once per day.
// Fetch failures leave the existing cache in place. Returns true when the
// state changed and should be persisted.
func (f *Fetcher) RefreshIfNeeded(ctx context.Context, st *types.SiteState, now time.Time) bool {
	if !f.Enabled() {
		return false
	}
	if st.HolidayLastFetch != nil && now.Sub(*st.HolidayLastFetch) < refreshInterval {
		return false
	}

	fetched, err := f.FetchYear(ctx, now.Year())
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "holiday fetch failed, keeping cached data", slog.Any("error", err))
		return false
	}

	if st.HolidayCache == nil {
		st.HolidayCache = make(map[string]bool)
	}
	prefix := fmt.Sprintf("%04d-", now.Year())
	for k := range st.HolidayCache {
		if strings.HasPrefix(k, prefix) {
			delete(st.HolidayCache, k)
		}
	}
	for k, v := range fetched {
		st.HolidayCache[k] = v
	}
	t := now
	st.HolidayLastFetch = &t
	return true
}

// IsHoliday checks the cache. A date absent from the cache is not a
// holiday; the yearly fetch is assumed complete.
func IsHoliday(cache map[string]bool, t time.Time) bool {
	return cache[t.Format("2006-01-02")]
}

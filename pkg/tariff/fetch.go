package tariff

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/tnbcalc/tnbcalc/pkg/common"
	"github.com/tnbcalc/tnbcalc/pkg/log"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

// SimpleRates is the reduced payload from the scraper's /afa/simple
// endpoint, carrying just the current AFA figure.
type SimpleRates struct {
	AFARate       float64 `json:"afa_rate"`
	EffectiveDate string  `json:"effective_date"`
	LastScraped   string  `json:"last_scraped"`
}

// completePayload is the /complete endpoint's wire shape.
type completePayload struct {
	NonTOU *struct {
		Tier1Generation float64 `json:"tier1_generation"`
		Tier2Generation float64 `json:"tier2_generation"`
	} `json:"non_tou"`
	TOU *struct {
		PeakRate        float64 `json:"peak_rate"`
		OffPeakRate     float64 `json:"offpeak_rate"`
		PeakRateHigh    float64 `json:"peak_rate_high"`
		OffPeakRateHigh float64 `json:"offpeak_rate_high"`
		ThresholdKWH    float64 `json:"threshold_kwh"`
	} `json:"tou"`
	Shared *struct {
		CapacityRate    float64 `json:"capacity_rate"`
		NetworkRate     float64 `json:"network_rate"`
		RetailingCharge float64 `json:"retailing_charge"`
	} `json:"shared"`
	ICTTiers []struct {
		MinKWH float64 `json:"min_kwh"`
		MaxKWH float64 `json:"max_kwh"`
		Rate   float64 `json:"rate"`
	} `json:"ict_tiers"`
}

// Fetcher retrieves published rates from an external scraper API. The base
// URL comes from configuration or from a per-site override.
type Fetcher struct {
	apiURL string
	client *http.Client

	mu          sync.Mutex
	lastFetch   time.Time
	cacheURL    string
	cacheSimple *SimpleRates
}

// Configured sets up flags for the fetcher and returns the instance.
func Configured() *Fetcher {
	f := &Fetcher{
		client: common.HTTPClient(10 * time.Second),
	}
	apiURL := lflag.String("tariff-api-url", "", "base URL for the tariff scraper API (optional)")
	lflag.Do(func() {
		f.apiURL = *apiURL
	})
	return f
}

// Validate ensures the configuration is valid.
func (f *Fetcher) Validate() error {
	if f.apiURL == "" {
		return nil
	}
	if _, err := url.Parse(f.apiURL); err != nil {
		return fmt.Errorf("failed to parse tariff api url (%s): %w", f.apiURL, err)
	}
	return nil
}

// baseURL picks the per-site override if set, otherwise the configured URL.
func (f *Fetcher) baseURL(override string) (string, error) {
	base := f.apiURL
	if override != "" {
		base = override
	}
	if base == "" {
		return "", fmt.Errorf("no tariff api url configured")
	}
	return base, nil
}

// FetchSimple retrieves the current AFA figure. Results are cached for 5
// minutes per URL.
func (f *Fetcher) FetchSimple(ctx context.Context, overrideURL string) (SimpleRates, error) {
	base, err := f.baseURL(overrideURL)
	if err != nil {
		return SimpleRates{}, err
	}

	now := time.Now()
	f.mu.Lock()
	if f.cacheSimple != nil && f.cacheURL == base && !now.Truncate(5*time.Minute).After(f.lastFetch) {
		cached := *f.cacheSimple
		f.mu.Unlock()
		return cached, nil
	}
	f.mu.Unlock()

	var out SimpleRates
	if err := f.getJSON(ctx, base+"/afa/simple", &out); err != nil {
		return SimpleRates{}, err
	}
	if err := ValidateAFARate(out.AFARate); err != nil {
		return SimpleRates{}, fmt.Errorf("rejecting fetched afa: %w", err)
	}

	f.mu.Lock()
	f.cacheSimple = &out
	f.cacheURL = base
	f.lastFetch = now
	f.mu.Unlock()

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched afa rate",
		slog.Float64("afaRate", out.AFARate),
		slog.String("effectiveDate", out.EffectiveDate),
	)
	return out, nil
}

// FetchComplete retrieves the full schedule and validates it before
// returning. Not cached, it is only called on explicit refresh.
func (f *Fetcher) FetchComplete(ctx context.Context, overrideURL string) (types.TariffSchedule, error) {
	base, err := f.baseURL(overrideURL)
	if err != nil {
		return types.TariffSchedule{}, err
	}

	var raw completePayload
	if err := f.getJSON(ctx, base+"/complete", &raw); err != nil {
		return types.TariffSchedule{}, err
	}
	if raw.NonTOU == nil || raw.TOU == nil || raw.Shared == nil {
		return types.TariffSchedule{}, fmt.Errorf("incomplete tariff payload")
	}

	s := types.TariffSchedule{
		NonTOU: types.NonTOUTariff{
			Tier1Generation: raw.NonTOU.Tier1Generation,
			Tier2Generation: raw.NonTOU.Tier2Generation,
		},
		TOU: types.TOUTariff{
			PeakRate:        raw.TOU.PeakRate,
			OffPeakRate:     raw.TOU.OffPeakRate,
			PeakRateHigh:    raw.TOU.PeakRateHigh,
			OffPeakRateHigh: raw.TOU.OffPeakRateHigh,
			ThresholdKWH:    raw.TOU.ThresholdKWH,
		},
		Shared: types.SharedTariff{
			CapacityRate:    raw.Shared.CapacityRate,
			NetworkRate:     raw.Shared.NetworkRate,
			RetailingCharge: raw.Shared.RetailingCharge,
		},
	}
	for _, t := range raw.ICTTiers {
		s.ICTTiers = append(s.ICTTiers, types.ICTTier{MinKWH: t.MinKWH, MaxKWH: t.MaxKWH, Rate: t.Rate})
	}
	if err := ValidateSchedule(&s); err != nil {
		return types.TariffSchedule{}, fmt.Errorf("rejecting fetched schedule: %w", err)
	}

	log.Ctx(ctx).DebugContext(ctx, "fetched complete tariff schedule", slog.Int("ictTiers", len(s.ICTTiers)))
	return s, nil
}

func (f *Fetcher) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	log.Ctx(ctx).DebugContext(ctx, "fetching tariff data", slog.String("url", rawURL))

	resp, err := f.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch tariff data", slog.Any("error", err))
		return fmt.Errorf("failed to fetch tariff data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tariff api returned status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

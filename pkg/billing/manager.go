package billing

import (
	"sort"
	"time"

	"github.com/tnbcalc/tnbcalc/pkg/types"
)

// NewBucket creates a zeroed billing bucket for the given period.
func NewBucket(year, month, startDay int) *types.BillingBucket {
	return &types.BillingBucket{
		BillingYear:     year,
		BillingMonth:    month,
		BillingStartDay: startDay,
	}
}

// NewDaily creates a fresh daily bucket seeded with the current cumulative
// readings so that midnight-to-now deltas start from zero.
func NewDaily(now time.Time, importReading, exportReading float64) *types.DailyBucket {
	return &types.DailyBucket{
		Date:        now.Format("2006-01-02"),
		ImportStart: importReading,
		ExportStart: exportReading,
		LastUpdate:  now,
	}
}

// ActiveStartDay returns the start day governing the current bucket, which
// may lag the configured day until the next rollover.
func ActiveStartDay(b *types.BillingBucket) int {
	if b == nil || b.BillingStartDay < 1 {
		return 1
	}
	return b.BillingStartDay
}

// RollDaily replaces the daily bucket when the local date changes. Returns
// true if a new day started.
func RollDaily(st *types.SiteState, now time.Time, importReading, exportReading float64) bool {
	date := now.Format("2006-01-02")
	if st.Daily != nil && st.Daily.Date == date {
		return false
	}
	st.Daily = NewDaily(now, importReading, exportReading)
	return true
}

// Roll closes the current billing bucket if now falls in a later period
// than the bucket covers, archiving the closed cycle's totals under its own
// month key and starting a fresh bucket with the configured start day.
// costOf prices the closing bucket for the archive. Returns the archived
// key, or "" if no rollover happened.
//
// A missing bucket is recreated in place without archiving anything.
func Roll(st *types.SiteState, now time.Time, configuredStartDay int, costOf func(*types.BillingBucket) float64) string {
	if st.Billing == nil {
		year, month := PeriodFor(now, configuredStartDay)
		st.Billing = NewBucket(year, month, configuredStartDay)
		return ""
	}
	// The bucket in progress keeps its own start day until it closes.
	year, month := PeriodFor(now, ActiveStartDay(st.Billing))
	if year == st.Billing.BillingYear && month == st.Billing.BillingMonth {
		return ""
	}

	closed := st.Billing
	key := MonthKey(closed.BillingYear, closed.BillingMonth)
	if st.History == nil {
		st.History = make(map[string]types.HistoricalMonth)
	}
	st.History[key] = types.HistoricalMonth{
		TotalKWH:   closed.ImportTotal,
		TotalCost:  costOf(closed),
		PeakKWH:    closed.ImportPeak,
		OffPeakKWH: closed.ImportOffPeak,
		ExportKWH:  closed.ExportTotal,
	}
	trimHistory(st.History)

	newYear, newMonth := PeriodFor(now, configuredStartDay)
	fresh := NewBucket(newYear, newMonth, configuredStartDay)
	// Baselines carry over so the first delta of the new cycle is sane.
	fresh.ImportLast = closed.ImportLast
	fresh.ExportLast = closed.ExportLast
	st.Billing = fresh
	return key
}

func trimHistory(h map[string]types.HistoricalMonth) {
	if len(h) <= MaxHistoryMonths {
		return
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[:len(keys)-MaxHistoryMonths] {
		delete(h, k)
	}
}

// RecentHistory returns up to n of the most recent archived months, newest
// first.
func RecentHistory(h map[string]types.HistoricalMonth, n int) []types.HistoricalMonth {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make([]types.HistoricalMonth, 0, len(keys))
	for _, k := range keys {
		out = append(out, h[k])
	}
	return out
}

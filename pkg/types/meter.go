package types

import "time"

// MeterKind identifies which register a cumulative reading came from.
type MeterKind string

const (
	MeterImport MeterKind = "import"
	MeterExport MeterKind = "export"
)

// MeterReading is a raw cumulative register value supplied on each poll.
type MeterReading struct {
	Kind      MeterKind `json:"kind"`
	Value     float64   `json:"value"` // cumulative kWh
	Timestamp time.Time `json:"timestamp"`
	// Valid is false when the host could not produce a numeric reading this
	// cycle (entity missing, non-numeric state). The engine substitutes 0.0
	// and records a validation error instead of failing the poll.
	Valid bool `json:"valid"`
}

// DailyBucket accumulates energy for the current local calendar date.
// It is replaced wholesale when the date changes; days are not retained.
type DailyBucket struct {
	Date          string    `json:"date"` // local date, YYYY-MM-DD
	ImportTotal   float64   `json:"importTotal"`
	ExportTotal   float64   `json:"exportTotal"`
	ImportPeak    float64   `json:"importPeak"`
	ImportOffPeak float64   `json:"importOffPeak"`
	ImportStart   float64   `json:"importStart"` // cumulative reading at midnight
	ExportStart   float64   `json:"exportStart"`
	LastUpdate    time.Time `json:"lastUpdate"`
}

// Calibration is the audit sub-record updated by every manual calibration.
type Calibration struct {
	ImportBaseline     float64    `json:"importBaseline"`
	PeakBaseline       float64    `json:"peakBaseline"`
	OffPeakBaseline    float64    `json:"offPeakBaseline"`
	ExportBaseline     float64    `json:"exportBaseline"`
	LastCalibrated     *time.Time `json:"lastCalibrated,omitempty"`
	DistributionMethod string     `json:"distributionMethod,omitempty"`
}

// BillingBucket accumulates energy for the current billing cycle. The cycle
// is anchored at BillingStartDay, which is not necessarily the 1st of the
// calendar month.
type BillingBucket struct {
	BillingMonth    int     `json:"billingMonth"`
	BillingYear     int     `json:"billingYear"`
	BillingStartDay int     `json:"billingStartDay"`
	ImportTotal     float64 `json:"importTotal"`
	ExportTotal     float64 `json:"exportTotal"`
	ImportPeak      float64 `json:"importPeak"`
	ImportOffPeak   float64 `json:"importOffPeak"`
	// ImportLast/ExportLast are the last accepted cumulative readings, used
	// as the delta baselines for the next poll. Nil until the first reading
	// of the cycle is seen.
	ImportLast *float64 `json:"importLast,omitempty"`
	ExportLast *float64 `json:"exportLast,omitempty"`
	// ImportSpikePolls/ExportSpikePolls count consecutive polls rejected as
	// spikes, widening the acceptance window for the next poll.
	ImportSpikePolls int `json:"importSpikePolls,omitempty"`
	ExportSpikePolls int `json:"exportSpikePolls,omitempty"`
	// AssumedSplit records that the peak/off-peak figures rest on the
	// default ratio assumption from a calibration of an empty bucket.
	AssumedSplit bool        `json:"assumedSplit,omitempty"`
	Calibration  Calibration `json:"calibration"`
}

// HistoricalMonth is the archived summary of one closed billing cycle,
// keyed in storage by the closed cycle's own "YYYY-MM".
type HistoricalMonth struct {
	TotalKWH   float64 `json:"totalKWH"`
	TotalCost  float64 `json:"totalCost"`
	PeakKWH    float64 `json:"peakKWH"`
	OffPeakKWH float64 `json:"offPeakKWH"`
	ExportKWH  float64 `json:"exportKWH"`
}

// Distribution selects how a calibration delta is split across peak/off-peak.
type Distribution string

const (
	DistributionAuto         Distribution = "auto"
	DistributionPeakOnly     Distribution = "peak_only"
	DistributionOffPeakOnly  Distribution = "offpeak_only"
	DistributionProportional Distribution = "proportional"
	DistributionManual       Distribution = "manual"
)

// DefaultPeakRatio is the assumed peak share of import when the bucket is
// empty and a proportional split is requested. It is a documented
// approximation, surfaced via BillingSnapshot.AssumedSplit.
const DefaultPeakRatio = 0.6

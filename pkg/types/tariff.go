package types

import "time"

// TariffSource records where an override value came from. Source is kept for
// display and audit only; resolution is origin-agnostic (last write wins).
type TariffSource string

const (
	TariffSourceDefault TariffSource = "default"
	TariffSourceManual  TariffSource = "manual"
	TariffSourceAPI     TariffSource = "api"
	TariffSourceWebhook TariffSource = "webhook"
)

// ICTTier is one band of the incentive rebate table.
type ICTTier struct {
	MinKWH float64 `json:"minKWH"`
	MaxKWH float64 `json:"maxKWH"`
	Rate   float64 `json:"rate"` // RM/kWh, negative for rebates
}

// NonTOUTariff holds the flat-tariff generation rates.
type NonTOUTariff struct {
	Tier1Generation float64 `json:"tier1Generation"` // first 600 kWh
	Tier2Generation float64 `json:"tier2Generation"` // above 600 kWh
}

// TOUTariff holds the time-of-use generation rates. The high rates apply
// once monthly import reaches ThresholdKWH.
type TOUTariff struct {
	PeakRate        float64 `json:"peakRate"`
	OffPeakRate     float64 `json:"offPeakRate"`
	PeakRateHigh    float64 `json:"peakRateHigh"`
	OffPeakRateHigh float64 `json:"offPeakRateHigh"`
	ThresholdKWH    float64 `json:"thresholdKWH"`
}

// SharedTariff holds the components common to both tariff modes.
type SharedTariff struct {
	CapacityRate    float64 `json:"capacityRate"`
	NetworkRate     float64 `json:"networkRate"`
	RetailingCharge float64 `json:"retailingCharge"` // RM, fixed
}

// TariffSchedule is the full rate payload accepted from the fetch API or the
// webhook. Required fields are validated at the boundary before the payload
// is allowed into the override store.
type TariffSchedule struct {
	NonTOU   NonTOUTariff `json:"nonTOU"`
	TOU      TOUTariff    `json:"tou"`
	Shared   SharedTariff `json:"shared"`
	ICTTiers []ICTTier    `json:"ictTiers"`
}

// TariffOverrides is the persisted override store. Absent (nil) fields fall
// through to the hardcoded defaults during resolution.
type TariffOverrides struct {
	AFARate       *float64        `json:"afaRate,omitempty"` // RM/kWh
	Schedule      *TariffSchedule `json:"schedule,omitempty"`
	Source        TariffSource    `json:"source"`
	LastUpdated   *time.Time      `json:"lastUpdated,omitempty"`
	EffectiveDate string          `json:"effectiveDate,omitempty"` // YYYY-MM-DD
	APIURL        string          `json:"apiURL,omitempty"`
}

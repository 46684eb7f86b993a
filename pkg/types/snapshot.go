package types

import "time"

// TOUCosts is the itemized breakdown of a time-of-use bill. Charges are
// positive, rebates negative, everything rounded to 2 decimals (RM).
type TOUCosts struct {
	GenerationPeak    float64 `json:"generationPeak"`
	GenerationOffPeak float64 `json:"generationOffPeak"`
	AFA               float64 `json:"afa"`
	Capacity          float64 `json:"capacity"`
	Network           float64 `json:"network"`
	Retailing         float64 `json:"retailing"`
	ICT               float64 `json:"ict"`
	ImportCharge      float64 `json:"importCharge"` // sum of the above
	ServiceTax        float64 `json:"serviceTax"`
	KWTBB             float64 `json:"kwtbb"`
	NEMPeak           float64 `json:"nemPeak"`
	NEMOffPeak        float64 `json:"nemOffPeak"`
	NEMCapacity       float64 `json:"nemCapacity"`
	NEMNetwork        float64 `json:"nemNetwork"`
	Insentif          float64 `json:"insentif"`
	Total             float64 `json:"total"`

	// Rates used, exposed for display.
	RateGenerationPeak    float64 `json:"rateGenerationPeak"`
	RateGenerationOffPeak float64 `json:"rateGenerationOffPeak"`
	RateCapacity          float64 `json:"rateCapacity"`
	RateNetwork           float64 `json:"rateNetwork"`
	RateICT               float64 `json:"rateICT"`
}

// FlatCosts is the itemized breakdown of a flat (non-ToU) bill.
type FlatCosts struct {
	Generation   float64 `json:"generation"`
	Capacity     float64 `json:"capacity"`
	Network      float64 `json:"network"`
	Retailing    float64 `json:"retailing"`
	ICT          float64 `json:"ict"`
	KWTBB        float64 `json:"kwtbb"`
	ServiceTax   float64 `json:"serviceTax"`
	ImportCharge float64 `json:"importCharge"`
	ExportCredit float64 `json:"exportCredit"` // negative
	Total        float64 `json:"total"`

	RateGeneration float64 `json:"rateGeneration"`
	RateCapacity   float64 `json:"rateCapacity"`
	RateNetwork    float64 `json:"rateNetwork"`
	RateICT        float64 `json:"rateICT"`
}

// Prediction is the month-end cost forecast.
type Prediction struct {
	MonthlyCost      float64  `json:"monthlyCost"`
	MonthlyKWH       float64  `json:"monthlyKWH"`
	FromTrend        *float64 `json:"fromTrend,omitempty"`
	FromHistory      *float64 `json:"fromHistory,omitempty"`
	Confidence       string   `json:"confidence"` // High, Medium, Low
	Method           string   `json:"method"`
	TrendWeight      float64  `json:"trendWeight"`
	DailyAverageCost float64  `json:"dailyAverageCost"`
	DailyAverageKWH  float64  `json:"dailyAverageKWH"`
	Tolerance        float64  `json:"tolerance"`
	RangeMin         float64  `json:"rangeMin"`
	RangeMax         float64  `json:"rangeMax"`
	DaysRemaining    int      `json:"daysRemaining"`
}

// RateZone classifies a candidate target's marginal cost per kWh.
type RateZone string

const (
	ZoneSavesMoney     RateZone = "saves_money"
	ZoneSuperValue     RateZone = "super_value"
	ZoneValue          RateZone = "value"
	ZoneNormal         RateZone = "normal"
	ZoneExpensive      RateZone = "expensive"
	ZoneStayPut        RateZone = "stay_put"
	ZoneAboveThreshold RateZone = "above_threshold"
)

// Advice is one tariff mode's consumption-target recommendation.
type Advice struct {
	TargetKWH    float64  `json:"targetKWH"`
	MarginalRate float64  `json:"marginalRate"` // RM/kWh to move from current to target
	CostAtTarget float64  `json:"costAtTarget"`
	Zone         RateZone `json:"zone"`
	Recommended  bool     `json:"recommended"` // false when gated to stay put
}

// Recommendation carries both tariff modes' advice; Primary names the one
// matching the active tariff mode.
type Recommendation struct {
	TOU     *Advice `json:"tou,omitempty"`
	Flat    *Advice `json:"flat,omitempty"`
	Primary string  `json:"primary"` // "tou" or "flat"
}

// EnergyTotals is a set of kWh figures for one accumulation window.
type EnergyTotals struct {
	Import        float64 `json:"import"`
	Export        float64 `json:"export"`
	Net           float64 `json:"net"`
	ImportPeak    float64 `json:"importPeak"`
	ImportOffPeak float64 `json:"importOffPeak"`
}

// BillingSnapshot is the single result record returned from a poll cycle.
type BillingSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Cycle EnergyTotals `json:"cycle"`
	Today EnergyTotals `json:"today"`

	BillingMonth    int `json:"billingMonth"`
	BillingYear     int `json:"billingYear"`
	BillingStartDay int `json:"billingStartDay"`

	DayStatus    string `json:"dayStatus"`    // Weekday, Weekend, Holiday
	PeriodStatus string `json:"periodStatus"` // Peak, Off-Peak (+reason)
	TierStatus   string `json:"tierStatus"`
	IsHoliday    bool   `json:"isHoliday"`
	HighUsage    bool   `json:"highUsage"` // import at or past the alert threshold

	TOU        *TOUCosts `json:"tou,omitempty"`
	Flat       FlatCosts `json:"flat"`
	TodayTOU   *TOUCosts `json:"todayTOU,omitempty"`
	TodayFlat  FlatCosts `json:"todayFlat"`
	ActiveCost float64   `json:"activeCost"` // total for the active tariff mode

	Prediction     *Prediction     `json:"prediction,omitempty"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`

	// AssumedSplit is true when any peak/off-peak figure in this snapshot
	// relied on the default 60/40 assumption rather than observed data.
	AssumedSplit bool `json:"assumedSplit,omitempty"`

	ValidationStatus string `json:"validationStatus"` // "OK" or "; "-joined issues
	StorageHealth    string `json:"storageHealth"`
}

package billing

import (
	"fmt"
	"math"
	"time"

	"github.com/tnbcalc/tnbcalc/pkg/types"
)

// ManualSumTolerance is how far a caller-supplied peak+off-peak sum may
// drift from the target total before a manual calibration is rejected.
const ManualSumTolerance = 0.01

// CalibrationOp selects how the supplied value is applied.
type CalibrationOp string

const (
	// OpSetExact replaces the accumulated total with the supplied value.
	OpSetExact CalibrationOp = "set_exact"
	// OpAdjustOffset adds the supplied value to the accumulated total.
	OpAdjustOffset CalibrationOp = "adjust_by_offset"
)

// CalibrationRequest is one manual mutation of a billing bucket.
type CalibrationRequest struct {
	Kind  types.MeterKind `json:"kind"`
	Op    CalibrationOp   `json:"op"`
	Value float64         `json:"value"`
	// Distribution controls the peak/off-peak split for import
	// calibrations. Ignored for export, which has no split.
	Distribution types.Distribution `json:"distribution,omitempty"`
	// ManualPeak/ManualOffPeak are required when Distribution is manual.
	ManualPeak    *float64 `json:"manualPeak,omitempty"`
	ManualOffPeak *float64 `json:"manualOffPeak,omitempty"`
}

// CalibrationResult reports what the mutation did.
type CalibrationResult struct {
	Kind     types.MeterKind `json:"kind"`
	Previous float64         `json:"previous"`
	Current  float64         `json:"current"`
	// AssumedSplit is true when an empty bucket forced the default peak
	// ratio instead of an observed one.
	AssumedSplit bool `json:"assumedSplit"`
}

// Calibrate applies a manual calibration to the billing bucket. isPeakNow
// feeds the auto distribution. On any validation failure the bucket is left
// untouched. The caller must persist the bucket before reporting success.
func Calibrate(b *types.BillingBucket, req CalibrationRequest, now time.Time, isPeakNow bool) (CalibrationResult, error) {
	if b == nil {
		return CalibrationResult{}, fmt.Errorf("no billing bucket")
	}
	if req.Op != OpSetExact && req.Op != OpAdjustOffset {
		return CalibrationResult{}, fmt.Errorf("unknown calibration op %q", req.Op)
	}
	if math.IsNaN(req.Value) || math.IsInf(req.Value, 0) {
		return CalibrationResult{}, fmt.Errorf("non-finite calibration value")
	}

	switch req.Kind {
	case types.MeterExport:
		return calibrateExport(b, req, now)
	case types.MeterImport:
		return calibrateImport(b, req, now, isPeakNow)
	default:
		return CalibrationResult{}, fmt.Errorf("unknown meter kind %q", req.Kind)
	}
}

func calibrateExport(b *types.BillingBucket, req CalibrationRequest, now time.Time) (CalibrationResult, error) {
	prev := b.ExportTotal
	target := req.Value
	if req.Op == OpAdjustOffset {
		target = prev + req.Value
	}
	if target < 0 {
		return CalibrationResult{}, fmt.Errorf("calibration would make export total negative (%.3f)", target)
	}
	b.ExportTotal = target
	b.Calibration.ExportBaseline = target
	stamp(b, now, "")
	return CalibrationResult{Kind: types.MeterExport, Previous: prev, Current: target}, nil
}

func calibrateImport(b *types.BillingBucket, req CalibrationRequest, now time.Time, isPeakNow bool) (CalibrationResult, error) {
	prev := b.ImportTotal
	target := req.Value
	if req.Op == OpAdjustOffset {
		target = prev + req.Value
	}
	if target < 0 {
		return CalibrationResult{}, fmt.Errorf("calibration would make import total negative (%.3f)", target)
	}

	dist := req.Distribution
	if dist == "" {
		dist = types.DistributionProportional
	}
	peak, offPeak, assumed, err := splitTarget(b, dist, target, target-prev, isPeakNow, req)
	if err != nil {
		return CalibrationResult{}, err
	}

	b.ImportTotal = target
	b.ImportPeak = peak
	b.ImportOffPeak = offPeak
	if assumed {
		b.AssumedSplit = true
	}
	b.Calibration.ImportBaseline = target
	b.Calibration.PeakBaseline = peak
	b.Calibration.OffPeakBaseline = offPeak
	stamp(b, now, string(dist))
	return CalibrationResult{Kind: types.MeterImport, Previous: prev, Current: target, AssumedSplit: assumed}, nil
}

func splitTarget(b *types.BillingBucket, dist types.Distribution, target, delta float64, isPeakNow bool, req CalibrationRequest) (peak, offPeak float64, assumed bool, err error) {
	if dist == types.DistributionAuto {
		if isPeakNow {
			dist = types.DistributionPeakOnly
		} else {
			dist = types.DistributionOffPeakOnly
		}
	}
	switch dist {
	case types.DistributionManual:
		if req.ManualPeak == nil || req.ManualOffPeak == nil {
			return 0, 0, false, fmt.Errorf("manual distribution requires peak and offpeak values")
		}
		peak, offPeak = *req.ManualPeak, *req.ManualOffPeak
		if peak < 0 || offPeak < 0 {
			return 0, 0, false, fmt.Errorf("manual distribution values must not be negative")
		}
		if math.Abs(peak+offPeak-target) > ManualSumTolerance {
			return 0, 0, false, fmt.Errorf("manual distribution sum %.3f does not match target %.3f", peak+offPeak, target)
		}
		return peak, offPeak, false, nil
	case types.DistributionProportional:
		ratio := types.DefaultPeakRatio
		assumed = true
		if b.ImportTotal > 0 {
			ratio = b.ImportPeak / b.ImportTotal
			assumed = false
		}
		peak = target * ratio
		return peak, target - peak, assumed, nil
	case types.DistributionPeakOnly:
		peak = b.ImportPeak + delta
		if peak < 0 {
			peak = 0
		}
		return peak, target - peak, false, nil
	case types.DistributionOffPeakOnly:
		offPeak = b.ImportOffPeak + delta
		if offPeak < 0 {
			offPeak = 0
		}
		return target - offPeak, offPeak, false, nil
	default:
		return 0, 0, false, fmt.Errorf("unknown distribution %q", dist)
	}
}

func stamp(b *types.BillingBucket, now time.Time, method string) {
	t := now
	b.Calibration.LastCalibrated = &t
	if method != "" {
		b.Calibration.DistributionMethod = method
	}
}

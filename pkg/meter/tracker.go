// Package meter extracts per-poll energy deltas from cumulative meter
// readings, defending against counter resets and implausible spikes.
package meter

import (
	"fmt"
	"math"
)

// DefaultThreshold is the largest delta, in kWh, accepted from a single
// poll before the reading is treated as a spike.
const DefaultThreshold = 10

// Event describes how a reading was interpreted.
type Event string

const (
	// EventFirst is the first reading seen for a counter.
	EventFirst Event = "first"
	// EventNormal is an ordinary forward movement of the counter.
	EventNormal Event = "normal"
	// EventReset means the counter moved backwards.
	EventReset Event = "reset"
	// EventSpike means the delta exceeded the threshold and was dropped.
	EventSpike Event = "spike"
)

// Result is the outcome of advancing a counter by one reading.
type Result struct {
	// Delta is the extracted consumption for the interval, never negative.
	Delta float64
	// Baseline is the value to persist as the counter's last reading.
	Baseline float64
	// SpikePolls is the consecutive rejected polls to persist alongside
	// the baseline.
	SpikePolls int
	Event      Event
}

// Tracker turns cumulative counter values into interval deltas.
type Tracker struct {
	// Threshold caps the delta accepted per elapsed poll interval. Zero
	// or negative disables spike rejection.
	Threshold float64
}

// Advance computes the delta between the stored baseline and the current
// counter value. A nil baseline marks the first reading and yields a zero
// delta. A backwards move is a counter reset and the full current value is
// taken as consumption since the reset.
//
// The threshold is per poll interval. When a reading is rejected the
// baseline is held, so the next poll compares against the same baseline
// with one more interval's worth of allowance. A transient glitch is
// dropped outright and a genuine step change is accepted once the
// accumulated allowance catches up. A sustained rate above the threshold
// never catches up and is under-counted for as long as it lasts.
func (t Tracker) Advance(baseline *float64, spikePolls int, current float64) (Result, error) {
	if math.IsNaN(current) || math.IsInf(current, 0) {
		return Result{}, fmt.Errorf("non-finite reading %v", current)
	}
	if current < 0 {
		return Result{}, fmt.Errorf("negative reading %v", current)
	}
	if baseline == nil {
		return Result{Delta: 0, Baseline: current, Event: EventFirst}, nil
	}
	last := *baseline
	if current < last {
		return Result{Delta: current, Baseline: current, Event: EventReset}, nil
	}
	delta := current - last
	if t.Threshold > 0 && delta > t.Threshold*float64(spikePolls+1) {
		return Result{Delta: 0, Baseline: last, SpikePolls: spikePolls + 1, Event: EventSpike}, nil
	}
	return Result{Delta: delta, Baseline: current, Event: EventNormal}, nil
}

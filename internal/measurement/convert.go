package measurement

import "fmt"

// Range bounds a reading must satisfy to be accepted (spec.md 4.4
// "Validation"); a reading outside its bound rejects the whole sample and
// the previous snapshot is kept.
type bound struct{ min, max float64 }

func (b bound) contains(v float64) bool {
	return v >= b.min && v <= b.max
}

var (
	voltageRange = bound{50, 300}
	currentRange = bound{-300, 300}
	powerRange   = bound{-100000, 100000}
	pfRange      = bound{-1, 1}
	freqRange    = bound{45, 65}
)

// noLoadCurrentThresholdA is the minimum current, in amperes, below which a
// non-reference-phase (three-phase-approximation) channel is treated as
// unloaded, since the ADE7953's native no-load flag only covers the A/B
// accumulators (spec.md 4.4, open question 4).
const noLoadCurrentThresholdA = 0.01

// pfNoiseFloor and pfClampHigh bound the power-factor clamp applied to
// every channel regardless of path (spec.md 4.4 "Power-factor clamp").
const (
	pfNoiseFloor = 0.05
	pfClampHigh  = 1.05
)

// Electrical is one line-cycle's physical-unit reading, before the
// no-load/clamp adjustment and range validation (spec.md 4.4).
type Electrical struct {
	Voltage       float64
	Current       float64
	ActivePower   float64
	ReactivePower float64
	ApparentPower float64
	PowerFactor   float64
	FrequencyHz   float64 // 0 when not measured this cycle (secondary, non-channel-0 reference)
}

// ClampPowerFactor implements spec.md 4.4's three-way clamp: in range,
// below the noise floor (zero every electrical quantity), or just above
// unity (snap to +-1 and recompute P=S, Q=0). The second result is true
// when the reading was adjusted (zeroed or snapped) and false when it is
// returned unchanged, which includes a |PF| above 1.05 that Validate then
// rejects.
func ClampPowerFactor(e Electrical) (out Electrical, clamped bool) {
	abs := e.PowerFactor
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < pfNoiseFloor:
		return Electrical{FrequencyHz: e.FrequencyHz}, true
	case abs <= 1.0:
		return e, false
	case abs <= pfClampHigh:
		pf := 1.0
		if e.PowerFactor < 0 {
			pf = -1.0
		}
		e.PowerFactor = pf
		e.ActivePower = e.ApparentPower
		e.ReactivePower = 0
		return e, true
	default:
		// Out of range entirely; Validate rejects this below.
		return e, false
	}
}

// Validate checks a reading against the physical ranges of spec.md 4.4.
func Validate(e Electrical) error {
	if !voltageRange.contains(e.Voltage) {
		return fmt.Errorf("%w: voltage=%.3f", ErrOutOfRange, e.Voltage)
	}
	if !currentRange.contains(e.Current) {
		return fmt.Errorf("%w: current=%.3f", ErrOutOfRange, e.Current)
	}
	if !powerRange.contains(e.ActivePower) {
		return fmt.Errorf("%w: active_power=%.3f", ErrOutOfRange, e.ActivePower)
	}
	if !powerRange.contains(e.ReactivePower) {
		return fmt.Errorf("%w: reactive_power=%.3f", ErrOutOfRange, e.ReactivePower)
	}
	if !powerRange.contains(e.ApparentPower) {
		return fmt.Errorf("%w: apparent_power=%.3f", ErrOutOfRange, e.ApparentPower)
	}
	if !pfRange.contains(e.PowerFactor) {
		return fmt.Errorf("%w: power_factor=%.3f", ErrOutOfRange, e.PowerFactor)
	}
	if e.FrequencyHz != 0 && !freqRange.contains(e.FrequencyHz) {
		return fmt.Errorf("%w: frequency=%.3f", ErrOutOfRange, e.FrequencyHz)
	}
	return nil
}

// ErrOutOfRange is the sentinel wrapped by Validate; callers match it with
// errors.Is to count the failure toward the acquisition failure budget
// (spec.md 7 "SampleOutOfRange").
var ErrOutOfRange = fmt.Errorf("measurement: value out of range")

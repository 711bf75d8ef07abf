package measurement

import (
	"math"

	"github.com/jibrilsharafi/energyme-core/internal/meterconf"
)

// PhaseRelation is how a channel's configured phase relates to the
// reference channel's phase, decided once per cycle by the caller
// (spec.md 4.4 "Reference-phase path" / "Non-reference-phase path").
type PhaseRelation int

const (
	PhaseSame PhaseRelation = iota
	PhaseLagging
	PhaseLeading
)

// PhaseRelationOf classifies channel phase c relative to the reference
// phase ref using the cyclic P1->P2->P3->P1 ordering (spec.md 4.4,
// original_source ade7953.cpp _getLaggingPhase/_getLeadingPhase).
func PhaseRelationOf(c, ref meterconf.Phase) PhaseRelation {
	switch {
	case c == ref:
		return PhaseSame
	case c == ref.Lagging():
		return PhaseLagging
	default:
		return PhaseLeading
	}
}

// EnergyDirection is which (if either) signed energy bucket a cycle's
// magnitude integrates into (spec.md 4.4 "Energy integration").
type EnergyDirection int

const (
	DirectionNone EnergyDirection = iota
	DirectionImported
	DirectionExported
)

// ReferenceInputs is one cycle's raw register read for the reference-phase
// path (spec.md 4.4): channel 0 itself, or any secondary sharing the
// reference phase.
type ReferenceInputs struct {
	IsChannelZero bool // only channel 0 reads PERIOD/V_rms directly
	VRms          int32
	PeriodLSB     int32 // valid only when IsChannelZero
	ReferenceV    float64

	WhRaw   int32 // signed line-cycle active energy accumulator
	VarhRaw int32 // signed line-cycle reactive energy accumulator
	VahRaw  int32 // line-cycle apparent energy accumulator (magnitude)
}

// SecondaryInputs is one cycle's raw register read for the
// non-reference-phase (three-phase approximation) path (spec.md 4.4).
type SecondaryInputs struct {
	ReferenceV  float64
	PFRaw       int32 // instantaneous signed power factor register
	IRms        int32
	PhaseVsRef  PhaseRelation
}

// EstimateReference computes the reference-phase electrical reading
// (spec.md 4.4 "Reference-phase path"). sampleTimeMs is the currently
// configured line-cycle period in milliseconds. The returned directions
// report, per accumulator, which signed bucket its magnitude integrates
// into this cycle (or none, if the ADE7953 reported no-load on it).
func EstimateReference(in ReferenceInputs, cal meterconf.Calibration, sampleTimeMs uint32, reverse bool) (e Electrical, activeDir, reactiveDir EnergyDirection) {
	v := in.ReferenceV
	var freq float64
	if in.IsChannelZero {
		v = float64(in.VRms) / nonZero(cal.VLsb)
		if in.PeriodLSB > 0 {
			freq = 223750.0 / float64(in.PeriodLSB)
		}
	}

	whRaw, varhRaw := in.WhRaw, in.VarhRaw
	if reverse {
		whRaw, varhRaw = -whRaw, -varhRaw
	}
	wh := float64(whRaw) / nonZero(cal.WhLsb)
	varh := float64(varhRaw) / nonZero(cal.VarhLsb)
	vah := float64(in.VahRaw) / nonZero(cal.VahLsb)

	ms := float64(sampleTimeMs)
	p := wh * 3600000.0 / ms
	q := varh * 3600000.0 / ms
	s := vah * 3600000.0 / ms

	var pf float64
	if s != 0 {
		pf = p / s * signOf(q)
	}

	// ADE7953 no-load region: a zero raw accumulator forces its derived
	// quantity to zero rather than integrating noise (spec.md 4.4).
	if whRaw == 0 {
		p, pf = 0, 0
	} else if whRaw > 0 {
		activeDir = DirectionImported
	} else {
		activeDir = DirectionExported
	}
	if varhRaw == 0 {
		q = 0
	} else if varhRaw > 0 {
		reactiveDir = DirectionImported
	} else {
		reactiveDir = DirectionExported
	}
	if in.VahRaw == 0 {
		s = 0
	}

	var current float64
	if v != 0 {
		current = s / v
	}

	return Electrical{
		Voltage:       v,
		Current:       current,
		ActivePower:   p,
		ReactivePower: q,
		ApparentPower: s,
		PowerFactor:   pf,
		FrequencyHz:   freq,
	}, activeDir, reactiveDir
}

// EstimateSecondary computes the three-phase-approximation reading for a
// channel whose phase differs from the reference's (spec.md 4.4
// "Non-reference-phase path"). Since sign cannot be recovered on this
// path, direction is taken directly from the channel's reverse flag
// rather than a raw accumulator sign (spec.md 4.4 "energy integration
// therefore uses magnitudes").
func EstimateSecondary(in SecondaryInputs, cal meterconf.Calibration, reverse bool) (e Electrical, dir EnergyDirection) {
	v := in.ReferenceV
	current := float64(in.IRms) / nonZero(cal.ALsb)

	if current < noLoadCurrentThresholdA {
		return Electrical{Voltage: v}, DirectionNone
	}

	pfRaw := float64(in.PFRaw) / 32768.0
	if pfRaw > 1 {
		pfRaw = 1
	} else if pfRaw < -1 {
		pfRaw = -1
	}
	theta := math.Acos(pfRaw)

	var pf float64
	switch in.PhaseVsRef {
	case PhaseLagging:
		pf = math.Cos(theta - 2*math.Pi/3)
	case PhaseLeading:
		pf = -math.Cos(theta + 2*math.Pi/3)
	default:
		pf = pfRaw
	}

	s := current * v
	p := current * v * math.Abs(pf)
	q := math.Sqrt(math.Max(s*s-p*p, 0))

	dir = DirectionImported
	if reverse {
		dir = DirectionExported
	}

	return Electrical{
		Voltage:       v,
		Current:       current,
		ActivePower:   p,
		ReactivePower: q,
		ApparentPower: s,
		PowerFactor:   pf,
	}, dir
}

func nonZero(f float64) float64 {
	if f == 0 {
		return 1
	}
	return f
}

func signOf(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

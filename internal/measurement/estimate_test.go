package measurement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jibrilsharafi/energyme-core/internal/meterconf"
)

func unityCal() meterconf.Calibration {
	return meterconf.Calibration{VLsb: 1, ALsb: 1, WLsb: 1, VarLsb: 1, VaLsb: 1, WhLsb: 10000, VarhLsb: 10000, VahLsb: 10000}
}

// S1 — nominal single-phase acquisition (spec.md 8 scenario S1).
func TestEstimateReferenceNominal(t *testing.T) {
	cal := unityCal()
	reading, activeDir, reactiveDir := EstimateReference(ReferenceInputs{
		IsChannelZero: true,
		VRms:          230,
		PeriodLSB:     4875, // ~45.9 Hz placeholder, not asserted here
		WhRaw:         3194, // 0.3194 Wh
		VarhRaw:       0,
		VahRaw:        639, // ~0.0639 VAh -> S ~= 1150 W
	}, cal, 200, false)

	assert.InDelta(t, 5750, reading.ActivePower, 60)
	assert.InDelta(t, 1150, reading.ApparentPower, 10)
	assert.Equal(t, DirectionImported, activeDir)
	assert.Equal(t, DirectionNone, reactiveDir)

	prev := Snapshot{}
	next, err := Update(prev, 1000, 200, reading, activeDir, reactiveDir)
	require.NoError(t, err)
	assert.InDelta(t, 0.3194, next.ActiveImportedWh, 0.01)
}

// S2 — no-load (spec.md 8 scenario S2).
func TestEstimateReferenceNoLoad(t *testing.T) {
	cal := unityCal()
	reading, activeDir, reactiveDir := EstimateReference(ReferenceInputs{
		IsChannelZero: true,
		VRms:          230,
		WhRaw:         0,
		VarhRaw:       0,
		VahRaw:        0,
	}, cal, 200, false)

	assert.Equal(t, 0.0, reading.ActivePower)
	assert.Equal(t, 0.0, reading.PowerFactor)
	assert.Equal(t, 0.0, reading.ReactivePower)
	assert.Equal(t, 0.0, reading.ApparentPower)
	assert.Equal(t, DirectionNone, activeDir)
	assert.Equal(t, DirectionNone, reactiveDir)
}

// S3 — reverse channel flips the energy direction (spec.md 8 scenario S3).
func TestEstimateReferenceReverse(t *testing.T) {
	cal := unityCal()
	reading, activeDir, _ := EstimateReference(ReferenceInputs{
		IsChannelZero: true,
		VRms:          230,
		WhRaw:         3194,
		VahRaw:        639,
	}, cal, 200, true)

	assert.Less(t, reading.ActivePower, 0.0)
	assert.Equal(t, DirectionExported, activeDir)
}

// S4 — three-phase approximation, channel one phase lagging the
// reference (spec.md 8 scenario S4).
func TestEstimateSecondaryLagging(t *testing.T) {
	cal := unityCal()
	// PF_raw = 0.866 => theta ~= 30 degrees.
	reading, dir := EstimateSecondary(SecondaryInputs{
		ReferenceV: 230,
		PFRaw:      int32(0.866 * 32768),
		IRms:       5,
		PhaseVsRef: PhaseLagging,
	}, cal, false)

	assert.InDelta(t, 0, reading.PowerFactor, 0.02)
	assert.InDelta(t, 0, reading.ActivePower, 30)
	assert.InDelta(t, 1150, reading.ApparentPower, 5)
	assert.InDelta(t, 1150, reading.ReactivePower, 30)
	assert.Equal(t, DirectionImported, dir)
}

// S5 — validation clamp near unity power factor (spec.md 8 scenario S5).
func TestClampPowerFactorHigh(t *testing.T) {
	e := Electrical{Voltage: 230, Current: 5, ActivePower: 1100, ApparentPower: 1150, PowerFactor: 1.03}
	out, clamped := ClampPowerFactor(e)
	assert.True(t, clamped)
	assert.Equal(t, 1.0, out.PowerFactor)
	assert.Equal(t, out.ApparentPower, out.ActivePower)
	assert.Equal(t, 0.0, out.ReactivePower)
}

func TestClampPowerFactorNoiseFloor(t *testing.T) {
	e := Electrical{Voltage: 230, Current: 1, ActivePower: 10, ApparentPower: 230, PowerFactor: 0.01}
	out, clamped := ClampPowerFactor(e)
	assert.True(t, clamped)
	assert.Equal(t, Electrical{}, out)
}

func TestValidateRejectsOutOfRangeVoltage(t *testing.T) {
	e := Electrical{Voltage: 400, Current: 1, PowerFactor: 1}
	assert.ErrorIs(t, Validate(e), ErrOutOfRange)
}

func TestUpdateDiscardsZeroDelta(t *testing.T) {
	prev := Snapshot{LastWallMs: 1000, Voltage: 230}
	e := Electrical{Voltage: 230, Current: 1, PowerFactor: 1, ApparentPower: 230, ActivePower: 230}
	next, err := Update(prev, 1000, 200, e, DirectionImported, DirectionNone)
	require.NoError(t, err)
	assert.Equal(t, prev, next)
}

func TestPhaseRelationOf(t *testing.T) {
	assert.Equal(t, PhaseSame, PhaseRelationOf(meterconf.PhaseP1, meterconf.PhaseP1))
	assert.Equal(t, PhaseLagging, PhaseRelationOf(meterconf.PhaseP2, meterconf.PhaseP1))
	assert.Equal(t, PhaseLeading, PhaseRelationOf(meterconf.PhaseP3, meterconf.PhaseP1))
}

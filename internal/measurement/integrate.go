package measurement

// Update folds one cycle's electrical reading into prev, applying the
// power-factor clamp, range validation, and energy integration of
// spec.md 4.4. On validation failure it returns prev unchanged and a
// non-nil error wrapping ErrOutOfRange; the caller must count that
// toward the failure budget (spec.md 7 "SampleOutOfRange") and otherwise
// discard the sample.
func Update(prev Snapshot, wallMs int64, sampleTimeMs uint32, e Electrical, activeDir, reactiveDir EnergyDirection) (Snapshot, error) {
	clamped, _ := ClampPowerFactor(e)

	if err := Validate(clamped); err != nil {
		return prev, err
	}

	dt := sampleTimeMs
	if prev.Valid() {
		delta := wallMs - prev.LastWallMs
		if delta <= 0 {
			return prev, nil
		}
		dt = uint32(delta)
	}

	next := prev
	next.Voltage = clamped.Voltage
	next.Current = clamped.Current
	next.ActivePower = clamped.ActivePower
	next.ReactivePower = clamped.ReactivePower
	next.ApparentPower = clamped.ApparentPower
	next.PowerFactor = clamped.PowerFactor

	hours := float64(dt) / 3600000.0
	switch activeDir {
	case DirectionImported:
		next.ActiveImportedWh += absF(clamped.ActivePower) * hours
	case DirectionExported:
		next.ActiveExportedWh += absF(clamped.ActivePower) * hours
	}
	switch reactiveDir {
	case DirectionImported:
		next.ReactiveImportedWh += absF(clamped.ReactivePower) * hours
	case DirectionExported:
		next.ReactiveExportedWh += absF(clamped.ReactivePower) * hours
	}
	next.ApparentWh += absF(clamped.ApparentPower) * hours

	next.LastWallMs = wallMs
	next.LastMonotonicMs = wallMs

	return next, nil
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

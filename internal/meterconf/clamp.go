package meterconf

import "golang.org/x/exp/constraints"

// clampValue bounds v to [min, max], generic over any ordered numeric
// type (teacher idiom: internal/modbus/client.go's
// ReadHoldingRegisters[T constraints.Integer | constraints.Float]).
func clampValue[T constraints.Integer | constraints.Float](v, min, max T) T {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

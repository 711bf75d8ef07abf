// Package meterconf holds the metering pipeline's configuration data
// model (spec.md 3): per-channel configuration and ADE7953 calibration
// registers, with their defaults and validation. The setters that mutate
// them live in internal/meter.
package meterconf

import "fmt"

// ChannelCount is the number of channels: the always-active reference
// channel 0 plus the 16 multiplexed secondaries (spec.md 3).
const ChannelCount = 17

// Phase is the physical grid phase a channel's CT sits on.
type Phase int

const (
	PhaseP1 Phase = iota
	PhaseP2
	PhaseP3
)

func (p Phase) String() string {
	switch p {
	case PhaseP1:
		return "P1"
	case PhaseP2:
		return "P2"
	case PhaseP3:
		return "P3"
	default:
		return "unknown"
	}
}

// Lagging returns the phase that lags p by one position in the standard
// cyclic ordering P1->P2->P3->P1 (spec.md 4.4, original_source
// ade7953.cpp _getLaggingPhase).
func (p Phase) Lagging() Phase {
	return (p + 1) % 3
}

// Leading returns the phase that leads p by one position in the same
// cyclic ordering (spec.md 4.4, original_source ade7953.cpp
// _getLeadingPhase).
func (p Phase) Leading() Phase {
	return (p + 2) % 3
}

// Calibration holds the LSB-per-physical-unit scalars for one channel
// (spec.md 3).
type Calibration struct {
	VLsb   float64 `json:"v_lsb" yaml:"v_lsb"`
	ALsb   float64 `json:"a_lsb" yaml:"a_lsb"`
	WLsb   float64 `json:"w_lsb" yaml:"w_lsb"`
	VarLsb float64 `json:"var_lsb" yaml:"var_lsb"`
	VaLsb  float64 `json:"va_lsb" yaml:"va_lsb"`
	WhLsb  float64 `json:"wh_lsb" yaml:"wh_lsb"`
	VarhLsb float64 `json:"varh_lsb" yaml:"varh_lsb"`
	VahLsb  float64 `json:"vah_lsb" yaml:"vah_lsb"`
}

// UnityCalibration is a neutral 1:1 calibration, useful for tests and as
// a safe first-boot default before a real CT is configured.
var UnityCalibration = Calibration{
	VLsb: 1, ALsb: 1, WLsb: 1, VarLsb: 1, VaLsb: 1, WhLsb: 1, VarhLsb: 1, VahLsb: 1,
}

// ChannelConfig is the per-channel configuration record (spec.md 3).
type ChannelConfig struct {
	Index       uint8       `json:"index" yaml:"index"`
	Active      bool        `json:"active" yaml:"active"`
	Reverse     bool        `json:"reverse" yaml:"reverse"`
	Label       string      `json:"label" yaml:"label"`
	Phase       Phase       `json:"phase" yaml:"phase"`
	Calibration Calibration `json:"calibration" yaml:"calibration"`
}

// Validate enforces the invariants of spec.md 3/8: the index is in range
// and channel 0 is always active. Channel 0's phase is not checked; it
// defines the reference phase.
func (c ChannelConfig) Validate() error {
	if c.Index >= ChannelCount {
		return fmt.Errorf("meterconf: channel index %d out of range", c.Index)
	}
	if c.Index == 0 && !c.Active {
		return fmt.Errorf("meterconf: %w", ErrChannelZeroMustBeActive)
	}
	return nil
}

// ErrChannelZeroMustBeActive is wrapped by Validate when an attempt is
// made to deactivate channel 0 (spec.md 3 invariant, spec.md 8 property
// 4). internal/meter's SetChannel reports that case as its own
// ErrConfigInvalid, with this error's text in the message.
var ErrChannelZeroMustBeActive = fmt.Errorf("channel 0 is always active")

// DefaultChannels returns the first-boot channel table: channel 0 active
// on the reference phase with unity calibration, all others inactive.
func DefaultChannels() [ChannelCount]ChannelConfig {
	var chans [ChannelCount]ChannelConfig
	for i := range chans {
		chans[i] = ChannelConfig{
			Index:       uint8(i),
			Active:      i == 0,
			Label:       fmt.Sprintf("channel_%d", i),
			Phase:       PhaseP1,
			Calibration: UnityCalibration,
		}
	}
	return chans
}

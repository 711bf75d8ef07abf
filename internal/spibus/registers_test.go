package spibus

import "testing"

// TestCalibrationRegisterAddresses pins the 32-bit calibration/offset
// register addresses against original_source/source/include/ade7953registers.h
// (the *_32 defines), including the Reserved_32/Reserved1-4_32 gaps between
// AIRMSOS and BVAOS that a naive sequential numbering skips over.
func TestCalibrationRegisterAddresses(t *testing.T) {
	cases := []struct {
		name string
		reg  Register
		addr uint16
	}{
		{"AIGAIN", RegAIGain, 0x380},
		{"AVGAIN", RegAVGain, 0x381},
		{"AWGAIN", RegAWGain, 0x382},
		{"AVARGAIN", RegAVarGain, 0x383},
		{"AVAGAIN", RegAVaGain, 0x384},
		{"AIRMSOS", RegAIRmsOS, 0x386},
		{"VRMSOS", RegVRmsOS, 0x388},
		{"AWATTOS", RegAWattOS, 0x389},
		{"AVAROS", RegAVarOS, 0x38A},
		{"AVAOS", RegAVaOS, 0x38B},
		{"BIGAIN", RegBIGain, 0x38C},
		{"BVGAIN", RegBVGain, 0x38D},
		{"BWGAIN", RegBWGain, 0x38E},
		{"BVARGAIN", RegBVarGain, 0x38F},
		{"BVAGAIN", RegBVaGain, 0x390},
		{"BIRMSOS", RegBIRmsOS, 0x392},
		{"BWATTOS", RegBWattOS, 0x395},
		{"BVAROS", RegBVarOS, 0x396},
		{"BVAOS", RegBVaOS, 0x397},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.reg.Addr != tc.addr {
				t.Errorf("%s: got address 0x%03X, want 0x%03X", tc.name, tc.reg.Addr, tc.addr)
			}
			if tc.reg.Width != Width32 {
				t.Errorf("%s: got width %d, want 32", tc.name, tc.reg.Width)
			}
		})
	}
}

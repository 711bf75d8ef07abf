package acquisition

import (
	"fmt"

	"github.com/jibrilsharafi/energyme-core/internal/meterconf"
	"github.com/jibrilsharafi/energyme-core/internal/spibus"
)

// ApplyConfig writes sample_time_ms (as LINECYC), every calibration
// register, and the IRQ enable mask to the device. It is idempotent and
// is both the boot-time setup path and the RESET/CRC_CHANGE
// re-application path mandated by spec.md 4.3 step 4.
func ApplyConfig(gw *spibus.Gateway, cfg meterconf.Ade7953Config, sampleTimeMs uint32) error {
	lineCyc := int32(sampleTimeMs) * int32(cyclesPerSecond) * 2 / 1000

	writes := []struct {
		reg spibus.Register
		val int32
	}{
		{spibus.RegLineCyc, lineCyc},
		{spibus.RegAIGain, cfg.AIGain},
		{spibus.RegAVGain, cfg.AVGain},
		{spibus.RegAWGain, cfg.AWGain},
		{spibus.RegAVarGain, cfg.AVarGain},
		{spibus.RegAVaGain, cfg.AVaGain},
		{spibus.RegAIRmsOS, cfg.AIRmsOS},
		{spibus.RegVRmsOS, cfg.VRmsOS},
		{spibus.RegAWattOS, cfg.AWattOS},
		{spibus.RegAVarOS, cfg.AVarOS},
		{spibus.RegAVaOS, cfg.AVaOS},
		{spibus.RegPhCalA, cfg.PhCalA},
		{spibus.RegBIGain, cfg.BIGain},
		{spibus.RegBVGain, cfg.BVGain},
		{spibus.RegBWGain, cfg.BWGain},
		{spibus.RegBVarGain, cfg.BVarGain},
		{spibus.RegBVaGain, cfg.BVaGain},
		{spibus.RegBIRmsOS, cfg.BIRmsOS},
		{spibus.RegBWattOS, cfg.BWattOS},
		{spibus.RegBVarOS, cfg.BVarOS},
		{spibus.RegBVaOS, cfg.BVaOS},
		{spibus.RegPhCalB, cfg.PhCalB},
		{spibus.RegIrqEnA, spibus.DefaultIRQEnaMask},
	}

	for _, w := range writes {
		if err := gw.WriteRegister(w.reg, w.val, true); err != nil {
			return fmt.Errorf("acquisition: apply %s: %w", w.reg.Name, err)
		}
	}
	return nil
}

// cyclesPerSecond is the grid frequency assumed for LINECYC derivation
// (spec.md 4.3: "LINECYC = sample_time_ms * cycles_per_second * 2 / 1000",
// spec.md 8 property 3 names the 50 Hz case explicitly).
const cyclesPerSecond = 50

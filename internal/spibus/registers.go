package spibus

// Width is the size, in bits, of an ADE7953 register.
type Width int

const (
	Width8  Width = 8
	Width16 Width = 16
	Width24 Width = 24
	Width32 Width = 32
)

// Bytes returns the number of data bytes a register of this width occupies.
func (w Width) Bytes() int {
	return int(w) / 8
}

func (w Width) valid() bool {
	switch w {
	case Width8, Width16, Width24, Width32:
		return true
	}
	return false
}

// Register is a named, fixed-width ADE7953 register address.
type Register struct {
	Name  string
	Addr  uint16
	Width Width
}

// The register map used by the metering pipeline, grounded on
// original_source/source/include/ade7953registers.h. Only the subset
// actually read/written by the core is named; the rest of the ADE7953's
// register space is reachable through Gateway.Read/Write with a raw
// address for anything not listed here.
var (
	RegDisNoLoad = Register{"DISNOLOAD", 0x001, Width8}
	RegLCycMode  = Register{"LCYCMODE", 0x004, Width8}
	RegPgaV      = Register{"PGA_V", 0x007, Width8}
	RegPgaIA     = Register{"PGA_IA", 0x008, Width8}
	RegPgaIB     = Register{"PGA_IB", 0x009, Width8}
	RegLastOp    = Register{"LAST_OP", 0x0FD, Width8}

	RegLineCyc = Register{"LINECYC", 0x101, Width16}
	RegConfig  = Register{"CONFIG", 0x102, Width16}
	RegPhCalA  = Register{"PHCALA", 0x108, Width16}
	RegPhCalB  = Register{"PHCALB", 0x109, Width16}
	RegPFA     = Register{"PFA", 0x10A, Width16}
	RegPFB     = Register{"PFB", 0x10B, Width16}
	RegPeriod  = Register{"PERIOD", 0x11E, Width16}
	RegLastAdd = Register{"LAST_ADD", 0x1FE, Width16}

	RegAPNoLoad  = Register{"AP_NOLOAD", 0x303, Width32}
	RegVarNoLoad = Register{"VAR_NOLOAD", 0x304, Width32}
	RegVaNoLoad  = Register{"VA_NOLOAD", 0x305, Width32}

	RegAWatt  = Register{"AWATT", 0x312, Width32}
	RegBWatt  = Register{"BWATT", 0x313, Width32}
	RegAVar   = Register{"AVAR", 0x314, Width32}
	RegBVar   = Register{"BVAR", 0x315, Width32}
	RegAVA    = Register{"AVA", 0x310, Width32}
	RegBVA    = Register{"BVA", 0x311, Width32}
	RegIA     = Register{"IA", 0x316, Width32}
	RegIB     = Register{"IB", 0x317, Width32}
	RegV      = Register{"V", 0x318, Width32}
	RegIRmsA  = Register{"IRMSA", 0x31A, Width32}
	RegIRmsB  = Register{"IRMSB", 0x31B, Width32}
	RegVRms   = Register{"VRMS", 0x31C, Width32}
	RegAEnA   = Register{"AENERGYA", 0x31E, Width32}
	RegAEnB   = Register{"AENERGYB", 0x31F, Width32}
	RegREnA   = Register{"RENERGYA", 0x320, Width32}
	RegREnB   = Register{"RENERGYB", 0x321, Width32}
	RegAPEnA  = Register{"APENERGYA", 0x322, Width32}
	RegAPEnB  = Register{"APENERGYB", 0x323, Width32}
	RegIrqEnA = Register{"IRQENA", 0x32C, Width32}

	RegRstIrqStatA = Register{"RSTIRQSTATA", 0x22E, Width24}

	RegAIGain    = Register{"AIGAIN", 0x380, Width32}
	RegAVGain    = Register{"AVGAIN", 0x381, Width32}
	RegAWGain    = Register{"AWGAIN", 0x382, Width32}
	RegAVarGain  = Register{"AVARGAIN", 0x383, Width32}
	RegAVaGain   = Register{"AVAGAIN", 0x384, Width32}
	// 0x385 is Reserved_32 in the ADE7953 register map; skipped.
	RegAIRmsOS = Register{"AIRMSOS", 0x386, Width32}
	// 0x387 is Reserved1_32; skipped.
	RegVRmsOS  = Register{"VRMSOS", 0x388, Width32}
	RegAWattOS = Register{"AWATTOS", 0x389, Width32}
	RegAVarOS  = Register{"AVAROS", 0x38A, Width32}
	RegAVaOS   = Register{"AVAOS", 0x38B, Width32}
	RegBIGain  = Register{"BIGAIN", 0x38C, Width32}
	RegBVGain  = Register{"BVGAIN", 0x38D, Width32}
	RegBWGain  = Register{"BWGAIN", 0x38E, Width32}
	RegBVarGain = Register{"BVARGAIN", 0x38F, Width32}
	RegBVaGain  = Register{"BVAGAIN", 0x390, Width32}
	// 0x391 is Reserved2_32; skipped.
	RegBIRmsOS = Register{"BIRMSOS", 0x392, Width32}
	// 0x393 is Reserved3_32 and 0x394 is Reserved4_32; both skipped.
	RegBWattOS      = Register{"BWATTOS", 0x395, Width32}
	RegBVarOS       = Register{"BVAROS", 0x396, Width32}
	RegBVaOS        = Register{"BVAOS", 0x397, Width32}
	RegLastRWData32 = Register{"LAST_RWDATA_32", 0x3FF, Width32}
)

// LastRWDataRegister returns the width-matched LAST_RWDATA register used
// in the post-operation verification sequence (spec.md 4.1/6.1).
func LastRWDataRegister(w Width) Register {
	switch w {
	case Width8:
		return Register{"LAST_RWDATA_8", 0x0FF, Width8}
	case Width16:
		return Register{"LAST_RWDATA_16", 0x1FF, Width16}
	case Width24:
		return Register{"LAST_RWDATA_24", 0x2FF, Width24}
	default:
		return RegLastRWData32
	}
}

// Post-transaction LAST_OP values (spec.md 6.1).
const (
	LastOpRead  = 0x35
	LastOpWrite = 0xCA
)

// IRQSTATA bit positions classified by the acquisition engine (spec.md 4.3).
const (
	IRQBitCycEnd = 18
	IRQBitReset  = 20
	IRQBitCRC    = 21
)

// DefaultIRQEnaMask enables only CYCEND and the non-maskable RESET bit
// (spec.md 4.3 "Interrupts enabled").
const DefaultIRQEnaMask = 1<<IRQBitCycEnd | 1<<IRQBitReset

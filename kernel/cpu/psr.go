// Package cpu models the ARMv7-A processor status register, its nine named
// modes (including decoding of its interrupt-mask bits), banked register
// access and the low-level Halt primitive consumed by the rest of the kernel.
package cpu

// Mode identifies one of the nine ARM processor modes. The numeric values
// match the 5-bit M[4:0] mode field of the CPSR/SPSR.
type Mode uint32

// Processor modes, encoded exactly as the hardware mode field.
const (
	ModeUser       Mode = 0b10000
	ModeFIQ        Mode = 0b10001
	ModeIRQ        Mode = 0b10010
	ModeSupervisor Mode = 0b10011
	ModeMonitor    Mode = 0b10110
	ModeAbort      Mode = 0b10111
	ModeHyp        Mode = 0b11010
	ModeUndefined  Mode = 0b11011
	ModeSystem     Mode = 0b11111
)

// String implements fmt.Stringer. kfmt's verbs never call it, so kfmt
// callers pass m.String() to %s explicitly.
func (m Mode) String() string {
	switch m {
	case ModeUser:
		return "user"
	case ModeFIQ:
		return "fiq"
	case ModeIRQ:
		return "irq"
	case ModeSupervisor:
		return "svc"
	case ModeMonitor:
		return "mon"
	case ModeAbort:
		return "abt"
	case ModeHyp:
		return "hyp"
	case ModeUndefined:
		return "und"
	case ModeSystem:
		return "sys"
	default:
		return "unknown"
	}
}

// Register identifies a banked or general-purpose ARM register.
type Register uint8

// Registers that may be looked up via ReadBanked.
const (
	RegSP Register = iota
	RegLR
	RegSPSR
)

// Endianness describes the data endianness bit (CPSR.E) of a PSR snapshot.
type Endianness uint8

const (
	LittleEndian Endianness = 0
	BigEndian    Endianness = 1
)

const (
	maskN = uint32(1) << 31
	maskZ = uint32(1) << 30
	maskC = uint32(1) << 29
	maskV = uint32(1) << 28
	maskE = uint32(1) << 9
	maskA = uint32(1) << 8
	maskI = uint32(1) << 7
	maskF = uint32(1) << 6
	maskT = uint32(1) << 5
	maskM = uint32(0b11111)
)

// ConditionFlags holds the four ALU condition flags of a PSR.
type ConditionFlags struct {
	Negative bool
	Zero     bool
	Carry    bool
	Overflow bool
}

// InterruptMask holds the three interrupt mask bits of a PSR.
type InterruptMask struct {
	AsyncAbort bool
	IRQ        bool
	FIQ        bool
}

// PSR is an immutable view of a 32-bit ARM processor status word.
type PSR struct {
	raw uint32
}

// NewPSR wraps a raw CPSR/SPSR value.
func NewPSR(raw uint32) PSR { return PSR{raw: raw} }

// Raw returns the underlying 32-bit status word.
func (p PSR) Raw() uint32 { return p.raw }

// Conditions decodes the N, Z, C and V condition flags.
func (p PSR) Conditions() ConditionFlags {
	return ConditionFlags{
		Negative: p.raw&maskN != 0,
		Zero:     p.raw&maskZ != 0,
		Carry:    p.raw&maskC != 0,
		Overflow: p.raw&maskV != 0,
	}
}

// Endianness decodes the CPSR.E bit.
func (p PSR) Endianness() Endianness {
	if p.raw&maskE != 0 {
		return BigEndian
	}
	return LittleEndian
}

// InterruptMask decodes the three interrupt-mask bits.
func (p PSR) InterruptMask() InterruptMask {
	return InterruptMask{
		AsyncAbort: p.raw&maskA != 0,
		IRQ:        p.raw&maskI != 0,
		FIQ:        p.raw&maskF != 0,
	}
}

// Thumb reports whether the T bit (Thumb instruction state) is set.
func (p PSR) Thumb() bool {
	return p.raw&maskT != 0
}

// CPUMode decodes the 5-bit mode selector.
func (p PSR) CPUMode() Mode {
	return Mode(p.raw & maskM)
}

// String renders the PSR the way the exception reporter prints it:
// flags, mode and mask bits on a single line.
func (p PSR) String() string {
	c := p.Conditions()
	im := p.InterruptMask()
	flag := func(set bool, ch byte) byte {
		if set {
			return ch
		}
		return '-'
	}
	buf := [9]byte{
		flag(c.Negative, 'N'),
		flag(c.Zero, 'Z'),
		flag(c.Carry, 'C'),
		flag(c.Overflow, 'V'),
		' ',
		flag(im.AsyncAbort, 'A'),
		flag(im.IRQ, 'I'),
		flag(im.FIQ, 'F'),
		' ',
	}
	return string(buf[:]) + p.CPUMode().String()
}

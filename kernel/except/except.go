// Package except implements the default data-abort/prefetch-abort/
// undefined-instruction handler: it decodes the ARM fault status register
// into a human phrase, dumps the trapped registers plus the banked
// LR/SP/SPSR of every privileged mode, then blocks on the serial console
// for a single key to pick the dispatcher's continuation. The interactive
// policy lives behind the Reporter type so a non-interactive one (always
// next, or log-and-reboot) can be substituted without touching
// kernel/irq.
package except

import (
	"io"

	"armkernel/kernel/coroutine"
	"armkernel/kernel/cpu"
	"armkernel/kernel/irq"
	"armkernel/kernel/kfmt"
)

// faultStatus selects bits {0,1,2,3,10} of the Data/Instruction Fault
// Status Register (ARMv7-A DFSR/IFSR encoding).
type faultStatus uint8

const (
	faultAlignment          faultStatus = 0b00001
	faultICacheMaintenance  faultStatus = 0b00100
	faultTranslationSection faultStatus = 0b00101
	faultTranslationPage    faultStatus = 0b00111
	faultAccessFlagSection  faultStatus = 0b00011
	faultAccessFlagPage     faultStatus = 0b00110
	faultDomainSection      faultStatus = 0b01001
	faultDomainPage         faultStatus = 0b01011
	faultPermissionSection  faultStatus = 0b01101
	faultPermissionPage     faultStatus = 0b01111
	faultDebugEvent         faultStatus = 0b00010
	faultSyncExternal       faultStatus = 0b01000
	faultAsyncExternal      faultStatus = 0b10110
	faultSyncParity         faultStatus = 0b11001
	faultAsyncParity        faultStatus = 0b11000
)

// String maps a 5-bit DFSR/IFSR status field to a human phrase. An
// unrecognised encoding (reserved or implementation-defined) reports
// "unknown fault" rather than guessing.
func (fs faultStatus) String() string {
	switch fs {
	case faultAlignment:
		return "alignment fault"
	case faultICacheMaintenance:
		return "instruction cache maintenance fault"
	case faultTranslationSection, faultTranslationPage:
		return "translation fault"
	case faultAccessFlagSection, faultAccessFlagPage:
		return "access flag fault"
	case faultDomainSection, faultDomainPage:
		return "domain fault"
	case faultPermissionSection, faultPermissionPage:
		return "permission fault"
	case faultDebugEvent:
		return "debug event"
	case faultSyncExternal:
		return "synchronous external abort"
	case faultAsyncExternal:
		return "asynchronous external abort"
	case faultSyncParity:
		return "synchronous parity error"
	case faultAsyncParity:
		return "asynchronous parity error"
	default:
		return "unknown fault"
	}
}

// decodeFSR extracts the 5-bit status field from a DFSR/IFSR value: bits
// {0,1,2,3} form the low nibble, bit 10 is the high bit of the field.
func decodeFSR(fsr uint32) faultStatus {
	low := fsr & 0b1111
	high := (fsr >> 10) & 0b1
	return faultStatus(low | high<<4)
}

// ReadDFSR and ReadIFSR read the Data and Instruction Fault Status
// Registers: a data abort's status lives in the former, a prefetch abort's
// in the latter. Implemented in except_arm.s; substituted in tests the
// same way kernel/cpu mocks currentPSRFn.
var (
	ReadDFSR = readDFSR
	ReadIFSR = readIFSR
)

func readDFSR() uint32
func readIFSR() uint32

// readBankedFn reads a banked register; substituted in tests so report
// doesn't require real CPSR mode switches.
var readBankedFn = cpu.ReadBanked

// keyReader abstracts the single blocking byte read the reporter performs
// to collect the user's continuation choice. hal.UART satisfies it
// directly.
type keyReader interface {
	Get() byte
}

// Reporter is the default handler for data-abort, prefetch-abort and
// undefined-instruction. The zero value is not usable; construct with
// New.
type Reporter struct {
	console keyReader

	// Task, when set, supplies the descriptor of the coroutine that was
	// running when the fault hit; report prints it alongside the register
	// dumps. kernel/boot wires it to the main event loop's current
	// coroutine.
	Task func() coroutine.Info
}

// New returns a Reporter that reads its continuation key from console.
func New(console keyReader) *Reporter {
	return &Reporter{console: console}
}

// Handle implements irq.Handler. It dumps the fault, then blocks on the
// console for n/r/e, re-prompting on any other byte.
func (rep *Reporter) Handle(ctx *irq.Context) irq.Result {
	rep.report(ctx)

	for {
		switch rep.console.Get() {
		case 'n':
			return irq.ResultNext
		case 'r':
			return irq.ResultRepeat
		case 'e':
			return irq.ResultEventLoop
		}
	}
}

// bankedDump renders the per-mode banked LR/SP/SPSR table through kfmt's
// %v verb (kfmt.Printer) instead of report hand-formatting each line.
type bankedDump struct {
	read func(cpu.Mode, cpu.Register) uint32
}

func (b bankedDump) KFmt(w io.Writer) {
	for _, m := range []cpu.Mode{
		cpu.ModeUser, cpu.ModeFIQ, cpu.ModeIRQ, cpu.ModeSupervisor,
		cpu.ModeAbort, cpu.ModeUndefined, cpu.ModeSystem,
	} {
		lr := b.read(m, cpu.RegLR)
		sp := b.read(m, cpu.RegSP)
		spsr := b.read(m, cpu.RegSPSR)
		kfmt.Fprintf(w, "%s: lr=%8x sp=%8x spsr=%8x\n", m.String(), lr, sp, spsr)
	}
}

func (rep *Reporter) report(ctx *irq.Context) {
	kfmt.Printf("\n*** %s at 0x%x ***\n", ctx.Kind.String(), ctx.Address)

	switch ctx.Kind {
	case irq.KindDataAbort:
		fsr := ReadDFSR()
		kfmt.Printf("Data Fault Status Register: 0x%x -> %s\n", fsr, decodeFSR(fsr).String())
	case irq.KindPrefetchAbort:
		fsr := ReadIFSR()
		kfmt.Printf("Instruction Fault Status Register: 0x%x -> %s\n", fsr, decodeFSR(fsr).String())
	}

	if rep.Task != nil {
		if info := rep.Task(); info.Name != "" {
			kfmt.Printf("Running coroutine: %v\n", info)
		}
	}

	// Every line of the register and banked-register dumps is indented two
	// spaces via PrefixWriter rather than baking the indent into each
	// format string.
	indent := &kfmt.PrefixWriter{Sink: kfmt.Sink(), Prefix: []byte("  ")}

	kfmt.Printf("\nRegisters:\n")
	kfmt.Fprintf(indent, "%v", ctx.Regs)

	kfmt.Printf("\nBanked registers:\n")
	kfmt.Fprintf(indent, "%v", bankedDump{read: readBankedFn})

	kfmt.Printf("\npress 'n' (next), 'r' (repeat) or 'e' (event loop): ")
}

// Install registers the Reporter as the default handler for the three
// fault kinds, and as the kernel/irq.Fallback so an unregistered SVC
// number is reported as if it were a fault.
func Install(rep *Reporter) {
	irq.SetHandlers([]irq.Kind{
		irq.KindDataAbort,
		irq.KindPrefetchAbort,
		irq.KindUndefinedInstruction,
	}, rep.Handle)
	irq.Fallback = rep.Handle
}

// Package irq implements the kernel's low-level exception dispatcher: a
// single fixed-size handler table indexed by exception kind, plus the
// nested 256-entry SVC table used to route software interrupts by number.
package irq

import (
	"io"

	"armkernel/kernel/kfmt"
)

// Kind identifies the ARMv7-A exception that trapped into the dispatcher.
// The numeric values match the vector-table layout so the assembly stub
// (owned outside this package) can pass the raw exception index straight
// through without translation.
type Kind uint32

const (
	KindUndefinedInstruction Kind = 0
	KindSoftwareInterrupt    Kind = 1
	KindPrefetchAbort        Kind = 2
	KindDataAbort            Kind = 3
	// kindNotUsed occupies slot 4; ARMv7-A has no exception there, but the
	// slot is reserved so IRQ/FIQ keep their vector-table positions.
	kindNotUsed Kind = 4
	KindIRQ     Kind = 5
	KindFIQ     Kind = 6

	kindCount = 7
)

func (k Kind) String() string {
	switch k {
	case KindUndefinedInstruction:
		return "Undefined Instruction"
	case KindSoftwareInterrupt:
		return "Software Interrupt"
	case KindPrefetchAbort:
		return "Prefetch Abort"
	case KindDataAbort:
		return "Data Abort"
	case KindIRQ:
		return "IRQ"
	case KindFIQ:
		return "FIQ"
	default:
		return "INVALID!"
	}
}

// Result tells the dispatcher how to resume execution once a handler
// returns.
type Result uint32

const (
	// ResultNext resumes execution at the instruction after the one that
	// trapped.
	ResultNext Result = iota
	// ResultRepeat re-executes the trapping instruction, used after a
	// handler has made it safe to retry (e.g. a data abort handler that
	// mapped in the faulting page).
	ResultRepeat
	// ResultEventLoop abandons the interrupted context entirely and
	// transfers control to the registered event loop entry point.
	ResultEventLoop
	// ResultCustom means the handler already rewrote Regs.PC itself and the
	// dispatcher must not touch it. (The scheduler's context-switch
	// handlers instead rewrite Context.Address and return ResultNext.)
	ResultCustom
)

// Registers is a snapshot of the general-purpose registers and the
// trapped PC, captured by the vector-table stub before Dispatch runs.
type Registers struct {
	R  [13]uint32
	PC uint32
}

// KFmt implements kfmt.Printer: two registers per line, zero-padded to 8
// hex digits.
func (r *Registers) KFmt(w io.Writer) {
	for i := 0; i < len(r.R); i += 2 {
		if i+1 < len(r.R) {
			kfmt.Fprintf(w, "R%d = %8x  R%d = %8x\n", i, r.R[i], i+1, r.R[i+1])
			continue
		}
		kfmt.Fprintf(w, "R%d = %8x\n", i, r.R[i])
	}
	kfmt.Fprintf(w, "PC = %8x\n", r.PC)
}

// Print writes a register dump to the active console via kfmt's %v verb.
func (r *Registers) Print() {
	kfmt.Printf("%v", r)
}

// Context is passed to a registered Handler. Address is the corrected
// fault PC (the raw trapped PC adjusted by the per-Kind pipeline offset);
// handlers that need to retry or skip an instruction work off Address, not
// Regs.PC.
type Context struct {
	Kind    Kind
	Regs    *Registers
	Address uint32
}

// Handler reacts to a trapped exception and decides how execution should
// resume. Handlers close over whatever state they need.
type Handler func(ctx *Context) Result

// EventLoopEntry is called when a handler returns ResultEventLoop. It is
// nil until kernel/boot sets it to the main event loop's Run during boot.
var EventLoopEntry func()

var handlers [kindCount]Handler

// SetHandler installs the handler invoked for every exception of the given
// kind. Only one handler per kind is supported; a later call replaces the
// earlier one silently (kind dispatch, unlike the SVC table, has no
// legitimate case for stacking handlers).
func SetHandler(kind Kind, h Handler) {
	handlers[kind] = h
}

// SetHandlers installs the same handler for every kind in kinds, the
// multi-kind form of SetHandler (kernel/except registers its fault
// reporter for all three fault kinds through this).
func SetHandlers(kinds []Kind, h Handler) {
	for _, k := range kinds {
		SetHandler(k, h)
	}
}

// faultOffset returns the distance between the trapped PC and the address
// of the instruction that actually caused the exception: data aborts, IRQs
// and FIQs trap two instructions past the faulting one, everything else
// traps one instruction past it.
func faultOffset(kind Kind) uint32 {
	switch kind {
	case KindDataAbort, KindIRQ, KindFIQ:
		return 8
	default:
		return 4
	}
}

// Dispatch is the dispatcher's single entry point, called by the
// vector-table assembly stub with the trapped exception kind and a pointer
// to the saved registers. It corrects the fault address, runs the
// registered handler (if any) and applies the returned Result to Regs.PC.
func Dispatch(kind Kind, regs *Registers) {
	address := regs.PC - faultOffset(kind)

	h := handlers[kind]
	if h == nil {
		regs.PC = address + 4
		return
	}

	ctx := &Context{Kind: kind, Regs: regs, Address: address}
	result := h(ctx)
	// ctx.Address is read here rather than the address computed above: a
	// handler that drives a context switch (kernel/sched) rewrites it to
	// the next thread's resume point minus 4, so that the +4 below lands
	// on the intended instruction.
	switch result {
	case ResultNext:
		regs.PC = ctx.Address + 4
	case ResultRepeat:
		regs.PC = ctx.Address
	case ResultEventLoop:
		if EventLoopEntry != nil {
			EventLoopEntry()
		}
	default:
		// ResultCustom, or any value a misbehaving handler invented: the
		// dispatcher leaves regs.PC untouched either way.
	}
}

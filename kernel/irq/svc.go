package irq

import "armkernel/kernel/kfmt"

// svcTable routes a software interrupt by the value placed in r0 before
// the SVC instruction executed. Unlike
// the per-Kind handler table, overwriting an entry is permitted and only
// logged, since re-registering an SVC number during a shell demo session
// is a normal occurrence rather than a programming error.
var svcTable [256]Handler

// Fallback is invoked for an SVC number with no registered handler. It is
// nil until kernel/except installs the exception reporter during boot.
var Fallback Handler

// RegisterSVC installs the handler for the given SVC number. A second call
// for the same number replaces the first and logs a warning.
func RegisterSVC(number uint8, h Handler) {
	if svcTable[number] != nil {
		kfmt.Warn("overwriting SVC handler for number %d", number)
	}
	svcTable[number] = h
}

// handleSVC is installed as the KindSoftwareInterrupt handler by Init. It
// reads the requested SVC number out of r0 and dispatches to the matching
// entry in svcTable, falling back to the exception reporter for numbers
// nobody has claimed.
func handleSVC(ctx *Context) Result {
	number := ctx.Regs.R[0]
	if number > 255 {
		if Fallback != nil {
			return Fallback(ctx)
		}
		return ResultNext
	}

	if h := svcTable[number]; h != nil {
		return h(ctx)
	}
	if Fallback != nil {
		return Fallback(ctx)
	}
	return ResultNext
}

// Init wires the SVC table into the Kind dispatch table. Called once
// during boot (kernel/boot.StartKernel).
func Init() {
	SetHandler(KindSoftwareInterrupt, handleSVC)
}

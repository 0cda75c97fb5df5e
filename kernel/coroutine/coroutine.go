// Package coroutine defines the vocabulary shared by a suspendable task
// and whatever drives it: a small integer Handle, a descriptive Info
// record, and the Yielder a task body uses to suspend itself. The arena
// that owns the actual frames lives in kernel/eventloop; this package only
// describes what a frame looks like, never allocates one itself.
package coroutine

import (
	"io"

	"armkernel/kernel/kfmt"
)

// Handle identifies a task frame inside whatever arena created it. The
// zero Handle never denotes a live frame; it most commonly means "no
// parent".
type Handle int

// Info is the descriptive record attached to every coroutine for debug
// tracing: a name, a "critical" marker rendered alongside it wherever the
// descriptor is printed, the source location the task was spawned from and
// the address of its frame. Callers usually set only Name (and sometimes
// Critical); the arena fills in Location and Address when the frame is
// created.
type Info struct {
	Name     string
	Critical bool
	Location string
	Address  uintptr
}

// KFmt implements kfmt.Printer, rendering the full descriptor the trace
// and warning paths print: ["name" (critical) at 0x<addr> from <loc>].
func (i Info) KFmt(w io.Writer) {
	kfmt.Fprintf(w, "[\"%s\"", i.Name)
	if i.Critical {
		kfmt.Fprintf(w, " (critical)")
	}
	kfmt.Fprintf(w, " at 0x%x from %s]", i.Address, i.Location)
}

// Yielder is handed to a running task body and is its only means of
// suspending. Calling Await blocks the goroutine backing the task until
// whatever drives it (kernel/eventloop.Loop) delivers a resume value,
// mirroring a coroutine's co_await suspension point without requiring
// compiler-generated state-machine support.
type Yielder struct {
	resume chan uint32
	park   chan uint32
}

// NewYielder is called by the arena owner when spawning a task; task bodies
// never construct a Yielder themselves.
func NewYielder(resume, park chan uint32) *Yielder {
	return &Yielder{resume: resume, park: park}
}

// Await parks the task and blocks until the driver supplies a resume value.
func (y *Yielder) Await() uint32 {
	y.park <- 0
	return <-y.resume
}

// Body is the executable content of a task. It receives the Yielder it
// must use for every suspension point and returns the task's result, which
// is only meaningful to a parent that awaited this task.
type Body func(y *Yielder) uint32

// Package boot wires the core subsystems together and exposes the single
// entry point the assembly rt0 stub calls once it has set up the user/
// system stack pointer. It owns no policy of its own: every decision it
// makes is delegating to kernel/heap, kernel/irq, kernel/eventloop,
// kernel/sched and kernel/except.
package boot

import (
	"reflect"
	"unsafe"

	"armkernel/kernel/config"
	"armkernel/kernel/coroutine"
	"armkernel/kernel/eventloop"
	"armkernel/kernel/except"
	"armkernel/kernel/hal"
	"armkernel/kernel/heap"
	"armkernel/kernel/irq"
	"armkernel/kernel/kfmt"
	"armkernel/kernel/sched"
	"armkernel/kernel/sync"
	"armkernel/shell"
)

// Seven per-mode stacks (usr, svc, fiq, irq, abt, und, plus the thread
// pool) are carved at fixed config.ModeStackSize offsets above
// endOfKernel. modeStackCount covers the six privileged/user banks before
// the thread pool begins.
const modeStackCount = 6

// MainLoop is the single event loop every thread can submit coroutines to
// or migrate into; it is also the target of irq.ResultEventLoop redirects.
var MainLoop = eventloop.New()

// MoveLoop is the secondary event loop the shell's "move" command
// migrates into and back out of, demonstrating
// kernel/eventloop.Loop.YieldTo.
var MoveLoop = eventloop.New()

// Collaborators holds the MMIO drivers StartKernel wires into the core.
// Concrete register-level implementations live outside this module;
// production boot code supplies real drivers, tests supply
// kernel/hal/halfake fakes. LEDs is the shell's `led` command surface.
type Collaborators struct {
	InterruptController hal.InterruptController
	SystemTimer         hal.SystemTimer
	UART                hal.UART
	Watchdog            hal.Watchdog
	LEDs                []hal.GPIO
}

// consoleWriter adapts hal.UART's byte-oriented Put to io.Writer so kfmt can
// send its formatted output there once the console is up.
type consoleWriter struct{ uart hal.UART }

func (c consoleWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		c.uart.Put(b)
	}
	return len(p), nil
}

// uartHandler routes each drained UART byte into MainLoop as a serial_rx
// event.
func uartHandler(b byte) {
	MainLoop.FireEvent(eventloop.Event{Type: eventloop.EventSerialRX, Data: uint32(b)})
}

// timerEventHandler is armed on system_timer slot 1: each compare match
// fires a system_timer event carrying the counter value into MainLoop.
func timerEventHandler(slot hal.TimerSlot, value uint32, ctx *irq.Context, userdata interface{}) {
	MainLoop.FireEvent(eventloop.Event{Type: eventloop.EventSystemTimer, Data: value})
}

// timerSources pairs each system-timer compare slot with its interrupt
// source number for the IRQ demux below.
var timerSources = [...]struct {
	source uint8
	slot   hal.TimerSlot
}{
	{hal.SourceSysTimer0, hal.TimerSlot0},
	{hal.SourceSysTimer1, hal.TimerSlot1},
	{hal.SourceSysTimer2, hal.TimerSlot2},
	{hal.SourceSysTimer3, hal.TimerSlot3},
}

// irqHandler is the registered KindIRQ handler: the driver glue that
// demultiplexes the shared IRQ line across the sources the core cares
// about. Every pending timer slot is re-armed via Reset, which also
// invokes the slot's callback (the scheduler tick on slot 3, the
// system_timer event producer on slot 1). It always returns ResultNext;
// any thread context switch kernel/sched performed along the way already
// expressed itself by rewriting ctx.Address, which the dispatcher's own
// +4 then resolves correctly.
func irqHandler(c Collaborators) irq.Handler {
	return func(ctx *irq.Context) irq.Result {
		for _, ts := range timerSources {
			if c.InterruptController.CheckPending(ts.source) {
				c.SystemTimer.Reset(ts.slot, ctx)
			}
		}
		if c.InterruptController.CheckPending(hal.SourceUART) {
			c.UART.HandleInterrupt(uartHandler)
		}
		return irq.ResultNext
	}
}

// heapArena reinterprets the HeapArenaSize bytes starting at addr as a Go
// byte slice without copying, the same unsafe.Pointer/reflect.SliceHeader
// technique kernel/mem.Memset uses to operate directly on raw addresses.
func heapArena(addr uintptr) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  int(config.HeapArenaSize),
		Cap:  int(config.HeapArenaSize),
	}))
}

// mainHeap is the kernel's single arena allocator, carved out of the
// region above endOfKernel's seven per-mode stacks.
var mainHeap heap.Heap

// moveLoopThread is the entry point of the kernel thread hosting
// MoveLoop, so the shell's "move" command has a second live loop to
// migrate into.
func moveLoopThread(unsafe.Pointer) { MoveLoop.Run() }

// StartKernel is the kernel's single entry symbol. The rt0 assembly stub
// passes the address of the linker-defined _end_of_kernel symbol as
// endOfKernel, keeping linker-script knowledge out of Go code. StartKernel
// never returns: once every subsystem is wired it hands control to
// MainLoop.Run, which alternates event-loop steps with kernel/sched.Yield
// forever.
func StartKernel(endOfKernel uintptr, c Collaborators) {
	kfmt.SetOutputSink(consoleWriter{uart: c.UART})
	kfmt.SetMinLevel(kfmt.LevelInfo)
	kfmt.Printf("booting\n")

	threadBase := endOfKernel + modeStackCount*config.ModeStackSize
	heapBase := threadBase + config.ThreadCount*config.ThreadStackSize
	mainHeap.Init(heapArena(heapBase))

	irq.SetHandler(irq.KindIRQ, irqHandler(c))
	irq.EventLoopEntry = MainLoop.Run
	irq.Init()

	rep := except.New(c.UART)
	rep.Task = func() coroutine.Info { return MainLoop.Info(MainLoop.Current()) }
	except.Install(rep)

	sched.Init(threadBase, c.InterruptController, c.SystemTimer)
	eventloop.SetYieldFunc(sched.Yield)
	sync.SetYieldFunc(sched.Yield)

	c.InterruptController.EnableSource(hal.SourceSysTimer1)
	c.SystemTimer.Setup(hal.TimerSlot1, config.SystemTimerInterval, timerEventHandler, nil)

	c.InterruptController.EnableSource(hal.SourceUART)

	if _, err := sched.Create(moveLoopThread, nil); err != nil {
		kfmt.Warn("could not start secondary event-loop thread: %s", err.Error())
	}

	kfmt.Printf("heap: %d bytes free\n", mainHeap.Stats().Total)

	MainLoop.Submit(coroutine.Info{Name: "shell", Critical: true}, shell.Run(shell.Deps{
		UART:     c.UART,
		Heap:     &mainHeap,
		LEDs:     c.LEDs,
		Watchdog: c.Watchdog,
		Loop:     MainLoop,
		MoveLoop: MoveLoop,
	}))

	MainLoop.Run()
}

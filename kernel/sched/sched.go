// Package sched implements the preemptive thread scheduler: a fixed table
// of thread control blocks, a ready queue, two SVC entry points
// (terminate, yield) and a system-timer-driven preemption tick. It is the
// preemptive layer of the kernel's two-layer concurrency model;
// kernel/eventloop implements the cooperative layer on top of whatever
// thread runs it.
package sched

import (
	"unsafe"

	"armkernel/kernel"
	"armkernel/kernel/config"
	"armkernel/kernel/cpu"
	"armkernel/kernel/errors"
	"armkernel/kernel/hal"
	"armkernel/kernel/irq"
	"armkernel/kernel/mem"
	"armkernel/kernel/queue"
)

// state is a thread's position in the empty -> ready -> running ->
// (ready | waiting | empty) state machine.
type state uint8

const (
	stateEmpty state = iota
	stateReady
	stateWaiting
	stateRunning
)

// WaitType distinguishes why a waiting thread is parked. Nothing sets it
// past the zero value yet; it is reserved for blocking sleep/IO waits.
type WaitType uint8

const (
	WaitSleep WaitType = iota
	WaitUART
)

// registers mirrors the ARM register file a thread carries across a
// preemption: r0-r12, the user-mode banked lr/sp, the saved program status
// register and the resume pc.
type registers struct {
	R   [13]uint32
	LR  uint32
	SP  uint32
	PC  uint32
	PSR uint32
}

// tcb is one thread control block.
type tcb struct {
	queue.Linked[tcb]

	regs     registers
	state    state
	waitType WaitType
	waitArg  uint32
}

func (t *tcb) isEmpty() bool { return t.state == stateEmpty }

// EntryPoint is a thread's top-level function. On real hardware the
// restored PC jumps directly to this address in user mode; it never
// receives a normal Go call, so it must not assume goroutine-scheduler
// niceties (no blocking channel ops, no allocation before the heap is up).
type EntryPoint func(arg unsafe.Pointer)

// funcPC extracts the code address a Go function value points to. This
// relies on the current func-value layout (a pointer to a code pointer)
// instead of importing package reflect, which must stay out of the
// freestanding boot path.
func funcPC(f interface{}) uintptr {
	type iface struct {
		tab  unsafe.Pointer
		data unsafe.Pointer
	}
	return **(**uintptr)(unsafe.Pointer(&(*iface)(unsafe.Pointer(&f)).data))
}

var (
	threads      [config.ThreadCount]tcb
	threadStacks [config.ThreadCount]uintptr

	threadRunning *tcb
	readyQueue    queue.Queue[tcb, *tcb]

	nextThreadID uint32 = 1

	timer hal.SystemTimer
)

// Init wires the scheduler into the interrupt controller and system timer,
// reserves threadStacks above base (_end_of_kernel + 6*ModeStackSize,
// just past the six mode stacks), marks slot 0 as the
// currently running thread (the thread that called Init itself -
// conventionally the event-loop thread) and registers the terminate/yield
// SVC handlers.
func Init(base uintptr, ic hal.InterruptController, st hal.SystemTimer) {
	timer = st

	for i := range threadStacks {
		threadStacks[i] = base + uintptr(i)*config.ThreadStackSize
		threads[i] = tcb{}
	}
	threads[0].state = stateRunning
	threadRunning = &threads[0]

	ic.EnableSource(hal.SourceSysTimer3)
	timer.Setup(hal.TimerSlot3, config.SystemTimerInterval, schedulerTimerTick, nil)

	irq.RegisterSVC(0x04, terminateThread)
	irq.RegisterSVC(0x05, yieldThread)
}

// preparedThread is the result of Prepare: an empty TCB slot has been
// claimed and its argument area sized (r0 already points at it), but the
// caller has not yet filled that area in.
type preparedThread struct {
	id      uint32
	block   *tcb
	argPtr  uintptr
	argSize uintptr
}

// Arg returns the address of the reserved argument area; the caller writes
// up to argSize bytes there before calling Start.
func (p preparedThread) Arg() uintptr { return p.argPtr }

// Prepare is the first phase of thread creation: it reserves an empty
// thread slot and argument space for a future thread. Fails with
// ErrNoFreeThread if the table is full, ErrOutOfArgumentMemory if argsSize
// exceeds a thread's stack, or ErrNoMoreThreadIDs once the id counter
// saturates.
func Prepare(entry EntryPoint, argsSize uintptr) (preparedThread, error) {
	if nextThreadID == 0 {
		return preparedThread{}, errors.ErrNoMoreThreadIDs
	}
	if argsSize > config.ThreadStackSize {
		return preparedThread{}, errors.ErrOutOfArgumentMemory
	}

	var block *tcb
	var stackTop uintptr
	for i := range threads {
		if threads[i].isEmpty() {
			block = &threads[i]
			stackTop = threadStacks[i] + config.ThreadStackSize
			break
		}
	}
	if block == nil {
		return preparedThread{}, errors.ErrNoFreeThread
	}

	argPtr := stackTop - argsSize
	sp := argPtr - argPtr%8

	// The slot is claimed (ready) from this point on so a concurrent
	// Prepare cannot hand it out again before Start enqueues it.
	*block = tcb{
		regs: registers{
			PC:  uint32(funcPC(entry)),
			SP:  uint32(sp),
			LR:  uint32(funcPC(EntryPoint(terminateUserTrampoline))),
			PSR: uint32(cpu.ModeUser),
		},
		state: stateReady,
	}
	block.regs.R[0] = uint32(argPtr)

	id := nextThreadID
	nextThreadID++
	return preparedThread{id: id, block: block, argPtr: argPtr, argSize: argsSize}, nil
}

// Start enqueues a prepared thread on the ready queue, returning the id
// assigned at Prepare time.
func Start(p preparedThread) uint32 {
	p.block.state = stateReady
	readyQueue.Add(p.block)
	return p.id
}

// Create is the one-shot convenience wrapping Prepare/fill-args/Start: it
// copies args into the reserved argument area itself.
func Create(entry EntryPoint, args []byte) (uint32, error) {
	p, err := Prepare(entry, uintptr(len(args)))
	if err != nil {
		return 0, err
	}
	if len(args) != 0 {
		mem.Memcopy(uintptr(unsafe.Pointer(&args[0])), p.argPtr, uintptr(len(args)))
	}
	return Start(p), nil
}

// terminateUserTrampoline is the default return address planted in a
// freshly prepared thread's lr: falling off the end of a thread's entry
// function executes this, which raises SVC 0x04 (terminateThread) exactly
// as though the thread had called Terminate itself.
func terminateUserTrampoline(unsafe.Pointer) { Terminate() }

// Terminate triggers SVC 0x04, ending the calling thread. Implemented in
// sched_arm.s; it never returns.
func Terminate()

// Yield triggers SVC 0x05, voluntarily giving up the remainder of the
// calling thread's quantum. Implemented in sched_arm.s. kernel/boot wires
// this into kernel/eventloop.SetYieldFunc and kernel/sync.SetYieldFunc so
// both the event loop and contended spinlocks cooperate with the
// scheduler instead of spinning at full priority.
func Yield()

func preempt() {
	threadRunning.state = stateReady
	readyQueue.Add(threadRunning)
	threadRunning = nil
}

func continueNext() *tcb {
	threadRunning = readyQueue.Remove()
	if threadRunning == nil {
		panic(&kernel.Error{Module: "sched", Message: "no more threads to run"})
	}
	threadRunning.state = stateRunning
	return threadRunning
}

func saveRegisters(t *tcb, ctx *irq.Context) {
	copy(t.regs.R[:], ctx.Regs.R[:])
	t.regs.LR = readBankedFn(cpu.ModeUser, cpu.RegLR)
	t.regs.SP = readBankedFn(cpu.ModeUser, cpu.RegSP)
	t.regs.PSR = savedPSRFn().Raw()
	t.regs.PC = ctx.Address + 4
}

// restoreRegisters writes t's saved register file into ctx so the
// dispatcher resumes t instead of whoever trapped.
// SPSR is banked per the mode the dispatcher itself is currently running
// in (supervisor mode for the SVC path, IRQ mode for the timer-preemption
// path), not t's own saved mode, since it is *this* trap's exception
// return that consumes it.
func restoreRegisters(t *tcb, ctx *irq.Context) {
	copy(ctx.Regs.R[:], t.regs.R[:])
	restoreBankedFn(cpu.ModeUser, cpu.RegLR, t.regs.LR)
	restoreBankedFn(cpu.ModeUser, cpu.RegSP, t.regs.SP)
	restoreBankedFn(currentModeFn(), cpu.RegSPSR, t.regs.PSR)
	ctx.Address = t.regs.PC - 4
}

// restoreBankedFn writes a banked register. Implemented in sched_arm.s;
// substituted in tests the same way kernel/cpu mocks currentPSRFn. The
// read-side fns below are injectable for the same reason: saveRegisters
// must not require real banked-register access under go test.
var restoreBankedFn = restoreBanked

var (
	readBankedFn = cpu.ReadBanked
	savedPSRFn   = cpu.Saved
)

// currentModeFn reads the dispatcher's own current mode. Substituted in
// tests so restoreRegisters doesn't require real CPSR access.
var currentModeFn = func() cpu.Mode { return cpu.Current().CPUMode() }

func restoreBanked(mode cpu.Mode, reg cpu.Register, value uint32)

// terminateThread is the SVC 0x04 handler. It always returns ResultNext:
// restoreRegisters has already written the next thread's resume point
// into ctx.Address such that the dispatcher's own +4 produces it.
func terminateThread(ctx *irq.Context) irq.Result {
	threadRunning.state = stateEmpty
	next := continueNext()
	restoreRegisters(next, ctx)
	return irq.ResultNext
}

// yieldThread is the SVC 0x05 handler and the system-timer preemption
// path. An empty ready queue is a no-op continuation; otherwise the
// running thread is saved and requeued, and the next ready thread's
// registers are restored into ctx.
func yieldThread(ctx *irq.Context) irq.Result {
	if readyQueue.Peek() == nil {
		return irq.ResultNext
	}

	current := threadRunning
	if current != nil {
		saveRegisters(current, ctx)
		preempt()
	}

	restoreRegisters(continueNext(), ctx)
	return irq.ResultNext
}

// schedulerTimerTick is the system_timer slot 3 callback: equivalent to a
// forced yield SVC. It is invoked by
// hal.SystemTimer.Reset, which has already re-armed the compare; this
// callback only performs the scheduling decision, it must not re-arm the
// timer itself (that would recurse back into this same callback).
func schedulerTimerTick(slot hal.TimerSlot, value uint32, ctx *irq.Context, userdata interface{}) {
	yieldThread(ctx)
}

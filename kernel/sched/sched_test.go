package sched

import (
	"testing"
	"unsafe"

	"armkernel/kernel/config"
	"armkernel/kernel/cpu"
	"armkernel/kernel/errors"
	"armkernel/kernel/hal"
	"armkernel/kernel/hal/halfake"
	"armkernel/kernel/irq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reset re-initializes all package-level scheduler state so each test runs
// against a clean thread table, matching the way kernel/boot re-runs Init
// once at startup.
func reset(t *testing.T, base uintptr) (hal.InterruptController, hal.SystemTimer) {
	t.Helper()
	ic := halfake.NewInterruptController()
	st := halfake.NewSystemTimer()

	restoreBankedFn = func(mode cpu.Mode, reg cpu.Register, value uint32) {}
	readBankedFn = func(mode cpu.Mode, reg cpu.Register) uint32 { return 0 }
	savedPSRFn = func() cpu.PSR { return cpu.NewPSR(uint32(cpu.ModeUser)) }
	currentModeFn = func() cpu.Mode { return cpu.ModeSupervisor }
	t.Cleanup(func() {
		restoreBankedFn = restoreBanked
		readBankedFn = cpu.ReadBanked
		savedPSRFn = cpu.Saved
		currentModeFn = func() cpu.Mode { return cpu.Current().CPUMode() }
	})

	Init(base, ic, st)
	return ic, st
}

func newArenaBase(t *testing.T) uintptr {
	t.Helper()
	arena := make([]byte, config.ThreadCount*config.ThreadStackSize)
	return uintptr(unsafe.Pointer(&arena[0]))
}

func noopEntry(unsafe.Pointer) {}

// TestPrepareRoundTrip checks that a prepared and started thread's saved
// registers point pc at entry, r0 at the filled argument area, and lr at
// the terminate trampoline.
func TestPrepareRoundTrip(t *testing.T) {
	reset(t, newArenaBase(t))

	p, err := Prepare(noopEntry, 4)
	require.NoError(t, err)

	arg := (*uint32)(unsafe.Pointer(p.Arg()))
	*arg = 0xcafef00d

	id := Start(p)
	assert.NotZero(t, id)

	assert.EqualValues(t, uint32(funcPC(noopEntry)), p.block.regs.PC)
	assert.EqualValues(t, p.argPtr, p.block.regs.R[0])
	assert.EqualValues(t, uint32(funcPC(EntryPoint(terminateUserTrampoline))), p.block.regs.LR)
	assert.Equal(t, stateReady, p.block.state)
	assert.Zero(t, p.block.regs.SP%8, "sp must be 8-byte aligned")
}

func TestPrepareExhaustsThreadTable(t *testing.T) {
	reset(t, newArenaBase(t))

	// slot 0 is the bootstrap thread; config.ThreadCount-1 remain.
	for i := 0; i < config.ThreadCount-1; i++ {
		_, err := Prepare(noopEntry, 0)
		require.NoError(t, err)
	}

	_, err := Prepare(noopEntry, 0)
	assert.ErrorIs(t, err, errors.ErrNoFreeThread)
}

func TestPrepareArgsTooLarge(t *testing.T) {
	reset(t, newArenaBase(t))

	_, err := Prepare(noopEntry, config.ThreadStackSize+1)
	assert.ErrorIs(t, err, errors.ErrOutOfArgumentMemory)
}

// TestTerminateFreesSlot checks that once a thread's terminate SVC has
// been serviced, its TCB slot becomes empty and Prepare can reuse it.
func TestTerminateFreesSlot(t *testing.T) {
	reset(t, newArenaBase(t))

	p, err := Prepare(noopEntry, 0)
	require.NoError(t, err)
	Start(p)

	ctx := &irq.Context{Regs: &irq.Registers{}}
	result := yieldThread(ctx) // thread 0 yields, p's thread runs
	require.Equal(t, irq.ResultNext, result)
	assert.Equal(t, stateRunning, p.block.state)

	result = terminateThread(ctx) // p's thread terminates
	require.Equal(t, irq.ResultNext, result)
	assert.Equal(t, stateEmpty, p.block.state)

	// the slot should be reusable now.
	reused, err := Prepare(noopEntry, 0)
	require.NoError(t, err)
	assert.Same(t, p.block, reused.block)
}

// TestYieldWithEmptyReadyQueueIsNoOp: no ready thread means the yield SVC
// continues with ResultNext and no state change.
func TestYieldWithEmptyReadyQueueIsNoOp(t *testing.T) {
	reset(t, newArenaBase(t))

	ctx := &irq.Context{Regs: &irq.Registers{}, Address: 0x1000}
	result := yieldThread(ctx)

	assert.Equal(t, irq.ResultNext, result)
	assert.Equal(t, stateRunning, threads[0].state)
}

// TestSchedulerTimerTickPreemptsRunningThread: the timer callback is
// equivalent to a forced yield when the ready queue is non-empty.
func TestSchedulerTimerTickPreemptsRunningThread(t *testing.T) {
	reset(t, newArenaBase(t))

	p, err := Prepare(noopEntry, 0)
	require.NoError(t, err)
	Start(p)

	ctx := &irq.Context{Regs: &irq.Registers{}}
	schedulerTimerTick(hal.TimerSlot3, config.SystemTimerInterval, ctx, nil)

	assert.Equal(t, stateReady, threads[0].state)
	assert.Equal(t, stateRunning, p.block.state)
}

// TestNoReadyThreadOnTerminateIsFatal: terminating the last live thread
// leaves nothing to run, which is fatal.
func TestNoReadyThreadOnTerminateIsFatal(t *testing.T) {
	reset(t, newArenaBase(t))

	ctx := &irq.Context{Regs: &irq.Registers{}}
	assert.Panics(t, func() { terminateThread(ctx) })
}

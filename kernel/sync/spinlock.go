// Package sync provides synchronization primitives for code paths that run
// outside the single coroutine/thread context the rest of the kernel
// otherwise relies on for serialization.
package sync

import "sync/atomic"

const spinsBeforeYield = 64

var (
	// yieldFn is called after spinning for a while without acquiring the
	// lock. It defaults to nil (no yield); kernel/boot wires in
	// kernel/sched.Yield right after sched.Init, so a thread contending for
	// a lock gives up its quantum instead of busy-waiting through it.
	yieldFn func()
)

// SetYieldFunc installs the function called by Acquire after
// spinsBeforeYield unsuccessful attempts. kernel/boot calls this right
// after sched.Init with kernel/sched.Yield so lock contention cooperates with
// preemption instead of wasting a full timeslice spinning.
func SetYieldFunc(fn func()) {
	yieldFn = fn
}

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active
// task. Any attempt to re-acquire a lock already held by the current task
// will deadlock.
func (l *Spinlock) Acquire() {
	attempts := uint32(0)
	for !l.TryToAcquire() {
		attempts++
		if attempts >= spinsBeforeYield && yieldFn != nil {
			yieldFn()
			attempts = 0
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock
// could be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock, allowing other tasks to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

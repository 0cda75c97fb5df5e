// Package config collects the kernel's compile-time tunables in one place:
// arena/queue sizes, the system timer interval, per-mode stack geometry
// and the thread table dimensions. Every other package takes these as
// explicit values or parameters rather than importing this package
// directly, except the handful of wiring points (kernel/boot,
// kernel/sched, kernel/eventloop) that need the canonical numbers.
package config

const (
	// HeapArenaSize is the size in bytes of the single contiguous heap
	// arena.
	HeapArenaSize = 0x8000

	// EventQueueSize is the capacity of an event loop's event ring.
	EventQueueSize = 1024

	// SystemTimerInterval is the number of timer ticks between
	// consecutive system_timer compare interrupts.
	SystemTimerInterval = 1000000

	// ModeStackSize is the size reserved for each privileged-mode stack
	// above _end_of_kernel.
	ModeStackSize = 0x100000

	// ThreadCount is the number of fixed slots in the thread table.
	ThreadCount = 32

	// ThreadStackSize is the per-thread stack reserved above the mode
	// stacks.
	ThreadStackSize = 0x10000
)

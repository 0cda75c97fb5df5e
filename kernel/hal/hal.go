// Package hal declares the MMIO collaborator contracts the kernel core
// consumes but never implements itself. Concrete register-level drivers
// for real hardware live outside this module; kernel/hal/halfake supplies
// in-memory fakes so kernel/eventloop, kernel/sched and kernel/except are
// exercisable under `go test` without a board attached.
package hal

import "armkernel/kernel/irq"

// Interrupt sources on the BCM-style controller the reference board uses.
// Only the sources the core actually wires up are named; the full 0..63
// range is addressable by number via InterruptController.
const (
	SourceSysTimer0 uint8 = 0
	SourceSysTimer1 uint8 = 1
	SourceSysTimer2 uint8 = 2
	SourceSysTimer3 uint8 = 3
	SourceUART      uint8 = 57
)

// InterruptController enables, disables and polls the pending state of one
// of 64 interrupt sources.
type InterruptController interface {
	EnableSource(n uint8)
	DisableSource(n uint8)
	CheckPending(n uint8) bool
}

// TimerSlot identifies one of the system timer's four independent compare
// channels.
type TimerSlot uint8

const (
	TimerSlot0 TimerSlot = 0
	TimerSlot1 TimerSlot = 1
	TimerSlot2 TimerSlot = 2
	TimerSlot3 TimerSlot = 3
)

// TimerCallback is invoked by SystemTimer.Reset with the slot, the
// free-running counter value at the compare match (the payload a
// system_timer event carries) and the interrupt context it fired inside
// of, plus whatever userdata Setup was called with.
type TimerCallback func(slot TimerSlot, value uint32, ctx *irq.Context, userdata interface{})

// SystemTimer is the four-channel free-running compare timer. Setup arms a
// slot to fire `interval` ticks from now and remembers the callback; Reset
// re-arms the same slot and invokes the callback with the interrupt
// context the caller observed the match in.
type SystemTimer interface {
	Setup(slot TimerSlot, interval uint32, callback TimerCallback, userdata interface{})
	Reset(slot TimerSlot, ctx *irq.Context)
}

// UART is the PL011 serial console. Put and Get busy-wait on the hardware
// TXFF/RXFE status bits; HandleInterrupt drains the RX FIFO, firing a
// caller-supplied byte sink for each byte read, then clears MIS.
type UART interface {
	Put(b byte)
	Get() byte
	Available() bool
	HandleInterrupt(onByte func(b byte))
}

// Watchdog restarts or powers off the board by writing the BCM2835
// PM_PASSWORD-tagged magic values to the power-management watchdog
// registers. Both calls never return on real hardware.
type Watchdog interface {
	Restart()
	PowerOff()
}

// GPIOFunc selects a pin's direction.
type GPIOFunc uint8

const (
	GPIOInput  GPIOFunc = 0
	GPIOOutput GPIOFunc = 1
)

// GPIO is a single configurable pin, used by the shell's `led` command
// (the reference board names five onboard LEDs by pin number).
type GPIO interface {
	Configure(f GPIOFunc)
	Set(on bool)
}

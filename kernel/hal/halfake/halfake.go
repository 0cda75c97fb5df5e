// Package halfake provides in-memory fakes implementing kernel/hal's
// collaborator interfaces so kernel/eventloop, kernel/sched and
// kernel/except can be exercised under `go test` without real MMIO.
package halfake

import (
	"armkernel/kernel/hal"
	"armkernel/kernel/irq"
)

// InterruptController is a map-backed fake of hal.InterruptController.
type InterruptController struct {
	Enabled map[uint8]bool
	Pending map[uint8]bool
}

// NewInterruptController returns a ready-to-use fake with nothing enabled
// or pending.
func NewInterruptController() *InterruptController {
	return &InterruptController{Enabled: map[uint8]bool{}, Pending: map[uint8]bool{}}
}

func (c *InterruptController) EnableSource(n uint8)      { c.Enabled[n] = true }
func (c *InterruptController) DisableSource(n uint8)     { c.Enabled[n] = false }
func (c *InterruptController) CheckPending(n uint8) bool { return c.Pending[n] }

var _ hal.InterruptController = (*InterruptController)(nil)

type timerSlotState struct {
	interval uint32
	callback hal.TimerCallback
	userdata interface{}
}

// SystemTimer is a fake of hal.SystemTimer; Reset advances a fake
// free-running counter by the slot's interval and invokes whatever
// callback the slot was last Setup with, passing the counter the way the
// real timer passes the compare-match value.
type SystemTimer struct {
	slots   [4]timerSlotState
	Counter uint32
}

// NewSystemTimer returns a fake with no slots armed.
func NewSystemTimer() *SystemTimer { return &SystemTimer{} }

func (t *SystemTimer) Setup(slot hal.TimerSlot, interval uint32, callback hal.TimerCallback, userdata interface{}) {
	t.slots[slot] = timerSlotState{interval: interval, callback: callback, userdata: userdata}
}

func (t *SystemTimer) Reset(slot hal.TimerSlot, ctx *irq.Context) {
	s := t.slots[slot]
	if s.callback != nil {
		t.Counter += s.interval
		s.callback(slot, t.Counter, ctx, s.userdata)
	}
}

var _ hal.SystemTimer = (*SystemTimer)(nil)

// UART is an in-memory fake of hal.UART: Get/HandleInterrupt drain a
// preloaded RX buffer, Put appends to a TX log a test can assert against.
type UART struct {
	RX  []byte
	TX  []byte
	pos int
}

// NewUART returns a fake preloaded with rx as the bytes Get/HandleInterrupt
// will return in order.
func NewUART(rx ...byte) *UART { return &UART{RX: rx} }

func (u *UART) Put(b byte) { u.TX = append(u.TX, b) }

func (u *UART) Get() byte {
	if u.pos >= len(u.RX) {
		return 0
	}
	b := u.RX[u.pos]
	u.pos++
	return b
}

func (u *UART) Available() bool { return u.pos < len(u.RX) }

func (u *UART) HandleInterrupt(onByte func(b byte)) {
	for u.Available() {
		onByte(u.Get())
	}
}

var _ hal.UART = (*UART)(nil)

// Watchdog is a fake of hal.Watchdog that records calls instead of halting
// the process, since Restart/PowerOff never return on real hardware.
type Watchdog struct {
	Restarted  bool
	PoweredOff bool
}

func (w *Watchdog) Restart()  { w.Restarted = true }
func (w *Watchdog) PowerOff() { w.PoweredOff = true }

var _ hal.Watchdog = (*Watchdog)(nil)

// GPIO is a fake of hal.GPIO recording the last configured function and
// output state.
type GPIO struct {
	Func hal.GPIOFunc
	On   bool
}

func (g *GPIO) Configure(f hal.GPIOFunc) { g.Func = f }
func (g *GPIO) Set(on bool)              { g.On = on }

var _ hal.GPIO = (*GPIO)(nil)

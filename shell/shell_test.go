package shell

import (
	"bytes"
	"testing"

	"armkernel/kernel/coroutine"
	"armkernel/kernel/eventloop"
	"armkernel/kernel/hal"
	"armkernel/kernel/hal/halfake"
	"armkernel/kernel/heap"
	"armkernel/kernel/kfmt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withCapturedOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	// installing the sink replays anything earlier tests printed while no
	// sink was set (e.g. spawn traces); drop it so assertions see only this
	// test's output.
	buf.Reset()
	t.Cleanup(func() { kfmt.SetOutputSink(nil) })
	return &buf
}

func TestParseUint(t *testing.T) {
	specs := []struct {
		in    string
		want  uint64
		valid bool
	}{
		{"100", 100, true},
		{"0x2A", 0x2a, true},
		{"0", 0, true},
		{"-5", 0, false},
		{"notanumber", 0, false},
	}
	for _, s := range specs {
		v, ok := parseUint(s.in)
		assert.Equal(t, s.valid, ok, "input %q", s.in)
		if ok {
			assert.Equal(t, s.want, v, "input %q", s.in)
		}
	}
}

// TestReadLineSubmitsOnCR: CR submits the line, and every typed byte is
// echoed back to the console.
func TestReadLineSubmitsOnCR(t *testing.T) {
	loop := eventloop.New()
	uart := halfake.NewUART()

	var got string
	var ok bool
	done := make(chan struct{})
	loop.Submit(coroutine.Info{Name: "reader"}, func(y *coroutine.Yielder) uint32 {
		got, ok = readLine(y, loop, uart, "> ")
		close(done)
		return 0
	})

	for _, b := range []byte("hi\r") {
		loop.FireEvent(eventloop.Event{Type: eventloop.EventSerialRX, Data: uint32(b)})
	}
	// the three bytes were queued before step 0's synthesized tick, so the
	// first three steps deliver them; the remaining steps only drain the
	// tick.
	for i := 0; i < 5; i++ {
		loop.Step()
	}

	<-done
	assert.True(t, ok)
	assert.Equal(t, "hi", got)
}

// TestReadLineHandlesBackspace exercises the 0x7f/0x08 erase-last-char rule.
func TestReadLineHandlesBackspace(t *testing.T) {
	loop := eventloop.New()
	uart := halfake.NewUART()

	var got string
	done := make(chan struct{})
	loop.Submit(coroutine.Info{Name: "reader"}, func(y *coroutine.Yielder) uint32 {
		got, _ = readLine(y, loop, uart, "")
		close(done)
		return 0
	})

	for _, b := range []byte{'h', 'i', 'q', charDelete, '\r'} {
		loop.FireEvent(eventloop.Event{Type: eventloop.EventSerialRX, Data: uint32(b)})
	}
	for i := 0; i < 7; i++ {
		loop.Step()
	}

	<-done
	assert.Equal(t, "hi", got)
}

func newDeps(t *testing.T) (Deps, *halfake.UART) {
	t.Helper()
	loop := eventloop.New()
	uart := halfake.NewUART()
	h := heap.New(0x8000)
	return Deps{
		UART:     uart,
		Heap:     h,
		LEDs:     nil,
		Watchdog: &halfake.Watchdog{},
		Loop:     loop,
	}, uart
}

func TestDispatchHello(t *testing.T) {
	buf := withCapturedOutput(t)
	d, _ := newDeps(t)
	st := &state{}

	dispatch(nil, d, st, "hello")

	assert.Equal(t, "world\n", buf.String())
}

func TestDispatchDebugToggle(t *testing.T) {
	buf := withCapturedOutput(t)
	d, _ := newDeps(t)
	st := &state{}

	dispatch(nil, d, st, "debug")
	assert.Contains(t, buf.String(), "Debug mode is on.")
	assert.True(t, st.debugMode)

	buf.Reset()
	kfmt.Debug("visible while debug mode is on")
	assert.Contains(t, buf.String(), "visible while debug mode is on")

	buf.Reset()
	dispatch(nil, d, st, "debug")
	assert.Contains(t, buf.String(), "Debug mode is off.")

	buf.Reset()
	kfmt.Debug("suppressed while debug mode is off")
	assert.Empty(t, buf.String())

	kfmt.SetMinLevel(kfmt.LevelTrace)
}

func TestDispatchMallocAllocates(t *testing.T) {
	buf := withCapturedOutput(t)
	d, _ := newDeps(t)
	st := &state{}

	dispatch(nil, d, st, "malloc 16")
	assert.Contains(t, buf.String(), "Allocated 16 bytes")

	s := d.Heap.Stats()
	assert.EqualValues(t, 1, s.NumAllocations)
}

func TestDispatchLEDUsageAndRange(t *testing.T) {
	d, _ := newDeps(t)
	led := &halfake.GPIO{}
	d.LEDs = []hal.GPIO{led}
	st := &state{}

	buf := withCapturedOutput(t)
	dispatch(nil, d, st, "led 1 on")
	assert.True(t, led.On)

	buf.Reset()
	dispatch(nil, d, st, "led notanumber on")
	assert.Contains(t, buf.String(), "Cannot parse LED number")

	buf.Reset()
	dispatch(nil, d, st, "led 5 on")
	assert.Contains(t, buf.String(), "is not between")

	buf.Reset()
	dispatch(nil, d, st, "led 1 sideways")
	assert.Contains(t, buf.String(), "Usage: led")
}

func TestDispatchUnknownCommand(t *testing.T) {
	buf := withCapturedOutput(t)
	d, _ := newDeps(t)
	st := &state{}

	dispatch(nil, d, st, "bogus")

	assert.Contains(t, buf.String(), "Unknown command: bogus")
}

// TestDispatchWhoami exercises the whoami command's use of
// eventloop.Loop.Info/Current, which requires running inside an actual
// coroutine rather than being called with a nil Yielder. The reply carries
// the full descriptor including the spawn site the arena recorded.
func TestDispatchWhoami(t *testing.T) {
	buf := withCapturedOutput(t)
	d, _ := newDeps(t)
	st := &state{}

	done := make(chan struct{})
	d.Loop.Submit(coroutine.Info{Name: "shell"}, func(y *coroutine.Yielder) uint32 {
		dispatch(y, d, st, "whoami")
		close(done)
		return 0
	})
	<-done

	assert.Contains(t, buf.String(), `I am ["shell"`)
	assert.Contains(t, buf.String(), "shell_test.go:")
	assert.Contains(t, buf.String(), "]!")
}

// TestDispatchMoveMigratesAndReturns exercises the "move" command's use
// of eventloop.Loop.YieldTo to migrate to MoveLoop and back.
func TestDispatchMoveMigratesAndReturns(t *testing.T) {
	buf := withCapturedOutput(t)
	d, _ := newDeps(t)
	d.MoveLoop = eventloop.New()
	st := &state{}

	done := make(chan struct{})
	h := d.Loop.Submit(coroutine.Info{Name: "shell"}, func(y *coroutine.Yielder) uint32 {
		dispatch(y, d, st, "move")
		close(done)
		return 0
	})
	require.NotZero(t, h)

	// MoveLoop's first Step dequeues the migration yield and drives the
	// coroutine to its first tick await.
	d.MoveLoop.Step()
	for i := 0; i < 10; i++ {
		d.MoveLoop.FireEvent(eventloop.Event{Type: eventloop.EventTick, Data: uint32(i)})
		d.MoveLoop.Step()
	}
	// the tenth tick drives the loop to completion and the final YieldTo
	// back onto Loop, which needs one more Step to land.
	d.Loop.Step()

	<-done
	assert.Contains(t, buf.String(), "Moved to test event loop")
	assert.Contains(t, buf.String(), "Moved back to main event loop")
}

func TestDispatchHelpListsEveryCommand(t *testing.T) {
	buf := withCapturedOutput(t)
	d, _ := newDeps(t)
	st := &state{}

	dispatch(nil, d, st, "help")

	require.Contains(t, buf.String(), "malloc <n>")
	require.Contains(t, buf.String(), "led <n> on|off")
	for _, cmd := range []string{
		"hello", "stats", "free <p>", "whoami", "trap", "breakpoint",
		"syscall", "unaligned", "reboot", "restart", "shutdown", "poweroff",
		"panic", "move", "debug", "help",
	} {
		require.Contains(t, buf.String(), cmd)
	}
}

// Package eventloop implements the per-thread event loop that dispatches
// typed hardware events to waiting coroutines. A Loop owns everything a
// suspended task needs: the task-frame arena, the per-event-type awaiter
// chains, the yield FIFO and the bounded event queue fed from IRQ
// context.
package eventloop

import (
	"runtime"
	"strconv"
	"unsafe"

	"armkernel/kernel"
	"armkernel/kernel/config"
	"armkernel/kernel/coroutine"
	"armkernel/kernel/kfmt"
	"armkernel/kernel/queue"
	"armkernel/kernel/sync"
)

// EventType identifies what woke a coroutine.
type EventType uint32

const (
	EventTick EventType = iota
	EventSerialRX
	EventSystemTimer

	eventTypeCount
)

// Event is a tagged 32-bit payload delivered to exactly one head-of-chain
// awaiter per type.
type Event struct {
	Type EventType
	Data uint32
}

const eventQueueSize = config.EventQueueSize

// maxFrames bounds the number of live task frames a single loop can host:
// the handle arena needs a fixed size, and this one is generous enough for
// the shell's handful of concurrent demo coroutines.
const maxFrames = 64

type frame struct {
	info   coroutine.Info
	parent coroutine.Handle
	resume chan uint32
	park   chan uint32
	done   bool
}

type eventAwaiter struct {
	handle coroutine.Handle
	next   *eventAwaiter
}

type yieldNode struct {
	queue.Linked[yieldNode]
	handle coroutine.Handle
}

// Loop is one instance of the event-loop/coroutine scheduler. The zero
// value is ready to use.
type Loop struct {
	frames        [maxFrames]*frame
	eventAwaiters [eventTypeCount]*eventAwaiter
	yieldQueue    queue.Queue[yieldNode, *yieldNode]

	eqMu     sync.Spinlock
	eventQ   [eventQueueSize]Event
	readPos  int
	writePos int

	counter uint64
	current coroutine.Handle
}

// New returns a ready-to-use Loop.
func New() *Loop { return &Loop{} }

// Current returns the handle of the coroutine this loop most recently
// resumed; it remains set while that coroutine is suspended.
func (l *Loop) Current() coroutine.Handle { return l.current }

// Info returns the descriptive record a coroutine was spawned with (used
// by the shell's whoami command and by exception-path trace logging). The
// zero Info is returned for a handle with no live frame.
func (l *Loop) Info(h coroutine.Handle) coroutine.Info {
	f := l.frameAt(h)
	if f == nil {
		return coroutine.Info{}
	}
	return f.info
}

func (l *Loop) attach(f *frame) coroutine.Handle {
	for i, existing := range l.frames {
		if existing == nil {
			l.frames[i] = f
			return coroutine.Handle(i + 1)
		}
	}
	return 0
}

func (l *Loop) frameAt(h coroutine.Handle) *frame {
	if h <= 0 || int(h) > len(l.frames) {
		return nil
	}
	return l.frames[h-1]
}

func (l *Loop) release(h coroutine.Handle) {
	if h <= 0 || int(h) > len(l.frames) {
		return
	}
	l.frames[h-1] = nil
}

// spawnLocation attributes a task to the call site that created it. skip
// counts the stack frames between spawnLocation and that call site.
func spawnLocation(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???"
	}
	return file + ":" + strconv.Itoa(line)
}

func (l *Loop) spawn(info coroutine.Info, parent coroutine.Handle, body coroutine.Body) coroutine.Handle {
	if body == nil {
		return 0
	}
	if info.Location == "" {
		// spawnLocation -> spawn -> Submit/Await -> the spawning call site.
		info.Location = spawnLocation(3)
	}
	f := &frame{info: info, parent: parent, resume: make(chan uint32), park: make(chan uint32)}
	f.info.Address = uintptr(unsafe.Pointer(f))
	h := l.attach(f)
	if h == 0 {
		return 0
	}
	kfmt.Trace("created task frame for coroutine %v", f.info)
	go func() {
		<-f.resume
		result := body(coroutine.NewYielder(f.resume, f.park))
		f.done = true
		f.park <- result
	}()
	return h
}

// driveOnce sends value into a parked (or not-yet-started) frame and blocks
// until it either suspends again or runs to completion.
func driveOnce(f *frame, value uint32) (result uint32, done bool) {
	f.resume <- value
	result = <-f.park
	return result, f.done
}

// resume is the single place a frame is driven forward from outside its
// own body. On completion it implements final-suspend: a parented frame's
// parent is rescheduled with the result, an unparented (top-level) frame
// simply releases its slot.
func (l *Loop) resume(h coroutine.Handle, value uint32) uint32 {
	f := l.frameAt(h)
	if f == nil {
		return 0
	}

	l.current = h
	result, done := driveOnce(f, value)
	if !done {
		return result
	}

	parent := f.parent
	l.release(h)
	if parent == 0 {
		l.current = 0
		return result
	}
	return l.resume(parent, result)
}

// Submit installs a new top-level coroutine and performs its first resume,
// advancing it to its first suspension point. It returns 0 for a nil body
// or a full arena.
func (l *Loop) Submit(info coroutine.Info, body coroutine.Body) coroutine.Handle {
	h := l.spawn(info, 0, body)
	if h == 0 {
		return 0
	}

	f := l.frameAt(h)
	l.current = h
	result, done := driveOnce(f, 0)
	_ = result
	if done {
		kfmt.Warn("coroutine %v completed after first resume", f.info)
		l.release(h)
		l.current = 0
	}
	return h
}

// Await runs body as a child of the currently executing coroutine and
// blocks (suspending the caller if necessary) until it completes, yielding
// its result. Must be called from inside a task body using that task's own
// Yielder.
func (l *Loop) Await(y *coroutine.Yielder, info coroutine.Info, body coroutine.Body) uint32 {
	parent := l.current
	child := l.spawn(info, parent, body)
	if child == 0 {
		return 0
	}

	l.current = child
	f := l.frameAt(child)
	result, done := driveOnce(f, 0)
	if done {
		l.release(child)
		l.current = parent
		return result
	}

	// The child suspended on something of its own; it will resume us (see
	// resume's final-suspend cascade) once it eventually completes.
	return y.Await()
}

// WaitForEvent suspends the calling coroutine until the loop delivers an
// event of type t, inserting its awaiter at the head of that type's
// chain.
func (l *Loop) WaitForEvent(y *coroutine.Yielder, t EventType) uint32 {
	self := l.current
	l.eventAwaiters[t] = &eventAwaiter{handle: self, next: l.eventAwaiters[t]}
	return y.Await()
}

// Yield places the calling coroutine at the tail of this loop's yield FIFO
// and suspends it until its turn comes up on a later step.
func (l *Loop) Yield(y *coroutine.Yielder) {
	l.yieldQueue.Add(&yieldNode{handle: l.current})
	y.Await()
}

// YieldTo migrates the calling coroutine's frame to target: it is detached
// from this loop's arena, attached to target's, and enqueued on target's
// yield FIFO. It reports false if target's arena has no free slot, leaving
// the frame where it was.
func (l *Loop) YieldTo(y *coroutine.Yielder, target *Loop) bool {
	self := l.current
	f := l.frameAt(self)
	if f == nil {
		return false
	}

	l.release(self)
	newHandle := target.attach(f)
	if newHandle == 0 {
		l.attach(f)
		return false
	}

	target.yieldQueue.Add(&yieldNode{handle: newHandle})
	l.current = 0
	y.Await()
	return true
}

// FireEvent enqueues an event. It is safe to call from IRQ context; if
// the queue is full the newest event is dropped and an error is logged
// (producers tolerate loss rather than the consumer losing older
// events).
func (l *Loop) FireEvent(e Event) {
	l.eqMu.Acquire()
	defer l.eqMu.Release()

	next := (l.writePos + 1) % eventQueueSize
	if next == l.readPos {
		kfmt.Error("event queue overrun, dropping event type=%d data=%d", e.Type, e.Data)
		return
	}
	l.eventQ[l.writePos] = e
	l.writePos = next
}

func (l *Loop) popEvent() (Event, bool) {
	l.eqMu.Acquire()
	defer l.eqMu.Release()

	if l.readPos == l.writePos {
		return Event{}, false
	}
	e := l.eventQ[l.readPos]
	l.readPos = (l.readPos + 1) % eventQueueSize
	return e, true
}

func (l *Loop) completeEvent(t EventType, value uint32) {
	head := l.eventAwaiters[t]
	l.eventAwaiters[t] = nil
	for a := head; a != nil; a = a.next {
		l.resume(a.handle, value)
	}
}

// Step runs one tick of the loop: every tenth step (including the very
// first, step 0) fires a tick event, then at most one queued event is
// delivered, then at most one yielded coroutine resumes.
func (l *Loop) Step() {
	if l.counter%10 == 0 {
		l.FireEvent(Event{Type: EventTick, Data: uint32(l.counter)})
	}

	if e, ok := l.popEvent(); ok {
		l.completeEvent(e.Type, e.Data)
	}

	if n := l.yieldQueue.Remove(); n != nil {
		l.resume(n.handle, 0)
	}
	if !l.yieldQueue.Empty() {
		panic(&kernel.Error{Module: "eventloop", Message: "yield queue not empty after processing all yields"})
	}

	l.counter++
}

// yieldFn is called between steps by Run; kernel/boot wires in
// kernel/sched.Yield so the event-loop thread cooperates with the
// preemptive scheduler instead of spinning at full priority.
var yieldFn func()

// SetYieldFunc installs the function Run calls after every Step.
func SetYieldFunc(fn func()) { yieldFn = fn }

// Run alternates Step with a thread yield forever. It never returns; it
// is the function kernel/irq jumps to when a dispatched exception's
// continuation selector is ResultEventLoop.
func (l *Loop) Run() {
	for {
		l.Step()
		if yieldFn != nil {
			yieldFn()
		}
	}
}

// Package heap implements the kernel's single-arena free-list allocator:
// a doubly-linked block list managed in address order with
// last-fit-with-wrap search, split on allocate and three-way coalesce on
// free.
package heap

import (
	"unsafe"

	"armkernel/kernel"
	"armkernel/kernel/mem"
	"armkernel/kernel/sync"
)

// maxAlign mirrors the C++ reference's alignof(max_align_t): allocations are
// rounded up to this boundary.
const maxAlign = unsafe.Sizeof(uint64(0))

const (
	usedMask = uintptr(0b1)
	sizeMask = ^uintptr(0b111)
)

// block is the header stored immediately before every payload. Every block
// is doubly-linked in address order; no two adjacent blocks are ever both
// free.
type block struct {
	prev, next *block
	size       uintptr // low bit: used flag; remaining bits: aligned payload size
}

func (b *block) used() bool       { return b.size&usedMask != 0 }
func (b *block) payload() uintptr { return b.size & sizeMask }
func (b *block) setUsed()         { b.size |= usedMask }
func (b *block) clearUsed()       { b.size &^= usedMask }

func (b *block) ptr() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(b), unsafe.Sizeof(block{}))
}

func blockFromPtr(ptr unsafe.Pointer) *block {
	return (*block)(unsafe.Add(ptr, -int(unsafe.Sizeof(block{}))))
}

// Stats is a read-only snapshot of the allocator's bookkeeping counters.
type Stats struct {
	// Total is the arena size in bytes, including header overhead.
	Total uintptr
	// Allocated is the sum of payload bytes currently in use.
	Allocated uintptr
	// NumBlocks is the number of blocks (free or used) in the list.
	NumBlocks int
	// NumAllocations is the number of live (unfreed) allocations.
	NumAllocations int
	// BlockOverhead is the per-block header size in bytes.
	BlockOverhead uintptr
}

// Heap is a single contiguous arena managed as a doubly-linked free/used
// list. The zero value is not usable; call Init with a backing arena first.
type Heap struct {
	mu    sync.Spinlock
	arena []byte
	head  *block
	last  *block
	stats Stats
}

// New creates a Heap backed by a freshly allocated Go arena of the given
// size. Production boot code instead calls Init with a slice over the
// linker-reserved arena region; New exists so tests and the host-side shell
// can exercise the allocator without a real memory map.
func New(size uintptr) *Heap {
	h := &Heap{}
	h.Init(make([]byte, size))
	return h
}

// Init sets up the allocator's bookkeeping over a caller-supplied backing
// arena. The arena must be at least sizeof(block) bytes.
func (h *Heap) Init(arena []byte) {
	h.arena = arena
	b := (*block)(unsafe.Pointer(&arena[0]))
	*b = block{size: uintptr(len(arena)) - unsafe.Sizeof(block{})}

	h.head = b
	h.last = b
	h.stats = Stats{
		Total:         uintptr(len(arena)),
		NumBlocks:     1,
		BlockOverhead: unsafe.Sizeof(block{}),
	}
}

func alignUp(size uintptr) uintptr {
	if rem := size % maxAlign; rem != 0 {
		size += maxAlign - rem
	}
	return size
}

// Allocate reserves size bytes from the arena, starting the search at the
// block of the previous allocation and wrapping once around the arena if
// necessary. It returns nil if size is zero or the arena has no block
// large enough.
func (h *Heap) Allocate(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	h.mu.Acquire()
	defer h.mu.Release()

	aligned := alignUp(size)

	pick := h.firstFit(h.last, nil, aligned)
	if pick == nil {
		pick = h.firstFit(h.head, h.last, aligned)
	}
	if pick == nil {
		return nil
	}

	return h.place(pick, aligned)
}

// firstFit scans the block list starting at 'from' (inclusive) and stopping
// before 'stop' (exclusive; nil means scan to the end of the list) for the
// first free block whose payload can hold aligned bytes.
func (h *Heap) firstFit(from, stop *block, aligned uintptr) *block {
	for cur := from; cur != nil && cur != stop; cur = cur.next {
		if cur.used() {
			continue
		}
		if cur.payload() >= aligned {
			return cur
		}
	}
	return nil
}

func (h *Heap) place(b *block, aligned uintptr) unsafe.Pointer {
	headerSize := unsafe.Sizeof(block{})
	finalSize := aligned

	switch {
	case b.payload() == aligned:
		b.setUsed()
	case b.payload() < aligned+headerSize+maxAlign:
		// Remainder too small to hold a header plus one aligned
		// allocation: absorb the whole block.
		finalSize = b.payload()
		b.setUsed()
	default:
		remaining := b.payload() - headerSize - aligned

		newBlock := (*block)(unsafe.Add(b.ptr(), aligned))
		*newBlock = block{prev: b, next: b.next, size: remaining}
		if b.next != nil {
			b.next.prev = newBlock
		}
		b.next = newBlock

		b.size = aligned | usedMask
		h.stats.NumBlocks++
	}

	h.last = b
	ptr := b.ptr()
	mem.Memset(uintptr(ptr), 0, finalSize)

	h.stats.NumAllocations++
	h.stats.Allocated += finalSize

	return ptr
}

// Free releases a block previously returned by Allocate. Freeing nil is a
// no-op. Freeing a pointer whose block is not currently marked used is a
// double-free and panics.
func (h *Heap) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	h.mu.Acquire()
	defer h.mu.Release()

	b := blockFromPtr(ptr)
	if !b.used() {
		panic(&kernel.Error{Module: "heap", Message: "double free"})
	}

	h.stats.Allocated -= b.payload()
	h.stats.NumAllocations--

	prevFree := b.prev != nil && !b.prev.used()
	nextFree := b.next != nil && !b.next.used()

	headerSize := unsafe.Sizeof(block{})

	switch {
	case prevFree && nextFree:
		b.prev.size += b.payload() + b.next.payload() + 2*headerSize
		b.prev.next = b.next.next
		if b.next.next != nil {
			b.next.next.prev = b.prev
		}
		if h.last == b || h.last == b.next {
			h.last = b.prev
		}
		h.stats.NumBlocks -= 2
	case prevFree:
		b.prev.size += b.payload() + headerSize
		b.prev.next = b.next
		if b.next != nil {
			b.next.prev = b.prev
		}
		if h.last == b {
			h.last = b.prev
		}
		h.stats.NumBlocks--
	case nextFree:
		b.size += b.next.payload() + headerSize
		b.clearUsed()
		if b.next.next != nil {
			b.next.next.prev = b
		}
		if h.last == b.next {
			h.last = b
		}
		b.next = b.next.next
		h.stats.NumBlocks--
	default:
		b.clearUsed()
	}
}

// Calloc allocates space for num elements of sz bytes each, already zeroed.
// It returns nil on a zero-size request or on multiplication overflow.
func (h *Heap) Calloc(num, sz uintptr) unsafe.Pointer {
	if num == 0 || sz == 0 {
		return nil
	}
	total := num * sz
	if total/num != sz {
		return nil
	}
	return h.Allocate(total)
}

// Stats returns a read-only snapshot of the allocator's bookkeeping
// counters.
func (h *Heap) Stats() Stats {
	h.mu.Acquire()
	defer h.mu.Release()
	return h.stats
}

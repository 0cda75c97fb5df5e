// Package queue provides the intrusive FIFO used to chain schedulable items
// (ready threads, pending yields) without a separate allocation per
// element.
package queue

import "armkernel/kernel"

// Linked is embedded by any type that can be stored in a Queue: it supplies
// the next-pointer storage so element types don't each reimplement it.
type Linked[T any] struct {
	next *T
}

// Next returns the next element in whatever queue currently holds this one,
// or nil if it is not queued / is the tail.
func (l *Linked[T]) Next() *T { return l.next }

// SetNext rewires the next link. Used only by Queue itself.
func (l *Linked[T]) SetNext(n *T) { l.next = n }

// node is satisfied by *T when T embeds Linked[T].
type node[T any] interface {
	*T
	Next() *T
	SetNext(*T)
}

// Queue is a singly-linked intrusive FIFO. The zero value is an empty queue.
// PT is the pointer type (*T) that actually carries the Linked[T] methods;
// callers write Queue[tcb, *tcb]{}.
type Queue[T any, PT node[T]] struct {
	head, tail PT
}

// Peek returns the head of the queue without removing it, or nil if empty.
func (q *Queue[T, PT]) Peek() PT {
	return q.head
}

// Remove dequeues and returns the head of the queue, or nil if empty. The
// removed element's next link is cleared so it may be safely re-queued.
func (q *Queue[T, PT]) Remove() PT {
	if q.head == nil {
		var zero PT
		return zero
	}

	item := q.head
	q.head = item.Next()
	if q.head == nil {
		q.tail = nil
	}
	item.SetNext(nil)
	return item
}

// Add enqueues item at the tail of the queue. Adding an item that is already
// linked into a queue (its Next() is non-nil) is a programming invariant
// violation and panics.
func (q *Queue[T, PT]) Add(item PT) {
	if item.Next() != nil {
		panic(&kernel.Error{Module: "queue", Message: "tried to add an element that already has a next element"})
	}

	if q.tail != nil {
		q.tail.SetNext(item)
		q.tail = item
	} else {
		q.head = item
		q.tail = item
	}
}

// Empty reports whether the queue currently holds no elements.
func (q *Queue[T, PT]) Empty() bool {
	return q.head == nil
}

package containers

import "sync/atomic"

type mpscNode[T any] struct {
	next  atomic.Pointer[mpscNode[T]]
	value T
}

// MPSCQueue is an unbounded lock-free queue with any number of producers and
// exactly one consumer. Push never blocks. Pop must only be called from the
// consumer goroutine.
//
// A producer that has swapped itself in as head but not yet linked its node
// is invisible to Pop until the link lands; the consumer simply sees it on
// its next drain.
type MPSCQueue[T any] struct {
	head atomic.Pointer[mpscNode[T]]
	tail *mpscNode[T]
	size atomic.Int64
}

func NewMPSCQueue[T any]() *MPSCQueue[T] {
	stub := &mpscNode[T]{}
	q := &MPSCQueue[T]{tail: stub}
	q.head.Store(stub)
	return q
}

// Push appends v. Safe for concurrent use.
func (q *MPSCQueue[T]) Push(v T) {
	n := &mpscNode[T]{value: v}
	// Counted before the node becomes visible so Len never goes negative.
	q.size.Add(1)
	prev := q.head.Swap(n)
	prev.next.Store(n)
}

// Pop removes the oldest linked value. Consumer only.
func (q *MPSCQueue[T]) Pop() (T, bool) {
	var zero T
	next := q.tail.next.Load()
	if next == nil {
		return zero, false
	}
	q.tail = next
	v := next.value
	next.value = zero
	q.size.Add(-1)
	return v, true
}

// Drain pops every linked value in FIFO order and hands it to fn. Consumer
// only. Returns the number of values drained.
func (q *MPSCQueue[T]) Drain(fn func(T)) int {
	n := 0
	for {
		v, ok := q.Pop()
		if !ok {
			return n
		}
		fn(v)
		n++
	}
}

// Len is approximate while producers are active.
func (q *MPSCQueue[T]) Len() int {
	return int(q.size.Load())
}

func (q *MPSCQueue[T]) IsEmpty() bool {
	return q.tail.next.Load() == nil
}

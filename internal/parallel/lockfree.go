// Package parallel provides the lock-free queue runlog.Buffer is built on.
package parallel

import (
	"sync/atomic"
	"unsafe"
)

// LockFreeQueue is a lock-free FIFO queue (Michael-Scott), safe for
// concurrent Enqueue/Dequeue from any number of goroutines without a mutex.
type LockFreeQueue struct {
	head unsafe.Pointer
	tail unsafe.Pointer
	len  int64
}

type queueNode struct {
	value interface{}
	next  unsafe.Pointer
}

// NewLockFreeQueue creates a new lock-free queue
func NewLockFreeQueue() *LockFreeQueue {
	node := &queueNode{}
	ptr := unsafe.Pointer(node)
	return &LockFreeQueue{
		head: ptr,
		tail: ptr,
	}
}

// Enqueue adds an item to the queue
func (q *LockFreeQueue) Enqueue(value interface{}) {
	node := &queueNode{value: value}
	nodePtr := unsafe.Pointer(node)

	for {
		tail := atomic.LoadPointer(&q.tail)
		tailNode := (*queueNode)(tail)
		next := atomic.LoadPointer(&tailNode.next)

		if tail == atomic.LoadPointer(&q.tail) {
			if next == nil {
				if atomic.CompareAndSwapPointer(&tailNode.next, nil, nodePtr) {
					atomic.CompareAndSwapPointer(&q.tail, tail, nodePtr)
					atomic.AddInt64(&q.len, 1)
					return
				}
			} else {
				atomic.CompareAndSwapPointer(&q.tail, tail, next)
			}
		}
	}
}

// Dequeue removes and returns an item from the queue
func (q *LockFreeQueue) Dequeue() (interface{}, bool) {
	for {
		head := atomic.LoadPointer(&q.head)
		tail := atomic.LoadPointer(&q.tail)
		headNode := (*queueNode)(head)
		next := atomic.LoadPointer(&headNode.next)

		if head == atomic.LoadPointer(&q.head) {
			if head == tail {
				if next == nil {
					return nil, false
				}
				atomic.CompareAndSwapPointer(&q.tail, tail, next)
			} else {
				nextNode := (*queueNode)(next)
				value := nextNode.value
				if atomic.CompareAndSwapPointer(&q.head, head, next) {
					atomic.AddInt64(&q.len, -1)
					return value, true
				}
			}
		}
	}
}

// Len returns the approximate length of the queue
func (q *LockFreeQueue) Len() int64 {
	return atomic.LoadInt64(&q.len)
}

// IsEmpty returns true if the queue is empty
func (q *LockFreeQueue) IsEmpty() bool {
	return q.Len() == 0
}

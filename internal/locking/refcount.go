package locking

// used for pin/unpin pages
// when a page was unpin we can flush page from memory to the disk

import (
	"fmt"

	"go.uber.org/atomic"
)

// RefCount is a frame's pin count: the number of live guards referencing
// it. A frame starts unpinned (0); the buffer pool increments it on every
// fetch and decrements it on every unpin.
type RefCount struct {
	count atomic.Int32
}

func NewRefCount() *RefCount {
	return &RefCount{}
}

// Inc increments the count and returns the new value.
func (r *RefCount) Inc() int32 {
	return r.count.Inc()
}

// Dec decrements the count and returns the new value. It panics if the
// count would drop below zero, matching the pin-underflow-is-a-bug
// contract of the buffer pool (the public Unpin operation guards against
// this by checking Get() first).
func (r *RefCount) Dec() int32 {
	newCount := r.count.Dec()
	if newCount < 0 {
		panic("refcount: dropped below zero")
	}
	return newCount
}

// Get returns the current count.
func (r *RefCount) Get() int32 {
	return r.count.Load()
}

// Reset zeroes the count, used when a frame is returned to the free list.
func (r *RefCount) Reset() {
	r.count.Store(0)
}

func (r *RefCount) String() string {
	return fmt.Sprintf("RefCount: %d", r.Get())
}

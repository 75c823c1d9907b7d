package bufferpool

import (
	"sync"

	"github.com/ticketstore/storageengine/internal/diskmgr"
	"github.com/ticketstore/storageengine/internal/locking"
)

// PageSize is the fixed size of every page, re-exported from diskmgr so
// callers only need to import this package.
const PageSize = diskmgr.PageSize

// InvalidPageID marks the absence of a page.
const InvalidPageID int32 = -1

// Frame is one in-memory slot caching exactly one page. Its index in the
// pool's frame slice is its FrameId; that index is stable for the frame's
// lifetime.
type Frame struct {
	latch sync.RWMutex

	pageID int32
	data   [PageSize]byte
	pin    *locking.RefCount
	dirty  bool
}

func newFrame() *Frame {
	return &Frame{pageID: InvalidPageID, pin: locking.NewRefCount()}
}

// reset zeros the frame's bytes and metadata, returning it to the state a
// freshly constructed frame would have. Callers must hold the pool lock and
// the frame must not be referenced by any guard.
func (f *Frame) reset() {
	f.pageID = InvalidPageID
	f.dirty = false
	for i := range f.data {
		f.data[i] = 0
	}
	f.pin.Reset()
}

// PageID returns the page currently resident in this frame.
func (f *Frame) PageID() int32 { return f.pageID }

// IsDirty reports whether the frame has unflushed mutations.
func (f *Frame) IsDirty() bool { return f.dirty }

// PinCount returns the number of live guards referencing this frame.
func (f *Frame) PinCount() int32 { return f.pin.Get() }

// Bytes returns the frame's raw page bytes. Callers are expected to hold the
// frame's latch (via a guard) before reading or writing through this slice.
func (f *Frame) Bytes() []byte { return f.data[:] }

// Package writeproxy absorbs page writes behind a single background writer,
// coalescing overwrites of the same page and serving read-your-writes for
// anything still in flight.
package writeproxy

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/ticketstore/storageengine/internal/diskmgr"
)

const logPrefix = "writeproxy"

// defaultIdleWait is used when New is given a non-positive idleWait, which
// happens whenever a caller leaves the config value unset.
const defaultIdleWait = time.Millisecond

type pendingEntry struct {
	buf     []byte
	version uint64
}

// WriteProxy is a single-producer/many-caller façade in front of a
// diskmgr.DiskManager. Writes return immediately; a dedicated goroutine
// retires them in ascending PageId order, one disk write in flight at a
// time.
type WriteProxy struct {
	disk     *diskmgr.DiskManager
	idleWait time.Duration

	mu      sync.Mutex
	pending map[int32]*pendingEntry
	version atomic.Uint64

	notify  chan struct{}
	closing atomic.Bool
	done    chan struct{}
}

// New starts the background writer goroutine and returns a ready proxy.
// idleWait bounds how long the writer sleeps between drain attempts when
// the pending map is empty; a non-positive value falls back to
// defaultIdleWait.
func New(disk *diskmgr.DiskManager, idleWait time.Duration) *WriteProxy {
	if idleWait <= 0 {
		idleWait = defaultIdleWait
	}
	p := &WriteProxy{
		disk:     disk,
		idleWait: idleWait,
		pending:  make(map[int32]*pendingEntry),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

// Write copies src into a fresh buffer and records it as the latest pending
// write for pageID, discarding any earlier unwritten version. It returns
// immediately; the actual disk write happens asynchronously.
func (p *WriteProxy) Write(pageID int32, src []byte) {
	buf := make([]byte, diskmgr.PageSize)
	copy(buf, src)

	p.mu.Lock()
	p.pending[pageID] = &pendingEntry{buf: buf, version: p.version.Inc()}
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Read fills dst with the most recent content for pageID: the pending
// buffer if one exists (read-your-writes), otherwise whatever is on disk.
func (p *WriteProxy) Read(pageID int32, dst []byte) error {
	p.mu.Lock()
	entry, ok := p.pending[pageID]
	if ok {
		copy(dst, entry.buf)
	}
	p.mu.Unlock()

	if ok {
		return nil
	}
	return p.disk.ReadPage(pageID, dst)
}

// loop is the single background writer: it repeatedly drains the
// lowest-PageId pending entry until asked to close, then drains everything
// remaining before exiting.
func (p *WriteProxy) loop() {
	for {
		wrote := p.drainOne()
		if !wrote {
			if p.closing.Load() {
				p.mu.Lock()
				empty := len(p.pending) == 0
				p.mu.Unlock()
				if empty {
					close(p.done)
					return
				}
				continue
			}
			select {
			case <-p.notify:
			case <-time.After(p.idleWait):
			}
		}
	}
}

// drainOne retires the ascending-order least pending page, if any, and
// reports whether it found work to do.
func (p *WriteProxy) drainOne() bool {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return false
	}

	ids := make([]int32, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	id := ids[0]
	entry := p.pending[id]
	snapshot := make([]byte, len(entry.buf))
	copy(snapshot, entry.buf)
	version := entry.version
	p.mu.Unlock()

	if err := p.disk.WritePage(id, snapshot); err != nil {
		slog.Error(logPrefix+": write failed", "page_id", id, "err", err)
		return true
	}

	p.mu.Lock()
	if cur, ok := p.pending[id]; ok && cur.version == version {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	return true
}

// Close signals the writer to drain every pending entry and waits for it to
// finish before returning.
func (p *WriteProxy) Close() error {
	p.closing.Store(true)
	select {
	case p.notify <- struct{}{}:
	default:
	}
	<-p.done
	slog.Debug(logPrefix + ": drained and closed")
	return nil
}

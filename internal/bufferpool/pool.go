// Package bufferpool maps page ids onto a fixed set of in-memory frames,
// coordinating pin counts, dirty tracking, LRU-K eviction, and asynchronous
// write-back through a WriteProxy.
package bufferpool

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/ticketstore/storageengine/internal/diskmgr"
	"github.com/ticketstore/storageengine/internal/writeproxy"
)

// warmStartSampleLimit bounds how many existing pages Open spot-checks on a
// reopen; validating every page in a large file would make startup slow for
// no benefit beyond the first few dozen.
const warmStartSampleLimit = 64

const logDebugPrefix = "bufferpool: "

// headerRootOffset/headerAllocOffset lay out page 0: the B+ tree's root
// page id in the first 4 bytes, the pool's id allocator count in the next
// 4. The two halves are owned by different layers (tree vs. pool) but share
// the one physical header page described by the spec.
const (
	headerRootOffset  = 0
	headerAllocOffset = 4
)

// HeaderPageID is the fixed id of the header page (page 0) every pool
// reserves for collaborator bookkeeping plus the id allocator's own
// allocate_count. NewPage never hands this id out.
const HeaderPageID int32 = 0

const headerPageID = HeaderPageID

// retryBackoff bounds how long a guarded fetch sleeps between exhaustion
// retries; it exists purely so a cancelled context is noticed promptly.
const retryBackoff = time.Millisecond

// BufferPool is a fixed array of poolSize frames fronting one DiskManager
// via one WriteProxy, with LRU-K eviction.
type BufferPool struct {
	mu sync.Mutex

	frames    []*Frame
	pageTable map[int32]int // PageId -> frame index
	freeList  []int
	replacer  Replacer

	disk  *diskmgr.DiskManager
	proxy *writeproxy.WriteProxy

	nextPageID atomic.Int32
	closed     atomic.Bool
}

// Open constructs a pool of poolSize frames backed by path, restoring the
// id allocator from the header page when the file pre-existed. idleWaitMS
// bounds the write-back goroutine's idle poll interval; <= 0 picks a
// built-in default.
func Open(path string, poolSize int, replacerK int, idleWaitMS int) (*BufferPool, error) {
	if poolSize < 1 {
		return nil, fmt.Errorf("bufferpool: poolSize must be >= 1, got %d", poolSize)
	}

	disk, err := diskmgr.Open(path)
	if err != nil {
		return nil, err
	}

	bp := &BufferPool{
		frames:    make([]*Frame, poolSize),
		pageTable: make(map[int32]int),
		freeList:  make([]int, poolSize),
		replacer:  newLRUKReplacer(replacerK),
		disk:      disk,
		proxy:     writeproxy.New(disk, time.Duration(idleWaitMS)*time.Millisecond),
	}
	for i := 0; i < poolSize; i++ {
		bp.frames[i] = newFrame()
		bp.freeList[i] = poolSize - 1 - i
	}

	// Page id 0 is reserved for the header page (root id + allocate count);
	// NewPage never hands it out, so the allocator starts at 1.
	bp.nextPageID.Store(1)

	if !disk.IsFirstVisit() {
		buf := make([]byte, PageSize)
		if err := bp.proxy.Read(headerPageID, buf); err != nil {
			return nil, fmt.Errorf("bufferpool: read header page: %w", err)
		}
		next := int32(binary.LittleEndian.Uint32(buf[headerAllocOffset:]))
		if next < 1 {
			next = 1
		}
		bp.nextPageID.Store(next)
		slog.Debug(logDebugPrefix+"restored allocator", "next_page_id", bp.nextPageID.Load())

		if err := bp.warmStartValidate(); err != nil {
			return nil, fmt.Errorf("bufferpool: warm-start validation: %w", err)
		}
	}

	return bp, nil
}

// warmStartValidate spot-checks that the first warmStartSampleLimit pages
// allocated before this process's predecessor exited still read back
// cleanly, fanning the reads out across a bounded goroutine pool so a large
// file doesn't slow down Open proportionally to its size.
func (bp *BufferPool) warmStartValidate() error {
	limit := bp.nextPageID.Load() - 1
	if limit > warmStartSampleLimit {
		limit = warmStartSampleLimit
	}
	if limit < 1 {
		return nil
	}

	p := pool.New().WithErrors().WithMaxGoroutines(8)
	for id := int32(1); id <= limit; id++ {
		id := id
		p.Go(func() error {
			buf := make([]byte, PageSize)
			if err := bp.disk.ReadPage(id, buf); err != nil {
				return fmt.Errorf("page %d: %w", id, err)
			}
			return nil
		})
	}
	return p.Wait()
}

// IsFirstVisit reports whether the backing file did not exist before Open.
func (bp *BufferPool) IsFirstVisit() bool { return bp.disk.IsFirstVisit() }

// NewPage allocates a fresh page id and pins a zeroed frame for it.
func (bp *BufferPool) NewPage() (int32, *Frame, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameIdx, err := bp.claimFrameLocked()
	if err != nil {
		return InvalidPageID, nil, err
	}

	pageID := bp.nextPageID.Inc() - 1
	f := bp.frames[frameIdx]
	f.reset()
	f.pageID = pageID
	f.pin.Inc()

	bp.pageTable[pageID] = frameIdx
	bp.replacer.RecordAccess(frameIdx)
	bp.replacer.SetEvictable(frameIdx, false)

	slog.Debug(logDebugPrefix+"new page", "page_id", pageID, "frame", frameIdx)
	return pageID, f, nil
}

// Fetch returns the frame holding pageID, incrementing its pin count,
// loading it from disk (via the write proxy) if it is not already
// resident.
func (bp *BufferPool) Fetch(pageID int32) (*Frame, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if idx, ok := bp.pageTable[pageID]; ok {
		f := bp.frames[idx]
		wasUnpinned := f.pin.Get() == 0
		f.pin.Inc()
		bp.replacer.RecordAccess(idx)
		if wasUnpinned {
			bp.replacer.SetEvictable(idx, false)
		}
		return f, nil
	}

	frameIdx, err := bp.claimFrameLocked()
	if err != nil {
		return nil, err
	}

	f := bp.frames[frameIdx]
	f.reset()
	if err := bp.proxy.Read(pageID, f.data[:]); err != nil {
		// Put the frame back on the free list; nothing was installed.
		bp.freeList = append(bp.freeList, frameIdx)
		return nil, fmt.Errorf("bufferpool: fetch page %d: %w", pageID, err)
	}
	f.pageID = pageID
	f.pin.Inc()

	bp.pageTable[pageID] = frameIdx
	bp.replacer.RecordAccess(frameIdx)
	bp.replacer.SetEvictable(frameIdx, false)

	slog.Debug(logDebugPrefix+"fetched from disk", "page_id", pageID, "frame", frameIdx)
	return f, nil
}

// claimFrameLocked returns a frame index ready to receive a page: either
// from the free list, or by evicting the replacer's chosen victim
// (flushing it through the proxy first if dirty). Caller holds bp.mu.
func (bp *BufferPool) claimFrameLocked() (int, error) {
	if n := len(bp.freeList); n > 0 {
		idx := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return idx, nil
	}

	victimIdx, ok := bp.replacer.Evict()
	if !ok {
		return -1, ErrPoolExhausted
	}
	victim := bp.frames[victimIdx]

	if victim.dirty {
		bp.proxy.Write(victim.pageID, victim.data[:])
		victim.dirty = false
	}
	delete(bp.pageTable, victim.pageID)
	slog.Debug(logDebugPrefix+"evicted victim", "page_id", victim.pageID, "frame", victimIdx)
	return victimIdx, nil
}

// Unpin decrements pageID's pin count and OR-merges dirtyMark into its
// dirty bit. It returns false if the page is not resident or already
// unpinned.
func (bp *BufferPool) Unpin(pageID int32, dirtyMark bool) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageTable[pageID]
	if !ok {
		return false
	}
	f := bp.frames[idx]
	if f.pin.Get() <= 0 {
		return false
	}
	if dirtyMark {
		f.dirty = true
	}
	if f.pin.Dec() == 0 {
		bp.replacer.SetEvictable(idx, true)
	}
	return true
}

// Flush writes pageID's bytes to disk through the proxy and clears its
// dirty bit, regardless of pin status.
func (bp *BufferPool) Flush(pageID int32) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageTable[pageID]
	if !ok {
		return false
	}
	f := bp.frames[idx]
	bp.proxy.Write(f.pageID, f.data[:])
	f.dirty = false
	return true
}

// FlushAll hands every currently-dirty resident page to the write proxy.
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for pageID, idx := range bp.pageTable {
		f := bp.frames[idx]
		if !f.dirty {
			continue
		}
		bp.proxy.Write(pageID, f.data[:])
		f.dirty = false
	}
	return nil
}

// DeletePage removes a resident, unpinned page from the pool, returning its
// frame to the free list. The id allocator does not recycle pageID.
func (bp *BufferPool) DeletePage(pageID int32) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageTable[pageID]
	if !ok {
		return true
	}
	f := bp.frames[idx]
	if f.pin.Get() != 0 {
		return false
	}

	if err := bp.replacer.Remove(idx); err != nil {
		slog.Warn(logDebugPrefix+"replacer remove on delete", "page_id", pageID, "err", err)
	}
	delete(bp.pageTable, pageID)
	f.reset()
	bp.freeList = append(bp.freeList, idx)
	return true
}

// fetchRetry is the shared retry loop behind FetchRead/FetchWrite/
// NewPageGuarded: the bare fetch is retried until it succeeds or ctx is
// done, masking transient pool exhaustion from guarded callers.
func (bp *BufferPool) fetchRetry(ctx context.Context, fn func() (int32, *Frame, error)) (int32, *Frame, error) {
	for {
		id, f, err := fn()
		if err == nil {
			return id, f, nil
		}
		if err != ErrPoolExhausted {
			return InvalidPageID, nil, err
		}
		select {
		case <-ctx.Done():
			return InvalidPageID, nil, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
}

// FetchRead fetches pageID and returns it behind a read latch, retrying
// indefinitely (bounded only by ctx) on pool exhaustion.
func (bp *BufferPool) FetchRead(ctx context.Context, pageID int32) (*ReadGuard, error) {
	_, f, err := bp.fetchRetry(ctx, func() (int32, *Frame, error) {
		f, err := bp.Fetch(pageID)
		return pageID, f, err
	})
	if err != nil {
		return nil, err
	}
	f.latch.RLock()
	return &ReadGuard{basicGuard: basicGuard{pool: bp, frame: f, pageID: pageID}}, nil
}

// FetchWrite fetches pageID and returns it behind a write latch.
func (bp *BufferPool) FetchWrite(ctx context.Context, pageID int32) (*WriteGuard, error) {
	_, f, err := bp.fetchRetry(ctx, func() (int32, *Frame, error) {
		f, err := bp.Fetch(pageID)
		return pageID, f, err
	})
	if err != nil {
		return nil, err
	}
	f.latch.Lock()
	return &WriteGuard{basicGuard: basicGuard{pool: bp, frame: f, pageID: pageID}}, nil
}

// NewPageGuarded allocates a page and returns it behind a write latch.
func (bp *BufferPool) NewPageGuarded(ctx context.Context) (int32, *WriteGuard, error) {
	id, f, err := bp.fetchRetry(ctx, bp.NewPage)
	if err != nil {
		return InvalidPageID, nil, err
	}
	f.latch.Lock()
	return id, &WriteGuard{basicGuard: basicGuard{pool: bp, frame: f, pageID: id}}, nil
}

// RootPageID returns the B+ tree root id stored in the header page (page
// 0), or InvalidPageID if no tree has been created yet.
func (bp *BufferPool) RootPageID(ctx context.Context) (int32, error) {
	g, err := bp.FetchRead(ctx, headerPageID)
	if err != nil {
		return InvalidPageID, err
	}
	defer g.Drop()
	return int32(binary.LittleEndian.Uint32(g.Data()[headerRootOffset:])), nil
}

// SetRootPageID persists a new B+ tree root id into the header page.
func (bp *BufferPool) SetRootPageID(ctx context.Context, id int32) error {
	g, err := bp.FetchWrite(ctx, headerPageID)
	if err != nil {
		return err
	}
	defer g.Drop()
	binary.LittleEndian.PutUint32(g.MutableData()[headerRootOffset:], uint32(id))
	return nil
}

// Close persists the id allocator into the header page, flushes every
// resident page, and shuts down the write proxy and disk manager.
func (bp *BufferPool) Close() error {
	if !bp.closed.CAS(false, true) {
		return nil
	}

	ctx := context.Background()
	g, err := bp.FetchWrite(ctx, headerPageID)
	var errs error
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("bufferpool: close: acquire header: %w", err))
	} else {
		binary.LittleEndian.PutUint32(g.MutableData()[headerAllocOffset:], uint32(bp.nextPageID.Load()))
		g.Drop()
	}

	if err := bp.FlushAll(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := bp.proxy.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := bp.disk.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	slog.Debug(logDebugPrefix + "closed")
	return errs
}

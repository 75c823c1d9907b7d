// Package diskmgr owns the single backing file for a buffer pool: fixed-size
// pages read and written at page-aligned offsets.
package diskmgr

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"go.uber.org/atomic"
)

// PageSize is the fixed size of every page in bytes.
const PageSize = 4096

// ErrInvalidPageID is returned for a negative page id.
var ErrInvalidPageID = errors.New("diskmgr: invalid page id")

// DiskManager performs positional reads and writes of PageSize-byte pages
// against one regular file, serializing the read/write syscall pairs behind
// a mutex so concurrent callers never race the same region.
type DiskManager struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	firstVisit atomic.Bool

	reads  atomic.Int64
	writes atomic.Int64
}

// Open opens path for read/write, creating it if absent. firstVisit reports
// whether the file had to be created, so the caller can initialize the
// header page.
func Open(path string) (*DiskManager, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskmgr: open %s: %w", path, err)
	}

	dm := &DiskManager{file: f, path: path}
	dm.firstVisit.Store(!existed)
	slog.Debug("diskmgr: opened", "path", path, "first_visit", !existed)
	return dm, nil
}

// IsFirstVisit reports whether the backing file did not exist before Open.
func (d *DiskManager) IsFirstVisit() bool {
	return d.firstVisit.Load()
}

// ReadPage reads exactly one page at pageID into dst, which must be at
// least PageSize bytes. Bytes past the current end of file read as zero.
func (d *DiskManager) ReadPage(pageID int32, dst []byte) error {
	if pageID < 0 {
		return ErrInvalidPageID
	}
	if len(dst) < PageSize {
		return fmt.Errorf("diskmgr: dst too small: %d", len(dst))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.file.ReadAt(dst[:PageSize], int64(pageID)*PageSize)
	d.reads.Inc()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("diskmgr: read page %d: %w", pageID, err)
		}
		// Short or EOF reads beyond the current file length are a hole:
		// the caller treats a freshly allocated page as zero.
		for i := n; i < PageSize; i++ {
			dst[i] = 0
		}
		return nil
	}
	return nil
}

// WritePage writes exactly one page of src at pageID. No explicit flush is
// issued; durability beyond an orderly Close is out of scope.
func (d *DiskManager) WritePage(pageID int32, src []byte) error {
	if pageID < 0 {
		return ErrInvalidPageID
	}
	if len(src) < PageSize {
		return fmt.Errorf("diskmgr: src too small: %d", len(src))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.file.WriteAt(src[:PageSize], int64(pageID)*PageSize); err != nil {
		return fmt.Errorf("diskmgr: write page %d: %w", pageID, err)
	}
	d.writes.Inc()
	return nil
}

// Stats returns the lifetime read/write counts, useful for tests and the
// inspection CLI.
func (d *DiskManager) Stats() (reads, writes int64) {
	return d.reads.Load(), d.writes.Load()
}

// Close flushes the file to stable storage and closes the descriptor.
func (d *DiskManager) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.file.Sync(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("diskmgr: sync: %w", err)
	}
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("diskmgr: close: %w", err)
	}
	return nil
}

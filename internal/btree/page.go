package btree

import (
	"sort"

	"github.com/ticketstore/storageengine/internal/alias/bx"
	"github.com/ticketstore/storageengine/internal/bufferpool"
)

// pageType distinguishes a leaf page (holds key/RecordID entries and the
// forward sibling link scans ride on) from an internal page (holds
// key/child-page-id entries routing descent).
type pageType uint8

const (
	pageTypeLeaf     pageType = 0
	pageTypeInternal pageType = 1
)

// Page header: type(1) | pad(1) | size(2) | maxSize(2) | pad(2) | nextPageID(4).
// nextPageID is only meaningful on leaf pages; internal pages leave it at -1.
const (
	offPageType   = 0
	offSize       = 2
	offMaxSize    = 4
	offNextPageID = 8
	headerSize    = 12
)

// Leaf entries: key(8) | recordPageID(4) | recordSlot(2) | pad(2).
const leafEntrySize = 16

// Internal entries: key(8) | childPageID(4) | pad(4). Slot 0's key is
// never read; its child covers everything below the page's first real
// separator.
const internalEntrySize = 16

// leafCapacity and internalCapacity are the largest max sizes a page
// supports: one entry slot short of what fits physically, because an insert
// writes the new entry into the page before splitting it.
func leafCapacity() int {
	return (bufferpool.PageSize-headerSize)/leafEntrySize - 1
}

func internalCapacity() int {
	return (bufferpool.PageSize-headerSize)/internalEntrySize - 1
}

// minSizeForType is the fewest entries a non-root page of this type may
// carry, and the threshold below which write-latch crabbing cannot release
// an ancestor early (see safe-ancestor release in tree.go).
func minSizeForType(t pageType, maxSize int) int {
	m := (maxSize + 1) / 2
	if t == pageTypeInternal && m < 2 {
		m = 2
	}
	return m
}

func readPageType(b []byte) pageType     { return pageType(b[offPageType]) }
func writePageType(b []byte, t pageType) { b[offPageType] = byte(t) }
func readSize(b []byte) int              { return int(bx.U16At(b, offSize)) }
func writeSize(b []byte, n int)          { bx.PutU16At(b, offSize, uint16(n)) }
func readMaxSize(b []byte) int           { return int(bx.U16At(b, offMaxSize)) }
func writeMaxSize(b []byte, n int)       { bx.PutU16At(b, offMaxSize, uint16(n)) }
func readNextPageID(b []byte) int32      { return int32(bx.U32At(b, offNextPageID)) }
func writeNextPageID(b []byte, id int32) { bx.PutU32At(b, offNextPageID, uint32(id)) }

func initLeafPage(b []byte, maxSize int) {
	writePageType(b, pageTypeLeaf)
	writeSize(b, 0)
	writeMaxSize(b, maxSize)
	writeNextPageID(b, bufferpool.InvalidPageID)
}

func initInternalPage(b []byte, maxSize int) {
	writePageType(b, pageTypeInternal)
	writeSize(b, 0)
	writeMaxSize(b, maxSize)
	writeNextPageID(b, bufferpool.InvalidPageID)
}

func leafEntryOffset(i int) int { return headerSize + i*leafEntrySize }

func getLeafEntry(b []byte, i int) (int64, RecordID) {
	off := leafEntryOffset(i)
	key := bx.I64(b[off:])
	rid := RecordID{
		PageID: int32(bx.U32At(b, off+8)),
		Slot:   bx.U16At(b, off+12),
	}
	return key, rid
}

func getLeafKey(b []byte, i int) int64 {
	return bx.I64(b[leafEntryOffset(i):])
}

func putLeafEntry(b []byte, i int, key int64, rid RecordID) {
	off := leafEntryOffset(i)
	bx.PutU64At(b, off, uint64(key))
	bx.PutU32At(b, off+8, uint32(rid.PageID))
	bx.PutU16At(b, off+12, rid.Slot)
}

func removeLeafEntryAt(b []byte, idx, size int) {
	for i := idx; i < size-1; i++ {
		k, v := getLeafEntry(b, i+1)
		putLeafEntry(b, i, k, v)
	}
}

func internalEntryOffset(i int) int { return headerSize + i*internalEntrySize }

func getInternalEntry(b []byte, i int) (int64, int32) {
	off := internalEntryOffset(i)
	return bx.I64(b[off:]), int32(bx.U32At(b, off+8))
}

func putInternalEntry(b []byte, i int, key int64, child int32) {
	off := internalEntryOffset(i)
	bx.PutU64At(b, off, uint64(key))
	bx.PutU32At(b, off+8, uint32(child))
}

func setInternalKey(b []byte, i int, key int64) {
	bx.PutU64At(b, internalEntryOffset(i), uint64(key))
}

func removeInternalEntryAt(b []byte, idx, size int) {
	for i := idx; i < size-1; i++ {
		k, c := getInternalEntry(b, i+1)
		putInternalEntry(b, i, k, c)
	}
}

// leafLowerBound returns the index of the first entry whose key is >= key,
// or size if every entry sorts before it.
func leafLowerBound(b []byte, key int64, cmp Comparator) int {
	size := readSize(b)
	return sort.Search(size, func(i int) bool {
		return cmp(getLeafKey(b, i), key) >= 0
	})
}

// internalFindChildIndex returns the index (and page id) of the child that
// key must route through: the last slot whose key is <= key, or slot 0 if
// key sorts before every real separator.
func internalFindChildIndex(b []byte, key int64, cmp Comparator) (int, int32) {
	size := readSize(b)
	j := sort.Search(size-1, func(j int) bool {
		k, _ := getInternalEntry(b, j+1)
		return cmp(k, key) > 0
	})
	_, child := getInternalEntry(b, j)
	return j, child
}

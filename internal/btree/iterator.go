package btree

import (
	"context"

	"github.com/ticketstore/storageengine/internal/bufferpool"
)

// Iterator walks leaf entries in ascending key order, following sibling
// links across leaf boundaries. It owns the read guard on whichever leaf it
// currently sits on and releases it on Drop or once exhausted; callers that
// abandon an iterator early must call Drop to avoid leaking a pin.
type Iterator struct {
	tree *Tree
	ctx  context.Context
	leaf *bufferpool.ReadGuard
	idx  int
	key  int64
	val  RecordID
	end  bool
}

// IsEnd reports whether the iterator has been exhausted.
func (it *Iterator) IsEnd() bool { return it.end }

// Key returns the current entry's key. Invalid once IsEnd is true.
func (it *Iterator) Key() int64 { return it.key }

// Value returns the current entry's record pointer. Invalid once IsEnd is true.
func (it *Iterator) Value() RecordID { return it.val }

// Next advances to the following entry, crossing into the sibling leaf if
// the current one is exhausted.
func (it *Iterator) Next() {
	if it.end {
		return
	}
	it.idx++
	it.advance()
}

// Drop releases the guard on the iterator's current leaf, if any.
func (it *Iterator) Drop() {
	if it.leaf != nil {
		it.leaf.Drop()
		it.leaf = nil
	}
	it.end = true
}

func (it *Iterator) advance() {
	for {
		if it.leaf == nil {
			it.end = true
			return
		}
		data := it.leaf.Data()
		if it.idx < readSize(data) {
			it.key, it.val = getLeafEntry(data, it.idx)
			it.end = false
			return
		}
		next := readNextPageID(data)
		it.leaf.Drop()
		it.leaf = nil
		if next == bufferpool.InvalidPageID {
			it.end = true
			return
		}
		g, err := it.tree.bp.FetchRead(it.ctx, next)
		if err != nil {
			it.end = true
			return
		}
		it.leaf = g
		it.idx = 0
	}
}

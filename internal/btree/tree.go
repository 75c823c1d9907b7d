package btree

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ticketstore/storageengine/internal/bufferpool"
)

// Tree is a disk-backed B+ tree keyed on int64 (ordered through Comparator,
// never compared directly) mapping to RecordID values. All structural state
// lives in pages owned by a BufferPool; Tree itself holds no page bytes in
// memory between calls. The root page id is persisted in the pool's header
// page, so a Tree is stateless enough to be reopened against the same pool
// without any separate metadata file.
type Tree struct {
	bp              *bufferpool.BufferPool
	cmp             Comparator
	leafMaxSize     int
	internalMaxSize int
}

// Open binds a Tree to a buffer pool. leafMaxSize and internalMaxSize cap
// the number of entries a page of each kind may hold; <= 0 picks the largest
// size a page supports (one entry short of its physical capacity, leaving
// room for the entry an insert adds before a split). A positive value above
// that is rejected with ErrInvalidMaxSize rather than silently
// clamped. A freshly created pool (one whose header page has never been
// written) gets its root initialized to "empty" here.
func Open(bp *bufferpool.BufferPool, cmp Comparator, leafMaxSize, internalMaxSize int) (*Tree, error) {
	if cmp == nil {
		cmp = DefaultComparator
	}
	leafCap := leafCapacity()
	if leafMaxSize <= 0 {
		leafMaxSize = leafCap
	} else if leafMaxSize > leafCap {
		return nil, fmt.Errorf("btree: leaf max size %d: %w", leafMaxSize, ErrInvalidMaxSize)
	}
	internalCap := internalCapacity()
	if internalMaxSize <= 0 {
		internalMaxSize = internalCap
	} else if internalMaxSize > internalCap {
		return nil, fmt.Errorf("btree: internal max size %d: %w", internalMaxSize, ErrInvalidMaxSize)
	}

	t := &Tree{bp: bp, cmp: cmp, leafMaxSize: leafMaxSize, internalMaxSize: internalMaxSize}

	if bp.IsFirstVisit() {
		if err := bp.SetRootPageID(context.Background(), bufferpool.InvalidPageID); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Close flushes every dirty page belonging to the tree's pool. It does not
// close the pool itself, since callers may share one pool across trees.
func (t *Tree) Close() error {
	return t.bp.FlushAll()
}

// IsEmpty reports whether the tree currently has no entries.
func (t *Tree) IsEmpty() (bool, error) {
	root, err := t.bp.RootPageID(context.Background())
	if err != nil {
		return false, err
	}
	return root == bufferpool.InvalidPageID, nil
}

// GetRootPageID returns the tree's current root page id, or InvalidPageID if
// the tree is empty.
func (t *Tree) GetRootPageID() (int32, error) {
	return t.bp.RootPageID(context.Background())
}

// GetValue looks up key, returning its value and true if present.
func (t *Tree) GetValue(key int64) (RecordID, bool, error) {
	ctx := context.Background()
	root, err := t.bp.RootPageID(ctx)
	if err != nil {
		return RecordID{}, false, err
	}
	if root == bufferpool.InvalidPageID {
		return RecordID{}, false, nil
	}

	pageID := root
	var parent *bufferpool.ReadGuard
	for {
		g, err := t.bp.FetchRead(ctx, pageID)
		if err != nil {
			if parent != nil {
				parent.Drop()
			}
			return RecordID{}, false, err
		}
		if parent != nil {
			parent.Drop()
		}
		data := g.Data()
		if readPageType(data) == pageTypeLeaf {
			idx := leafLowerBound(data, key, t.cmp)
			if idx < readSize(data) {
				k, v := getLeafEntry(data, idx)
				if t.cmp(k, key) == 0 {
					g.Drop()
					return v, true, nil
				}
			}
			g.Drop()
			return RecordID{}, false, nil
		}
		_, child := internalFindChildIndex(data, key, t.cmp)
		parent = g
		pageID = child
	}
}

// LowerBound returns an iterator positioned at the first entry whose key is
// >= key. Callers must Drop the returned iterator.
func (t *Tree) LowerBound(key int64) (*Iterator, error) {
	ctx := context.Background()
	root, err := t.bp.RootPageID(ctx)
	if err != nil {
		return nil, err
	}
	if root == bufferpool.InvalidPageID {
		return &Iterator{tree: t, ctx: ctx, end: true}, nil
	}

	pageID := root
	var parent *bufferpool.ReadGuard
	for {
		g, err := t.bp.FetchRead(ctx, pageID)
		if err != nil {
			if parent != nil {
				parent.Drop()
			}
			return nil, err
		}
		if parent != nil {
			parent.Drop()
		}
		data := g.Data()
		if readPageType(data) == pageTypeLeaf {
			it := &Iterator{tree: t, ctx: ctx, leaf: g, idx: leafLowerBound(data, key, t.cmp)}
			it.advance()
			return it, nil
		}
		_, child := internalFindChildIndex(data, key, t.cmp)
		parent = g
		pageID = child
	}
}

// Begin returns an iterator positioned at the tree's first entry in
// comparator order, following the leftmost child at every level rather than
// assuming any particular sentinel key sorts first.
func (t *Tree) Begin() (*Iterator, error) {
	ctx := context.Background()
	root, err := t.bp.RootPageID(ctx)
	if err != nil {
		return nil, err
	}
	if root == bufferpool.InvalidPageID {
		return &Iterator{tree: t, ctx: ctx, end: true}, nil
	}

	pageID := root
	var parent *bufferpool.ReadGuard
	for {
		g, err := t.bp.FetchRead(ctx, pageID)
		if err != nil {
			if parent != nil {
				parent.Drop()
			}
			return nil, err
		}
		if parent != nil {
			parent.Drop()
		}
		data := g.Data()
		if readPageType(data) == pageTypeLeaf {
			it := &Iterator{tree: t, ctx: ctx, leaf: g, idx: 0}
			it.advance()
			return it, nil
		}
		_, child := getInternalEntry(data, 0)
		parent = g
		pageID = child
	}
}

// End returns an already-exhausted iterator, useful as a sentinel to compare
// against in a manual scan loop.
func (t *Tree) End() *Iterator {
	return &Iterator{tree: t, end: true}
}

// Insert adds key/val, returning false without modifying the tree if key is
// already present.
func (t *Tree) Insert(key int64, val RecordID) (bool, error) {
	ctx := context.Background()
	hg, err := t.bp.FetchWrite(ctx, bufferpool.HeaderPageID)
	if err != nil {
		return false, err
	}

	rootID := int32(binary.LittleEndian.Uint32(hg.Data()[0:4]))
	if rootID == bufferpool.InvalidPageID {
		newRootID, rg, err := t.bp.NewPageGuarded(ctx)
		if err != nil {
			hg.Drop()
			return false, err
		}
		rd := rg.MutableData()
		initLeafPage(rd, t.leafMaxSize)
		putLeafEntry(rd, 0, key, val)
		writeSize(rd, 1)
		rg.Drop()

		binary.LittleEndian.PutUint32(hg.MutableData()[0:4], uint32(newRootID))
		hg.Drop()
		return true, nil
	}

	stack := &writeGuardStack{}
	stack.push(hg)

	inserted, splitKey, splitChild, didSplit, err := t.insertDescend(ctx, stack, rootID, key, val)
	if err != nil {
		stack.dropAll()
		return false, err
	}
	if !inserted {
		stack.dropAll()
		return false, nil
	}
	if !didSplit {
		stack.dropAll()
		return true, nil
	}

	// Root split: the header guard is guaranteed to still be held here,
	// because a split only propagates this far when the root was already
	// full (unsafe) on the way down, and an unsafe node never triggers
	// releaseAncestors.
	newRootID, ng, err := t.bp.NewPageGuarded(ctx)
	if err != nil {
		stack.dropAll()
		return false, err
	}
	nd := ng.MutableData()
	initInternalPage(nd, t.internalMaxSize)
	putInternalEntry(nd, 0, 0, rootID)
	putInternalEntry(nd, 1, splitKey, splitChild)
	writeSize(nd, 2)
	ng.Drop()

	binary.LittleEndian.PutUint32(stack.guards[0].MutableData()[0:4], uint32(newRootID))
	stack.dropAll()
	return true, nil
}

type leafRecord struct {
	key int64
	val RecordID
}

type internalRecord struct {
	key   int64
	child int32
}

func (t *Tree) insertDescend(ctx context.Context, stack *writeGuardStack, pageID int32, key int64, val RecordID) (inserted bool, splitKey int64, splitChild int32, didSplit bool, err error) {
	g, err := t.bp.FetchWrite(ctx, pageID)
	if err != nil {
		return false, 0, 0, false, err
	}
	stack.push(g)

	data := g.Data()
	size := readSize(data)
	maxSize := readMaxSize(data)
	typ := readPageType(data)

	if size < maxSize {
		stack.releaseAncestors()
	}

	if typ == pageTypeLeaf {
		idx := leafLowerBound(data, key, t.cmp)
		if idx < size {
			if k := getLeafKey(data, idx); t.cmp(k, key) == 0 {
				return false, 0, 0, false, nil
			}
		}

		md := g.MutableData()
		for i := size; i > idx; i-- {
			kk, vv := getLeafEntry(md, i-1)
			putLeafEntry(md, i, kk, vv)
		}
		putLeafEntry(md, idx, key, val)
		newSize := size + 1
		if newSize <= maxSize {
			writeSize(md, newSize)
			return true, 0, 0, false, nil
		}

		leftCount := newSize / 2
		rightCount := newSize - leftCount
		right := make([]leafRecord, rightCount)
		for i := 0; i < rightCount; i++ {
			k, v := getLeafEntry(md, leftCount+i)
			right[i] = leafRecord{k, v}
		}
		oldNext := readNextPageID(md)
		writeSize(md, leftCount)

		newID, ng, err := t.bp.NewPageGuarded(ctx)
		if err != nil {
			return false, 0, 0, false, err
		}
		nd := ng.MutableData()
		initLeafPage(nd, maxSize)
		for i, e := range right {
			putLeafEntry(nd, i, e.key, e.val)
		}
		writeSize(nd, rightCount)
		writeNextPageID(nd, oldNext)
		ng.Drop()

		writeNextPageID(md, newID)
		return true, right[0].key, newID, true, nil
	}

	childIdx, childID := internalFindChildIndex(data, key, t.cmp)
	inserted, childSplitKey, childSplitChild, childDidSplit, err := t.insertDescend(ctx, stack, childID, key, val)
	if err != nil || !inserted || !childDidSplit {
		return inserted, 0, 0, false, err
	}

	// g is guaranteed to still be pinned here: a child only reports a split
	// when it was full (unsafe) on entry, which never triggers this node's
	// own releaseAncestors.
	md := g.MutableData()
	size = readSize(md)
	idx := childIdx + 1
	for i := size; i > idx; i-- {
		kk, cc := getInternalEntry(md, i-1)
		putInternalEntry(md, i, kk, cc)
	}
	putInternalEntry(md, idx, childSplitKey, childSplitChild)
	newSize := size + 1
	if newSize <= maxSize {
		writeSize(md, newSize)
		return true, 0, 0, false, nil
	}

	leftCount := newSize / 2
	rightCount := newSize - leftCount
	right := make([]internalRecord, rightCount)
	for i := 0; i < rightCount; i++ {
		k, c := getInternalEntry(md, leftCount+i)
		right[i] = internalRecord{k, c}
	}
	promotedKey := right[0].key
	writeSize(md, leftCount)

	newID, ng, err := t.bp.NewPageGuarded(ctx)
	if err != nil {
		return false, 0, 0, false, err
	}
	nd := ng.MutableData()
	initInternalPage(nd, maxSize)
	for i, e := range right {
		putInternalEntry(nd, i, e.key, e.child)
	}
	writeSize(nd, rightCount)
	ng.Drop()

	return true, promotedKey, newID, true, nil
}

// Remove deletes key, returning false without modifying the tree if key is
// absent.
func (t *Tree) Remove(key int64) (bool, error) {
	ctx := context.Background()
	hg, err := t.bp.FetchWrite(ctx, bufferpool.HeaderPageID)
	if err != nil {
		return false, err
	}

	rootID := int32(binary.LittleEndian.Uint32(hg.Data()[0:4]))
	if rootID == bufferpool.InvalidPageID {
		hg.Drop()
		return false, nil
	}

	stack := &writeGuardStack{}
	stack.push(hg)

	found, underflow, _, err := t.removeDescend(ctx, stack, rootID, key)
	if err != nil {
		stack.dropAll()
		return false, err
	}
	if !found {
		stack.dropAll()
		return false, nil
	}
	if !underflow {
		stack.dropAll()
		return true, nil
	}

	// Root (and header) guaranteed still held here for the same reason as
	// the insert path: a root-level underflow report means root was at or
	// below minSizeForType on entry, so it never released its ancestors.
	// The root is exempt from the min-size invariant everywhere else in the
	// tree — we only need to collapse the two degenerate cases.
	rootGuard := stack.last()
	rd := rootGuard.Data()
	switch rtype, rsize := readPageType(rd), readSize(rd); {
	case rtype == pageTypeLeaf && rsize == 0:
		stack.dropLast()
		t.bp.DeletePage(rootID)
		binary.LittleEndian.PutUint32(hg.MutableData()[0:4], uint32(bufferpool.InvalidPageID))
	case rtype == pageTypeInternal && rsize == 1:
		_, onlyChild := getInternalEntry(rd, 0)
		stack.dropLast()
		t.bp.DeletePage(rootID)
		binary.LittleEndian.PutUint32(hg.MutableData()[0:4], uint32(onlyChild))
	}

	stack.dropAll()
	return true, nil
}

// removeDescend fetches pageID, descends if it's internal, and reports
// whether key was found, whether pageID now underflows (size below
// minSizeForType) and must be fixed by its parent, and whether pageID is a
// leaf (so the parent knows which rebalance helpers to call).
func (t *Tree) removeDescend(ctx context.Context, stack *writeGuardStack, pageID int32, key int64) (found, underflow, isLeaf bool, err error) {
	g, err := t.bp.FetchWrite(ctx, pageID)
	if err != nil {
		return false, false, false, err
	}
	stack.push(g)

	data := g.Data()
	size := readSize(data)
	maxSize := readMaxSize(data)
	typ := readPageType(data)
	isLeaf = typ == pageTypeLeaf

	if size > minSizeForType(typ, maxSize) {
		stack.releaseAncestors()
	}

	if isLeaf {
		idx := leafLowerBound(data, key, t.cmp)
		if idx >= size {
			return false, false, true, nil
		}
		if k := getLeafKey(data, idx); t.cmp(k, key) != 0 {
			return false, false, true, nil
		}
		md := g.MutableData()
		removeLeafEntryAt(md, idx, size)
		newSize := size - 1
		writeSize(md, newSize)
		return true, newSize < minSizeForType(typ, maxSize), true, nil
	}

	childIdx, childID := internalFindChildIndex(data, key, t.cmp)
	found, childUnderflow, childIsLeaf, err := t.removeDescend(ctx, stack, childID, key)
	if err != nil || !found {
		return found, false, false, err
	}
	if !childUnderflow {
		return true, false, false, nil
	}

	// g is guaranteed to still be pinned: a child only underflows when it
	// was at or below its own minimum on entry, which never released g as
	// one of its ancestors.
	childGuard := stack.last()
	if err := t.rebalanceChild(ctx, g, childIdx, childGuard, childID, childIsLeaf); err != nil {
		return true, false, false, err
	}
	stack.dropLast()

	newSize := readSize(g.Data())
	return true, newSize < minSizeForType(typ, maxSize), false, nil
}

func (t *Tree) rebalanceChild(ctx context.Context, parent *bufferpool.WriteGuard, childIdx int, child *bufferpool.WriteGuard, childID int32, childIsLeaf bool) error {
	pdata := parent.MutableData()
	psize := readSize(pdata)

	hasLeft := childIdx > 0
	hasRight := childIdx < psize-1

	var leftID, rightID int32
	if hasLeft {
		_, leftID = getInternalEntry(pdata, childIdx-1)
	}
	if hasRight {
		_, rightID = getInternalEntry(pdata, childIdx+1)
	}

	if hasLeft {
		lg, err := t.bp.FetchWrite(ctx, leftID)
		if err != nil {
			return err
		}
		lsize := readSize(lg.Data())
		lmax := readMaxSize(lg.Data())
		ltype := readPageType(lg.Data())
		if lsize > minSizeForType(ltype, lmax) {
			if childIsLeaf {
				borrowLeafFromLeft(lg, child, parent, childIdx)
			} else {
				borrowInternalFromLeft(lg, child, parent, childIdx)
			}
			lg.Drop()
			return nil
		}
		lg.Drop()
	}

	if hasRight {
		rg, err := t.bp.FetchWrite(ctx, rightID)
		if err != nil {
			return err
		}
		rsize := readSize(rg.Data())
		rmax := readMaxSize(rg.Data())
		rtype := readPageType(rg.Data())
		if rsize > minSizeForType(rtype, rmax) {
			if childIsLeaf {
				borrowLeafFromRight(child, rg, parent, childIdx+1)
			} else {
				borrowInternalFromRight(child, rg, parent, childIdx+1)
			}
			rg.Drop()
			return nil
		}
		rg.Drop()
	}

	if hasLeft {
		lg, err := t.bp.FetchWrite(ctx, leftID)
		if err != nil {
			return err
		}
		if childIsLeaf {
			mergeLeafIntoLeft(lg, child)
		} else {
			mergeInternalIntoLeft(lg, child, parent, childIdx)
		}
		lg.Drop()
		child.Drop()
		t.bp.DeletePage(childID)
		removeInternalEntryAt(pdata, childIdx, psize)
		writeSize(pdata, psize-1)
		return nil
	}

	rg, err := t.bp.FetchWrite(ctx, rightID)
	if err != nil {
		return err
	}
	if childIsLeaf {
		mergeLeafIntoLeft(child, rg)
	} else {
		mergeInternalIntoLeft(child, rg, parent, childIdx+1)
	}
	rg.Drop()
	t.bp.DeletePage(rightID)
	removeInternalEntryAt(pdata, childIdx+1, psize)
	writeSize(pdata, psize-1)
	return nil
}

// writeGuardStack tracks the write guards held along the current descent so
// that safe-ancestor release (see Insert/Remove) can drop every ancestor of
// a node proven safe in one step.
type writeGuardStack struct {
	guards []*bufferpool.WriteGuard
}

func (s *writeGuardStack) push(g *bufferpool.WriteGuard) { s.guards = append(s.guards, g) }

func (s *writeGuardStack) last() *bufferpool.WriteGuard { return s.guards[len(s.guards)-1] }

func (s *writeGuardStack) releaseAncestors() {
	if len(s.guards) <= 1 {
		return
	}
	for _, g := range s.guards[:len(s.guards)-1] {
		g.Drop()
	}
	s.guards = s.guards[len(s.guards)-1:]
}

func (s *writeGuardStack) dropLast() {
	if len(s.guards) == 0 {
		return
	}
	s.guards[len(s.guards)-1].Drop()
	s.guards = s.guards[:len(s.guards)-1]
}

func (s *writeGuardStack) dropAll() {
	for _, g := range s.guards {
		g.Drop()
	}
	s.guards = nil
}

package btree

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ticketstore/storageengine/internal/bufferpool"
)

func newTestTree(t *testing.T, poolSize, leafMax, internalMax int) *Tree {
	t.Helper()
	dir := t.TempDir()
	bp, err := bufferpool.Open(filepath.Join(dir, "t.db"), poolSize, 2, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bp.Close() })

	tr, err := Open(bp, DefaultComparator, leafMax, internalMax)
	require.NoError(t, err)
	return tr
}

func TestTree_EmptyTree(t *testing.T) {
	tr := newTestTree(t, 8, 4, 4)

	empty, err := tr.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	_, ok, err := tr.GetValue(1)
	require.NoError(t, err)
	require.False(t, ok)

	found, err := tr.Remove(1)
	require.NoError(t, err)
	require.False(t, found)
}

func TestTree_InsertAndGet(t *testing.T) {
	tr := newTestTree(t, 16, 4, 4)

	ok, err := tr.Insert(10, RecordID{PageID: 1, Slot: 0})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tr.Insert(10, RecordID{PageID: 2, Slot: 0})
	require.NoError(t, err)
	require.False(t, ok, "duplicate key must be rejected")

	v, found, err := tr.GetValue(10)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, RecordID{PageID: 1, Slot: 0}, v)

	_, found, err = tr.GetValue(99)
	require.NoError(t, err)
	require.False(t, found)
}

func TestTree_SplitsLeafAndInternal(t *testing.T) {
	tr := newTestTree(t, 64, 4, 4)

	keys := []int64{5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60}
	for _, k := range keys {
		ok, err := tr.Insert(k, RecordID{PageID: int32(k), Slot: 1})
		require.NoError(t, err)
		require.True(t, ok)
	}

	for _, k := range keys {
		v, found, err := tr.GetValue(k)
		require.NoError(t, err)
		require.True(t, found, "key %d should be present", k)
		require.Equal(t, int32(k), v.PageID)
	}

	root, err := tr.GetRootPageID()
	require.NoError(t, err)
	require.NotEqual(t, bufferpool.InvalidPageID, root)
}

// TestTree_SplitStructureAfterFifthInsert pins down the exact split shape
// spec §8 scenario 2 calls for: leafMax=4, keys [5,10,15,20,25] inserted in
// order. The fifth insert splits the leaf right-biased (left keeps the
// smaller half), so the root becomes an internal page of size 2 with
// separator 15, left leaf [5,10], right leaf [15,20,25]. Logical lookups
// alone can't tell a left-biased split from a right-biased one (both leave
// every key reachable), so this inspects the physical pages directly.
func TestTree_SplitStructureAfterFifthInsert(t *testing.T) {
	tr := newTestTree(t, 64, 4, 4)

	for _, k := range []int64{5, 10, 15, 20, 25} {
		ok, err := tr.Insert(k, RecordID{PageID: int32(k)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	ctx := context.Background()
	rootID, err := tr.GetRootPageID()
	require.NoError(t, err)

	rg, err := tr.bp.FetchRead(ctx, rootID)
	require.NoError(t, err)
	defer rg.Drop()
	rd := rg.Data()
	require.Equal(t, pageTypeInternal, readPageType(rd))
	require.Equal(t, 2, readSize(rd))

	sep, leftChild := getInternalEntry(rd, 0)
	require.Equal(t, int64(0), sep, "slot 0's key is the unused sentinel")
	sep1, rightChild := getInternalEntry(rd, 1)
	require.Equal(t, int64(15), sep1)

	lg, err := tr.bp.FetchRead(ctx, leftChild)
	require.NoError(t, err)
	defer lg.Drop()
	ld := lg.Data()
	require.Equal(t, pageTypeLeaf, readPageType(ld))
	require.Equal(t, 2, readSize(ld))
	k0, _ := getLeafEntry(ld, 0)
	k1, _ := getLeafEntry(ld, 1)
	require.Equal(t, []int64{5, 10}, []int64{k0, k1})

	rgLeaf, err := tr.bp.FetchRead(ctx, rightChild)
	require.NoError(t, err)
	defer rgLeaf.Drop()
	rdLeaf := rgLeaf.Data()
	require.Equal(t, pageTypeLeaf, readPageType(rdLeaf))
	require.Equal(t, 3, readSize(rdLeaf))
	rk0, _ := getLeafEntry(rdLeaf, 0)
	rk1, _ := getLeafEntry(rdLeaf, 1)
	rk2, _ := getLeafEntry(rdLeaf, 2)
	require.Equal(t, []int64{15, 20, 25}, []int64{rk0, rk1, rk2})
}

func TestTree_IteratorScansInOrder(t *testing.T) {
	tr := newTestTree(t, 64, 4, 4)

	inserted := []int64{50, 10, 30, 20, 40, 5, 45, 35, 25, 15}
	for _, k := range inserted {
		ok, err := tr.Insert(k, RecordID{PageID: int32(k)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	it, err := tr.Begin()
	require.NoError(t, err)
	defer it.Drop()

	var seen []int64
	for !it.IsEnd() {
		seen = append(seen, it.Key())
		it.Next()
	}
	require.Equal(t, []int64{5, 10, 15, 20, 25, 30, 35, 40, 45, 50}, seen)
}

func TestTree_LowerBoundSkipsSmallerKeys(t *testing.T) {
	tr := newTestTree(t, 32, 4, 4)
	for _, k := range []int64{10, 20, 30, 40, 50} {
		_, err := tr.Insert(k, RecordID{})
		require.NoError(t, err)
	}

	it, err := tr.LowerBound(25)
	require.NoError(t, err)
	defer it.Drop()

	require.False(t, it.IsEnd())
	require.Equal(t, int64(30), it.Key())
}

func TestTree_RemoveTriggersMergeAndRootCollapse(t *testing.T) {
	tr := newTestTree(t, 64, 4, 4)

	keys := []int64{5, 10, 15, 20, 25, 30, 35, 40}
	for _, k := range keys {
		ok, err := tr.Insert(k, RecordID{PageID: int32(k)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	for _, k := range keys {
		ok, err := tr.Remove(k)
		require.NoError(t, err)
		require.True(t, ok, "removing %d should report found", k)
	}

	empty, err := tr.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	for _, k := range keys {
		_, found, err := tr.GetValue(k)
		require.NoError(t, err)
		require.False(t, found)
	}
}

func TestTree_RemoveMissingKeyIsNoop(t *testing.T) {
	tr := newTestTree(t, 16, 4, 4)
	_, err := tr.Insert(1, RecordID{})
	require.NoError(t, err)

	found, err := tr.Remove(2)
	require.NoError(t, err)
	require.False(t, found)

	v, ok, err := tr.GetValue(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, RecordID{}, v)
}

func TestOpen_RejectsOversizedMaxSize(t *testing.T) {
	dir := t.TempDir()
	bp, err := bufferpool.Open(filepath.Join(dir, "t.db"), 4, 2, 1)
	require.NoError(t, err)
	defer bp.Close()

	_, err = Open(bp, DefaultComparator, leafCapacity()+1, 4)
	require.ErrorIs(t, err, ErrInvalidMaxSize)

	_, err = Open(bp, DefaultComparator, 4, internalCapacity()+1)
	require.ErrorIs(t, err, ErrInvalidMaxSize)
}

func TestTree_CustomComparatorDescending(t *testing.T) {
	dir := t.TempDir()
	bp, err := bufferpool.Open(filepath.Join(dir, "t.db"), 16, 2, 1)
	require.NoError(t, err)
	defer bp.Close()

	descending := func(a, b int64) int { return DefaultComparator(b, a) }
	tr, err := Open(bp, descending, 4, 4)
	require.NoError(t, err)

	for _, k := range []int64{1, 2, 3, 4, 5} {
		_, err := tr.Insert(k, RecordID{})
		require.NoError(t, err)
	}

	it, err := tr.Begin()
	require.NoError(t, err)
	defer it.Drop()

	var seen []int64
	for !it.IsEnd() {
		seen = append(seen, it.Key())
		it.Next()
	}
	require.Equal(t, []int64{5, 4, 3, 2, 1}, seen)
}

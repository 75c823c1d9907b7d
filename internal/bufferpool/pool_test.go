package bufferpool

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, poolSize int) *BufferPool {
	t.Helper()
	dir := t.TempDir()
	bp, err := Open(filepath.Join(dir, "t.db"), poolSize, 2, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bp.Close() })
	return bp
}

func TestBufferPool_NewPage_PinsZeroedFrame(t *testing.T) {
	bp := newTestPool(t, 4)

	id, f, err := bp.NewPage()
	require.NoError(t, err)
	require.Equal(t, int32(1), id, "page id 0 is reserved for the header page")
	require.Equal(t, int32(1), f.PinCount())
	require.False(t, f.IsDirty())
	for _, b := range f.Bytes() {
		require.Zero(t, b)
	}
}

func TestBufferPool_Fetch_IncrementsExistingPin(t *testing.T) {
	bp := newTestPool(t, 4)

	id, _, err := bp.NewPage()
	require.NoError(t, err)

	f2, err := bp.Fetch(id)
	require.NoError(t, err)
	require.Equal(t, int32(2), f2.PinCount())
}

func TestBufferPool_PoolExhausted_SucceedsAfterUnpin(t *testing.T) {
	bp := newTestPool(t, 1)

	id0, _, err := bp.NewPage()
	require.NoError(t, err)

	_, _, err = bp.NewPage()
	require.ErrorIs(t, err, ErrPoolExhausted)

	require.True(t, bp.Unpin(id0, false))

	id1, f1, err := bp.NewPage()
	require.NoError(t, err)
	require.Equal(t, id0+1, id1)
	require.Equal(t, int32(1), f1.PinCount())
}

func TestBufferPool_EndToEnd_ScenarioOne(t *testing.T) {
	// Pool(2,K=2) on a fresh file; mirrors SPEC_FULL's end-to-end scenario 1
	// (ids offset by one from the spec's literal numbers because id 0 is
	// reserved for the header page here — see DESIGN.md).
	dir := t.TempDir()
	bp, err := Open(filepath.Join(dir, "t.db"), 2, 2, 1)
	require.NoError(t, err)
	defer bp.Close()

	id0, g0, err := bp.NewPageGuarded(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), id0)

	id1, g1, err := bp.NewPageGuarded(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), id1)

	_, _, err = bp.NewPage()
	require.ErrorIs(t, err, ErrPoolExhausted)

	g0.Drop()

	_, writesBefore := bp.disk.Stats()

	id2, g2, err := bp.NewPageGuarded(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(3), id2)
	defer g2.Drop()

	_, writesAfter := bp.disk.Stats()
	require.Equal(t, writesBefore, writesAfter, "evicting a clean page must not write")

	g1.Drop()
}

func TestBufferPool_EvictDirtyFrame_WritesThroughProxy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.db")
	bp, err := Open(path, 1, 2, 1)
	require.NoError(t, err)
	defer bp.Close()

	id0, f0, err := bp.NewPage()
	require.NoError(t, err)
	f0.Bytes()[0] = 42
	require.True(t, bp.Unpin(id0, true))

	_, err = bp.Fetch(id0 + 1)
	require.NoError(t, err)
	require.True(t, bp.Unpin(id0+1, false))

	require.NoError(t, bp.proxy.Close())
	raw := make([]byte, PageSize)
	require.NoError(t, bp.disk.ReadPage(id0, raw))
	require.Equal(t, byte(42), raw[0])
}

func TestBufferPool_DeletePage_FailsWhenPinned(t *testing.T) {
	bp := newTestPool(t, 2)

	id, _, err := bp.NewPage()
	require.NoError(t, err)
	require.False(t, bp.DeletePage(id))

	require.True(t, bp.Unpin(id, false))
	require.True(t, bp.DeletePage(id))
}

func TestBufferPool_FlushAll_ClearsDirtyBits(t *testing.T) {
	bp := newTestPool(t, 2)

	id0, f0, err := bp.NewPage()
	require.NoError(t, err)
	f0.Bytes()[10] = 11
	require.True(t, bp.Unpin(id0, true))

	require.NoError(t, bp.FlushAll())
	require.False(t, f0.IsDirty())
}

func TestBufferPool_RestoresAllocatorAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.db")

	bp, err := Open(path, 4, 2, 1)
	require.NoError(t, err)
	require.True(t, bp.IsFirstVisit())

	for i := 0; i < 3; i++ {
		id, _, err := bp.NewPage()
		require.NoError(t, err)
		require.True(t, bp.Unpin(id, false))
	}
	require.NoError(t, bp.Close())

	reopened, err := Open(path, 4, 2, 1)
	require.NoError(t, err)
	defer reopened.Close()
	require.False(t, reopened.IsFirstVisit())

	id, _, err := reopened.NewPage()
	require.NoError(t, err)
	require.Equal(t, int32(4), id)
}


package tuplepage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ticketstore/storageengine/internal/alias/bx"
)

// int64Codec encodes plain int64 values, used to exercise the generic
// page layouts without pulling in a domain type.
type int64Codec struct{}

func (int64Codec) Size() int                  { return 8 }
func (int64Codec) Encode(v int64, dst []byte) { bx.PutU64At(dst, 0, uint64(v)) }
func (int64Codec) Decode(src []byte) int64    { return int64(bx.U64At(src, 0)) }

func TestTuplePage_AppendAndRead(t *testing.T) {
	buf := make([]byte, 128)
	p := NewTuplePage[int64](buf, int64Codec{})
	p.Init()

	require.Equal(t, 0, p.Size())
	require.Greater(t, p.Capacity(), 0)

	for i := int64(0); i < 5; i++ {
		require.True(t, p.Append(i))
	}
	require.Equal(t, 5, p.Size())
	for i := 0; i < 5; i++ {
		require.Equal(t, int64(i), p.At(i))
	}
}

func TestTuplePage_AppendFailsWhenFull(t *testing.T) {
	buf := make([]byte, 4+16) // room for exactly 2 int64 entries
	p := NewTuplePage[int64](buf, int64Codec{})
	p.Init()

	require.True(t, p.Append(1))
	require.True(t, p.Append(2))
	require.False(t, p.Append(3))
	require.Equal(t, 2, p.Size())
}

func TestLinkedTuplePage_TracksNextPageID(t *testing.T) {
	buf := make([]byte, 64)
	p := NewLinkedTuplePage[int64](buf, int64Codec{})
	p.Init(-1)

	require.Equal(t, int32(-1), p.NextPageID())
	p.SetNextPageID(7)
	require.Equal(t, int32(7), p.NextPageID())

	require.True(t, p.Append(42))
	require.Equal(t, int64(42), p.At(0))
}

func TestDynamicTuplePage_AppendAndRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	p := NewDynamicTuplePage(buf)
	p.Init()

	off1, ok := p.Append([]byte("hello"))
	require.True(t, ok)
	off2, ok := p.Append([]byte("world!"))
	require.True(t, ok)

	got1, err := p.At(off1)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got1))

	got2, err := p.At(off2)
	require.NoError(t, err)
	require.Equal(t, "world!", string(got2))
}

func TestDynamicTuplePage_AppendFailsWhenOutOfSpace(t *testing.T) {
	buf := make([]byte, 16)
	p := NewDynamicTuplePage(buf)
	p.Init()

	_, ok := p.Append([]byte("0123456789"))
	require.False(t, ok, "record plus length prefix does not fit")
}

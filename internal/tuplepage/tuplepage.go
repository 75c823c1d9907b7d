// Package tuplepage gives collaborators three fixed page layouts to overlay
// on a write guard's bytes: a flat fixed-size array, the same array plus a
// sibling link, and a variable-length append blob. Go has no templates, so
// the element type is captured by a small Codec rather than reinterpreted
// in place.
package tuplepage

import (
	"fmt"

	"github.com/ticketstore/storageengine/internal/alias/bx"
)

// Codec encodes and decodes one fixed-size element of type T.
type Codec[T any] interface {
	Size() int
	Encode(v T, dst []byte)
	Decode(src []byte) T
}

// sizeOffset holds the element count as the page's first 4 bytes; both
// TuplePage and LinkedTuplePage share this much of the header.
const sizeOffset = 0

// TuplePage overlays an append-only fixed-size array on a page: a 4-byte
// count followed by up to Capacity elements.
type TuplePage[T any] struct {
	buf   []byte
	codec Codec[T]
}

// NewTuplePage wraps buf (expected to be exactly bufferpool.PageSize bytes)
// with codec. It does not touch the header; call Init on a freshly
// allocated page before using it.
func NewTuplePage[T any](buf []byte, codec Codec[T]) *TuplePage[T] {
	return &TuplePage[T]{buf: buf, codec: codec}
}

func (p *TuplePage[T]) headerSize() int { return 4 }

// Capacity returns the maximum number of elements the page can hold.
func (p *TuplePage[T]) Capacity() int {
	free := len(p.buf) - p.headerSize()
	if free <= 0 {
		return 0
	}
	return free / p.codec.Size()
}

// Init zeroes the element count, marking the page empty.
func (p *TuplePage[T]) Init() {
	bx.PutU32At(p.buf, sizeOffset, 0)
}

// Size returns the current element count.
func (p *TuplePage[T]) Size() int {
	return int(bx.U32At(p.buf, sizeOffset))
}

func (p *TuplePage[T]) entryOffset(i int) int {
	return p.headerSize() + i*p.codec.Size()
}

// At decodes the element at index i. The caller must ensure 0 <= i < Size().
func (p *TuplePage[T]) At(i int) T {
	off := p.entryOffset(i)
	return p.codec.Decode(p.buf[off : off+p.codec.Size()])
}

// Append encodes v into the next free slot and reports whether there was
// room.
func (p *TuplePage[T]) Append(v T) bool {
	size := p.Size()
	if size >= p.Capacity() {
		return false
	}
	off := p.entryOffset(size)
	p.codec.Encode(v, p.buf[off:off+p.codec.Size()])
	bx.PutU32At(p.buf, sizeOffset, uint32(size+1))
	return true
}

// LinkedTuplePage is a TuplePage plus a sibling page id, stored in the
// header right after the 4-byte count (entries start at byte 8), for
// chaining several pages into one logical sequence.
type LinkedTuplePage[T any] struct {
	TuplePage[T]
}

func NewLinkedTuplePage[T any](buf []byte, codec Codec[T]) *LinkedTuplePage[T] {
	return &LinkedTuplePage[T]{TuplePage: TuplePage[T]{buf: buf, codec: codec}}
}

func (p *LinkedTuplePage[T]) headerSize() int { return 8 }

func (p *LinkedTuplePage[T]) Capacity() int {
	free := len(p.buf) - p.headerSize()
	if free <= 0 {
		return 0
	}
	return free / p.codec.Size()
}

func (p *LinkedTuplePage[T]) entryOffset(i int) int {
	return p.headerSize() + i*p.codec.Size()
}

func (p *LinkedTuplePage[T]) Init(nextPageID int32) {
	bx.PutU32At(p.buf, sizeOffset, 0)
	p.SetNextPageID(nextPageID)
}

func (p *LinkedTuplePage[T]) At(i int) T {
	off := p.entryOffset(i)
	return p.codec.Decode(p.buf[off : off+p.codec.Size()])
}

func (p *LinkedTuplePage[T]) Append(v T) bool {
	size := p.Size()
	if size >= p.Capacity() {
		return false
	}
	off := p.entryOffset(size)
	p.codec.Encode(v, p.buf[off:off+p.codec.Size()])
	bx.PutU32At(p.buf, sizeOffset, uint32(size+1))
	return true
}

// NextPageID returns the linked sibling, or -1 if this is the last page in
// the chain (callers compare against their own invalid-page sentinel).
func (p *LinkedTuplePage[T]) NextPageID() int32 {
	return int32(bx.U32At(p.buf, 4))
}

func (p *LinkedTuplePage[T]) SetNextPageID(id int32) {
	bx.PutU32At(p.buf, 4, uint32(id))
}

// DynamicTuplePage is a variable-length append blob: a 4-byte write cursor
// followed by length-prefixed records. Appends return a byte offset usable
// as a record pointer; that offset is stable until the page is
// reinitialized.
type DynamicTuplePage struct {
	buf []byte
}

func NewDynamicTuplePage(buf []byte) *DynamicTuplePage {
	return &DynamicTuplePage{buf: buf}
}

const dynamicHeaderSize = 4

// Init resets the write cursor to just past the header, discarding any
// previously appended records.
func (p *DynamicTuplePage) Init() {
	bx.PutU32At(p.buf, sizeOffset, uint32(dynamicHeaderSize))
}

// cursor returns the byte offset the next record will be written at.
func (p *DynamicTuplePage) cursor() int {
	return int(bx.U32At(p.buf, sizeOffset))
}

// FreeSpace reports how many bytes remain for new records, including their
// 4-byte length prefix.
func (p *DynamicTuplePage) FreeSpace() int {
	return len(p.buf) - p.cursor()
}

// Append writes data as a length-prefixed record and returns the offset it
// was written at, or ok=false if there was not enough room.
func (p *DynamicTuplePage) Append(data []byte) (offset int, ok bool) {
	need := 4 + len(data)
	if need > p.FreeSpace() {
		return 0, false
	}
	off := p.cursor()
	bx.PutU32At(p.buf, off, uint32(len(data)))
	copy(p.buf[off+4:off+4+len(data)], data)
	bx.PutU32At(p.buf, sizeOffset, uint32(off+need))
	return off, true
}

// At returns the record written at offset by a prior Append.
func (p *DynamicTuplePage) At(offset int) ([]byte, error) {
	if offset < dynamicHeaderSize || offset+4 > len(p.buf) {
		return nil, fmt.Errorf("tuplepage: offset %d out of range", offset)
	}
	n := int(bx.U32At(p.buf, offset))
	start, end := offset+4, offset+4+n
	if end > len(p.buf) {
		return nil, fmt.Errorf("tuplepage: record at %d overruns page", offset)
	}
	return p.buf[start:end], nil
}

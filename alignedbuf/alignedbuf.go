// Package alignedbuf provides the aligned block buffers the cache pool hands
// to the direct-I/O layer. O_DIRECT requires that every buffer passed to a
// positioned read or write start on an address that is a multiple of the file
// system's block size, which Go's allocator doesn't guarantee; we get there by
// over-allocating and re-slicing to the first aligned offset.
package alignedbuf

import (
	"fmt"
	"unsafe"

	"github.com/dargueta/pagecache/common"
	"github.com/dargueta/pagecache/errors"
)

// Buffer owns exactly one block's worth of aligned memory, plus the metadata
// the replacement policy needs: the index of the block it holds, a dirty bit,
// and a reference bit.
//
// A Buffer must not be copied; the slot that owns it holds the only live
// reference, and a shallow copy would let two slots observe one region.
type Buffer struct {
	data       []byte
	index      common.BlockIndex
	dirty      bool
	referenced bool
}

// Alignment returns the offset of the first byte of `b` from the previous
// `align`-byte boundary. A return value of 0 means the slice is aligned.
func Alignment(b []byte, align int) int {
	if align <= 0 || len(b) == 0 {
		return 0
	}
	return int(uintptr(unsafe.Pointer(&b[0])) % uintptr(align))
}

// IsAligned reports whether `b` starts on an `align`-byte boundary.
func IsAligned(b []byte, align int) bool {
	return Alignment(b, align) == 0
}

// New allocates a zero-filled Buffer of `size` bytes aligned to `align`, for
// the block at `index`. `align` must be a power of two; `size` must be a
// positive multiple of `align`. Fails with [errors.ErrAllocationFailed] when
// an aligned region can't be produced.
func New(size, align int, index common.BlockIndex) (*Buffer, error) {
	if size <= 0 || align <= 0 || align&(align-1) != 0 || size%align != 0 {
		return nil, errors.ErrAllocationFailed.WithMessage(
			fmt.Sprintf("bad geometry: size=%d align=%d", size, align),
		)
	}

	// Over-allocate by one alignment unit so some offset in the first `align`
	// bytes is guaranteed to land on a boundary.
	raw := make([]byte, size+align)
	shift := Alignment(raw, align)

	offset := 0
	if shift != 0 {
		offset = align - shift
	}
	data := raw[offset : offset+size]

	if !IsAligned(data, align) {
		return nil, errors.ErrAllocationFailed.WithMessage(
			fmt.Sprintf("allocation not alignable to %d bytes", align),
		)
	}

	return &Buffer{data: data, index: index}, nil
}

// Data returns the aligned byte region. The slice aliases the buffer's
// storage; writes through it must be followed by SetDirty on the owning slot.
func (buf *Buffer) Data() []byte {
	return buf.data
}

// Index returns the block index this buffer was created for. It is fixed for
// the buffer's lifetime.
func (buf *Buffer) Index() common.BlockIndex {
	return buf.index
}

func (buf *Buffer) Dirty() bool {
	return buf.dirty
}

func (buf *Buffer) SetDirty(dirty bool) {
	buf.dirty = dirty
}

func (buf *Buffer) Referenced() bool {
	return buf.referenced
}

func (buf *Buffer) SetReferenced(referenced bool) {
	buf.referenced = referenced
}

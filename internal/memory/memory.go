// Package memory describes byte ranges handed between boot stages and the
// page allocator that places them below a physical address ceiling.
package memory

import (
	"math"

	"github.com/cockroachdb/errors"
)

// PageSize is the allocation granularity of every Allocator.
const PageSize = 4096

// ErrAllocation marks size overflows and failed page reservations.
var ErrAllocation = errors.New("allocation failure")

// Blob is a byte range at a fixed address. A nil *Blob means the payload is
// absent, which is different from a present blob of zero bytes.
type Blob struct {
	Addr uint64
	Size uint64
	Data []byte

	free func() error
}

// NewBlob wraps an owned buffer that has no address of its own.
func NewBlob(data []byte) *Blob {
	return &Blob{Size: uint64(len(data)), Data: data}
}

// Present reports whether the blob exists.
func (b *Blob) Present() bool {
	return b != nil
}

// Release drops the blob's bytes and returns its pages to the allocator if it
// has any. Releasing an absent or already released blob is a no-op.
func (b *Blob) Release() error {
	if b == nil || b.Data == nil {
		return nil
	}
	b.Data = nil
	if b.free == nil {
		return nil
	}
	free := b.free
	b.free = nil
	return free()
}

// Size is a byte count in the platform's size type. Arithmetic on it fails
// instead of wrapping.
type Size uint

// SizeOf converts a 64-bit length into a Size.
func SizeOf(n uint64) (Size, error) {
	if n > math.MaxUint {
		return 0, errors.Mark(errors.Newf("size %d exceeds platform size type", n), ErrAllocation)
	}
	return Size(n), nil
}

// Add returns s+n or an allocation error on overflow.
func (s Size) Add(n Size) (Size, error) {
	if n > math.MaxUint-s {
		return 0, errors.Mark(errors.Newf("size overflow: %d + %d", uint(s), uint(n)), ErrAllocation)
	}
	return s + n, nil
}

// AlignUp rounds s up to a multiple of align, which must be a power of two.
func (s Size) AlignUp(align Size) (Size, error) {
	mask := align - 1
	if s&mask == 0 {
		return s, nil
	}
	return (s &^ mask).Add(align)
}

// Pages is the number of whole pages needed to hold s bytes.
func (s Size) Pages() uint64 {
	pages := uint64(s) / PageSize
	if uint64(s)%PageSize != 0 {
		pages++
	}
	return pages
}

// Allocator reserves physically contiguous, page aligned memory.
type Allocator interface {
	// AllocatePages returns a region of pages*PageSize bytes lying entirely
	// at or below maxAddr. Failures are marked with ErrAllocation.
	AllocatePages(pages uint64, maxAddr uint64) (*Blob, error)
}

// Ceiling lowers the address bound of every allocation to Max.
type Ceiling struct {
	Allocator Allocator
	Max       uint64
}

// AllocatePages implements Allocator.
func (c Ceiling) AllocatePages(pages uint64, maxAddr uint64) (*Blob, error) {
	return c.Allocator.AllocatePages(pages, min(maxAddr, c.Max))
}

//go:build linux

package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// lowMapHint is where the kernel is asked to place low mappings.
const lowMapHint = 0x1000_0000

// MmapAllocator reserves anonymous mappings in the low part of the address
// space. Pages are locked so they stay resident until handoff.
type MmapAllocator struct{}

// AllocatePages implements Allocator.
func (MmapAllocator) AllocatePages(pages uint64, maxAddr uint64) (*Blob, error) {
	if pages == 0 {
		return &Blob{}, nil
	}
	if pages > maxAddr/PageSize {
		return nil, errors.Mark(errors.Newf("%d pages do not fit below %#x", pages, maxAddr), ErrAllocation)
	}

	length := uintptr(pages * PageSize)
	hint := uintptr(lowMapHint)
	//nolint:govet // hint address, never dereferenced
	ptr, err := unix.MmapPtr(-1, 0, *(*unsafe.Pointer)(unsafe.Pointer(&hint)), length,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|lowMapFlags)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "mmap %d pages", pages), ErrAllocation)
	}

	addr := uint64(uintptr(ptr))
	if addr+uint64(length)-1 > maxAddr {
		_ = unix.MunmapPtr(ptr, length)
		return nil, errors.Mark(errors.Newf("mapping at %#x crosses %#x", addr, maxAddr), ErrAllocation)
	}

	data := unsafe.Slice((*byte)(ptr), length)
	if err := unix.Mlock(data); err != nil {
		_ = unix.MunmapPtr(ptr, length)
		return nil, errors.Mark(errors.Wrap(err, "mlock"), ErrAllocation)
	}

	return &Blob{
		Addr: addr,
		Size: uint64(length),
		Data: data,
		free: func() error { return unix.MunmapPtr(ptr, length) },
	}, nil
}

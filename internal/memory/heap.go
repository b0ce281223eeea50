package memory

import (
	"github.com/cockroachdb/errors"
)

// heapBase is the first synthetic address handed out by HeapAllocator.
const heapBase = 0x0100_0000

// HeapAllocator serves pages from the Go heap and assigns them synthetic,
// monotonically increasing addresses. It is used for dry runs and tests.
type HeapAllocator struct {
	// Err, when set, is returned by every allocation.
	Err error

	// Calls counts AllocatePages invocations, failed ones included.
	Calls int

	// Released counts regions returned through Blob.Release.
	Released int

	next uint64
}

// AllocatePages implements Allocator.
func (a *HeapAllocator) AllocatePages(pages uint64, maxAddr uint64) (*Blob, error) {
	a.Calls++

	if a.Err != nil {
		return nil, errors.Mark(a.Err, ErrAllocation)
	}
	if a.next == 0 {
		a.next = heapBase
	}

	if a.next > maxAddr || pages > (maxAddr-a.next+1)/PageSize {
		return nil, errors.Mark(
			errors.Newf("cannot place %d pages at %#x below %#x", pages, a.next, maxAddr), ErrAllocation)
	}

	size := pages * PageSize
	blob := &Blob{Addr: a.next, Size: size, Data: make([]byte, size)}
	blob.free = func() error {
		a.Released++
		return nil
	}
	a.next += size

	return blob, nil
}

// Package initrd folds the embedded initrd and the archives generated at boot
// into the single region the kernel receives.
package initrd

import (
	"github.com/cockroachdb/errors"

	"github.com/cozystack/uki-stub/internal/memory"
)

// MaxAddress is the last byte address the combined initrd may occupy.
const MaxAddress = 1<<32 - 1

// primaryAlignment is the boundary the first generated archive starts on.
const primaryAlignment = 4

// Parts are the inputs of Combine. Any of them may be nil.
type Parts struct {
	// Primary is the initrd embedded in the image. It always comes first
	// so early microcode updates in it are found by the kernel.
	Primary *memory.Blob

	Credentials       *memory.Blob
	GlobalCredentials *memory.Blob
	Sysext            *memory.Blob
}

// dynamic returns the generated archives in concatenation order.
func (p Parts) dynamic() []*memory.Blob {
	return []*memory.Blob{p.Credentials, p.GlobalCredentials, p.Sysext}
}

// HasDynamic reports whether any generated archive is present.
func (p Parts) HasDynamic() bool {
	for _, b := range p.dynamic() {
		if b != nil {
			return true
		}
	}
	return false
}

// Release frees the generated archives. The primary initrd is left alone.
func (p Parts) Release() error {
	var errs []error
	for _, b := range p.dynamic() {
		if err := b.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Size returns the combined size: the primary padded to four bytes followed
// by every present archive.
func (p Parts) Size() (memory.Size, error) {
	var primary memory.Size
	if p.Primary != nil {
		n, err := memory.SizeOf(p.Primary.Size)
		if err != nil {
			return 0, err
		}
		primary = n
	}

	total, err := primary.AlignUp(primaryAlignment)
	if err != nil {
		return 0, err
	}

	for _, b := range p.dynamic() {
		if b == nil {
			continue
		}
		n, err := memory.SizeOf(b.Size)
		if err != nil {
			return 0, err
		}
		if total, err = total.Add(n); err != nil {
			return 0, err
		}
	}

	return total, nil
}

// Combine copies the parts into one page aligned region below MaxAddress.
// Nothing is allocated when the size computation overflows.
func Combine(alloc memory.Allocator, p Parts) (*memory.Blob, error) {
	total, err := p.Size()
	if err != nil {
		return nil, errors.Wrap(err, "compute initrd size")
	}

	for _, b := range append([]*memory.Blob{p.Primary}, p.dynamic()...) {
		if b != nil && uint64(len(b.Data)) != b.Size {
			return nil, errors.Newf("blob at %#x holds %d bytes, expected %d", b.Addr, len(b.Data), b.Size)
		}
	}

	region, err := alloc.AllocatePages(total.Pages(), MaxAddress)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "allocate %d bytes for initrd", uint(total)), memory.ErrAllocation)
	}

	out := region.Data[:total]
	pos := 0

	if p.Primary != nil {
		pos = copy(out, p.Primary.Data)
		aligned := (pos + primaryAlignment - 1) &^ (primaryAlignment - 1)
		clear(out[pos:aligned])
		pos = aligned
	}

	for _, b := range p.dynamic() {
		if b == nil {
			continue
		}
		pos += copy(out[pos:], b.Data)
	}

	if uint(pos) != uint(total) {
		_ = region.Release()
		return nil, errors.AssertionFailedf("initrd cursor at %d, expected %d", pos, uint(total))
	}

	region.Size = uint64(total)
	region.Data = out
	return region, nil
}

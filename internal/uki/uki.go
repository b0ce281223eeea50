// Package uki locates the sections embedded in a unified kernel image.
package uki

import (
	"bytes"
	"debug/pe"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// Section is the name of a PE section carried by a unified kernel image.
type Section string

// Sections consumed by the stub.
const (
	SectionCmdline Section = ".cmdline"
	SectionLinux   Section = ".linux"
	SectionInitrd  Section = ".initrd"
	SectionSplash  Section = ".splash"
	SectionDTB     Section = ".dtb"
)

// Informational sections shown by inspect.
const (
	SectionOSRel Section = ".osrel"
	SectionUname Section = ".uname"
)

// Sections lists the stub sections in lookup order.
var Sections = []Section{SectionCmdline, SectionLinux, SectionInitrd, SectionSplash, SectionDTB}

// Span is a byte range inside the loaded image. A zero Size means the
// section is absent.
type Span struct {
	Offset uint64
	Size   uint64
}

// Present reports whether the span covers any bytes.
func (s Span) Present() bool {
	return s.Size > 0
}

// Header describes one entry of the section table.
type Header struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
	RawSize        uint32
}

// Image is a PE image laid out at its section virtual addresses, the way
// the firmware loader places it in memory before entering the stub.
type Image struct {
	// Memory holds the image as loaded; section data starts at each
	// section's virtual address.
	Memory []byte

	headers []Header
}

// Load parses the PE file read from r and lays its sections out in memory.
func Load(r io.ReaderAt) (*Image, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse PE file")
	}
	defer f.Close()

	var end uint64
	headers := make([]Header, 0, len(f.Sections))
	for _, s := range f.Sections {
		// Remove null bytes from section name
		name := strings.TrimRight(s.Name, "\x00")
		headers = append(headers, Header{
			Name:           name,
			VirtualAddress: s.VirtualAddress,
			VirtualSize:    s.VirtualSize,
			RawSize:        s.Size,
		})
		if e := uint64(s.VirtualAddress) + uint64(s.VirtualSize); e > end {
			end = e
		}
	}

	// the loader reserves SizeOfImage; sections reaching past it are
	// reported by Locate
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.SizeOfImage != 0 {
			end = uint64(oh.SizeOfImage)
		}
	case *pe.OptionalHeader64:
		if oh.SizeOfImage != 0 {
			end = uint64(oh.SizeOfImage)
		}
	}

	img := &Image{Memory: make([]byte, end), headers: headers}

	for i, s := range f.Sections {
		if s.Size == 0 || s.VirtualSize == 0 || uint64(s.VirtualAddress) >= end {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read section %s", headers[i].Name)
		}
		// Use VirtualSize instead of Size to exclude alignment
		n := min(uint64(len(data)), uint64(s.VirtualSize))
		copy(img.Memory[s.VirtualAddress:], data[:n])
	}

	return img, nil
}

// LoadBytes is Load over an in-memory file.
func LoadBytes(b []byte) (*Image, error) {
	return Load(bytes.NewReader(b))
}

// Headers returns the section table.
func (img *Image) Headers() []Header {
	return img.headers
}

// Locate returns a span for each name, in the same order. The first
// section table entry with a matching name wins.
func (img *Image) Locate(names ...Section) ([]Span, error) {
	spans := make([]Span, len(names))
	found := make([]bool, len(names))

	for _, h := range img.headers {
		for i, name := range names {
			if found[i] || h.Name != string(name) {
				continue
			}
			found[i] = true

			end := uint64(h.VirtualAddress) + uint64(h.VirtualSize)
			if end > uint64(len(img.Memory)) {
				return nil, errors.Newf("section %s exceeds image: %#x > %#x", name, end, len(img.Memory))
			}
			spans[i] = Span{Offset: uint64(h.VirtualAddress), Size: uint64(h.VirtualSize)}
		}
	}

	return spans, nil
}

// Bytes returns the image bytes covered by s, or nil if s is absent.
func (img *Image) Bytes(s Span) []byte {
	if !s.Present() {
		return nil
	}
	return img.Memory[s.Offset : s.Offset+s.Size]
}

// Section returns the contents of the named section, or nil if absent.
func (img *Image) Section(name Section) ([]byte, error) {
	spans, err := img.Locate(name)
	if err != nil {
		return nil, err
	}
	return img.Bytes(spans[0]), nil
}

// Cmdline returns the embedded command line without trailing NUL bytes
// and newlines.
func (img *Image) Cmdline() (string, error) {
	data, err := img.Section(SectionCmdline)
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", errors.New(".cmdline section not found in PE file")
	}
	return strings.TrimRight(string(data), "\x00\n"), nil
}

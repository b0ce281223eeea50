package testutil

import (
	"encoding/binary"
)

const (
	peFileAlignment    = 512
	peSectionAlignment = 0x1000
)

// PESection is one section of a generated PE file.
type PESection struct {
	Name string
	Data []byte
	// VirtualSize overrides len(Data) when non-zero.
	VirtualSize uint32
}

func (s PESection) virtualSize() uint32 {
	if s.VirtualSize != 0 {
		return s.VirtualSize
	}
	return uint32(len(s.Data))
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}

// BuildPE returns a minimal PE32+ EFI application containing sections in
// the given order.
func BuildPE(sections ...PESection) []byte {
	return BuildPEWithImageSize(0, sections...)
}

// BuildPEWithImageSize is BuildPE with an explicit SizeOfImage. Zero
// computes the size from the section table.
func BuildPEWithImageSize(sizeOfImage uint32, sections ...PESection) []byte {
	// DOS header (64 bytes)
	dosHeader := make([]byte, 64)
	dosHeader[0] = 'M'
	dosHeader[1] = 'Z'
	binary.LittleEndian.PutUint32(dosHeader[60:], 64) // PE offset at 0x3C

	// PE signature (4 bytes)
	peSignature := []byte{'P', 'E', 0, 0}

	// COFF header (20 bytes)
	numSections := uint16(len(sections))
	coffHeader := make([]byte, 20)
	binary.LittleEndian.PutUint16(coffHeader[0:], 0x8664)      // AMD64
	binary.LittleEndian.PutUint16(coffHeader[2:], numSections) // Number of sections
	binary.LittleEndian.PutUint16(coffHeader[16:], 112)        // Optional header size
	binary.LittleEndian.PutUint16(coffHeader[18:], 0x22)       // Characteristics

	headerSize := 64 + 4 + 20 + 112 + int(numSections)*40
	dataStart := alignUp(headerSize, peFileAlignment)

	// Section headers (40 bytes each)
	sectionHeaders := make([]byte, 0, int(numSections)*40)
	fileOffset := dataStart
	virtualAddress := alignUp(headerSize, peSectionAlignment)
	for _, s := range sections {
		hdr := make([]byte, 40)
		rawSize := alignUp(len(s.Data), peFileAlignment)

		// Name (8 bytes, null-padded)
		copy(hdr[0:8], s.Name)
		binary.LittleEndian.PutUint32(hdr[8:], s.virtualSize())
		binary.LittleEndian.PutUint32(hdr[12:], uint32(virtualAddress))
		binary.LittleEndian.PutUint32(hdr[16:], uint32(rawSize))
		if rawSize > 0 {
			binary.LittleEndian.PutUint32(hdr[20:], uint32(fileOffset))
		}
		binary.LittleEndian.PutUint32(hdr[36:], 0x40000040) // initialized data, readable

		sectionHeaders = append(sectionHeaders, hdr...)
		fileOffset += rawSize
		virtualAddress = alignUp(virtualAddress+max(int(s.virtualSize()), rawSize, 1), peSectionAlignment)
	}

	if sizeOfImage == 0 {
		sizeOfImage = uint32(virtualAddress)
	}

	// Optional header (112 bytes for PE32+)
	optHeader := make([]byte, 112)
	binary.LittleEndian.PutUint16(optHeader[0:], 0x20b) // PE32+ magic
	optHeader[2] = 1                                    // Major linker version
	binary.LittleEndian.PutUint32(optHeader[32:], peSectionAlignment)
	binary.LittleEndian.PutUint32(optHeader[36:], peFileAlignment)
	binary.LittleEndian.PutUint32(optHeader[56:], sizeOfImage)
	binary.LittleEndian.PutUint32(optHeader[60:], uint32(dataStart))
	binary.LittleEndian.PutUint16(optHeader[68:], 10) // EFI application

	out := make([]byte, 0, fileOffset)
	out = append(out, dosHeader...)
	out = append(out, peSignature...)
	out = append(out, coffHeader...)
	out = append(out, optHeader...)
	out = append(out, sectionHeaders...)
	out = append(out, make([]byte, dataStart-headerSize)...)

	for _, s := range sections {
		out = append(out, s.Data...)
		// Pad to 512 boundary
		out = append(out, make([]byte, alignUp(len(s.Data), peFileAlignment)-len(s.Data))...)
	}

	return out
}

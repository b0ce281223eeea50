// Package cmdline decides which kernel command line is used for the boot.
package cmdline

import (
	"encoding/binary"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding/unicode"

	"github.com/cozystack/uki-stub/internal/measure"
)

// placeholderMax is the highest leading code unit of load options that are
// treated as a firmware placeholder rather than a command line.
const placeholderMax = 0x1f

// Source tells where the selected command line came from.
type Source int

const (
	SourceNone Source = iota
	SourceEmbedded
	SourceLoadOptions
)

func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceEmbedded:
		return "embedded"
	case SourceLoadOptions:
		return "load options"
	default:
		return "unknown"
	}
}

// Selection is the command line passed to the kernel.
type Selection struct {
	// Data borrows the embedded section or owns the converted load options.
	Data   []byte
	Source Source
}

// String renders the command line without trailing NUL bytes.
func (s Selection) String() string {
	return strings.TrimRight(string(s.Data), "\x00")
}

// HasLoadOptions reports whether loadOptions carries a real option string.
// Firmware commonly passes a short binary blob or a control character when no
// options were configured.
func HasLoadOptions(loadOptions []byte) bool {
	return len(loadOptions) >= 2 && binary.LittleEndian.Uint16(loadOptions) > placeholderMax
}

// Select picks the command line. Load options override the embedded command
// line unless secure boot is enforced and the image carries its own. An
// accepted override is measured before it is converted.
//
// The returned selection is always usable; a non-nil error only reports that
// the measurement could not be recorded.
func Select(embedded, loadOptions []byte, secureBoot bool, m measure.Measurer) (Selection, error) {
	if (!secureBoot || len(embedded) == 0) && HasLoadOptions(loadOptions) {
		err := measureOptions(loadOptions, m)
		return Selection{Data: Narrow(loadOptions), Source: SourceLoadOptions}, err
	}

	if len(embedded) == 0 {
		return Selection{Source: SourceNone}, nil
	}

	return Selection{Data: embedded, Source: SourceEmbedded}, nil
}

// Narrow converts little-endian 16-bit code units to bytes by truncation. The
// result has one byte per whole code unit, NUL units included.
func Narrow(wide []byte) []byte {
	out := make([]byte, len(wide)/2)
	for i := range out {
		out[i] = wide[2*i]
	}
	return out
}

// terminated returns the option string through its first NUL code unit.
func terminated(wide []byte) []byte {
	for i := 0; i+1 < len(wide); i += 2 {
		if wide[i] == 0 && wide[i+1] == 0 {
			return wide[:i+2]
		}
	}
	return wide[:len(wide)&^1]
}

func measureOptions(loadOptions []byte, m measure.Measurer) error {
	raw := terminated(loadOptions)

	desc, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		desc = Narrow(raw)
	}

	if err := m.Measure(measure.KernelParameterPCRs, raw, strings.TrimRight(string(desc), "\x00")); err != nil {
		return errors.Wrap(err, "measure load options")
	}

	return nil
}

// Package efi reads and writes UEFI variables through efivarfs and converts
// between firmware data formats and Go values.
package efi

import (
	"bytes"
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
)

//nolint:gochecknoglobals
var (
	// ScopeGlobal is the EFI global variable vendor GUID.
	ScopeGlobal = uuid.MustParse("8be4df61-93ca-11d2-aa0d-00e098032b8c")

	// ScopeLoader is the vendor GUID shared by boot loaders and stubs
	// following the Boot Loader Interface.
	ScopeLoader = uuid.MustParse("4a67b082-0a4c-41cf-b6c7-440b29bb8c4f")
)

//nolint:gochecknoglobals
var efiEncoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Attribute is the variable attribute bit mask.
type Attribute uint32

const (
	AttrNonVolatile Attribute = 1 << iota
	AttrBootserviceAccess
	AttrRuntimeAccess
)

// Reader reads variables.
type Reader interface {
	Read(scope uuid.UUID, varName string) ([]byte, Attribute, error)
}

// ReadWriter is the full variable store.
type ReadWriter interface {
	Reader
	Write(scope uuid.UUID, varName string, attrs Attribute, value []byte) error
	Delete(scope uuid.UUID, varName string) error
	List(scope uuid.UUID) ([]string, error)
}

// SecureBootState represents the current Secure Boot status.
type SecureBootState struct {
	Enabled   bool // SecureBoot variable is 1
	SetupMode bool // SetupMode variable is 1 (keys can be enrolled without authentication)
}

// ReadSecureBootState reads SecureBoot and SetupMode from r.
func ReadSecureBootState(r Reader) (SecureBootState, error) {
	state := SecureBootState{}

	sb, _, err := r.Read(ScopeGlobal, "SecureBoot")
	if err != nil {
		return state, errors.Wrap(err, "failed to read SecureBoot variable")
	}
	state.Enabled = len(sb) > 0 && sb[0] == 1

	// SetupMode might not exist on all systems, not critical
	sm, _, err := r.Read(ScopeGlobal, "SetupMode")
	if err == nil {
		state.SetupMode = len(sm) > 0 && sm[0] == 1
	}

	return state, nil
}

// EncodeString encodes s as NUL-terminated UTF-16LE.
func EncodeString(s string) ([]byte, error) {
	out, err := efiEncoding.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, errors.Wrapf(err, "encode %q as UTF-16", s)
	}
	return append(out, 0, 0), nil
}

// DecodeString decodes UTF-16LE up to the first NUL code unit.
func DecodeString(b []byte) (string, error) {
	out, err := efiEncoding.NewDecoder().Bytes(b)
	if err != nil {
		return "", errors.Wrap(err, "decode UTF-16")
	}
	if i := bytes.IndexByte(out, 0); i >= 0 {
		out = out[:i]
	}
	return string(out), nil
}

// IsNotExist reports whether err means the variable is not set.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

//go:build linux

package efi

import (
	"encoding/binary"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	efiSysfsDir       = "/sys/firmware/efi"
	efiVarsMountPoint = efiSysfsDir + "/efivars"

	// FS_IMMUTABLE_FL from linux/fs.h.
	immutableFlag = 0x10
)

// IsUEFIBoot reports whether the running kernel was started by UEFI firmware.
func IsUEFIBoot() bool {
	_, err := os.Stat(efiSysfsDir)
	return err == nil
}

// GetSecureBootState reads SecureBoot, SetupMode and AuditMode from the
// system efivarfs.
func GetSecureBootState() (SecureBootState, error) {
	if !IsUEFIBoot() {
		return SecureBootState{}, errors.New("not a UEFI system")
	}
	return ReadSecureBootState(&FilesystemReaderWriter{dir: efiVarsMountPoint})
}

// FilesystemReaderWriter stores variables in a directory laid out like
// efivarfs: one <Name>-<GUID> file per variable, prefixed by the 32-bit
// attribute word.
type FilesystemReaderWriter struct {
	dir     string
	write   bool
	remount bool
}

func remountEFIVars(flags uintptr, data string) error {
	return unix.Mount("efivarfs", efiVarsMountPoint, "efivarfs", flags, data)
}

// NewReaderWriter opens the system efivarfs. With write set the mount is
// switched to read-write until Close.
func NewReaderWriter(write bool) (*FilesystemReaderWriter, error) {
	if write {
		if err := remountEFIVars(unix.MS_REMOUNT, "rw"); err != nil {
			return nil, errors.Wrap(err, "remount efivarfs read-write")
		}
	}
	return &FilesystemReaderWriter{dir: efiVarsMountPoint, write: write, remount: write}, nil
}

// NewDirReaderWriter uses dir without remounting anything.
func NewDirReaderWriter(dir string, write bool) *FilesystemReaderWriter {
	return &FilesystemReaderWriter{dir: dir, write: write}
}

// Close puts the mount back to read-only if NewReaderWriter changed it.
func (rw *FilesystemReaderWriter) Close() error {
	if !rw.remount {
		return nil
	}
	rw.remount = false
	return remountEFIVars(unix.MS_REMOUNT|unix.MS_RDONLY, "")
}

func (rw *FilesystemReaderWriter) varPath(scope uuid.UUID, name string) string {
	return filepath.Join(rw.dir, name+"-"+scope.String())
}

// setImmutable toggles FS_IMMUTABLE_FL, which efivarfs sets on variables
// that are not safe to delete.
func setImmutable(p string, on bool) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	fd := int(f.Fd())
	flags, err := unix.IoctlGetUint32(fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		return err
	}
	if on {
		flags |= immutableFlag
	} else {
		flags &^= immutableFlag
	}
	return unix.IoctlSetPointerInt(fd, unix.FS_IOC_SETFLAGS, int(flags))
}

func (rw *FilesystemReaderWriter) writable() error {
	if !rw.write {
		return errors.New("efivarfs was opened read-only")
	}
	return nil
}

// Write replaces the variable. Runtime access implies boot service access.
func (rw *FilesystemReaderWriter) Write(scope uuid.UUID, name string, attrs Attribute, value []byte) error {
	if err := rw.writable(); err != nil {
		return err
	}

	p := rw.varPath(scope, name)
	if _, err := os.Stat(p); err == nil {
		if err := setImmutable(p, false); err != nil {
			log.Printf("warning: failed to clear immutable attribute on %s: %v", name, err)
		}
	}

	if attrs&AttrRuntimeAccess != 0 {
		attrs |= AttrBootserviceAccess
	}

	// efivarfs wants attributes and data in a single write.
	buf := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(value)), uint32(attrs))
	buf = append(buf, value...)

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		var perr *fs.PathError
		if errors.As(err, &perr) {
			err = perr.Err
		}
		return errors.Wrapf(err, "writing %q in scope %s", name, scope)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %q in scope %s", name, scope)
	}
	if err := f.Close(); err != nil {
		return err
	}

	_ = setImmutable(p, true)
	return nil
}

func (rw *FilesystemReaderWriter) Read(scope uuid.UUID, name string) ([]byte, Attribute, error) {
	raw, err := os.ReadFile(rw.varPath(scope, name))
	if err != nil {
		return nil, 0, errors.Wrapf(err, "reading %q in scope %s", name, scope)
	}
	if len(raw) < 4 {
		return nil, 0, errors.Newf("reading %q in scope %s: %d bytes is shorter than the attribute word", name, scope, len(raw))
	}
	return raw[4:], Attribute(binary.LittleEndian.Uint32(raw)), nil
}

func (rw *FilesystemReaderWriter) Delete(scope uuid.UUID, name string) error {
	if err := rw.writable(); err != nil {
		return err
	}
	p := rw.varPath(scope, name)
	_ = setImmutable(p, false)
	return os.Remove(p)
}

// List returns the names of the variables in scope.
func (rw *FilesystemReaderWriter) List(scope uuid.UUID) ([]string, error) {
	entries, err := os.ReadDir(rw.dir)
	if err != nil {
		return nil, errors.Wrap(err, "list variables")
	}

	suffix := "-" + scope.String()
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), suffix); ok && !e.IsDir() {
			names = append(names, name)
		}
	}
	return names, nil
}

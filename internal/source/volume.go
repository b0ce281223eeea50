package source

import (
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/diskfs/go-diskfs/filesystem"
)

// diskVolume exposes a go-diskfs filesystem as a types.Volume. FAT and
// ISO9660 report missing directories with format specific errors, so
// ReadDir resolves the path itself and returns fs.ErrNotExist for them.
type diskVolume struct {
	fs     filesystem.FileSystem
	closer io.Closer
}

func newDiskVolume(fsys filesystem.FileSystem, closer io.Closer) *diskVolume {
	return &diskVolume{fs: fsys, closer: closer}
}

func (v *diskVolume) ReadDir(p string) ([]os.FileInfo, error) {
	entries, err := v.fs.ReadDir(p)
	if err == nil {
		return withoutDotEntries(entries), nil
	}

	actual, ok := v.resolve(p)
	if !ok {
		return nil, errors.Wrapf(fs.ErrNotExist, "read dir %s", p)
	}

	entries, err = v.fs.ReadDir(actual)
	if err != nil {
		return nil, errors.Wrapf(err, "read dir %s", p)
	}
	return withoutDotEntries(entries), nil
}

// withoutDotEntries drops the "." and ".." records FAT keeps in every
// subdirectory.
func withoutDotEntries(entries []os.FileInfo) []os.FileInfo {
	kept := entries[:0:0]
	for _, e := range entries {
		if e.Name() != "." && e.Name() != ".." {
			kept = append(kept, e)
		}
	}
	return kept
}

func (v *diskVolume) Open(p string) (io.ReadCloser, error) {
	actual, ok := v.resolve(p)
	if !ok {
		return nil, errors.Wrapf(fs.ErrNotExist, "open %s", p)
	}

	f, err := v.fs.OpenFile(actual, os.O_RDONLY)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", p)
	}
	return f, nil
}

// resolve walks p from the root matching names case-insensitively and
// returns the path with the on-disk spelling.
func (v *diskVolume) resolve(p string) (string, bool) {
	current := "/"
	for _, component := range strings.Split(strings.Trim(path.Clean("/"+p), "/"), "/") {
		if component == "" {
			continue
		}

		entries, err := v.fs.ReadDir(current)
		if err != nil {
			return "", false
		}

		found := false
		for _, entry := range entries {
			if strings.EqualFold(entry.Name(), component) {
				current = path.Join(current, entry.Name())
				found = true
				break
			}
		}
		if !found {
			return "", false
		}
	}

	return current, true
}

func (v *diskVolume) Close() error {
	if v.closer == nil {
		return nil
	}
	return v.closer.Close()
}

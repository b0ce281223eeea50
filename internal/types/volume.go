package types

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// Volume is a read-only filesystem addressed with slash separated absolute
// paths. go-diskfs filesystems satisfy it through a thin adapter.
type Volume interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
}

// ReadFile reads a whole file from v.
func ReadFile(v Volume, path string) ([]byte, error) {
	f, err := v.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return data, nil
}

// DirVolume exposes a host directory as a Volume.
type DirVolume struct {
	Root string
}

func (v DirVolume) hostPath(path string) string {
	return filepath.Join(v.Root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
}

// ReadDir implements Volume.
func (v DirVolume) ReadDir(path string) ([]os.FileInfo, error) {
	entries, err := os.ReadDir(v.hostPath(path))
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Open implements Volume.
func (v DirVolume) Open(path string) (io.ReadCloser, error) {
	return os.Open(v.hostPath(path))
}

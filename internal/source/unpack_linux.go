//go:build linux

package source

import (
	"archive/tar"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const whiteoutPrefix = ".wh."

type layer interface {
	Uncompressed() (io.ReadCloser, error)
}

// within reports whether p stays inside root once cleaned.
func within(root, p string) bool {
	root, p = filepath.Clean(root), filepath.Clean(p)
	return p == root || strings.HasPrefix(p, root+string(os.PathSeparator))
}

// extractLayer applies one OCI layer to root. Entries escaping root are
// skipped and whiteouts delete what lower layers put in place.
func extractLayer(l layer, root string) error {
	rc, err := l.Uncompressed()
	if err != nil {
		return errors.Wrap(err, "open layer")
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read layer")
		}

		if victim, ok := strings.CutPrefix(filepath.Base(hdr.Name), whiteoutPrefix); ok {
			_ = os.RemoveAll(filepath.Join(root, filepath.Dir(hdr.Name), victim))
			continue
		}

		target := filepath.Join(root, hdr.Name)
		if !within(root, target) {
			continue
		}
		if err := applyEntry(tr, hdr, root, target); err != nil {
			return err
		}
	}
}

func applyEntry(tr *tar.Reader, hdr *tar.Header, root, target string) error {
	mode := os.FileMode(hdr.Mode).Perm()

	if hdr.Typeflag != tar.TypeDir {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, "create parent of %s", hdr.Name)
		}
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		_ = os.MkdirAll(target, mode)
	case tar.TypeReg:
		return writeEntry(tr, target, mode)
	case tar.TypeSymlink:
		dest := hdr.Linkname
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(filepath.Dir(target), dest)
		}
		if !within(root, dest) {
			log.Printf("warning: skipping symlink escape: %s -> %s", target, hdr.Linkname)
			return nil
		}
		_ = os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			log.Printf("warning: symlink %s -> %s: %v", target, hdr.Linkname, err)
		}
	case tar.TypeLink:
		src := filepath.Join(root, hdr.Linkname)
		if !within(root, src) {
			log.Printf("warning: skipping hardlink escape: %s -> %s", target, hdr.Linkname)
			return nil
		}
		if err := os.Link(src, target); err != nil && !os.IsExist(err) {
			log.Printf("warning: hardlink %s -> %s: %v", target, hdr.Linkname, err)
		}
	case tar.TypeChar, tar.TypeBlock:
		kind := uint32(unix.S_IFBLK)
		if hdr.Typeflag == tar.TypeChar {
			kind = unix.S_IFCHR
		}
		dev := unix.Mkdev(uint32(hdr.Devmajor), uint32(hdr.Devminor))
		_ = unix.Mknod(target, kind|uint32(mode), int(dev))
	}
	return nil
}

func writeEntry(r io.Reader, target string, mode os.FileMode) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return errors.Wrapf(err, "create %s", target)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", target)
	}
	return f.Close()
}

package source

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression names the stream compression of an image file, taken from
// its last suffix.
type Compression string

const (
	Uncompressed Compression = ""
	XZ           Compression = "xz"
	Gzip         Compression = "gz"
	Zstd         Compression = "zst"
)

// decoder wraps r in a decompressing reader. release frees decoder state
// and never closes r.
type decoder func(r io.Reader) (dec io.Reader, release func(), err error)

//nolint:gochecknoglobals
var decoders = map[Compression]decoder{
	XZ: func(r io.Reader) (io.Reader, func(), error) {
		dec, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, func() {}, nil
	},
	Gzip: func(r io.Reader) (io.Reader, func(), error) {
		dec, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, func() { _ = dec.Close() }, nil
	},
	Zstd: func(r io.Reader) (io.Reader, func(), error) {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	},
}

// DetectCompression returns the compression of name judging by its suffix.
func DetectCompression(name string) Compression {
	c := Compression(strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."))
	if _, ok := decoders[c]; ok {
		return c
	}
	return Uncompressed
}

type decompressed struct {
	io.Reader
	file    *os.File
	release func()
}

func (d *decompressed) Close() error {
	d.release()
	return d.file.Close()
}

// OpenDecompressed opens name and decodes it according to its suffix. The
// size is -1 for compressed files.
func OpenDecompressed(name string) (io.ReadCloser, int64, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "open %s", name)
	}

	c := DetectCompression(name)
	if c == Uncompressed {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, errors.Wrapf(err, "stat %s", name)
		}
		return f, info.Size(), nil
	}

	dec, release, err := decoders[c](f)
	if err != nil {
		f.Close()
		return nil, 0, errors.Wrapf(err, "%s stream %s", c, name)
	}
	return &decompressed{Reader: dec, file: f, release: release}, -1, nil
}

// inflate returns a path holding the uncompressed image. Compressed images
// are decoded into a scratch directory that the caller removes; dir is
// empty when name was usable as is.
func inflate(name string) (image, dir string, err error) {
	if DetectCompression(name) == Uncompressed {
		return name, "", nil
	}

	dir, err = os.MkdirTemp("", "uki-stub-image-*")
	if err != nil {
		return "", "", errors.Wrap(err, "create scratch dir")
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	src, _, err := OpenDecompressed(name)
	if err != nil {
		return "", "", err
	}
	defer src.Close()

	image = filepath.Join(dir, "image.raw")
	dst, err := os.Create(image)
	if err != nil {
		return "", "", errors.Wrap(err, "create inflated image")
	}
	if _, err = io.Copy(dst, src); err != nil {
		dst.Close()
		return "", "", errors.Wrapf(err, "inflate %s", name)
	}
	if err = dst.Close(); err != nil {
		return "", "", errors.Wrap(err, "close inflated image")
	}
	return image, dir, nil
}

// Package pack turns credential and system extension files found next to the
// image into newc cpio archives that are appended to the initrd.
package pack

import (
	"bytes"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/u-root/u-root/pkg/cpio"
	"go.uber.org/zap"

	"github.com/cozystack/uki-stub/internal/measure"
	"github.com/cozystack/uki-stub/internal/memory"
	"github.com/cozystack/uki-stub/internal/types"
)

// maxNameLength is the longest file name that is packed.
const maxNameLength = 255

// Request describes one archive.
type Request struct {
	// ImagePath is the path of the running image on the volume.
	ImagePath string

	// Dir overrides the default "<ImagePath>.extra.d" source directory.
	Dir string

	// Suffix selects files by extension, case-insensitively.
	Suffix string

	// Target is the directory inside the archive, without leading slash.
	Target string

	DirMode  uint64
	FileMode uint64

	// Consumer names the archive in diagnostics.
	Consumer string

	// PCRs receive a measurement of every packed file.
	PCRs []uint32
}

// Credentials packs "<image>.extra.d/*.cred".
func Credentials(imagePath string) Request {
	return Request{
		ImagePath: imagePath,
		Suffix:    ".cred",
		Target:    ".extra/credentials",
		DirMode:   0o500,
		FileMode:  0o400,
		Consumer:  "Credentials initrd",
		PCRs:      measure.KernelParameterPCRs,
	}
}

// GlobalCredentials packs "/loader/credentials/*.cred".
func GlobalCredentials() Request {
	return Request{
		Dir:      "/loader/credentials",
		Suffix:   ".cred",
		Target:   ".extra/global_credentials",
		DirMode:  0o500,
		FileMode: 0o400,
		Consumer: "Global credentials initrd",
		PCRs:     measure.KernelParameterPCRs,
	}
}

// Sysext packs "<image>.extra.d/*.raw".
func Sysext(imagePath string) Request {
	return Request{
		ImagePath: imagePath,
		Suffix:    ".raw",
		Target:    ".extra/sysext",
		DirMode:   0o555,
		FileMode:  0o444,
		Consumer:  "System extension initrd",
		PCRs:      []uint32{measure.PCRInitrd},
	}
}

// SourceDir returns the directory the request reads from.
func (r Request) SourceDir() string {
	if r.Dir != "" {
		return r.Dir
	}
	return r.ImagePath + ".extra.d"
}

// Packer builds archives from a volume.
type Packer struct {
	Volume   types.Volume
	Measurer measure.Measurer
	Logger   *zap.Logger
}

// Pack returns the archive for req, or nil when the source directory does
// not exist or holds no matching files.
func (p *Packer) Pack(req Request) (*memory.Blob, error) {
	dir := req.SourceDir()

	infos, err := p.Volume.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "%s: read directory %s", req.Consumer, dir)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !selected(info, req.Suffix) {
			continue
		}
		names = append(names, info.Name())
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)

	var (
		records []cpio.Record
		ino     uint64
	)

	add := func(r cpio.Record) {
		ino++
		r.Ino = ino
		records = append(records, r)
	}

	prefix := ""
	for _, component := range strings.Split(req.Target, "/") {
		prefix = path.Join(prefix, component)
		add(cpio.Directory(prefix, req.DirMode))
	}

	for _, name := range names {
		content, err := types.ReadFile(p.Volume, path.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "%s: read %s", req.Consumer, name)
		}

		if err := p.Measurer.Measure(req.PCRs, content, name); err != nil {
			return nil, errors.Wrapf(err, "%s: measure %s", req.Consumer, name)
		}

		add(cpio.StaticFile(path.Join(req.Target, name), string(content), req.FileMode))
	}

	var buf bytes.Buffer
	w := cpio.Newc.Writer(&buf)
	if err := cpio.WriteRecords(w, records); err != nil {
		return nil, errors.Wrapf(err, "%s: write archive", req.Consumer)
	}
	if err := cpio.WriteTrailer(w); err != nil {
		return nil, errors.Wrapf(err, "%s: write trailer", req.Consumer)
	}

	p.logger().Debug("packed payload",
		zap.String("consumer", req.Consumer),
		zap.String("dir", dir),
		zap.Strings("files", names),
		zap.Int("size", buf.Len()),
	)

	return memory.NewBlob(buf.Bytes()), nil
}

func (p *Packer) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func selected(info fs.FileInfo, suffix string) bool {
	if info.IsDir() {
		return false
	}

	name := info.Name()
	if len(name) > maxNameLength || !isASCII(name) {
		return false
	}

	return strings.HasSuffix(strings.ToLower(name), strings.ToLower(suffix))
}

func isASCII(s string) bool {
	for i := range len(s) {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

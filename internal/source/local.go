package source

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/cozystack/uki-stub/internal/efi"
	"github.com/cozystack/uki-stub/internal/types"
)

// EFISource implements ImageSource for a UKI on a mounted filesystem,
// typically the ESP mounted at /boot or /efi.
type EFISource struct {
	path string
}

// NewEFISource creates a new EFISource.
func NewEFISource(path string) *EFISource {
	return &EFISource{path: path}
}

func (s *EFISource) Type() types.ImageSourceType {
	return types.ImageSourceEFI
}

func (s *EFISource) Reference() string {
	return s.path
}

// Load reads the UKI. The volume is the filesystem holding it, so sidecar
// directories and /loader/credentials resolve the way the firmware sees
// them on the ESP.
func (s *EFISource) Load() (*types.LoadedImage, error) {
	abs, err := filepath.Abs(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", s.path)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", abs)
	}

	root, devicePath := hostVolume(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, errors.Wrapf(err, "relative path of %s", abs)
	}
	imagePath := "/" + filepath.ToSlash(rel)

	return &types.LoadedImage{
		Image:      data,
		Path:       imagePath,
		Volume:     types.DirVolume{Root: root},
		DevicePath: devicePath,
		FilePath:   efi.NewFilePath(imagePath),
	}, nil
}

func (s *EFISource) Close() error {
	return nil
}

package source

import (
	"strings"

	"github.com/cozystack/uki-stub/internal/types"
)

// ISOSource loads the UKI from an ISO9660 installer image. Optical media
// carry no partition GUID, so the loaded image has only a file path.
type ISOSource struct {
	path string
}

func NewISOSource(path string) *ISOSource {
	return &ISOSource{path: path}
}

func (s *ISOSource) Type() types.ImageSourceType { return types.ImageSourceISO }

func (s *ISOSource) Reference() string { return s.path }

// Load prefers a vmlinuz image over boot loaders sharing the directories.
func (s *ISOSource) Load() (*types.LoadedImage, error) {
	return loadDiskImage(s.path, "", wholeDisk, isKernelImage)
}

func isKernelImage(name string) bool {
	return strings.Contains(name, "vmlinuz")
}

func (s *ISOSource) Close() error { return nil }

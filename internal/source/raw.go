package source

import (
	"github.com/cozystack/uki-stub/internal/types"
)

// RAWSource loads the UKI from the EFI System Partition of a GPT disk
// image, optionally xz, gzip or zstd compressed.
type RAWSource struct {
	path string
}

func NewRAWSource(path string) *RAWSource {
	return &RAWSource{path: path}
}

func (s *RAWSource) Type() types.ImageSourceType { return types.ImageSourceRAW }

func (s *RAWSource) Reference() string { return s.path }

// Load inflates a compressed image into a scratch directory, which lives
// as long as the returned volume.
func (s *RAWSource) Load() (*types.LoadedImage, error) {
	image, scratch, err := inflate(s.path)
	if err != nil {
		return nil, err
	}
	return loadDiskImage(image, scratch, espPartition, nil)
}

func (s *RAWSource) Close() error { return nil }

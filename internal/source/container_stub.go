//go:build !linux

package source

import (
	"github.com/cockroachdb/errors"

	"github.com/cozystack/uki-stub/internal/types"
)

// ContainerSource needs Linux to unpack layers with device nodes.
type ContainerSource struct {
	ref string
}

func NewContainerSource(ref string) *ContainerSource {
	return &ContainerSource{ref: ref}
}

func (s *ContainerSource) Type() types.ImageSourceType { return types.ImageSourceContainer }

func (s *ContainerSource) Reference() string { return s.ref }

func (s *ContainerSource) Load() (*types.LoadedImage, error) {
	return nil, errors.Newf("pulling %s: container images are only unpacked on linux", s.ref)
}

func (s *ContainerSource) Close() error { return nil }

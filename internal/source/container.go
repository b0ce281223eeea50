//go:build linux

package source

import (
	"context"
	"crypto/tls"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/go-containerregistry/pkg/crane"

	"github.com/cozystack/uki-stub/internal/efi"
	"github.com/cozystack/uki-stub/internal/types"
)

const pullTimeout = 30 * time.Minute

// ContainerSource pulls an installer image from a registry and unpacks it.
// The unpacked tree is the volume, so payload directories shipped next to
// the UKI are visible to the packer.
type ContainerSource struct {
	ref string
	dir string
}

func NewContainerSource(ref string) *ContainerSource {
	return &ContainerSource{ref: ref}
}

func (s *ContainerSource) Type() types.ImageSourceType { return types.ImageSourceContainer }

func (s *ContainerSource) Reference() string { return s.ref }

// registryTransport is DefaultTransport with TLS 1.2 as the floor. It keeps
// the proxy settings from the environment.
func registryTransport() http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	return t
}

func (s *ContainerSource) Load() (_ *types.LoadedImage, err error) {
	if s.dir != "" {
		return nil, errors.New("container image already loaded")
	}

	dir, err := os.MkdirTemp("", "uki-stub-oci-*")
	if err != nil {
		return nil, errors.Wrap(err, "create unpack dir")
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), pullTimeout)
	defer cancel()

	img, err := crane.Pull(s.ref, crane.WithTransport(registryTransport()), crane.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "pull %s", s.ref)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, errors.Wrapf(err, "list layers of %s", s.ref)
	}

	root := filepath.Join(dir, "rootfs")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "create rootfs")
	}
	for i, l := range layers {
		if err := extractLayer(l, root); err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
	}

	loaded, err := loadFromTree(root)
	if err != nil {
		return nil, err
	}
	s.dir = dir
	return loaded, nil
}

func loadFromTree(root string) (*types.LoadedImage, error) {
	ukiPath, err := findUKIInTree(root)
	if err != nil {
		return nil, err
	}

	volume := types.DirVolume{Root: root}
	data, err := types.ReadFile(volume, ukiPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", ukiPath)
	}

	return &types.LoadedImage{
		Image:    data,
		Path:     ukiPath,
		Volume:   volume,
		FilePath: efi.NewFilePath(ukiPath),
	}, nil
}

// findUKIInTree returns the slash separated path of a *vmlinuz.efi below
// root. Installer images keep it under .../install/<arch>/, which wins
// over copies elsewhere.
func findUKIInTree(root string) (string, error) {
	var found []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(strings.ToLower(d.Name()), "vmlinuz.efi") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		found = append(found, "/"+filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "walk image tree")
	}

	for _, p := range found {
		if strings.Contains(strings.ToLower(p), "install") {
			return p, nil
		}
	}
	if len(found) == 0 {
		return "", errors.New("vmlinuz.efi not found in image")
	}
	return found[0], nil
}

func (s *ContainerSource) Close() error {
	if s.dir == "" {
		return nil
	}
	err := os.RemoveAll(s.dir)
	s.dir = ""
	return err
}

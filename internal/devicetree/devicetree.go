// Package devicetree installs the device tree carried in the .dtb section
// so the launched kernel sees it instead of the firmware one.
package devicetree

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/u-root/u-root/pkg/dt"
	"go.uber.org/zap"
)

// DefaultOverlayDir is where configfs exposes device tree overlays.
const DefaultOverlayDir = "/sys/kernel/config/device-tree/overlays"

// DefaultOverlayName names the overlay item created by Overlay.
const DefaultOverlayName = "uki-stub"

// State is an installed device tree. Close restores the previous one.
type State interface {
	Close() error
}

// Installer installs a flattened device tree blob.
type Installer interface {
	Install(blob []byte) (State, error)
}

// Validate checks that blob is a flattened device tree.
func Validate(blob []byte) (*dt.FDT, error) {
	fdt, err := dt.ReadFDT(bytes.NewReader(blob))
	if err != nil {
		return nil, errors.Wrap(err, "parse device tree")
	}
	return fdt, nil
}

// Nop validates the blob and installs nothing.
type Nop struct{}

// Install implements Installer.
func (Nop) Install(blob []byte) (State, error) {
	if _, err := Validate(blob); err != nil {
		return nil, err
	}
	return nopState{}, nil
}

type nopState struct{}

func (nopState) Close() error { return nil }

// Overlay applies the blob through the configfs overlay interface.
type Overlay struct {
	Dir    string
	Name   string
	Logger *zap.Logger
}

// NewOverlay returns an Overlay at the default configfs location.
func NewOverlay(logger *zap.Logger) *Overlay {
	return &Overlay{Dir: DefaultOverlayDir, Name: DefaultOverlayName, Logger: logger}
}

// Install implements Installer.
func (o *Overlay) Install(blob []byte) (State, error) {
	if _, err := Validate(blob); err != nil {
		return nil, err
	}

	path := filepath.Join(o.Dir, o.Name)

	// leftover from an earlier run
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(err, "remove stale overlay %s", path)
	}

	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create overlay %s", path)
	}

	st := &overlayState{path: path, logger: o.logger()}

	if err := os.WriteFile(filepath.Join(path, "dtbo"), blob, 0o644); err != nil {
		_ = st.Close()
		return nil, errors.Wrap(err, "write overlay")
	}

	status, err := os.ReadFile(filepath.Join(path, "status"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		_ = st.Close()
		return nil, errors.Wrap(err, "read overlay status")
	case strings.TrimSpace(string(status)) != "applied":
		_ = st.Close()
		return nil, errors.Newf("overlay not applied: %s", strings.TrimSpace(string(status)))
	}

	st.logger.Debug("device tree overlay installed", zap.String("path", path), zap.Int("size", len(blob)))

	return st, nil
}

func (o *Overlay) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

type overlayState struct {
	path   string
	logger *zap.Logger
}

func (s *overlayState) Close() error {
	if err := os.RemoveAll(s.path); err != nil {
		return errors.Wrapf(err, "remove overlay %s", s.path)
	}
	s.logger.Debug("device tree overlay removed", zap.String("path", s.path))
	return nil
}

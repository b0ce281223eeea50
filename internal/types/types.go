package types

import (
	"github.com/canonical/go-efilib"
	"github.com/cockroachdb/errors"
)

// ImageSourceType names where a UKI comes from.
type ImageSourceType int

const (
	ImageSourceContainer ImageSourceType = iota // OCI image in a registry
	ImageSourceISO                              // ISO9660 installer media
	ImageSourceRAW                              // GPT disk image, possibly compressed
	ImageSourceEFI                              // bare UKI executable
)

//nolint:gochecknoglobals
var sourceNames = [...]string{
	ImageSourceContainer: "container",
	ImageSourceISO:       "iso",
	ImageSourceRAW:       "raw",
	ImageSourceEFI:       "efi",
}

func (t ImageSourceType) String() string {
	if t < 0 || int(t) >= len(sourceNames) {
		return "unknown"
	}
	return sourceNames[t]
}

// LoadedImage is what the firmware hands the stub: its own executable, the
// volume it was read from and the options it was started with.
type LoadedImage struct {
	// Image is the PE file exactly as stored on the volume.
	Image []byte

	// Path locates the image on Volume, slash separated and absolute.
	Path string

	// Volume is the filesystem the image was loaded from.
	Volume Volume

	// LoadOptions are little-endian UTF-16 code units, possibly empty.
	LoadOptions []byte

	// DevicePath describes the device holding Volume. May be nil.
	DevicePath efi.DevicePath

	// FilePath is the image's path relative to DevicePath. May be nil.
	FilePath efi.DevicePath

	// Cleanup is called by Close.
	Cleanup func() error
}

// Close closes the volume, if it can be closed, and runs Cleanup.
func (l *LoadedImage) Close() error {
	var errs []error
	if c, ok := l.Volume.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	if l.Cleanup != nil {
		errs = append(errs, l.Cleanup())
	}
	return errors.Wrap(errors.Join(errs...), "close loaded image")
}

// ImageSource yields the UKI and the volume it lives on.
type ImageSource interface {
	Type() ImageSourceType

	// Reference is the path, URL or image reference given by the user.
	Reference() string

	// Load reads the UKI the way firmware would load it.
	Load() (*LoadedImage, error)

	Close() error
}

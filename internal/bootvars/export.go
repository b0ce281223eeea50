package bootvars

import (
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/cozystack/uki-stub/internal/efi"
	"github.com/cozystack/uki-stub/internal/types"
)

// Variable names in the loader scope.
const (
	LoaderDevicePartUUID  = "LoaderDevicePartUUID"
	LoaderImageIdentifier = "LoaderImageIdentifier"
	LoaderFirmwareInfo    = "LoaderFirmwareInfo"
	LoaderFirmwareType    = "LoaderFirmwareType"
	StubInfo              = "StubInfo"
)

// Variables lists every variable Export may set.
var Variables = []string{ //nolint:gochecknoglobals
	LoaderDevicePartUUID,
	LoaderImageIdentifier,
	LoaderFirmwareInfo,
	LoaderFirmwareType,
	StubInfo,
}

// Exporter sets loader variables that a previous boot stage has not set.
type Exporter struct {
	Store    Store
	Firmware efi.FirmwareInfo
	// StubInfo is the "<name> <version>" string of this program.
	StubInfo string
	Logger   *zap.Logger
}

// Export publishes what is known about img. Variables that already exist
// are left untouched, so repeated calls change nothing. Every variable is
// attempted; the returned error aggregates the failures.
func (e *Exporter) Export(img *types.LoadedImage) error {
	var errs []error

	try := func(name string, value func() (string, bool)) {
		exists, err := e.Store.Exists(name)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "check %s", name))
			return
		}
		if exists {
			return
		}

		s, ok := value()
		if !ok {
			return
		}

		encoded, err := efi.EncodeString(s)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if err := e.Store.Set(name, encoded); err != nil {
			errs = append(errs, errors.Wrapf(err, "set %s", name))
			return
		}

		e.logger().Debug("exported loader variable", zap.String("name", name), zap.String("value", s))
	}

	try(LoaderDevicePartUUID, func() (string, bool) {
		u, ok := efi.PartitionUUID(img.DevicePath)
		if !ok {
			return "", false
		}
		return strings.ToUpper(u.String()), true
	})

	try(LoaderImageIdentifier, func() (string, bool) {
		if len(img.FilePath) == 0 {
			return "", false
		}
		s, err := efi.FilePathString(img.FilePath)
		if err != nil {
			e.logger().Error("out of memory while converting image path", zap.Error(err))
			return "", false
		}
		return s, true
	})

	try(LoaderFirmwareInfo, func() (string, bool) {
		return e.Firmware.VendorString(), true
	})

	try(LoaderFirmwareType, func() (string, bool) {
		return e.Firmware.TypeString(), true
	})

	try(StubInfo, func() (string, bool) {
		return e.StubInfo, e.StubInfo != ""
	})

	return errors.Join(errs...)
}

func (e *Exporter) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

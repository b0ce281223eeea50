// Package config loads settings from flags, UKI_STUB_* environment
// variables and an optional YAML file.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cozystack/uki-stub/internal/efi"
	"github.com/cozystack/uki-stub/internal/measure"
	"github.com/cozystack/uki-stub/internal/stub"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "UKI_STUB"

// Keys.
const (
	KeyConfig            = "config"
	KeyImage             = "image"
	KeyLoadOptions       = "load-options"
	KeySecureBoot        = "secure-boot"
	KeyStall             = "stall"
	KeyTPMDevice         = "tpm-device"
	KeyEFIVars           = "efivars"
	KeyDeviceTreeOverlay = "devicetree-overlay"
	KeyAllocationCeiling = "allocation-ceiling"
	KeyUEFIRevision      = "firmware.uefi-revision"
	KeyYes               = "yes"
	KeyDebug             = "debug"
	KeyOut               = "out"
)

// SecureBootMode selects how secure boot enforcement is determined.
type SecureBootMode string

const (
	SecureBootAuto SecureBootMode = "auto"
	SecureBootOn   SecureBootMode = "on"
	SecureBootOff  SecureBootMode = "off"
)

// Enforced resolves the mode, asking detect in auto mode.
func (m SecureBootMode) Enforced(detect func() (bool, error)) bool {
	switch m {
	case SecureBootOn:
		return true
	case SecureBootOff:
		return false
	default:
		enabled, err := detect()
		return err == nil && enabled
	}
}

// Config is the resolved configuration.
type Config struct {
	Image       string
	LoadOptions string
	SecureBoot  SecureBootMode
	Stall       time.Duration
	// TPMDevice is the TPM character device; empty disables TPM measurements.
	TPMDevice         string
	EFIVars           bool
	DeviceTreeOverlay bool
	// AllocationCeiling lowers the initrd address bound when non-zero.
	AllocationCeiling uint64
	UEFIRevision      uint32
	Yes               bool
	Debug             bool
	Out               string
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	v.SetDefault(KeySecureBoot, string(SecureBootAuto))
	v.SetDefault(KeyStall, stub.DefaultStallDelay)
	v.SetDefault(KeyTPMDevice, measure.DefaultTPMDevice)
	v.SetDefault(KeyEFIVars, true)
	v.SetDefault(KeyDeviceTreeOverlay, true)
	v.SetDefault(KeyUEFIRevision, "2.70")
	v.SetDefault(KeyOut, "uki-stub-out")

	return v
}

// AddFlags registers the flags shared by every command.
func AddFlags(flags *pflag.FlagSet) {
	flags.String(KeyConfig, "", "YAML configuration file")
	flags.String(KeyLoadOptions, "", "load options passed to the image, as the firmware would")
	flags.String(KeySecureBoot, string(SecureBootAuto), "secure boot enforcement: auto, on or off")
	flags.Duration(KeyStall, stub.DefaultStallDelay, "how long fatal errors stay on screen")
	flags.String(KeyTPMDevice, measure.DefaultTPMDevice, "TPM device for measurements, empty to disable")
	flags.Bool(KeyEFIVars, true, "export loader variables to efivarfs")
	flags.Bool(KeyDeviceTreeOverlay, true, "apply the embedded device tree as a configfs overlay")
	flags.Uint64(KeyAllocationCeiling, 0, "highest initrd address (debugging)")
	flags.Bool(KeyYes, false, "automatic yes to prompts")
	flags.Bool(KeyDebug, false, "enable debug output")
}

// Load reads the configuration file named by the config key, if any, and
// resolves every key.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString(KeyConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}

	revision, err := efi.ParseRevision(v.GetString(KeyUEFIRevision))
	if err != nil {
		return Config{}, errors.Wrap(err, KeyUEFIRevision)
	}

	cfg := Config{
		Image:             v.GetString(KeyImage),
		LoadOptions:       v.GetString(KeyLoadOptions),
		SecureBoot:        SecureBootMode(strings.ToLower(v.GetString(KeySecureBoot))),
		Stall:             v.GetDuration(KeyStall),
		TPMDevice:         v.GetString(KeyTPMDevice),
		EFIVars:           v.GetBool(KeyEFIVars),
		DeviceTreeOverlay: v.GetBool(KeyDeviceTreeOverlay),
		AllocationCeiling: v.GetUint64(KeyAllocationCeiling),
		UEFIRevision:      revision,
		Yes:               v.GetBool(KeyYes),
		Debug:             v.GetBool(KeyDebug),
		Out:               v.GetString(KeyOut),
	}

	return cfg, cfg.Validate()
}

// Validate checks values that viper cannot type-check.
func (c Config) Validate() error {
	switch c.SecureBoot {
	case SecureBootAuto, SecureBootOn, SecureBootOff:
	default:
		return errors.Newf("%s: unknown mode %q", KeySecureBoot, c.SecureBoot)
	}
	if c.Stall < 0 {
		return errors.Newf("%s: negative duration %s", KeyStall, c.Stall)
	}
	return nil
}

// DryRunDefaults switches the defaults to ones that leave the platform
// untouched: no TPM, no efivarfs, no overlay, no stall. Explicit settings
// still win.
func DryRunDefaults(v *viper.Viper) {
	v.SetDefault(KeyTPMDevice, "")
	v.SetDefault(KeyEFIVars, false)
	v.SetDefault(KeyDeviceTreeOverlay, false)
	v.SetDefault(KeyStall, time.Duration(0))
}

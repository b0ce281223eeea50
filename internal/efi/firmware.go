package efi

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// DMIDir is where the kernel exposes SMBIOS firmware strings.
const DMIDir = "/sys/class/dmi/id"

// DefaultUEFIRevision is reported when the interface revision cannot be
// discovered from the running system.
const DefaultUEFIRevision = 2<<16 | 70

// FirmwareInfo identifies the platform firmware.
type FirmwareInfo struct {
	Vendor       string
	Revision     uint32
	UEFIRevision uint32
}

// VendorString formats vendor and revision as "<vendor> <major>.<minor>".
func (f FirmwareInfo) VendorString() string {
	return fmt.Sprintf("%s %d.%02d", f.Vendor, f.Revision>>16, f.Revision&0xffff)
}

// TypeString formats the interface revision as "UEFI <major>.<minor>".
func (f FirmwareInfo) TypeString() string {
	return fmt.Sprintf("UEFI %d.%02d", f.UEFIRevision>>16, f.UEFIRevision&0xffff)
}

// ParseRevision parses "<major>.<minor>" into a packed 16.16 revision.
func ParseRevision(s string) (uint32, error) {
	major, minor, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		minor = "0"
	}

	hi, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "parse revision %q", s)
	}
	lo, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "parse revision %q", s)
	}

	return uint32(hi)<<16 | uint32(lo), nil
}

// ReadFirmwareInfo collects firmware identification from dmiDir. Missing
// attributes leave the corresponding fields at their defaults.
func ReadFirmwareInfo(dmiDir string, uefiRevision uint32) FirmwareInfo {
	info := FirmwareInfo{Vendor: "Unknown", UEFIRevision: uefiRevision}

	read := func(name string) string {
		b, err := os.ReadFile(filepath.Join(dmiDir, name))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}

	if v := read("bios_vendor"); v != "" {
		info.Vendor = v
	}
	if rev, err := ParseRevision(read("bios_release")); err == nil {
		info.Revision = rev
	}

	return info
}

//go:build !linux

package source

import efilib "github.com/canonical/go-efilib"

func hostVolume(string) (string, efilib.DevicePath) {
	return "/", nil
}

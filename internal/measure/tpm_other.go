//go:build !linux

package measure

import "github.com/cockroachdb/errors"

// DefaultTPMDevice is the kernel resource manager device.
const DefaultTPMDevice = "/dev/tpmrm0"

// TPM is not available on this platform.
type TPM struct {
	Log
}

// OpenTPM always fails on this platform.
func OpenTPM(string) (*TPM, error) {
	return nil, errors.New("TPM device is not available")
}

// Close is a no-op.
func (t *TPM) Close() error { return nil }

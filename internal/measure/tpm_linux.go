//go:build linux

package measure

import (
	"crypto/sha256"

	"github.com/cockroachdb/errors"
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/linuxtpm"
)

// DefaultTPMDevice is the kernel resource manager device.
const DefaultTPMDevice = "/dev/tpmrm0"

// TPM extends SHA-256 PCRs on a TPM 2.0 device and keeps a local copy of the
// events it sent.
type TPM struct {
	Log

	tpm transport.TPMCloser
}

// OpenTPM opens the TPM at path.
func OpenTPM(path string) (*TPM, error) {
	t, err := linuxtpm.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open TPM %s", path)
	}

	return &TPM{tpm: t}, nil
}

// Measure implements Measurer.
func (t *TPM) Measure(pcrs []uint32, data []byte, description string) error {
	digest := sha256.Sum256(data)

	for _, pcr := range pcrs {
		_, err := tpm2.PCRExtend{
			PCRHandle: tpm2.AuthHandle{
				Handle: tpm2.TPMHandle(pcr),
				Auth:   tpm2.PasswordAuth(nil),
			},
			Digests: tpm2.TPMLDigestValues{
				Digests: []tpm2.TPMTHA{
					{
						HashAlg: tpm2.TPMAlgSHA256,
						Digest:  digest[:],
					},
				},
			},
		}.Execute(t.tpm)
		if err != nil {
			return errors.Wrapf(err, "extend PCR %d with %q", pcr, description)
		}
	}

	return t.Log.Measure(pcrs, data, description)
}

// Close releases the device.
func (t *TPM) Close() error {
	return t.tpm.Close()
}

package efi

import (
	"encoding/binary"
	"strings"

	efilib "github.com/canonical/go-efilib"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// GUIDFromUUID converts a canonical UUID into the firmware's mixed-endian GUID.
func GUIDFromUUID(u uuid.UUID) efilib.GUID {
	return efilib.MakeGUID(
		binary.BigEndian.Uint32(u[0:4]),
		binary.BigEndian.Uint16(u[4:6]),
		binary.BigEndian.Uint16(u[6:8]),
		binary.BigEndian.Uint16(u[8:10]),
		[6]uint8(u[10:16]),
	)
}

// UUIDFromGUID converts a firmware GUID back into a canonical UUID.
func UUIDFromGUID(g efilib.GUID) (uuid.UUID, error) {
	return uuid.Parse(g.String())
}

// NewPartitionDevicePath describes GPT partition number (1-based) starting at
// start and spanning size logical blocks.
func NewPartitionDevicePath(number uint32, start, size uint64, partUUID uuid.UUID) efilib.DevicePath {
	return efilib.DevicePath{
		&efilib.HardDriveDevicePathNode{
			PartitionNumber: number,
			PartitionStart:  start,
			PartitionSize:   size,
			Signature:       efilib.GUIDHardDriveSignature(GUIDFromUUID(partUUID)),
			MBRType:         efilib.GPT,
		},
	}
}

// NewFilePath turns a slash separated volume path into a file path node.
func NewFilePath(path string) efilib.DevicePath {
	p := strings.ReplaceAll(path, "/", `\`)
	if !strings.HasPrefix(p, `\`) {
		p = `\` + p
	}
	return efilib.DevicePath{efilib.FilePathDevicePathNode(p)}
}

// PartitionUUID returns the GPT partition GUID found in dp.
func PartitionUUID(dp efilib.DevicePath) (uuid.UUID, bool) {
	for _, node := range dp {
		hd, ok := node.(*efilib.HardDriveDevicePathNode)
		if !ok || hd.MBRType != efilib.GPT {
			continue
		}

		sig, ok := hd.Signature.(efilib.GUIDHardDriveSignature)
		if !ok {
			continue
		}

		u, err := UUIDFromGUID(efilib.GUID(sig))
		if err != nil {
			continue
		}
		return u, true
	}

	return uuid.UUID{}, false
}

// FilePathString renders dp the way loaders print image paths: file path
// nodes are joined as is, anything else uses the generic text form.
func FilePathString(dp efilib.DevicePath) (string, error) {
	if len(dp) == 0 {
		return "", errors.New("empty device path")
	}

	var b strings.Builder
	for _, node := range dp {
		fp, ok := node.(efilib.FilePathDevicePathNode)
		if !ok {
			return dp.String(), nil
		}
		if b.Len() > 0 && !strings.HasSuffix(b.String(), `\`) && !strings.HasPrefix(string(fp), `\`) {
			b.WriteByte('\\')
		}
		b.WriteString(string(fp))
	}

	if b.Len() == 0 {
		return "", errors.New("device path has no printable file name")
	}

	return b.String(), nil
}

//go:build linux

package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	efilib "github.com/canonical/go-efilib"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/cozystack/uki-stub/internal/efi"
)

const (
	sysBlockDir     = "/sys/dev/block"
	byPartUUIDDir   = "/dev/disk/by-partuuid"
	sysfsSectorSize = 512
)

// hostVolume returns the mount root of the filesystem holding path and,
// when it lives on a GPT partition, the partition's device path.
func hostVolume(path string) (string, efilib.DevicePath) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return "/", nil
	}

	root := mountRoot(path, uint64(st.Dev))

	part, err := partitionInfo(sysBlockDir, unix.Major(uint64(st.Dev)), unix.Minor(uint64(st.Dev)))
	if err != nil {
		return root, nil
	}

	u, err := partitionUUID(byPartUUIDDir, uint64(st.Dev))
	if err != nil {
		return root, nil
	}

	return root, efi.NewPartitionDevicePath(part.number, part.start, part.size, u)
}

// mountRoot walks up from path while the parent stays on dev.
func mountRoot(path string, dev uint64) string {
	dir := filepath.Dir(path)
	for dir != "/" {
		parent := filepath.Dir(dir)

		var st unix.Stat_t
		if err := unix.Stat(parent, &st); err != nil || uint64(st.Dev) != dev {
			break
		}
		dir = parent
	}
	return dir
}

type partition struct {
	number uint32
	// start and size are in logical blocks.
	start, size uint64
}

// partitionInfo reads the geometry of block device major:minor from sysfs.
func partitionInfo(sysDir string, major, minor uint32) (partition, error) {
	dev := filepath.Join(sysDir, fmt.Sprintf("%d:%d", major, minor))
	if resolved, err := filepath.EvalSymlinks(dev); err == nil {
		dev = resolved
	}

	read := func(name string) (uint64, error) {
		b, err := os.ReadFile(filepath.Join(dev, name))
		if err != nil {
			return 0, err
		}
		return strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	}

	number, err := read("partition")
	if err != nil {
		return partition{}, errors.Wrapf(err, "%d:%d is not a partition", major, minor)
	}
	start, err := read("start")
	if err != nil {
		return partition{}, errors.Wrap(err, "partition start")
	}
	size, err := read("size")
	if err != nil {
		return partition{}, errors.Wrap(err, "partition size")
	}

	// sysfs counts 512 byte sectors; device paths count logical blocks
	blockSize, err := read(filepath.Join("..", "queue", "logical_block_size"))
	if err != nil || blockSize < sysfsSectorSize {
		blockSize = sysfsSectorSize
	}
	scale := blockSize / sysfsSectorSize

	return partition{number: uint32(number), start: start / scale, size: size / scale}, nil
}

// partitionUUID finds the by-partuuid link pointing at dev.
func partitionUUID(dir string, dev uint64) (uuid.UUID, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return uuid.UUID{}, errors.Wrapf(err, "read %s", dir)
	}

	for _, entry := range entries {
		var st unix.Stat_t
		if err := unix.Stat(filepath.Join(dir, entry.Name()), &st); err != nil {
			continue
		}
		if st.Mode&unix.S_IFMT != unix.S_IFBLK || uint64(st.Rdev) != dev {
			continue
		}
		u, err := uuid.Parse(entry.Name())
		if err != nil {
			// MBR partitions are named <disk id>-<n>
			continue
		}
		return u, nil
	}

	return uuid.UUID{}, errors.Newf("no GPT partition UUID for device %d:%d", unix.Major(dev), unix.Minor(dev))
}

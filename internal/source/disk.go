package source

import (
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/diskfs/go-diskfs"
	diskType "github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/google/uuid"

	"github.com/cozystack/uki-stub/internal/efi"
	"github.com/cozystack/uki-stub/internal/types"
)

// bootDirs lists where boot loaders look for unified kernel images, in
// order of preference.
//
//nolint:gochecknoglobals
var bootDirs = []string{
	"/EFI/Linux",
	"/EFI/BOOT",
}

// findUKI returns the first .efi file under bootDirs, each directory in
// name order. When prefer is set the first name it accepts wins over
// earlier candidates.
func findUKI(v types.Volume, prefer func(name string) bool) (string, error) {
	var first string

	for _, dir := range bootDirs {
		entries, err := v.ReadDir(dir)
		if err != nil {
			continue
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(path.Ext(e.Name()), ".efi") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			p := path.Join(dir, name)
			if prefer == nil {
				return p, nil
			}
			if prefer(strings.ToLower(name)) {
				return p, nil
			}
			if first == "" {
				first = p
			}
		}
	}

	if first == "" {
		return "", errors.Newf("no EFI executable in %s", strings.Join(bootDirs, ", "))
	}
	return first, nil
}

// partitionFunc picks the filesystem to mount from d. part is nil for
// media without a partition table.
type partitionFunc func(d *diskType.Disk) (number int, part *gpt.Partition, err error)

// espPartition picks the EFI System Partition of a GPT disk.
func espPartition(d *diskType.Disk) (int, *gpt.Partition, error) {
	table, err := d.GetPartitionTable()
	if err != nil {
		return 0, nil, errors.Wrap(err, "read partition table")
	}

	gptTable, ok := table.(*gpt.Table)
	if !ok {
		return 0, nil, errors.New("image is not GPT partitioned")
	}

	for i, p := range gptTable.Partitions {
		if p != nil && p.Type == gpt.EFISystemPartition {
			return i + 1, p, nil
		}
	}
	return 0, nil, errors.New("no EFI System Partition")
}

// wholeDisk mounts the filesystem spanning the image, as on ISO9660 media.
func wholeDisk(*diskType.Disk) (int, *gpt.Partition, error) {
	return 0, nil, nil
}

// loadDiskImage opens a disk image read-only, mounts the filesystem chosen
// by pick and reads the UKI from it. scratch is removed with the volume.
func loadDiskImage(name, scratch string, pick partitionFunc, prefer func(string) bool) (_ *types.LoadedImage, err error) {
	d, err := diskfs.Open(name, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		if scratch != "" {
			_ = newReleaser(nil, scratch).Close()
		}
		return nil, errors.Wrapf(err, "open disk image %s", name)
	}

	rel := newReleaser(d, scratch)
	defer func() {
		if err != nil {
			rel.Close()
		}
	}()

	number, part, err := pick(d)
	if err != nil {
		return nil, err
	}

	fsys, err := d.GetFilesystem(number)
	if err != nil {
		return nil, errors.Wrapf(err, "mount filesystem %d", number)
	}
	volume := newDiskVolume(fsys, rel)

	ukiPath, err := findUKI(volume, prefer)
	if err != nil {
		return nil, err
	}

	data, err := types.ReadFile(volume, ukiPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", ukiPath)
	}

	img := &types.LoadedImage{
		Image:    data,
		Path:     ukiPath,
		Volume:   volume,
		FilePath: efi.NewFilePath(ukiPath),
	}
	if part != nil {
		if u, perr := uuid.Parse(part.GUID); perr == nil {
			img.DevicePath = efi.NewPartitionDevicePath(uint32(number), part.Start, part.End-part.Start+1, u)
		}
	}
	return img, nil
}

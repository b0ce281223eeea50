package testutil

import (
	"os"
	"path"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/gpt"
)

const (
	// ESPPartitionGUID is the unique GUID of the ESP written by
	// CreateTestRAWImage.
	ESPPartitionGUID = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	// ESPStartSector is the first LBA of that ESP.
	ESPStartSector = 2048

	sectorSize = 512
	// backupGPTSectors is what the secondary header and entries occupy at
	// the end of the disk.
	backupGPTSectors = 34
)

// CreateTestRAWImage writes a GPT disk image of sizeMB whose single
// partition is a FAT32 ESP holding files, keyed by absolute path.
func CreateTestRAWImage(name string, sizeMB int64, files map[string][]byte) error {
	size := sizeMB << 20

	img, err := diskfs.Create(name, size, diskfs.SectorSizeDefault)
	if err != nil {
		return errors.Wrap(err, "create image")
	}
	defer img.Close()

	if err := img.Partition(&gpt.Table{
		ProtectiveMBR: true,
		Partitions: []*gpt.Partition{{
			Start: ESPStartSector,
			End:   uint64(size/sectorSize) - backupGPTSectors,
			Type:  gpt.EFISystemPartition,
			Name:  "EFI",
			GUID:  ESPPartitionGUID,
		}},
	}); err != nil {
		return errors.Wrap(err, "partition image")
	}

	esp, err := img.CreateFilesystem(disk.FilesystemSpec{
		Partition:   1,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: "EFI",
	})
	if err != nil {
		return errors.Wrap(err, "format ESP")
	}

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if err := mkdirAll(esp, path.Dir(n)); err != nil {
			return err
		}
		if err := writeFile(esp, n, files[n]); err != nil {
			return err
		}
	}
	return nil
}

func mkdirAll(fsys filesystem.FileSystem, dir string) error {
	if dir == "/" || dir == "." {
		return nil
	}
	if err := mkdirAll(fsys, path.Dir(dir)); err != nil {
		return err
	}
	if _, err := fsys.ReadDir(dir); err == nil {
		return nil
	}
	return errors.Wrapf(fsys.Mkdir(dir), "mkdir %s", dir)
}

func writeFile(fsys filesystem.FileSystem, name string, data []byte) error {
	f, err := fsys.OpenFile(name, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return errors.Wrapf(err, "create %s", name)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", name)
	}
	return f.Close()
}

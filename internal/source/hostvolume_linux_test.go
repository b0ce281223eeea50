//go:build linux

package source

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func writeSysfs(t *testing.T, path, value string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(value+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestPartitionInfo(t *testing.T) {
	sys := t.TempDir()
	part := filepath.Join(sys, "block", "sda", "sda1")
	writeSysfs(t, filepath.Join(part, "partition"), "1")
	writeSysfs(t, filepath.Join(part, "start"), "2048")
	writeSysfs(t, filepath.Join(part, "size"), "1048576")
	writeSysfs(t, filepath.Join(sys, "block", "sda", "queue", "logical_block_size"), "4096")

	devDir := filepath.Join(sys, "dev", "block")
	if err := os.MkdirAll(devDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(filepath.Join("..", "..", "block", "sda", "sda1"), filepath.Join(devDir, "8:1")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	got, err := partitionInfo(devDir, 8, 1)
	if err != nil {
		t.Fatalf("partitionInfo error: %v", err)
	}

	want := partition{number: 1, start: 256, size: 131072}
	if got != want {
		t.Errorf("partitionInfo() = %+v, want %+v", got, want)
	}
}

func TestPartitionInfo_DefaultBlockSize(t *testing.T) {
	sys := t.TempDir()
	dev := filepath.Join(sys, "259:3")
	writeSysfs(t, filepath.Join(dev, "partition"), "3")
	writeSysfs(t, filepath.Join(dev, "start"), "4096")
	writeSysfs(t, filepath.Join(dev, "size"), "2048")

	got, err := partitionInfo(sys, 259, 3)
	if err != nil {
		t.Fatalf("partitionInfo error: %v", err)
	}

	want := partition{number: 3, start: 4096, size: 2048}
	if got != want {
		t.Errorf("partitionInfo() = %+v, want %+v", got, want)
	}
}

func TestPartitionInfo_WholeDisk(t *testing.T) {
	sys := t.TempDir()
	writeSysfs(t, filepath.Join(sys, "8:0", "size"), "1048576")

	if _, err := partitionInfo(sys, 8, 0); err == nil {
		t.Error("expected error for a device that is not a partition")
	}
}

func TestMountRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a", "b", "image.efi")
	writeSysfs(t, file, "x")

	var st unix.Stat_t
	if err := unix.Stat(file, &st); err != nil {
		t.Fatalf("stat: %v", err)
	}

	root := mountRoot(file, uint64(st.Dev))
	if root != "/" && !strings.HasPrefix(file, root+"/") {
		t.Errorf("mountRoot() = %q is not an ancestor of %q", root, file)
	}

	var rst unix.Stat_t
	if err := unix.Stat(root, &rst); err != nil {
		t.Fatalf("stat root: %v", err)
	}
	if uint64(rst.Dev) != uint64(st.Dev) {
		t.Errorf("mountRoot() = %q is on another device", root)
	}
}

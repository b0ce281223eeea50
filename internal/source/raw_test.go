package source

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	efilib "github.com/canonical/go-efilib"
	"github.com/google/uuid"

	"github.com/cozystack/uki-stub/internal/efi"
	"github.com/cozystack/uki-stub/internal/testutil"
	"github.com/cozystack/uki-stub/internal/types"
)

func TestRAWSource_Type(t *testing.T) {
	source := NewRAWSource("/path/to/test.raw")
	if source.Type() != types.ImageSourceRAW {
		t.Errorf("Type() = %v, want %v", source.Type(), types.ImageSourceRAW)
	}
}

func TestRAWSource_Reference(t *testing.T) {
	path := "/path/to/test.raw.xz"
	source := NewRAWSource(path)
	if source.Reference() != path {
		t.Errorf("Reference() = %v, want %v", source.Reference(), path)
	}
}

// createESPImage writes a RAW image whose ESP holds a UKI, a sidecar
// credential and a global credential.
func createESPImage(t *testing.T, rawPath string) []byte {
	t.Helper()

	ukiContent := testutil.BuildPE(
		testutil.PESection{Name: ".cmdline", Data: []byte("console=ttyS0 talos.platform=metal")},
		testutil.PESection{Name: ".linux", Data: []byte("test-kernel-data-12345")},
		testutil.PESection{Name: ".initrd", Data: []byte("test-initrd-data-67890")},
	)

	files := map[string][]byte{
		"/EFI/Linux/talos.efi":                ukiContent,
		"/EFI/Linux/talos.efi.extra.d/a.cred": []byte("sidecar"),
		"/loader/credentials/g.cred":          []byte("global"),
	}
	if err := testutil.CreateTestRAWImage(rawPath, 64, files); err != nil {
		t.Fatalf("Failed to create test RAW image: %v", err)
	}

	return ukiContent
}

func TestRAWSource_Load(t *testing.T) {
	tmpDir := t.TempDir()
	rawPath := filepath.Join(tmpDir, "test.raw")
	ukiContent := createESPImage(t, rawPath)

	source := NewRAWSource(rawPath)
	defer source.Close()

	img, err := source.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	defer img.Close()

	if !bytes.Equal(img.Image, ukiContent) {
		t.Error("image content mismatch")
	}
	if !strings.EqualFold(img.Path, "/EFI/Linux/talos.efi") {
		t.Errorf("Path = %q", img.Path)
	}

	// sidecar and global credentials are reachable through the volume
	for dir, want := range map[string]string{
		img.Path + ".extra.d": "a.cred",
		"/loader/credentials": "g.cred",
	} {
		infos, err := img.Volume.ReadDir(dir)
		if err != nil {
			t.Fatalf("ReadDir(%s) error: %v", dir, err)
		}
		if len(infos) != 1 || !strings.EqualFold(infos[0].Name(), want) {
			t.Errorf("ReadDir(%s) = %v, want %s", dir, infos, want)
		}
	}

	if _, err := img.Volume.ReadDir("/EFI/Linux/absent.extra.d"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing directory error = %v, want fs.ErrNotExist", err)
	}

	u, ok := efi.PartitionUUID(img.DevicePath)
	if !ok {
		t.Fatal("device path has no partition UUID")
	}
	if want := uuid.MustParse(testutil.ESPPartitionGUID); u != want {
		t.Errorf("partition UUID = %s, want %s", u, want)
	}

	hd, ok := img.DevicePath[0].(*efilib.HardDriveDevicePathNode)
	if !ok {
		t.Fatalf("first node is %T", img.DevicePath[0])
	}
	if hd.PartitionNumber != 1 || hd.PartitionStart != testutil.ESPStartSector {
		t.Errorf("partition %d at %d, want 1 at %d", hd.PartitionNumber, hd.PartitionStart, testutil.ESPStartSector)
	}
}

func TestRAWSource_Load_Compressed(t *testing.T) {
	tmpDir := t.TempDir()
	rawPath := filepath.Join(tmpDir, "test.raw")
	ukiContent := createESPImage(t, rawPath)

	raw, err := os.ReadFile(rawPath)
	if err != nil {
		t.Fatalf("read RAW: %v", err)
	}

	gzPath := rawPath + ".gz"
	if err := os.WriteFile(gzPath, compress(t, Gzip, raw), 0o644); err != nil {
		t.Fatalf("write gz: %v", err)
	}

	source := NewRAWSource(gzPath)
	defer source.Close()

	img, err := source.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if !bytes.Equal(img.Image, ukiContent) {
		t.Error("image content mismatch")
	}

	if err := img.Close(); err != nil {
		t.Errorf("Close error: %v", err)
	}
}

func TestRAWSource_Load_InvalidFile(t *testing.T) {
	// Test that Load returns error for invalid disk image
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.raw")

	// Create minimal file (not a valid disk image)
	if err := os.WriteFile(testFile, []byte("dummy"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	source := NewRAWSource(testFile)
	defer source.Close()

	if _, err := source.Load(); err == nil {
		t.Error("Expected error for invalid disk image")
	}
}

func TestFindUKI(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{
			name:  "type 2 entry preferred",
			files: []string{"EFI/BOOT/BOOTX64.EFI", "EFI/Linux/b.efi", "EFI/Linux/a.efi"},
			want:  "/EFI/Linux/a.efi",
		},
		{
			name:  "removable media path",
			files: []string{"EFI/BOOT/BOOTX64.EFI", "EFI/BOOT/grub.cfg"},
			want:  "/EFI/BOOT/BOOTX64.EFI",
		},
		{
			name:  "directories are skipped",
			files: []string{"EFI/Linux/x.efi/inner", "EFI/BOOT/BOOTAA64.EFI"},
			want:  "/EFI/BOOT/BOOTAA64.EFI",
		},
		{
			name:  "none",
			files: []string{"loader/loader.conf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for _, f := range tt.files {
				p := filepath.Join(root, filepath.FromSlash(f))
				if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
					t.Fatalf("mkdir: %v", err)
				}
				if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
					t.Fatalf("write: %v", err)
				}
			}

			got, err := findUKI(types.DirVolume{Root: root}, nil)
			if tt.want == "" {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("findUKI error: %v", err)
			}
			if got != tt.want {
				t.Errorf("findUKI() = %q, want %q", got, tt.want)
			}
		})
	}
}

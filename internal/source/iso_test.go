package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cozystack/uki-stub/internal/types"
)

func TestISOSource_Type(t *testing.T) {
	source := NewISOSource("/path/to/test.iso")
	if source.Type() != types.ImageSourceISO {
		t.Errorf("Type() = %v, want %v", source.Type(), types.ImageSourceISO)
	}
}

func TestISOSource_Reference(t *testing.T) {
	path := "/path/to/talos.iso"
	source := NewISOSource(path)
	if source.Reference() != path {
		t.Errorf("Reference() = %v, want %v", source.Reference(), path)
	}
}

func TestFindUKI_PreferKernel(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		want    string
		wantErr bool
	}{
		{
			name:  "vmlinuz preferred over boot loader",
			files: []string{"EFI/BOOT/BOOTX64.EFI", "EFI/BOOT/vmlinuz.efi"},
			want:  "/EFI/BOOT/vmlinuz.efi",
		},
		{
			name:  "vmlinuz in later directory still wins",
			files: []string{"EFI/Linux/loader.efi", "EFI/BOOT/vmlinuz.efi"},
			want:  "/EFI/BOOT/vmlinuz.efi",
		},
		{
			name:  "fallback to first executable",
			files: []string{"EFI/BOOT/BOOTX64.EFI"},
			want:  "/EFI/BOOT/BOOTX64.EFI",
		},
		{
			name:    "no executables",
			files:   []string{"boot/vmlinuz", "EFI/BOOT/grub.cfg"},
			wantErr: true,
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

			got, err := findUKI(types.DirVolume{Root: root}, isKernelImage)
			if tt.wantErr {
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

func TestISOSource_Load_InvalidPath(t *testing.T) {
	source := NewISOSource("/nonexistent/path/to/test.iso")
	img, err := source.Load()
	if err == nil {
		t.Error("Load should return error for invalid path")
	}
	if img != nil {
		t.Error("Load should return nil image")
	}
}

func TestISOSource_Close(t *testing.T) {
	source := NewISOSource("/path/to/test.iso")
	err := source.Close()
	if err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
}

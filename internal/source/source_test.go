package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozystack/uki-stub/internal/types"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		kind types.ImageSourceType
		ok   bool
	}{
		{"uki.efi", types.ImageSourceEFI, true},
		{"/EFI/Linux/UKI.EFI", types.ImageSourceEFI, true},
		{"metal-amd64.iso", types.ImageSourceISO, true},
		{"disk.raw", types.ImageSourceRAW, true},
		{"metal-amd64.raw.xz", types.ImageSourceRAW, true},
		{"metal-amd64.raw.gz", types.ImageSourceRAW, true},
		{"metal-amd64.raw.zst", types.ImageSourceRAW, true},
		{"metal-amd64.raw.xz.1", types.ImageSourceRAW, true},
		{"vmlinuz", 0, false},
		{"image.tar", 0, false},
	}

	for _, tt := range tests {
		kind, ok := KindOf(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		if tt.ok {
			assert.Equal(t, tt.kind, kind, tt.name)
		}
	}
}

func TestDetectImageSource(t *testing.T) {
	dir := t.TempDir()
	local := func(name string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("test"), 0o644))
		return p
	}

	tests := []struct {
		name string
		ref  string
		want types.ImageSourceType
	}{
		{"registry", "ghcr.io/cozystack/cozystack/talos:v1.11.6", types.ImageSourceContainer},
		{"short ref", "alpine:latest", types.ImageSourceContainer},
		{"local efi", local("uki.EFI"), types.ImageSourceEFI},
		{"local iso", local("metal.iso"), types.ImageSourceISO},
		{"local raw", local("disk.raw"), types.ImageSourceRAW},
		{"local raw.zst", local("disk.raw.zst"), types.ImageSourceRAW},
		{"http efi", "https://example.com/EFI/Linux/uki.efi", types.ImageSourceEFI},
		{"http iso", "https://factory.talos.dev/image/xxx/v1.11.0/metal-amd64.iso", types.ImageSourceISO},
		{"http raw.xz", "https://factory.talos.dev/image/xxx/v1.11.0/metal-amd64.raw.xz", types.ImageSourceRAW},
		{"http raw", "http://example.com/disk.raw", types.ImageSourceRAW},
		{"http without suffix", "https://registry.example.com/talos:v1.11", types.ImageSourceContainer},
		{"missing file", filepath.Join(dir, "absent.efi"), types.ImageSourceContainer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := DetectImageSource(tt.ref)
			require.NoError(t, err)
			defer src.Close()

			assert.Equal(t, tt.want, src.Type())
			assert.Equal(t, tt.ref, src.Reference())
		})
	}
}

func TestDetectImageSource_UnknownLocalFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "kernel.bin")
	require.NoError(t, os.WriteFile(p, []byte("test"), 0o644))

	_, err := DetectImageSource(p)
	assert.Error(t, err)
}

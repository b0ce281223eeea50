package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozystack/uki-stub/internal/testutil"
	"github.com/cozystack/uki-stub/internal/types"
)

func serve(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts.URL
}

func serveBytes(t *testing.T, data []byte) string {
	return serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write(data)
	})
}

func TestProgressWriter(t *testing.T) {
	var seen [][2]int64
	w := &progressWriter{total: 10, report: func(done, total int64) {
		seen = append(seen, [2]int64{done, total})
	}}

	for _, chunk := range []string{"hello", "world"} {
		n, err := w.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}
	assert.Equal(t, [][2]int64{{5, 10}, {10, 10}}, seen)
}

func TestDownloadToFile(t *testing.T) {
	body := strings.Repeat("x", 1000)
	url := serveBytes(t, []byte(body))
	dest := filepath.Join(t.TempDir(), "image")

	var last int64
	require.NoError(t, DownloadToFile(context.Background(), url, dest, func(done, _ int64) {
		last = done
	}))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
	assert.Equal(t, int64(len(body)), last)
}

func TestDownloadToFile_Errors(t *testing.T) {
	tests := map[string]struct {
		handler http.HandlerFunc
		want    string
	}{
		"not found": {
			handler: http.NotFound,
			want:    "404",
		},
		"html page": {
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Write([]byte("<html>login</html>"))
			},
			want: "HTML",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := DownloadToFile(context.Background(), serve(t, tt.handler), filepath.Join(t.TempDir(), "x"), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDownloadToFile_ContextCanceled(t *testing.T) {
	started := make(chan struct{})
	url := serve(t, func(_ http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- DownloadToFile(ctx, url, filepath.Join(t.TempDir(), "x"), nil)
	}()

	<-started
	cancel()
	assert.Error(t, <-errCh)
}

func TestDownloadName(t *testing.T) {
	for in, want := range map[string]string{
		"https://example.com/a/metal-amd64.raw.zst": "metal-amd64.raw.zst",
		"https://example.com/":                      "image",
		"https://example.com":                       "image",
		"https://example.com/x.iso?token=abc":       "x.iso",
	} {
		assert.Equal(t, want, downloadName(in), in)
	}
}

func TestHTTPSource(t *testing.T) {
	s := NewHTTPSource("https://example.com/test.iso", types.ImageSourceISO)
	assert.Equal(t, types.ImageSourceISO, s.Type())
	assert.Equal(t, "https://example.com/test.iso", s.Reference())
	assert.NoError(t, s.Close())
}

func TestHTTPSource_Load_RAW(t *testing.T) {
	rawPath := filepath.Join(t.TempDir(), "test.raw")
	uki := createESPImage(t, rawPath)
	raw, err := os.ReadFile(rawPath)
	require.NoError(t, err)

	s := NewHTTPSource(serveBytes(t, compress(t, Zstd, raw))+"/test.raw.zst", types.ImageSourceRAW)
	defer s.Close()

	img, err := s.Load()
	require.NoError(t, err)
	defer img.Close()

	assert.Equal(t, uki, img.Image)
	assert.NotNil(t, img.DevicePath, "RAW images carry a partition device path")
}

func TestHTTPSource_Load_EFI(t *testing.T) {
	content := testutil.BuildPE(testutil.PESection{Name: ".linux", Data: []byte("kernel")})
	s := NewHTTPSource(serveBytes(t, content)+"/EFI/Linux/talos.efi", types.ImageSourceEFI)

	img, err := s.Load()
	require.NoError(t, err)
	defer img.Close()

	assert.Equal(t, content, img.Image)
	assert.Equal(t, "/talos.efi", img.Path)

	// nothing but the image lives on the download volume
	_, err = img.Volume.ReadDir("/loader/credentials")
	assert.Error(t, err)

	dir := s.dir
	require.NoError(t, s.Close())
	assert.NoDirExists(t, dir)
	assert.Empty(t, s.file)
}

func TestHTTPSource_Load_Container(t *testing.T) {
	_, err := NewHTTPSource("https://example.com/image", types.ImageSourceContainer).Load()
	assert.Error(t, err)
}

func TestHTTPSource_Load_DownloadFails(t *testing.T) {
	s := NewHTTPSource(serve(t, http.NotFound)+"/test.iso", types.ImageSourceISO)
	defer s.Close()

	_, err := s.Load()
	assert.Error(t, err)
	assert.Empty(t, s.dir, "failed download should not leave a directory")
}

package source

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/cozystack/uki-stub/internal/efi"
	"github.com/cozystack/uki-stub/internal/types"
)

const downloadTimeout = 30 * time.Minute

// ProgressFunc receives the bytes written so far and the expected total,
// which is -1 when the server sent no length.
type ProgressFunc func(done, total int64)

type progressWriter struct {
	done, total int64
	report      ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	w.report(w.done, w.total)
	return len(p), nil
}

// DownloadToFile stores the body of a successful GET of rawURL in dest.
// HTML responses are rejected, since mirrors serve error pages as 200.
func DownloadToFile(ctx context.Context, rawURL, dest string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return errors.Wrap(err, "build request")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("GET %s: %s", rawURL, resp.Status)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "text/html" {
		return errors.Newf("GET %s: got an HTML page instead of an image", rawURL)
	}

	f, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "create %s", dest)
	}
	defer f.Close()

	body := io.Reader(resp.Body)
	if progress != nil {
		body = io.TeeReader(body, &progressWriter{total: resp.ContentLength, report: progress})
	}
	if _, err := io.Copy(f, body); err != nil {
		return errors.Wrapf(err, "write %s", dest)
	}
	return f.Close()
}

// HTTPSource downloads a RAW, ISO or EFI image and loads it with the
// matching local source. Container references are pulled by
// ContainerSource instead.
type HTTPSource struct {
	url   string
	kind  types.ImageSourceType
	dir   string
	file  string
	inner types.ImageSource
}

func NewHTTPSource(rawURL string, kind types.ImageSourceType) *HTTPSource {
	return &HTTPSource{url: rawURL, kind: kind}
}

func (s *HTTPSource) Type() types.ImageSourceType { return s.kind }

func (s *HTTPSource) Reference() string { return s.url }

func (s *HTTPSource) Load() (*types.LoadedImage, error) {
	switch s.kind {
	case types.ImageSourceRAW, types.ImageSourceISO, types.ImageSourceEFI:
	default:
		return nil, errors.Newf("cannot download %s images over HTTP", s.kind)
	}

	if err := s.fetch(); err != nil {
		return nil, err
	}

	switch s.kind {
	case types.ImageSourceRAW:
		s.inner = NewRAWSource(s.file)
	case types.ImageSourceISO:
		s.inner = NewISOSource(s.file)
	default:
		return s.loadEFI()
	}
	return s.inner.Load()
}

// loadEFI serves the UKI from the download directory, which holds nothing
// else, so no sidecar payloads are found.
func (s *HTTPSource) loadEFI() (*types.LoadedImage, error) {
	data, err := os.ReadFile(s.file)
	if err != nil {
		return nil, errors.Wrap(err, "read download")
	}

	p := "/" + filepath.Base(s.file)
	return &types.LoadedImage{
		Image:    data,
		Path:     p,
		Volume:   types.DirVolume{Root: s.dir},
		FilePath: efi.NewFilePath(p),
	}, nil
}

// downloadName keeps the last URL path element so compression is still
// detected from the suffix.
func downloadName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "image"
	}
	switch base := path.Base(u.Path); base {
	case ".", "/", "":
		return "image"
	default:
		return base
	}
}

func (s *HTTPSource) fetch() error {
	if s.file != "" {
		return nil
	}

	dir, err := os.MkdirTemp("", "uki-stub-download-*")
	if err != nil {
		return errors.Wrap(err, "create download dir")
	}
	file := filepath.Join(dir, downloadName(s.url))

	ctx, cancel := context.WithTimeout(context.Background(), downloadTimeout)
	defer cancel()
	if err := DownloadToFile(ctx, s.url, file, nil); err != nil {
		os.RemoveAll(dir)
		return errors.Wrap(err, "download")
	}

	s.dir, s.file = dir, file
	return nil
}

// Close closes the delegated source and removes the download.
func (s *HTTPSource) Close() error {
	var errs []error
	if s.inner != nil {
		errs = append(errs, s.inner.Close())
		s.inner = nil
	}
	if s.dir != "" {
		errs = append(errs, os.RemoveAll(s.dir))
		s.dir, s.file = "", ""
	}
	return errors.Join(errs...)
}

// Package source turns an image reference (local file, URL or container
// image) into the loaded image a firmware would hand to the stub.
package source

import (
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/cozystack/uki-stub/internal/types"
)

// suffixes maps file name endings to the source that reads them. Longer
// endings come first.
var suffixes = []struct { //nolint:gochecknoglobals
	suffix string
	kind   types.ImageSourceType
}{
	{".raw.xz", types.ImageSourceRAW},
	{".raw.gz", types.ImageSourceRAW},
	{".raw.zst", types.ImageSourceRAW},
	{".raw", types.ImageSourceRAW},
	{".efi", types.ImageSourceEFI},
	{".iso", types.ImageSourceISO},
}

// KindOf classifies a file name by its suffix, case-insensitively. Names
// like "metal.raw.xz.1" still count as RAW images.
func KindOf(name string) (types.ImageSourceType, bool) {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.kind, true
		}
	}
	if strings.Contains(path.Base(lower), ".raw") {
		return types.ImageSourceRAW, true
	}
	return 0, false
}

// DetectImageSource picks the source for ref. URLs are classified by their
// path, existing files by their name; anything else is taken to be a
// container image reference.
func DetectImageSource(ref string) (types.ImageSource, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		u, err := url.Parse(ref)
		if err != nil {
			return nil, errors.Wrap(err, "invalid URL")
		}
		kind, ok := KindOf(u.Path)
		if !ok {
			return NewContainerSource(ref), nil
		}
		return NewHTTPSource(ref, kind), nil
	}

	if _, err := os.Stat(ref); err != nil {
		return NewContainerSource(ref), nil
	}

	kind, ok := KindOf(ref)
	if !ok {
		return nil, errors.Newf("unknown image format: %s (expected .efi, .iso, .raw, .raw.xz, .raw.zst, or container reference)", ref)
	}
	return newLocalSource(kind, ref), nil
}

func newLocalSource(kind types.ImageSourceType, path string) types.ImageSource {
	switch kind {
	case types.ImageSourceEFI:
		return NewEFISource(path)
	case types.ImageSourceISO:
		return NewISOSource(path)
	default:
		return NewRAWSource(path)
	}
}

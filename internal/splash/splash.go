// Package splash shows the image embedded in the .splash section.
package splash

import (
	"bytes"
	"encoding/binary"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/image/bmp"
)

// Renderer displays a BMP image.
type Renderer interface {
	Render(data []byte) error
}

// Nop only checks that the image decodes.
type Nop struct{}

// Render implements Renderer.
func (Nop) Render(data []byte) error {
	_, err := bmp.DecodeConfig(bytes.NewReader(data))
	return errors.Wrap(err, "decode splash")
}

// Framebuffer draws the image centred on a 32 bits per pixel Linux
// framebuffer device.
type Framebuffer struct {
	// Device is the framebuffer device, e.g. /dev/fb0.
	Device string
	// SysDir holds the device's sysfs attributes, e.g. /sys/class/graphics/fb0.
	SysDir string

	Logger *zap.Logger
}

// NewFramebuffer returns a renderer for /dev/fb<n>.
func NewFramebuffer(n int, logger *zap.Logger) *Framebuffer {
	name := "fb" + strconv.Itoa(n)
	return &Framebuffer{
		Device: filepath.Join("/dev", name),
		SysDir: filepath.Join("/sys/class/graphics", name),
		Logger: logger,
	}
}

type geometry struct {
	width, height int
	stride        int
}

func (f *Framebuffer) geometry() (geometry, error) {
	read := func(name string) (string, error) {
		b, err := os.ReadFile(filepath.Join(f.SysDir, name))
		if err != nil {
			return "", errors.Wrapf(err, "read framebuffer %s", name)
		}
		return strings.TrimSpace(string(b)), nil
	}

	size, err := read("virtual_size")
	if err != nil {
		return geometry{}, err
	}
	ws, hs, ok := strings.Cut(size, ",")
	if !ok {
		return geometry{}, errors.Newf("malformed framebuffer size %q", size)
	}

	var g geometry
	if g.width, err = strconv.Atoi(ws); err != nil {
		return geometry{}, errors.Wrap(err, "framebuffer width")
	}
	if g.height, err = strconv.Atoi(hs); err != nil {
		return geometry{}, errors.Wrap(err, "framebuffer height")
	}

	bpp, err := read("bits_per_pixel")
	if err != nil {
		return geometry{}, err
	}
	if bpp != "32" {
		return geometry{}, errors.Newf("unsupported framebuffer depth %s", bpp)
	}

	g.stride = g.width * 4
	if s, err := read("stride"); err == nil {
		if n, err := strconv.Atoi(s); err == nil && n >= g.stride {
			g.stride = n
		}
	}

	return g, nil
}

// Render implements Renderer.
func (f *Framebuffer) Render(data []byte) error {
	img, err := bmp.Decode(bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "decode splash")
	}

	g, err := f.geometry()
	if err != nil {
		return err
	}

	bounds := img.Bounds()
	if bounds.Dx() > g.width || bounds.Dy() > g.height {
		return errors.Newf("splash %dx%d does not fit %dx%d framebuffer", bounds.Dx(), bounds.Dy(), g.width, g.height)
	}

	fb, err := os.OpenFile(f.Device, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrap(err, "open framebuffer")
	}
	defer fb.Close()

	x0 := (g.width - bounds.Dx()) / 2
	y0 := (g.height - bounds.Dy()) / 2

	row := make([]byte, bounds.Dx()*4)
	for y := range bounds.Dy() {
		encodeRow(row, img, bounds.Min.Y+y)
		off := int64((y0+y)*g.stride + x0*4)
		if _, err := fb.WriteAt(row, off); err != nil {
			return errors.Wrapf(err, "write framebuffer row %d", y)
		}
	}

	f.logger().Debug("splash shown", zap.Int("width", bounds.Dx()), zap.Int("height", bounds.Dy()))

	return nil
}

// encodeRow stores one image row as little-endian XRGB8888.
func encodeRow(dst []byte, img image.Image, y int) {
	b := img.Bounds()
	for x := range b.Dx() {
		r, g, bl, _ := img.At(b.Min.X+x, y).RGBA()
		binary.LittleEndian.PutUint32(dst[4*x:], uint32(r>>8)<<16|uint32(g>>8)<<8|uint32(bl>>8))
	}
}

func (f *Framebuffer) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

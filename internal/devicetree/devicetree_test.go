package devicetree

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/u-root/u-root/pkg/dt"
	"github.com/u-root/uio/uio"
	"go.uber.org/zap/zaptest"
)

// rootFDT builds a device tree holding only a root node with a compatible
// property.
func rootFDT(t *testing.T) []byte {
	t.Helper()

	fdt := dt.FDT{
		Header:   dt.Header{Magic: dt.Magic, Version: 17, LastCompVersion: 16},
		RootNode: dt.NewNode("", dt.WithProperty(dt.PropertyString("compatible", "uki-stub,test"))),
	}
	var buf bytes.Buffer
	_, err := fdt.Write(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

// truncatedFDT is a header that promises blocks it does not carry.
func truncatedFDT() []byte {
	b := uio.NewBigEndianBuffer(nil)
	b.Write32(dt.Magic) // magic
	b.Write32(4096)     // totalsize
	b.Write32(56)       // off_dt_struct
	b.Write32(72)       // off_dt_strings
	b.Write32(40)       // off_mem_rsvmap
	b.Write32(17)       // version
	b.Write32(16)       // last_comp_version
	return b.Data()
}

func TestValidate(t *testing.T) {
	fdt, err := Validate(rootFDT(t))
	require.NoError(t, err)
	require.NotNil(t, fdt.RootNode)

	for name, blob := range map[string][]byte{
		"garbage":   []byte("not a device tree"),
		"truncated": truncatedFDT(),
	} {
		_, err := Validate(blob)
		assert.Error(t, err, name)
	}
}

func TestNop(t *testing.T) {
	st, err := Nop{}.Install(rootFDT(t))
	require.NoError(t, err)
	assert.NoError(t, st.Close())

	_, err = Nop{}.Install(nil)
	assert.Error(t, err)
}

func TestOverlayInstall(t *testing.T) {
	dir := t.TempDir()
	o := &Overlay{Dir: dir, Name: "test", Logger: zaptest.NewLogger(t)}

	blob := rootFDT(t)
	st, err := o.Install(blob)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "test", "dtbo"))
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	require.NoError(t, st.Close())
	_, err = os.Stat(filepath.Join(dir, "test"))
	assert.True(t, os.IsNotExist(err))
}

func TestOverlayInstallReplacesStale(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "test"), 0o755))

	o := &Overlay{Dir: dir, Name: "test"}
	st, err := o.Install(rootFDT(t))
	require.NoError(t, err)
	assert.NoError(t, st.Close())
}

func TestOverlayRejectsInvalidBlob(t *testing.T) {
	dir := t.TempDir()
	o := &Overlay{Dir: dir, Name: "test"}

	_, err := o.Install([]byte{0xd0, 0x0d})
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(dir, "test"))
	assert.True(t, os.IsNotExist(err), "nothing is created for an invalid blob")
}

func TestOverlayMissingConfigfs(t *testing.T) {
	o := &Overlay{Dir: filepath.Join(t.TempDir(), "absent"), Name: "test"}
	_, err := o.Install(rootFDT(t))
	assert.Error(t, err)
}

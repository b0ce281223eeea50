package bootvars_test

import (
	"testing"

	efilib "github.com/canonical/go-efilib"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cozystack/uki-stub/internal/bootvars"
	"github.com/cozystack/uki-stub/internal/efi"
	"github.com/cozystack/uki-stub/internal/types"
)

var partUUID = uuid.MustParse("66de947b-fdb2-4525-b752-30d66bb2b960")

func newExporter(t *testing.T, store bootvars.Store) *bootvars.Exporter {
	t.Helper()

	return &bootvars.Exporter{
		Store: store,
		Firmware: efi.FirmwareInfo{
			Vendor:       "EDK II",
			Revision:     1<<16 | 0,
			UEFIRevision: 2<<16 | 70,
		},
		StubInfo: "uki-stub 1.2.3",
		Logger:   zaptest.NewLogger(t),
	}
}

func loadedImage() *types.LoadedImage {
	return &types.LoadedImage{
		DevicePath: efi.NewPartitionDevicePath(1, 2048, 204800, partUUID),
		FilePath:   efi.NewFilePath("/EFI/Linux/uki.efi"),
	}
}

func decoded(t *testing.T, store bootvars.Store, name string) string {
	t.Helper()

	raw, err := store.Get(name)
	require.NoError(t, err)
	s, err := efi.DecodeString(raw)
	require.NoError(t, err)
	return s
}

func TestExportSetsAllVariables(t *testing.T) {
	store := bootvars.NewMemoryStore(nil)

	require.NoError(t, newExporter(t, store).Export(loadedImage()))

	assert.Equal(t, "66DE947B-FDB2-4525-B752-30D66BB2B960", decoded(t, store, bootvars.LoaderDevicePartUUID))
	assert.Equal(t, `\EFI\Linux\uki.efi`, decoded(t, store, bootvars.LoaderImageIdentifier))
	assert.Equal(t, "EDK II 1.00", decoded(t, store, bootvars.LoaderFirmwareInfo))
	assert.Equal(t, "UEFI 2.70", decoded(t, store, bootvars.LoaderFirmwareType))
	assert.Equal(t, "uki-stub 1.2.3", decoded(t, store, bootvars.StubInfo))
	assert.Equal(t, 5, store.Sets)

	raw, err := store.Get(bootvars.StubInfo)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, raw[len(raw)-2:])
}

func TestExportIsIdempotent(t *testing.T) {
	store := bootvars.NewMemoryStore(nil)
	exporter := newExporter(t, store)

	require.NoError(t, exporter.Export(loadedImage()))
	first := store.Sets

	before := map[string][]byte{}
	for _, name := range []string{
		bootvars.LoaderDevicePartUUID, bootvars.LoaderImageIdentifier,
		bootvars.LoaderFirmwareInfo, bootvars.LoaderFirmwareType, bootvars.StubInfo,
	} {
		v, err := store.Get(name)
		require.NoError(t, err)
		before[name] = v
	}

	require.NoError(t, exporter.Export(loadedImage()))
	assert.Equal(t, first, store.Sets)

	for name, v := range before {
		got, err := store.Get(name)
		require.NoError(t, err)
		assert.Equal(t, v, got, name)
	}
}

func TestExportKeepsEarlierStageValues(t *testing.T) {
	earlier, err := efi.EncodeString("systemd-boot 255")
	require.NoError(t, err)

	store := bootvars.NewMemoryStore(map[string][]byte{bootvars.StubInfo: earlier})

	require.NoError(t, newExporter(t, store).Export(loadedImage()))
	assert.Equal(t, "systemd-boot 255", decoded(t, store, bootvars.StubInfo))
	assert.Equal(t, 4, store.Sets)
}

func TestExportSkipsUnknownPaths(t *testing.T) {
	store := bootvars.NewMemoryStore(nil)

	img := &types.LoadedImage{
		DevicePath: efilib.DevicePath{efilib.FilePathDevicePathNode(`\boot.efi`)},
	}
	require.NoError(t, newExporter(t, store).Export(img))

	for _, name := range []string{bootvars.LoaderDevicePartUUID, bootvars.LoaderImageIdentifier} {
		exists, err := store.Exists(name)
		require.NoError(t, err)
		assert.False(t, exists, name)
	}
	assert.Equal(t, 3, store.Sets)
}

func TestExportContinuesAfterStoreErrors(t *testing.T) {
	store := &failingStore{MemoryStore: bootvars.NewMemoryStore(nil), fail: bootvars.LoaderFirmwareInfo}

	err := newExporter(t, store).Export(loadedImage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), bootvars.LoaderFirmwareInfo)
	assert.Equal(t, 4, store.Sets)
}

type failingStore struct {
	*bootvars.MemoryStore

	fail string
}

func (s *failingStore) Set(name string, value []byte) error {
	if name == s.fail {
		return errors.New("write protected")
	}
	return s.MemoryStore.Set(name, value)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	_, err := bootvars.NewMemoryStore(nil).Get("nope")
	assert.True(t, errors.Is(err, bootvars.ErrNotFound))
}

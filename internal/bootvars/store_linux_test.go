//go:build linux

package bootvars_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozystack/uki-stub/internal/bootvars"
	"github.com/cozystack/uki-stub/internal/efi"
)

func TestEFIStoreOverEfivarfsLayout(t *testing.T) {
	store := bootvars.NewEFIStore(efi.NewDirReaderWriter(t.TempDir(), true))

	exists, err := store.Exists(bootvars.StubInfo)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, newExporter(t, store).Export(loadedImage()))

	exists, err = store.Exists(bootvars.StubInfo)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "uki-stub 1.2.3", decoded(t, store, bootvars.StubInfo))

	_, attrs, err := store.RW.Read(efi.ScopeLoader, bootvars.LoaderFirmwareType)
	require.NoError(t, err)
	assert.Equal(t, efi.AttrBootserviceAccess|efi.AttrRuntimeAccess, attrs)
}

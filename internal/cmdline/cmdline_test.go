package cmdline_test

import (
	"crypto/sha256"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozystack/uki-stub/internal/cmdline"
	"github.com/cozystack/uki-stub/internal/measure"
)

// wide encodes s as NUL-terminated little-endian UTF-16 code units.
func wide(s string) []byte {
	out := make([]byte, 0, 2*len(s)+2)
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return append(out, 0, 0)
}

func TestSelectDecisionTable(t *testing.T) {
	embedded := []byte("root=/dev/sda1 ro")
	override := wide("console=ttyS0")

	tests := []struct {
		name       string
		secureBoot bool
		embedded   []byte
		options    []byte
		want       cmdline.Source
	}{
		{"secure boot keeps embedded", true, embedded, override, cmdline.SourceEmbedded},
		{"no secure boot takes override", false, embedded, override, cmdline.SourceLoadOptions},
		{"secure boot without embedded takes override", true, nil, override, cmdline.SourceLoadOptions},
		{"no override, secure boot", true, embedded, nil, cmdline.SourceEmbedded},
		{"no override, no secure boot", false, embedded, nil, cmdline.SourceEmbedded},
		{"nothing at all", false, nil, nil, cmdline.SourceNone},
		{"nothing with secure boot", true, nil, nil, cmdline.SourceNone},
		{"placeholder options", false, embedded, []byte{0x01, 0x00, 'x', 0x00}, cmdline.SourceEmbedded},
		{"space is not a placeholder", false, embedded, wide(" quiet"), cmdline.SourceLoadOptions},
		{"single byte options", false, nil, []byte{'a'}, cmdline.SourceNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log measure.Log

			sel, err := cmdline.Select(tt.embedded, tt.options, tt.secureBoot, &log)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sel.Source)

			switch tt.want {
			case cmdline.SourceEmbedded:
				assert.Equal(t, tt.embedded, sel.Data)
				assert.Empty(t, log.Events())
			case cmdline.SourceNone:
				assert.Nil(t, sel.Data)
				assert.Empty(t, log.Events())
			case cmdline.SourceLoadOptions:
				assert.Len(t, log.Events(), 2)
			}
		})
	}
}

func TestSelectConvertsAndMeasures(t *testing.T) {
	var log measure.Log
	options := wide("quiet")

	sel, err := cmdline.Select(nil, options, true, &log)
	require.NoError(t, err)

	assert.Equal(t, []byte("quiet\x00"), sel.Data)
	assert.Equal(t, "quiet", sel.String())

	events := log.Events()
	require.Len(t, events, 2)
	assert.Equal(t, measure.PCRKernelParameters, events[0].PCR)
	assert.Equal(t, measure.PCRKernelParametersCompat, events[1].PCR)
	assert.Equal(t, sha256.Sum256(options), events[0].Digest)
	assert.Equal(t, "quiet", events[0].Description)
}

func TestSelectMeasuresThroughFirstNUL(t *testing.T) {
	var log measure.Log
	options := append(wide("ab"), 'z', 0, 'z', 0)

	sel, err := cmdline.Select(nil, options, false, &log)
	require.NoError(t, err)

	assert.Equal(t, []byte("ab\x00zz"), sel.Data)
	assert.Equal(t, sha256.Sum256(wide("ab")), log.Events()[0].Digest)
}

func TestSelectMeasurementFailureStillSelects(t *testing.T) {
	sel, err := cmdline.Select(nil, wide("quiet"), false, failingMeasurer{})
	require.Error(t, err)
	assert.Equal(t, cmdline.SourceLoadOptions, sel.Source)
	assert.Equal(t, "quiet", sel.String())
}

func TestNarrowTruncates(t *testing.T) {
	assert.Equal(t, []byte{'A', 0x34, 'c'}, cmdline.Narrow([]byte{'A', 0, 0x34, 0x12, 'c', 0, 'x'}))
}

func TestHasLoadOptions(t *testing.T) {
	assert.False(t, cmdline.HasLoadOptions(nil))
	assert.False(t, cmdline.HasLoadOptions([]byte{'a'}))
	assert.False(t, cmdline.HasLoadOptions([]byte{0x1f, 0x00}))
	assert.True(t, cmdline.HasLoadOptions([]byte{0x20, 0x00}))
	assert.True(t, cmdline.HasLoadOptions([]byte{0x00, 0x01}))
}

type failingMeasurer struct{}

func (failingMeasurer) Measure([]uint32, []byte, string) error {
	return errors.New("tpm unavailable")
}

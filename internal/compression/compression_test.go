package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		codec  string
		data   []byte
		method byte
	}{
		{"lz4 repetitive", "lz4", bytes.Repeat([]byte("partition"), 200), MethodLZ4},
		{"lz4 incompressible", "lz4", []byte{0x01, 0x9c, 0x33}, MethodNone},
		{"none", "none", []byte("plain rows"), MethodNone},
		{"empty", "lz4", []byte{}, MethodLZ4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := ByName(tt.codec)
			require.NoError(t, err)
			block, err := CompressBlock(codec, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.method, block[0])

			h, err := ReadHeader(block)
			require.NoError(t, err)
			assert.Equal(t, uint32(len(block)), h.Total)
			assert.Equal(t, uint32(len(tt.data)), h.Raw)

			got, err := DecompressBlock(block)
			require.NoError(t, err)
			assert.Equal(t, tt.data, got)
		})
	}
}

func TestDecompressRejectsDamage(t *testing.T) {
	block, err := CompressBlock(&LZ4Codec{}, bytes.Repeat([]byte("x"), 64))
	require.NoError(t, err)

	_, err = DecompressBlock(block[:len(block)-1])
	assert.Error(t, err)

	bad := append([]byte(nil), block...)
	bad[0] = 0x7f
	_, err = DecompressBlock(bad)
	assert.Error(t, err)

	_, err = ByName("zstd")
	assert.Error(t, err)
}

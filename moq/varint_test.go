package moq

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarInt_RoundTrip(t *testing.T) {
	tests := map[string]uint64{
		"zero":          0,
		"one byte max":  1<<6 - 1,
		"two byte min":  1 << 6,
		"two byte max":  1<<14 - 1,
		"four byte min": 1 << 14,
		"four byte max": 1<<30 - 1,
		"eight byte min": 1 << 30,
		"max varint":    MaxVarInt,
	}

	for name, v := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteVarInt(&buf, v))
			assert.Equal(t, VarIntLen(v), buf.Len())

			got, err := ReadVarInt(&buf)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		})
	}
}

func TestVarInt_ExceedsBounds(t *testing.T) {
	var buf bytes.Buffer
	err := WriteVarInt(&buf, MaxVarInt+1)
	assert.ErrorIs(t, err, ErrVarIntBoundsExceeded)
}

func TestVarInt_ShortRead(t *testing.T) {
	// A two-byte encoding's length tag with only one byte available.
	buf := bytes.NewReader([]byte{0x40})
	_, err := ReadVarInt(buf)
	assert.Error(t, err)
}

func TestVarInt_CleanEOF(t *testing.T) {
	buf := bytes.NewReader(nil)
	_, err := ReadVarInt(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadVarIntAs32_BoundsExceeded(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteVarInt(&buf, uint64(1)<<33))
	_, err := ReadVarIntAs32(&buf)
	assert.ErrorIs(t, err, ErrVarIntBoundsExceeded)
}

func TestString_RoundTrip(t *testing.T) {
	tests := []string{"", "a", "broadcast/path", string(make([]byte, 4096))}
	for _, s := range tests {
		var buf bytes.Buffer
		require.NoError(t, WriteString(&buf, s))
		got, err := ReadString(&buf)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestBytes_RoundTrip(t *testing.T) {
	tests := [][]byte{nil, {}, {0xAA, 0xBB}, make([]byte, 1024)}
	for _, b := range tests {
		var buf bytes.Buffer
		require.NoError(t, WriteBytes(&buf, b))
		got, err := ReadBytes(&buf)
		require.NoError(t, err)
		assert.Equal(t, len(b), len(got))
	}
}

package capture

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipCompress(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecodeBodyGzip(t *testing.T) {
	t.Parallel()

	payload := []byte("hello compressed world")
	decoded, ok := decodeBody(gzipCompress(t, payload), "gzip")
	assert.True(t, ok)
	assert.Equal(t, payload, decoded)

	// x-gzip alias
	decoded, ok = decodeBody(gzipCompress(t, payload), "x-gzip")
	assert.True(t, ok)
	assert.Equal(t, payload, decoded)
}

func TestDecodeBodyDeflate(t *testing.T) {
	t.Parallel()

	payload := []byte("deflate payload")

	// Raw DEFLATE
	var raw bytes.Buffer
	fw, err := flate.NewWriter(&raw, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	decoded, ok := decodeBody(raw.Bytes(), "deflate")
	assert.True(t, ok)
	assert.Equal(t, payload, decoded)

	// zlib-wrapped, also sent as "deflate" in the wild
	var wrapped bytes.Buffer
	zw := zlib.NewWriter(&wrapped)
	_, err = zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	decoded, ok = decodeBody(wrapped.Bytes(), "deflate")
	assert.True(t, ok)
	assert.Equal(t, payload, decoded)
}

func TestDecodeBodyZstd(t *testing.T) {
	t.Parallel()

	payload := []byte("zstd payload")
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(payload, nil)
	require.NoError(t, enc.Close())

	decoded, ok := decodeBody(compressed, "zstd")
	assert.True(t, ok)
	assert.Equal(t, payload, decoded)
}

func TestDecodeBodyPassthrough(t *testing.T) {
	t.Parallel()

	payload := []byte("plain data")

	// No encoding
	decoded, ok := decodeBody(payload, "")
	assert.False(t, ok)
	assert.Equal(t, payload, decoded)

	// Unsupported encoding
	decoded, ok = decodeBody(payload, "br")
	assert.False(t, ok)
	assert.Equal(t, payload, decoded)

	// Stacked encodings can't be partially decoded
	decoded, ok = decodeBody(payload, "gzip, br")
	assert.False(t, ok)
	assert.Equal(t, payload, decoded)

	// Corrupt data falls back to the original bytes instead of erroring
	decoded, ok = decodeBody([]byte("definitely not gzip"), "gzip")
	assert.False(t, ok)
	assert.Equal(t, []byte("definitely not gzip"), decoded)

	// Empty body
	decoded, ok = decodeBody(nil, "gzip")
	assert.False(t, ok)
	assert.Nil(t, decoded)
}

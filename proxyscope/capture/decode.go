package capture

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression encoding constants
const (
	encodingGzip    = "gzip"
	encodingDeflate = "deflate"
	encodingZstd    = "zstd"
)

// normalizeEncoding normalizes a Content-Encoding header value.
// Returns the normalized encoding and whether it's a single supported encoding.
// Multiple encodings (e.g., "gzip, br") return ("", false) since we can't partially decode.
func normalizeEncoding(encoding string) (string, bool) {
	encoding = strings.TrimSpace(strings.ToLower(encoding))

	if strings.Contains(encoding, ",") {
		// Multiple encodings - we can't partially decode, so skip
		return "", false
	}

	switch encoding {
	case encodingGzip, "x-gzip":
		return encodingGzip, true
	case encodingDeflate:
		return encodingDeflate, true
	case encodingZstd:
		return encodingZstd, true
	default:
		return encoding, false
	}
}

// decodeBody decompresses a captured body based on its Content-Encoding so
// the stored bytes are directly searchable and readable. Returns the decoded
// data and whether decoding happened. Unknown encodings and decode failures
// return the original bytes unchanged.
func decodeBody(data []byte, encoding string) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}
	normalized, supported := normalizeEncoding(encoding)
	if !supported {
		return data, false
	}

	switch normalized {
	case encodingGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return data, false
		}
		defer func() { _ = gr.Close() }()
		decoded, err := io.ReadAll(gr)
		if err != nil {
			return data, false
		}
		return decoded, true

	case encodingDeflate:
		// Raw DEFLATE first, then zlib-wrapped (both appear in the wild)
		fr := flate.NewReader(bytes.NewReader(data))
		if decoded, err := io.ReadAll(fr); err == nil {
			_ = fr.Close()
			return decoded, true
		}
		_ = fr.Close()
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return data, false
		}
		defer func() { _ = zr.Close() }()
		decoded, err := io.ReadAll(zr)
		if err != nil {
			return data, false
		}
		return decoded, true

	case encodingZstd:
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return data, false
		}
		defer zr.Close()
		decoded, err := io.ReadAll(zr)
		if err != nil {
			return data, false
		}
		return decoded, true
	}

	return data, false
}

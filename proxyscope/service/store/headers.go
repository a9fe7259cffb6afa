package store

import (
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Header is a single HTTP header preserving original casing.
type Header struct {
	Name  string `msgpack:"n" json:"name"`
	Value string `msgpack:"v" json:"value"`
}

// Headers is an ordered header sequence. Order and duplicates are preserved
// exactly as observed on the wire; helpers provide case-insensitive access.
type Headers []Header

// Get returns the first header value with the given name (case-insensitive).
// Returns empty string if not found.
func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// encodeHeaders serializes headers to msgpack for BLOB storage.
// nil and empty both encode; decodeHeaders restores an equivalent slice.
func encodeHeaders(h Headers) ([]byte, error) {
	return msgpack.Marshal(h)
}

// decodeHeaders deserializes a msgpack header BLOB. A nil or empty BLOB
// (row committed before any headers were seen) decodes to nil.
func decodeHeaders(data []byte) (Headers, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var h Headers
	if err := msgpack.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return h, nil
}

// flattenHeaders renders headers as "Name: value" lines, one per header.
// This derived text column is what header search scans (matchHeaderLine),
// so the line format and the returned match context are the same string.
func flattenHeaders(h Headers) string {
	if len(h) == 0 {
		return ""
	}

	var b strings.Builder
	for _, hdr := range h {
		b.WriteString(hdr.Name)
		b.WriteString(": ")
		b.WriteString(hdr.Value)
		b.WriteString("\n")
	}
	return b.String()
}

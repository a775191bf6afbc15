// Package compress wraps the deflate streams used by snapshot and update
// payloads. Both directions treat empty input as empty output so callers
// can skip zero-length blobs without special cases.
package compress

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

// ErrCorrupt reports a payload that does not decode as a complete deflate
// stream. Callers drop the enclosing packet and continue.
var ErrCorrupt = errors.New("compress: corrupt deflate stream")

// Deflate compresses data into a zlib stream.
func Deflate(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("compress: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Inflate decompresses a zlib stream produced by Deflate.
func Inflate(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

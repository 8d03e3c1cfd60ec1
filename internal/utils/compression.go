package utils

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// DeflateRaw compresses data as a raw deflate stream (zip method 8)
func DeflateRaw(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// InflateRaw returns a reader decompressing a raw deflate stream
func InflateRaw(r io.Reader) io.ReadCloser {
	return flate.NewReader(r)
}

package qjsbridge

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

const maxDecompressedSize = 128 * 1024 * 1024 // 128 MB

// compressedExt marks brotli-compressed module sources.
const compressedExt = ".br"

// compressSource brotli-compresses a module source.
func compressSource(src string) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := io.WriteString(w, src); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}

// decompressSource reverses compressSource.
func decompressSource(data []byte) (string, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	result, err := io.ReadAll(io.LimitReader(r, int64(maxDecompressedSize)+1))
	if err != nil {
		return "", fmt.Errorf("decompress: %w", err)
	}
	if len(result) > maxDecompressedSize {
		return "", fmt.Errorf("decompress: output exceeds maximum allowed size")
	}
	return string(result), nil
}

package cache

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// decompression output cap; cached values are bounded well below this
const maxDecompressed = 64 * 1024 * 1024

// Compressor gzips values above a minimum size and recognises compressed
// payloads by the gzip magic bytes on the way back out.
type Compressor struct {
	minSize int
	level   int
}

// NewCompressor creates a compressor that leaves values under minSize alone
func NewCompressor(minSize int) *Compressor {
	if minSize <= 0 {
		minSize = 1024
	}
	return &Compressor{minSize: minSize, level: gzip.BestSpeed}
}

// Compress returns the gzip of data when it is large enough and compression
// actually shrinks it; otherwise the input is returned unchanged.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) < c.minSize {
		return data, nil
	}

	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := gz.Write(data); err != nil {
		_ = gz.Close()
		return nil, fmt.Errorf("compression write failed: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	if buf.Len() >= len(data) {
		return data, nil
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress; plain payloads pass through untouched
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if !isCompressed(data) {
		return data, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = gz.Close() }()

	return io.ReadAll(io.LimitReader(gz, maxDecompressed))
}

func isCompressed(data []byte) bool {
	// gzip magic bytes
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

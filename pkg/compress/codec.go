// Package compress implements the at-rest compression codec for cached
// response payloads. Compression is toggled per client; when disabled both
// directions are identity pass-throughs.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/Sternrassler/apigate/pkg/config"
)

// ErrDataCorruption indicates a compressed payload could not be
// decompressed. The record holding it must be treated as unusable, not
// silently dropped as a cache miss.
var ErrDataCorruption = errors.New("data corruption")

// Codec compresses and decompresses byte payloads with gzip.
// The zero value is ready to use.
type Codec struct{}

// NewCodec creates a compression codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Enabled reports whether compression is active for a client.
func (c *Codec) Enabled(cfg *config.ClientConfig) bool {
	return cfg != nil && cfg.CompressionEnabled
}

// Compress gzips data when the client has compression enabled, otherwise
// returns data unchanged.
func (c *Codec) Compress(data []byte, cfg *config.ClientConfig) ([]byte, error) {
	if !c.Enabled(cfg) {
		return data, nil
	}

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. Corrupted or truncated input fails with
// ErrDataCorruption rather than returning partial output.
func (c *Codec) Decompress(data []byte, cfg *config.ClientConfig) ([]byte, error) {
	if !c.Enabled(cfg) {
		return data, nil
	}

	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip header: %v", ErrDataCorruption, err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip body: %v", ErrDataCorruption, err)
	}
	return out, nil
}

package compress

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/Sternrassler/apigate/pkg/config"
)

func enabledConfig() *config.ClientConfig {
	return &config.ClientConfig{Name: "demo", CompressionEnabled: true}
}

func disabledConfig() *config.ClientConfig {
	return &config.ClientConfig{Name: "demo", CompressionEnabled: false}
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec()
	cfg := enabledConfig()

	tests := []struct {
		name string
		data []byte
	}{
		{"json body", []byte(`{"status": "ok", "items": [1, 2, 3]}`)},
		{"empty", []byte{}},
		{"binary", []byte{0x00, 0xff, 0x10, 0x80, 0x7f}},
		{"repetitive", bytes.Repeat([]byte("abcabcabc"), 1000)},
		{"unicode", []byte("caché ülkü 缓存")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := codec.Compress(tt.data, cfg)
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}

			restored, err := codec.Decompress(compressed, cfg)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}

			if !bytes.Equal(restored, tt.data) {
				t.Errorf("Round trip mismatch: got %q, want %q", restored, tt.data)
			}
		})
	}
}

func TestCodec_CompressesLargePayloads(t *testing.T) {
	codec := NewCodec()
	data := bytes.Repeat([]byte(`{"repeated": "payload"}`), 500)

	compressed, err := codec.Compress(data, enabledConfig())
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(compressed) >= len(data) {
		t.Errorf("Expected compression to shrink %d bytes, got %d", len(data), len(compressed))
	}
}

func TestCodec_DisabledIsIdentity(t *testing.T) {
	codec := NewCodec()
	cfg := disabledConfig()
	data := []byte(`{"status": "ok"}`)

	compressed, err := codec.Compress(data, cfg)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if !bytes.Equal(compressed, data) {
		t.Error("Compress should be identity when disabled")
	}

	restored, err := codec.Decompress(data, cfg)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(restored, data) {
		t.Error("Decompress should be identity when disabled")
	}
}

func TestCodec_Enabled(t *testing.T) {
	codec := NewCodec()

	if !codec.Enabled(enabledConfig()) {
		t.Error("Expected enabled")
	}
	if codec.Enabled(disabledConfig()) {
		t.Error("Expected disabled")
	}
	if codec.Enabled(nil) {
		t.Error("Expected nil config to report disabled")
	}
}

func TestCodec_CorruptInput(t *testing.T) {
	codec := NewCodec()
	cfg := enabledConfig()

	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte("this is not gzip")},
		{"empty", []byte{}},
		{"truncated", nil}, // filled below
	}

	// Valid gzip cut short mid-stream
	full, err := codec.Compress([]byte(strings.Repeat("payload", 200)), cfg)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	tests[2].data = full[:len(full)/2]

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decompress(tt.data, cfg)
			if err == nil {
				t.Fatal("Expected decompression error")
			}
			if !errors.Is(err, ErrDataCorruption) {
				t.Errorf("Expected ErrDataCorruption, got %v", err)
			}
		})
	}
}

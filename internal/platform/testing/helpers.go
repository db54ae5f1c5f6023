// Package testing holds fixtures shared by package tests.
package testing

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"narrator-server/internal/platform/config"
	"narrator-server/internal/platform/logging"
)

// SetupTestConfig returns the default configuration bound to loopback with
// a generous token bucket so tests are not throttled unless they ask to be.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Log.Level = "debug"
	cfg.Log.Dir = ""
	cfg.Vision.APIKey = "test-key"
	cfg.Speech.APIKey = "test-key"
	return cfg
}

// SetupTestLogger creates a console-only logger that writes into a discard
// sink unless w is given.
func SetupTestLogger(t *testing.T, w ...io.Writer) *logging.Logger {
	t.Helper()

	var out io.Writer = io.Discard
	if len(w) > 0 && w[0] != nil {
		out = w[0]
	}
	logger, err := logging.New(logging.Config{Level: "debug", Console: out})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

// PNG encodes a solid w x h image.
func PNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// Padded returns data extended with zero bytes up to size. PNG decoders
// ignore trailing data, which makes it easy to build large valid uploads.
func Padded(data []byte, size int) []byte {
	if len(data) >= size {
		return data
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}

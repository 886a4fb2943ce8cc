//go:build govips && cgo

package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

const WebPAvailable = true

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// Startup initializes libvips. Binaries call it once before encoding WebP.
func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

// encodeWebP hands libvips a lossless PNG of img and exports it as WebP.
func encodeWebP(w io.Writer, img image.Image, quality int) error {
	if err := Startup(); err != nil {
		return err
	}

	var staged bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&staged, img); err != nil {
		return fmt.Errorf("stage image for libvips: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(staged.Bytes())
	if err != nil {
		return fmt.Errorf("load staged image: %w", err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	if quality > 0 && quality <= 100 {
		params.Quality = quality
		params.Lossless = false
	} else {
		params.Lossless = true
	}

	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return fmt.Errorf("export webp: %w", err)
	}
	_, err = w.Write(data)
	return err
}

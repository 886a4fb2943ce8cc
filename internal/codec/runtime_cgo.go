//go:build cgo && !govips

package codec

import (
	"image"
	"io"

	"github.com/chai2010/webp"
)

const WebPAvailable = true

func Startup() error {
	return nil
}

func Shutdown() {}

func encodeWebP(w io.Writer, img image.Image, quality int) error {
	if quality > 0 && quality <= 100 {
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	}
	return webp.Encode(w, img, &webp.Options{Lossless: true})
}

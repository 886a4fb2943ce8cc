//go:build !cgo

package codec

import (
	"errors"
	"image"
	"io"
)

const WebPAvailable = false

func Startup() error {
	return nil
}

func Shutdown() {}

func encodeWebP(io.Writer, image.Image, int) error {
	return errors.New("webp export requires cgo")
}

// Package format identifies image container formats from their leading bytes.
package format

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

var ErrUnrecognizedFormat = errors.New("unrecognized image format")

type Format uint8

const (
	Unknown Format = iota
	PNG
	JPEG
	GIF
	BMP
	WEBP
	TIFF
)

var names = map[Format]string{
	PNG:  "png",
	JPEG: "jpeg",
	GIF:  "gif",
	BMP:  "bmp",
	WEBP: "webp",
	TIFF: "tiff",
}

var contentTypes = map[Format]string{
	PNG:  "image/png",
	JPEG: "image/jpeg",
	GIF:  "image/gif",
	BMP:  "image/bmp",
	WEBP: "image/webp",
	TIFF: "image/tiff",
}

func (f Format) String() string {
	if name, ok := names[f]; ok {
		return name
	}
	return "unknown"
}

// Extension returns the file extension without the leading dot.
func (f Format) Extension() string {
	if f == JPEG {
		return "jpg"
	}
	return f.String()
}

func (f Format) ContentType() string {
	if ct, ok := contentTypes[f]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Parse maps a format name or extension to a Format.
func Parse(name string) (Format, error) {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), ".")
	switch name {
	case "jpg", "jpeg":
		return JPEG, nil
	case "tif", "tiff":
		return TIFF, nil
	}
	for f, n := range names {
		if n == name {
			return f, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnrecognizedFormat, name)
}

var (
	pngSignature    = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	jpegSignature   = []byte{0xff, 0xd8, 0xff}
	gif87Signature  = []byte("GIF87a")
	gif89Signature  = []byte("GIF89a")
	riffSignature   = []byte("RIFF")
	webpSignature   = []byte("WEBP")
	tiffLESignature = []byte{'I', 'I', 0x2a, 0x00}
	tiffBESignature = []byte{'M', 'M', 0x00, 0x2a}
	bmpSignature    = []byte("BM")
)

// Sniff inspects the magic number at the start of data. It never decodes
// past the header.
func Sniff(data []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return PNG, nil
	case bytes.HasPrefix(data, jpegSignature):
		return JPEG, nil
	case bytes.HasPrefix(data, gif87Signature), bytes.HasPrefix(data, gif89Signature):
		return GIF, nil
	case len(data) >= 12 && bytes.HasPrefix(data, riffSignature) && bytes.Equal(data[8:12], webpSignature):
		return WEBP, nil
	case bytes.HasPrefix(data, tiffLESignature), bytes.HasPrefix(data, tiffBESignature):
		return TIFF, nil
	case len(data) >= 14 && bytes.HasPrefix(data, bmpSignature):
		return BMP, nil
	}

	if len(data) == 0 {
		return Unknown, fmt.Errorf("%w: empty input", ErrUnrecognizedFormat)
	}
	return Unknown, ErrUnrecognizedFormat
}

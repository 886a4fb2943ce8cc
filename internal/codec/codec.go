// Package codec decodes container bytes into pixel buffers and encodes them
// back. Format detection happens once, in Decode, and the same format value
// selects the decoder, so what was sniffed is always what was decoded.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/dunamismax/pixelchain/internal/format"
	"github.com/dunamismax/pixelchain/internal/pixel"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

const DefaultJPEGQuality = 80

var (
	ErrDecode = errors.New("decode failure")
	ErrEncode = errors.New("encode failure")
)

// Error carries the failing stage and container format. errors.Is matches
// both the stage sentinel (ErrDecode, ErrEncode) and the underlying cause.
type Error struct {
	Kind   error
	Format format.Format
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v (%s): %v", e.Kind, e.Format, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

type DecodeOptions struct {
	// MaxPixels rejects images whose header announces more than this many
	// pixels. Zero disables the check.
	MaxPixels int64
}

type EncodeOptions struct {
	JPEGQuality    int
	PNGCompression png.CompressionLevel
	// WebPQuality selects lossy WebP in (0,100]; zero means lossless.
	WebPQuality int
}

type decoder struct {
	decode func(io.Reader) (image.Image, error)
	config func(io.Reader) (image.Config, error)
}

var decoders = map[format.Format]decoder{
	format.PNG:  {decode: png.Decode, config: png.DecodeConfig},
	format.JPEG: {decode: jpeg.Decode, config: jpeg.DecodeConfig},
	format.GIF:  {decode: gif.Decode, config: gif.DecodeConfig},
	format.BMP:  {decode: bmp.Decode, config: bmp.DecodeConfig},
	format.WEBP: {decode: webp.Decode, config: webp.DecodeConfig},
	format.TIFF: {decode: tiff.Decode, config: tiff.DecodeConfig},
}

// Decode sniffs data, validates the header and decodes the first frame.
func Decode(data []byte, opts DecodeOptions) (*pixel.Buffer, format.Format, error) {
	f, err := format.Sniff(data)
	if err != nil {
		return nil, format.Unknown, err
	}
	dec, ok := decoders[f]
	if !ok {
		return nil, f, &Error{Kind: ErrDecode, Format: f, Err: errors.New("no decoder registered")}
	}

	cfg, err := dec.config(bytes.NewReader(data))
	if err != nil {
		return nil, f, &Error{Kind: ErrDecode, Format: f, Err: fmt.Errorf("read header: %w", err)}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, f, &Error{Kind: ErrDecode, Format: f, Err: fmt.Errorf("%w: %dx%d", pixel.ErrInvalidDimensions, cfg.Width, cfg.Height)}
	}
	if opts.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > opts.MaxPixels {
		return nil, f, &Error{Kind: ErrDecode, Format: f, Err: fmt.Errorf("image %dx%d exceeds limit of %d pixels", cfg.Width, cfg.Height, opts.MaxPixels)}
	}

	img, err := dec.decode(bytes.NewReader(data))
	if err != nil {
		return nil, f, &Error{Kind: ErrDecode, Format: f, Err: err}
	}

	buf, err := pixel.FromImage(img)
	if err != nil {
		return nil, f, &Error{Kind: ErrDecode, Format: f, Err: err}
	}
	return buf, f, nil
}

// Encode serializes buf into the given container. Formats without a float or
// 16-bit representation receive the deterministic down-conversion of
// pixel.ToImage; JPEG drops alpha and GIF quantizes to a 256-colour palette
// with Floyd-Steinberg dithering.
func Encode(buf *pixel.Buffer, f format.Format, opts EncodeOptions) ([]byte, error) {
	if err := buf.Validate(); err != nil {
		return nil, &Error{Kind: ErrEncode, Format: f, Err: err}
	}

	img := pixel.ToImage(buf)
	var out bytes.Buffer

	var err error
	switch f {
	case format.PNG:
		enc := png.Encoder{CompressionLevel: opts.PNGCompression}
		err = enc.Encode(&out, img)
	case format.JPEG:
		quality := opts.JPEGQuality
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		err = jpeg.Encode(&out, img, &jpeg.Options{Quality: quality})
	case format.GIF:
		err = gif.Encode(&out, img, &gif.Options{NumColors: 256, Drawer: draw.FloydSteinberg})
	case format.BMP:
		err = bmp.Encode(&out, img)
	case format.TIFF:
		err = tiff.Encode(&out, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case format.WEBP:
		err = encodeWebP(&out, img, opts.WebPQuality)
	default:
		err = fmt.Errorf("unsupported output format: %s", f)
	}
	if err != nil {
		return nil, &Error{Kind: ErrEncode, Format: f, Err: err}
	}
	return out.Bytes(), nil
}

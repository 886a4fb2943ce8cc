// Package pixel holds the in-memory representation of a decoded image and the
// conversions between it and the standard library image types.
package pixel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image/color"
	"math"
)

var ErrInvalidDimensions = errors.New("invalid image dimensions")

// Buffer is a flat, row-major sample buffer. 16-bit samples are stored
// big-endian (as in the standard library image types), float samples as
// little-endian IEEE-754 float32.
type Buffer struct {
	Width  int
	Height int
	Layout Layout
	Pix    []byte
}

// ByteSize returns width*height*BytesPerPixel, failing when the product
// does not fit in an int.
func ByteSize(width, height int, layout Layout) (int, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if !layout.Valid() {
		return 0, fmt.Errorf("unsupported pixel layout: %s", layout)
	}
	bpp := layout.BytesPerPixel()
	if width > math.MaxInt/height || width*height > math.MaxInt/bpp {
		return 0, fmt.Errorf("%w: %dx%d overflows the address space", ErrInvalidDimensions, width, height)
	}
	return width * height * bpp, nil
}

func New(width, height int, layout Layout) (*Buffer, error) {
	size, err := ByteSize(width, height, layout)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		Width:  width,
		Height: height,
		Layout: layout,
		Pix:    make([]byte, size),
	}, nil
}

func (b *Buffer) Clone() *Buffer {
	out := *b
	out.Pix = make([]byte, len(b.Pix))
	copy(out.Pix, b.Pix)
	return &out
}

// Validate reports whether the dimensions and sample slice agree.
func (b *Buffer) Validate() error {
	if b == nil {
		return errors.New("pixel buffer is nil")
	}
	want, err := ByteSize(b.Width, b.Height, b.Layout)
	if err != nil {
		return err
	}
	if len(b.Pix) != want {
		return fmt.Errorf("pixel buffer holds %d bytes, want %d", len(b.Pix), want)
	}
	return nil
}

func (b *Buffer) Stride() int {
	return b.Width * b.Layout.BytesPerPixel()
}

// SampleCount is the total number of samples, Width*Height*Channels.
func (b *Buffer) SampleCount() int {
	return b.Width * b.Height * b.Layout.Channels()
}

// SampleIndex returns the index of channel c of pixel (x, y).
func (b *Buffer) SampleIndex(x, y, c int) int {
	return (y*b.Width+x)*b.Layout.Channels() + c
}

// Sample returns sample i normalized to [0,1]. Float samples are returned as
// stored and may fall outside that range.
func (b *Buffer) Sample(i int) float64 {
	switch b.Layout.BytesPerChannel() {
	case 1:
		return float64(b.Pix[i]) / math.MaxUint8
	case 2:
		return float64(binary.BigEndian.Uint16(b.Pix[2*i:])) / math.MaxUint16
	default:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b.Pix[4*i:])))
	}
}

// SetSample stores a normalized value. Integer layouts round and saturate;
// float layouts store the value unchanged.
func (b *Buffer) SetSample(i int, v float64) {
	switch b.Layout.BytesPerChannel() {
	case 1:
		b.Pix[i] = uint8(math.Round(clamp01(v) * math.MaxUint8))
	case 2:
		binary.BigEndian.PutUint16(b.Pix[2*i:], uint16(math.Round(clamp01(v)*math.MaxUint16)))
	default:
		binary.LittleEndian.PutUint32(b.Pix[4*i:], math.Float32bits(float32(v)))
	}
}

// NRGBA64At returns the pixel at (x, y) as a non-premultiplied 16-bit color.
// Float samples are clamped to [0,1].
func (b *Buffer) NRGBA64At(x, y int) color.NRGBA64 {
	base := b.SampleIndex(x, y, 0)
	q := func(i int) uint16 {
		return uint16(math.Round(clamp01(b.Sample(i)) * math.MaxUint16))
	}

	switch b.Layout.Channels() {
	case 1:
		l := q(base)
		return color.NRGBA64{R: l, G: l, B: l, A: math.MaxUint16}
	case 2:
		l := q(base)
		return color.NRGBA64{R: l, G: l, B: l, A: q(base + 1)}
	case 3:
		return color.NRGBA64{R: q(base), G: q(base + 1), B: q(base + 2), A: math.MaxUint16}
	default:
		return color.NRGBA64{R: q(base), G: q(base + 1), B: q(base + 2), A: q(base + 3)}
	}
}

// SetNRGBA64 writes c into pixel (x, y), computing Rec.709 luma for luma
// layouts and dropping alpha for layouts without it.
func (b *Buffer) SetNRGBA64(x, y int, c color.NRGBA64) {
	base := b.SampleIndex(x, y, 0)
	r := float64(c.R) / math.MaxUint16
	g := float64(c.G) / math.MaxUint16
	bl := float64(c.B) / math.MaxUint16
	a := float64(c.A) / math.MaxUint16

	switch b.Layout.Channels() {
	case 1:
		b.SetSample(base, Luma(r, g, bl))
	case 2:
		b.SetSample(base, Luma(r, g, bl))
		b.SetSample(base+1, a)
	case 3:
		b.SetSample(base, r)
		b.SetSample(base+1, g)
		b.SetSample(base+2, bl)
	default:
		b.SetSample(base, r)
		b.SetSample(base+1, g)
		b.SetSample(base+2, bl)
		b.SetSample(base+3, a)
	}
}

// Luma returns the Rec.709 luminance of a normalized RGB triple.
func Luma(r, g, b float64) float64 {
	if r == g && g == b {
		return r
	}
	return 0.2126*r + 0.7152*g + 0.0722*b
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

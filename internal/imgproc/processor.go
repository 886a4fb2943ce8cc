// Package imgproc exposes the decode -> transform -> encode chain as a
// builder. A Processor is consumed by every call made on it: a successful
// call returns a fresh Processor that owns the transformed pixels, a failed
// call returns an error and nothing usable. Any further call on a consumed
// Processor fails with ErrConsumed.
//
//	out, err := imgproc.New(data)
//	if err == nil {
//		out, err = out.Resize(512, 512)
//	}
//	...
//	encoded, err := out.Process()
//
// Processors are not safe for concurrent use.
package imgproc

import (
	"errors"
	"fmt"
	"image/png"

	"github.com/dunamismax/pixelchain/internal/codec"
	"github.com/dunamismax/pixelchain/internal/format"
	"github.com/dunamismax/pixelchain/internal/ops"
	"github.com/dunamismax/pixelchain/internal/pixel"
)

var ErrConsumed = errors.New("processor already consumed")

type settings struct {
	maxPixels      int64
	jpegQuality    int
	pngCompression png.CompressionLevel
	webpQuality    int
}

type Option func(*settings)

// WithMaxPixels rejects inputs larger than n pixels before decoding them.
func WithMaxPixels(n int64) Option {
	return func(s *settings) { s.maxPixels = n }
}

func WithJPEGQuality(q int) Option {
	return func(s *settings) { s.jpegQuality = q }
}

func WithPNGCompression(level png.CompressionLevel) Option {
	return func(s *settings) { s.pngCompression = level }
}

// WithWebPQuality selects lossy WebP output; 0 keeps the lossless default.
func WithWebPQuality(q int) Option {
	return func(s *settings) { s.webpQuality = q }
}

type Processor struct {
	buf    *pixel.Buffer
	format format.Format
	cfg    settings
}

// New sniffs and decodes data once. The detected format is carried through
// the whole chain and used by Process.
func New(data []byte, opts ...Option) (*Processor, error) {
	cfg := settings{jpegQuality: codec.DefaultJPEGQuality}
	for _, opt := range opts {
		opt(&cfg)
	}

	buf, f, err := codec.Decode(data, codec.DecodeOptions{MaxPixels: cfg.maxPixels})
	if err != nil {
		return nil, fmt.Errorf("failed to read the image: %w", err)
	}
	return &Processor{buf: buf, format: f, cfg: cfg}, nil
}

// FromBuffer starts a chain from pixels that are already decoded. The
// processor takes ownership of buf.
func FromBuffer(buf *pixel.Buffer, f format.Format, opts ...Option) (*Processor, error) {
	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("failed to read the image: %w", err)
	}
	cfg := settings{jpegQuality: codec.DefaultJPEGQuality}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Processor{buf: buf, format: f, cfg: cfg}, nil
}

// Format reports the container format detected at construction.
func (p *Processor) Format() format.Format {
	if p == nil {
		return format.Unknown
	}
	return p.format
}

func (p *Processor) Width() int {
	if p == nil || p.buf == nil {
		return 0
	}
	return p.buf.Width
}

func (p *Processor) Height() int {
	if p == nil || p.buf == nil {
		return 0
	}
	return p.buf.Height
}

func (p *Processor) Layout() pixel.Layout {
	if p == nil || p.buf == nil {
		return pixel.LayoutInvalid
	}
	return p.buf.Layout
}

func (p *Processor) maxPixels() int64 {
	if p == nil {
		return 0
	}
	return p.cfg.maxPixels
}

func (p *Processor) take() (*pixel.Buffer, error) {
	if p == nil || p.buf == nil {
		return nil, ErrConsumed
	}
	buf := p.buf
	p.buf = nil
	return buf, nil
}

func (p *Processor) apply(context string, fn func(*pixel.Buffer) (*pixel.Buffer, error)) (*Processor, error) {
	buf, err := p.take()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", context, err)
	}
	out, err := fn(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", context, err)
	}
	return &Processor{buf: out, format: p.format, cfg: p.cfg}, nil
}

// Resize fits the image inside width x height, preserving aspect ratio.
// Results larger than the WithMaxPixels limit fail.
func (p *Processor) Resize(width, height int) (*Processor, error) {
	limit := p.maxPixels()
	return p.apply("failed to resize the image", func(b *pixel.Buffer) (*pixel.Buffer, error) {
		return ops.ResizeLimited(b, width, height, limit)
	})
}

// ResizeSquare stretches the image to side x side, ignoring aspect ratio.
func (p *Processor) ResizeSquare(side int) (*Processor, error) {
	limit := p.maxPixels()
	return p.apply("failed to resize the image", func(b *pixel.Buffer) (*pixel.Buffer, error) {
		return ops.ResizeSquareLimited(b, side, limit)
	})
}

func (p *Processor) Thumbnail(width, height int) (*Processor, error) {
	return p.apply("failed to create the thumbnail", func(b *pixel.Buffer) (*pixel.Buffer, error) {
		return ops.Thumbnail(b, width, height)
	})
}

func (p *Processor) Crop(x, y, width, height int) (*Processor, error) {
	return p.apply("failed to crop the image", func(b *pixel.Buffer) (*pixel.Buffer, error) {
		return ops.Crop(b, x, y, width, height)
	})
}

// Blur applies a Gaussian blur. Sigma values under 5 are the useful range.
func (p *Processor) Blur(sigma float32) (*Processor, error) {
	return p.apply("failed to blur the image", func(b *pixel.Buffer) (*pixel.Buffer, error) {
		return ops.Blur(b, sigma)
	})
}

func (p *Processor) FastBlur(sigma float32) (*Processor, error) {
	return p.apply("failed to blur the image", func(b *pixel.Buffer) (*pixel.Buffer, error) {
		return ops.FastBlur(b, sigma)
	})
}

// Brighten adds value (documented range -100..100) to every colour channel.
func (p *Processor) Brighten(value int) (*Processor, error) {
	return p.apply("failed to adjust brightness", func(b *pixel.Buffer) (*pixel.Buffer, error) {
		return ops.Brighten(b, value)
	})
}

func (p *Processor) Contrast(value float32) (*Processor, error) {
	return p.apply("failed to adjust contrast", func(b *pixel.Buffer) (*pixel.Buffer, error) {
		return ops.Contrast(b, value)
	})
}

func (p *Processor) Grayscale() (*Processor, error) {
	return p.apply("failed to convert to grayscale", ops.Grayscale)
}

func (p *Processor) Invert() (*Processor, error) {
	return p.apply("failed to invert the image", ops.Invert)
}

// HueRotate rotates hue by degrees, matching CSS hue-rotate().
func (p *Processor) HueRotate(degrees int) (*Processor, error) {
	return p.apply("failed to hue rotate", func(b *pixel.Buffer) (*pixel.Buffer, error) {
		return ops.HueRotate(b, degrees)
	})
}

// Process encodes the image in the format detected at construction and ends
// the chain.
func (p *Processor) Process() ([]byte, error) {
	return p.ProcessAs(p.Format())
}

// ProcessAs encodes the image in f instead of the detected format and ends
// the chain.
func (p *Processor) ProcessAs(f format.Format) ([]byte, error) {
	buf, err := p.take()
	if err != nil {
		return nil, fmt.Errorf("failed to encode the image: %w", err)
	}

	data, err := codec.Encode(buf, f, codec.EncodeOptions{
		JPEGQuality:    p.cfg.jpegQuality,
		PNGCompression: p.cfg.pngCompression,
		WebPQuality:    p.cfg.webpQuality,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode the image: %w", err)
	}
	return data, nil
}

// Step is one link of a chain built at runtime.
type Step func(*Processor) (*Processor, error)

// Apply runs steps in order, stopping at the first failure.
func Apply(p *Processor, steps ...Step) (*Processor, error) {
	var err error
	for _, step := range steps {
		if p, err = step(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

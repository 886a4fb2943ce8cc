package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelchain/internal/codec"
	"github.com/dunamismax/pixelchain/internal/config"
	"github.com/dunamismax/pixelchain/internal/domain"
	"github.com/dunamismax/pixelchain/internal/format"
	"github.com/dunamismax/pixelchain/internal/imgproc"
	"github.com/dunamismax/pixelchain/internal/ops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Rendered is the encoded result of one chain.
type Rendered struct {
	Data         []byte
	Format       format.Format
	SourceFormat format.Format
	SourceBytes  int
	Width        int
	Height       int
}

// ObserveFunc is told how long each operation took and whether it failed.
type ObserveFunc func(op string, elapsed time.Duration, err error)

// Transformer turns source bytes into encoded output by running a chain of
// operations. The zero value works and uses the global tracer provider.
type Transformer struct {
	Options []imgproc.Option
	Tracer  trace.Tracer
	Observe ObserveFunc
}

// ImagingOptions converts imaging configuration to processor options.
func ImagingOptions(cfg config.ImagingConfig) []imgproc.Option {
	var opts []imgproc.Option
	if cfg.MaxPixels > 0 {
		opts = append(opts, imgproc.WithMaxPixels(cfg.MaxPixels))
	}
	if cfg.JPEGQuality > 0 {
		opts = append(opts, imgproc.WithJPEGQuality(cfg.JPEGQuality))
	}
	if cfg.WebPQuality > 0 {
		opts = append(opts, imgproc.WithWebPQuality(cfg.WebPQuality))
	}
	return opts
}

// Step maps an operation descriptor onto the processor method it names.
func Step(op domain.Operation) (imgproc.Step, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	switch op.Name() {
	case domain.OpResize:
		return func(p *imgproc.Processor) (*imgproc.Processor, error) { return p.Resize(op.Width, op.Height) }, nil
	case domain.OpResizeSquare:
		return func(p *imgproc.Processor) (*imgproc.Processor, error) { return p.ResizeSquare(op.Side) }, nil
	case domain.OpThumbnail:
		return func(p *imgproc.Processor) (*imgproc.Processor, error) { return p.Thumbnail(op.Width, op.Height) }, nil
	case domain.OpCrop:
		return func(p *imgproc.Processor) (*imgproc.Processor, error) {
			return p.Crop(op.X, op.Y, op.Width, op.Height)
		}, nil
	case domain.OpBlur:
		return func(p *imgproc.Processor) (*imgproc.Processor, error) { return p.Blur(op.Sigma) }, nil
	case domain.OpFastBlur:
		return func(p *imgproc.Processor) (*imgproc.Processor, error) { return p.FastBlur(op.Sigma) }, nil
	case domain.OpBrighten:
		return func(p *imgproc.Processor) (*imgproc.Processor, error) { return p.Brighten(int(op.Value)) }, nil
	case domain.OpContrast:
		return func(p *imgproc.Processor) (*imgproc.Processor, error) { return p.Contrast(float32(op.Value)) }, nil
	case domain.OpGrayscale:
		return (*imgproc.Processor).Grayscale, nil
	case domain.OpInvert:
		return (*imgproc.Processor).Invert, nil
	case domain.OpHueRotate:
		return func(p *imgproc.Processor) (*imgproc.Processor, error) { return p.HueRotate(op.Degrees) }, nil
	}
	return nil, fmt.Errorf("%w: unknown op %q", domain.ErrInvalidOperation, op.Op)
}

// Transform decodes source, applies operations in order and encodes the
// result. target format.Unknown keeps the detected source format. quality,
// when positive, overrides the configured JPEG and WebP quality.
func (t Transformer) Transform(ctx context.Context, source []byte, operations []domain.Operation, target format.Format, quality int) (Rendered, error) {
	steps := make([]imgproc.Step, 0, len(operations))
	for i, op := range operations {
		step, err := Step(op)
		if err != nil {
			return Rendered{}, fmt.Errorf("operations[%d]: %w", i, err)
		}
		steps = append(steps, step)
	}

	tracer := t.Tracer
	if tracer == nil {
		tracer = otel.Tracer("pixelchain/pipeline")
	}

	opts := t.Options
	if quality > 0 {
		opts = append(append([]imgproc.Option(nil), opts...),
			imgproc.WithJPEGQuality(quality),
			imgproc.WithWebPQuality(quality),
		)
	}

	_, span := tracer.Start(ctx, "pipeline.decode")
	p, err := imgproc.New(source, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		span.End()
		return Rendered{}, err
	}
	sourceFormat := p.Format()
	span.SetAttributes(
		attribute.String("image.format", sourceFormat.String()),
		attribute.Int("image.width", p.Width()),
		attribute.Int("image.height", p.Height()),
	)
	span.End()

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return Rendered{}, err
		}

		name := operations[i].Name()
		_, opSpan := tracer.Start(ctx, "pipeline.op."+name)
		opSpan.SetAttributes(attribute.String("op.args", operations[i].String()))

		started := time.Now()
		p, err = step(p)
		if t.Observe != nil {
			t.Observe(name, time.Since(started), err)
		}
		if err != nil {
			opSpan.RecordError(err)
			opSpan.SetStatus(codes.Error, "operation failed")
			opSpan.End()
			return Rendered{}, fmt.Errorf("operations[%d] %s: %w", i, name, err)
		}
		opSpan.SetAttributes(attribute.Int("image.width", p.Width()), attribute.Int("image.height", p.Height()))
		opSpan.End()
	}

	if target == format.Unknown {
		target = sourceFormat
	}
	width, height := p.Width(), p.Height()

	_, encSpan := tracer.Start(ctx, "pipeline.encode")
	encSpan.SetAttributes(attribute.String("image.format", target.String()))
	defer encSpan.End()

	data, err := p.ProcessAs(target)
	if err != nil {
		encSpan.RecordError(err)
		encSpan.SetStatus(codes.Error, "encode failed")
		return Rendered{}, err
	}

	return Rendered{
		Data:         data,
		Format:       target,
		SourceFormat: sourceFormat,
		SourceBytes:  len(source),
		Width:        width,
		Height:       height,
	}, nil
}

// IsPermanent reports whether err comes from the input itself, so running
// the same job again would fail the same way.
func IsPermanent(err error) bool {
	for _, target := range []error{
		format.ErrUnrecognizedFormat,
		codec.ErrDecode,
		codec.ErrEncode,
		ops.ErrInvalidArgument,
		imgproc.ErrConsumed,
		domain.ErrInvalidOperation,
		ErrUnsupportedSourceType,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

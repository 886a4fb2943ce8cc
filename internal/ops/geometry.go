// Package ops implements the transformations a processor chain can apply.
// Every operation returns a new buffer and leaves its input untouched.
package ops

import (
	"errors"
	"fmt"
	"math"

	"github.com/dunamismax/pixelchain/internal/pixel"
	"github.com/nfnt/resize"
	xdraw "golang.org/x/image/draw"
)

// ErrInvalidArgument marks a violated operation precondition.
var ErrInvalidArgument = errors.New("invalid operation argument")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func checkSource(src *pixel.Buffer) error {
	if err := src.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

// MaxOutputPixels caps the area of any buffer a geometric operation builds.
const MaxOutputPixels int64 = 1 << 28

// CheckOutputSize rejects a width x height result larger than limit pixels.
// A non-positive limit means MaxOutputPixels.
func CheckOutputSize(width, height int, limit int64) error {
	if limit <= 0 || limit > MaxOutputPixels {
		limit = MaxOutputPixels
	}
	if int64(width) > limit/int64(height) {
		return invalid("output %dx%d exceeds the %d pixel limit", width, height, limit)
	}
	return nil
}

// FitDimensions scales (w, h) to the largest size that fits inside
// (boundW, boundH) with the same aspect ratio. One side always equals its
// bound and neither side drops below 1.
func FitDimensions(w, h, boundW, boundH int) (int, int) {
	wratio := float64(boundW) / float64(w)
	hratio := float64(boundH) / float64(h)
	ratio := math.Min(wratio, hratio)

	return fitSide(float64(w)*ratio, boundW), fitSide(float64(h)*ratio, boundH)
}

func fitSide(scaled float64, bound int) int {
	scaled = math.Round(scaled)
	if scaled >= float64(bound) {
		return bound
	}
	return max(1, int(scaled))
}

// Resize scales src to fit within width x height, preserving aspect ratio,
// with nearest-neighbour sampling. Results above MaxOutputPixels fail.
func Resize(src *pixel.Buffer, width, height int) (*pixel.Buffer, error) {
	return ResizeLimited(src, width, height, 0)
}

// ResizeLimited is Resize with a tighter output pixel limit.
func ResizeLimited(src *pixel.Buffer, width, height int, limit int64) (*pixel.Buffer, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, invalid("resize bounds must be positive, got %dx%d", width, height)
	}

	nw, nh := FitDimensions(src.Width, src.Height, width, height)
	return scaleNearest(src, nw, nh, limit)
}

// ResizeSquare stretches src to exactly side x side.
func ResizeSquare(src *pixel.Buffer, side int) (*pixel.Buffer, error) {
	return ResizeSquareLimited(src, side, 0)
}

// ResizeSquareLimited is ResizeSquare with a tighter output pixel limit.
func ResizeSquareLimited(src *pixel.Buffer, side int, limit int64) (*pixel.Buffer, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}
	if side <= 0 {
		return nil, invalid("side must be positive, got %d", side)
	}
	return scaleNearest(src, side, side, limit)
}

func scaleNearest(src *pixel.Buffer, width, height int, limit int64) (*pixel.Buffer, error) {
	if err := CheckOutputSize(width, height, limit); err != nil {
		return nil, err
	}
	if width == src.Width && height == src.Height {
		return src.Clone(), nil
	}

	dst := pixel.Canvas(src.Layout, width, height)
	img := pixel.ToImage(src)
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return pixel.Convert(dst, src.Layout)
}

// Thumbnail shrinks src to fit within width x height. Each source pixel
// contributes to exactly one target pixel, which is fast but can alias when
// the target is close to the source size. Images already inside the bounds
// are returned at their original size.
func Thumbnail(src *pixel.Buffer, width, height int) (*pixel.Buffer, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, invalid("thumbnail bounds must be positive, got %dx%d", width, height)
	}
	if src.Width <= width && src.Height <= height {
		return src.Clone(), nil
	}

	out := resize.Thumbnail(uint(width), uint(height), pixel.ToImage(src), resize.NearestNeighbor)
	return pixel.Convert(out, src.Layout)
}

// Crop returns the width x height rectangle whose top-left corner is (x, y).
// Rectangles that leave the image are rejected, never clamped.
func Crop(src *pixel.Buffer, x, y, width, height int) (*pixel.Buffer, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}
	switch {
	case x < 0 || y < 0:
		return nil, invalid("crop origin (%d,%d) is negative", x, y)
	case width <= 0 || height <= 0:
		return nil, invalid("crop size must be positive, got %dx%d", width, height)
	case width > src.Width-x || height > src.Height-y:
		return nil, invalid("crop rectangle %dx%d+%d+%d exceeds image bounds %dx%d",
			width, height, x, y, src.Width, src.Height)
	}

	dst, err := pixel.New(width, height, src.Layout)
	if err != nil {
		return nil, err
	}

	bpp := src.Layout.BytesPerPixel()
	srcStride, dstStride := src.Stride(), dst.Stride()
	for row := 0; row < height; row++ {
		from := (y+row)*srcStride + x*bpp
		copy(dst.Pix[row*dstStride:(row+1)*dstStride], src.Pix[from:from+dstStride])
	}
	return dst, nil
}

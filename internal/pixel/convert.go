package pixel

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// LayoutOf picks the layout that represents img without loss where the
// buffer model allows it.
func LayoutOf(img image.Image) Layout {
	switch m := img.(type) {
	case *image.Gray:
		return Luma8
	case *image.Gray16:
		return Luma16
	case *image.NRGBA:
		return RGBA8
	case *image.NRGBA64:
		return RGBA16
	case *image.RGBA:
		if m.Opaque() {
			return RGB8
		}
		return RGBA8
	case *image.RGBA64:
		if m.Opaque() {
			return RGB16
		}
		return RGBA16
	case *image.YCbCr, *image.CMYK:
		return RGB8
	case *image.NYCbCrA:
		return RGBA8
	case *image.Paletted:
		if m.Opaque() {
			return RGB8
		}
		return RGBA8
	}

	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return RGB16
	}
	return RGBA16
}

// FromImage copies img into a new buffer using LayoutOf(img).
func FromImage(img image.Image) (*Buffer, error) {
	return Convert(img, LayoutOf(img))
}

// Convert copies img into a new buffer with the given layout.
func Convert(img image.Image, layout Layout) (*Buffer, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidDimensions)
	}
	bounds := img.Bounds()
	buf, err := New(bounds.Dx(), bounds.Dy(), layout)
	if err != nil {
		return nil, err
	}

	if copyRows(buf, img) {
		return buf, nil
	}

	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			c := color.NRGBA64Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA64)
			buf.SetNRGBA64(x, y, c)
		}
	}
	return buf, nil
}

// copyRows handles the standard image types whose Pix layout matches the
// buffer byte for byte.
func copyRows(buf *Buffer, img image.Image) bool {
	var (
		pix    []uint8
		stride int
		rect   image.Rectangle
	)
	switch m := img.(type) {
	case *image.Gray:
		if buf.Layout != Luma8 {
			return false
		}
		pix, stride, rect = m.Pix, m.Stride, m.Rect
		pix = pix[m.PixOffset(rect.Min.X, rect.Min.Y):]
	case *image.Gray16:
		if buf.Layout != Luma16 {
			return false
		}
		pix, stride, rect = m.Pix, m.Stride, m.Rect
		pix = pix[m.PixOffset(rect.Min.X, rect.Min.Y):]
	case *image.NRGBA:
		if buf.Layout != RGBA8 {
			return false
		}
		pix, stride, rect = m.Pix, m.Stride, m.Rect
		pix = pix[m.PixOffset(rect.Min.X, rect.Min.Y):]
	case *image.NRGBA64:
		if buf.Layout != RGBA16 {
			return false
		}
		pix, stride, rect = m.Pix, m.Stride, m.Rect
		pix = pix[m.PixOffset(rect.Min.X, rect.Min.Y):]
	default:
		return false
	}

	rowBytes := buf.Stride()
	for y := 0; y < buf.Height; y++ {
		copy(buf.Pix[y*rowBytes:(y+1)*rowBytes], pix[y*stride:y*stride+rowBytes])
	}
	return true
}

// ToImage returns a standard library view of the buffer. Luma8, Luma16,
// RGBA8 and RGBA16 share the buffer's Pix; callers must treat the result as
// read-only. Float layouts are clamped to [0,1] and widened to 16 bits.
func ToImage(b *Buffer) image.Image {
	rect := image.Rect(0, 0, b.Width, b.Height)
	switch b.Layout {
	case Luma8:
		return &image.Gray{Pix: b.Pix, Stride: b.Stride(), Rect: rect}
	case Luma16:
		return &image.Gray16{Pix: b.Pix, Stride: b.Stride(), Rect: rect}
	case RGBA8:
		return &image.NRGBA{Pix: b.Pix, Stride: b.Stride(), Rect: rect}
	case RGBA16:
		return &image.NRGBA64{Pix: b.Pix, Stride: b.Stride(), Rect: rect}
	}

	dst := Canvas(b.Layout, b.Width, b.Height)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			dst.Set(x, y, b.NRGBA64At(x, y))
		}
	}
	return dst
}

// Canvas allocates the standard library image type used to hold pixels of
// the given layout.
func Canvas(layout Layout, width, height int) draw.Image {
	rect := image.Rect(0, 0, width, height)
	switch layout {
	case Luma8:
		return image.NewGray(rect)
	case Luma16:
		return image.NewGray16(rect)
	case RGB8:
		return image.NewRGBA(rect)
	case LumaA8, RGBA8:
		return image.NewNRGBA(rect)
	case RGB16:
		return image.NewRGBA64(rect)
	default:
		return image.NewNRGBA64(rect)
	}
}

package ops

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"
	"github.com/dunamismax/pixelchain/internal/pixel"
)

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// mapColor applies fn to every non-alpha sample of a copy of src.
func mapColor(src *pixel.Buffer, fn func(float64) float64) *pixel.Buffer {
	dst := src.Clone()
	channels := src.Layout.Channels()
	colors := src.Layout.ColorChannels()
	for i, n := 0, src.SampleCount(); i < n; i += channels {
		for c := 0; c < colors; c++ {
			dst.SetSample(i+c, fn(src.Sample(i+c)))
		}
	}
	return dst
}

// Brighten adds value, expressed in 8-bit steps, to every colour channel.
// The documented range is [-100, 100]; larger magnitudes are accepted and
// saturate. Alpha is untouched.
func Brighten(src *pixel.Buffer, value int) (*pixel.Buffer, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}
	if value == 0 {
		return src.Clone(), nil
	}

	delta := float64(value) / math.MaxUint8
	return mapColor(src, func(v float64) float64 {
		return clamp01(v + delta)
	}), nil
}

// Contrast scales colour channels around the midpoint. Negative values
// flatten the image down to flat mid-gray at -100; anything lower is
// treated as -100. Positive values increase contrast, 0 is the identity.
func Contrast(src *pixel.Buffer, value float32) (*pixel.Buffer, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}
	if math32.IsNaN(value) || math32.IsInf(value, 0) {
		return nil, invalid("contrast must be finite")
	}
	if value == 0 {
		return src.Clone(), nil
	}

	value = max(value, -100)
	k := float64((100 + value) / 100)
	k *= k
	return mapColor(src, func(v float64) float64 {
		return clamp01((v-0.5)*k + 0.5)
	}), nil
}

// Grayscale converts integer layouts to luma (keeping alpha if present).
// Float layouts keep their RGB or RGBA shape with three equal channels.
func Grayscale(src *pixel.Buffer) (*pixel.Buffer, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}
	if src.Layout.IsLuma() {
		return src.Clone(), nil
	}

	dst, err := pixel.New(src.Width, src.Height, src.Layout.Gray())
	if err != nil {
		return nil, err
	}

	srcChannels, dstChannels := src.Layout.Channels(), dst.Layout.Channels()
	for p, n := 0, src.Width*src.Height; p < n; p++ {
		s, d := p*srcChannels, p*dstChannels
		l := pixel.Luma(src.Sample(s), src.Sample(s+1), src.Sample(s+2))
		for c := 0; c < dst.Layout.ColorChannels(); c++ {
			dst.SetSample(d+c, l)
		}
		if src.Layout.HasAlpha() {
			dst.SetSample(d+dstChannels-1, src.Sample(s+srcChannels-1))
		}
	}
	return dst, nil
}

// Invert replaces every colour sample v with max-v. Integer layouts use
// exact integer arithmetic, so Invert is its own inverse. Alpha is untouched.
func Invert(src *pixel.Buffer) (*pixel.Buffer, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}

	dst := src.Clone()
	channels := src.Layout.Channels()
	colors := src.Layout.ColorChannels()
	for i, n := 0, src.SampleCount(); i < n; i += channels {
		for c := i; c < i+colors; c++ {
			switch src.Layout.BytesPerChannel() {
			case 1:
				dst.Pix[c] = math.MaxUint8 - src.Pix[c]
			case 2:
				v := binary.BigEndian.Uint16(src.Pix[2*c:])
				binary.BigEndian.PutUint16(dst.Pix[2*c:], math.MaxUint16-v)
			default:
				dst.SetSample(c, 1-src.Sample(c))
			}
		}
	}
	return dst, nil
}

// HueRotate rotates hue by degrees using the matrix of the CSS hue-rotate()
// filter. Positive angles rotate in the same direction as CSS. Degrees are
// reduced modulo 360 first; a full turn returns an exact copy, as do luma
// layouts.
func HueRotate(src *pixel.Buffer, degrees int) (*pixel.Buffer, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}

	degrees = ((degrees % 360) + 360) % 360
	if degrees == 0 || src.Layout.IsLuma() {
		return src.Clone(), nil
	}

	m := hueMatrix(float64(degrees))
	dst := src.Clone()
	channels := src.Layout.Channels()
	for i, n := 0, src.SampleCount(); i < n; i += channels {
		r, g, b := src.Sample(i), src.Sample(i+1), src.Sample(i+2)
		dst.SetSample(i, clamp01(m[0]*r+m[1]*g+m[2]*b))
		dst.SetSample(i+1, clamp01(m[3]*r+m[4]*g+m[5]*b))
		dst.SetSample(i+2, clamp01(m[6]*r+m[7]*g+m[8]*b))
	}
	return dst, nil
}

func hueMatrix(degrees float64) [9]float64 {
	rad := degrees * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	return [9]float64{
		0.213 + cos*0.787 - sin*0.213,
		0.715 - cos*0.715 - sin*0.715,
		0.072 - cos*0.072 + sin*0.928,

		0.213 - cos*0.213 + sin*0.143,
		0.715 + cos*0.285 + sin*0.140,
		0.072 - cos*0.072 - sin*0.283,

		0.213 - cos*0.213 - sin*0.787,
		0.715 - cos*0.715 + sin*0.715,
		0.072 + cos*0.928 + sin*0.072,
	}
}

package ops

import (
	"github.com/chewxy/math32"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelchain/internal/pixel"
)

const fastBlurPasses = 3

func checkSigma(sigma float32) error {
	if math32.IsNaN(sigma) || math32.IsInf(sigma, 0) {
		return invalid("sigma must be finite")
	}
	if sigma < 0 {
		return invalid("sigma must not be negative, got %g", sigma)
	}
	return nil
}

// effectiveSigma caps sigma at the longer image side. Past that the kernel
// spans the whole image and the output no longer changes visibly.
func effectiveSigma(src *pixel.Buffer, sigma float32) float32 {
	return min(sigma, float32(max(src.Width, src.Height)))
}

// Blur applies a true Gaussian blur with standard deviation sigma. Sigma 0
// returns an exact copy. The kernel runs on 8-bit samples. Sigma larger than
// the longer image side behaves as that side.
func Blur(src *pixel.Buffer, sigma float32) (*pixel.Buffer, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}
	if err := checkSigma(sigma); err != nil {
		return nil, err
	}
	if sigma == 0 {
		return src.Clone(), nil
	}

	out := imaging.Blur(pixel.ToImage(src), float64(effectiveSigma(src, sigma)))
	return pixel.Convert(out, src.Layout)
}

// FastBlur approximates a Gaussian with three box blurs. It is cheaper than
// Blur and its output differs from it. All channels, alpha included, are
// blurred. Sigma is capped the same way as in Blur.
func FastBlur(src *pixel.Buffer, sigma float32) (*pixel.Buffer, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}
	if err := checkSigma(sigma); err != nil {
		return nil, err
	}
	if sigma == 0 {
		return src.Clone(), nil
	}

	w, h := src.Width, src.Height
	channels := src.Layout.Channels()
	plane := make([]float64, w*h)
	scratch := make([]float64, w*h)
	line := make([]float64, max(w, h))
	blurred := make([]float64, max(w, h))

	dst := src.Clone()
	for c := 0; c < channels; c++ {
		for i := range plane {
			plane[i] = src.Sample(i*channels + c)
		}

		for _, size := range boxSizes(effectiveSigma(src, sigma), fastBlurPasses) {
			radius := (size - 1) / 2
			boxRows(plane, scratch, w, h, radius, line[:w], blurred[:w])
			boxCols(scratch, plane, w, h, radius, line[:h], blurred[:h])
		}

		for i, v := range plane {
			dst.SetSample(i*channels+c, v)
		}
	}
	return dst, nil
}

// boxSizes returns n odd box widths whose successive application matches a
// Gaussian of the given sigma.
func boxSizes(sigma float32, n int) []int {
	fn := float32(n)
	ideal := math32.Sqrt(12*sigma*sigma/fn + 1)
	lower := int(math32.Floor(ideal))
	if lower%2 == 0 {
		lower--
	}
	upper := lower + 2

	fl := float32(lower)
	m := int(math32.Floor((12*sigma*sigma-fn*fl*fl-4*fn*fl-3*fn)/(-4*fl-4) + 0.5))

	sizes := make([]int, n)
	for i := range sizes {
		if i < m {
			sizes[i] = lower
		} else {
			sizes[i] = upper
		}
	}
	return sizes
}

func boxRows(src, dst []float64, w, h, radius int, line, out []float64) {
	for y := 0; y < h; y++ {
		copy(line, src[y*w:(y+1)*w])
		boxLine(line, out, radius)
		copy(dst[y*w:(y+1)*w], out)
	}
}

func boxCols(src, dst []float64, w, h, radius int, line, out []float64) {
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			line[y] = src[y*w+x]
		}
		boxLine(line, out, radius)
		for y := 0; y < h; y++ {
			dst[y*w+x] = out[y]
		}
	}
}

// boxLine is a running-sum box filter with edge samples repeated past the
// ends of the line. It runs in O(len(src)) for any radius.
func boxLine(src, dst []float64, radius int) {
	n := len(src)
	if radius <= 0 {
		copy(dst, src)
		return
	}

	at := func(i int) float64 {
		return src[min(max(i, 0), n-1)]
	}
	scale := 1 / float64(2*radius+1)

	// Window centred on 0: radius+1 copies of src[0], then src[1..radius]
	// with the tail past n-1 repeated.
	inside := min(radius, n-1)
	sum := float64(radius+1) * src[0]
	for k := 1; k <= inside; k++ {
		sum += src[k]
	}
	sum += float64(radius-inside) * src[n-1]
	for i := 0; i < n; i++ {
		dst[i] = sum * scale
		sum += at(i+radius+1) - at(i-radius)
	}
}

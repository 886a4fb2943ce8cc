package codec

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/dunamismax/pixelchain/internal/format"
	"github.com/dunamismax/pixelchain/internal/pixel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeEncodePreservesFormat(t *testing.T) {
	src, err := pixel.FromImage(gradient(40, 24))
	require.NoError(t, err)

	for _, f := range []format.Format{format.PNG, format.JPEG, format.GIF, format.BMP, format.TIFF} {
		t.Run(f.String(), func(t *testing.T) {
			data, err := Encode(src, f, EncodeOptions{})
			require.NoError(t, err)

			sniffed, err := format.Sniff(data)
			require.NoError(t, err)
			assert.Equal(t, f, sniffed)

			buf, decoded, err := Decode(data, DecodeOptions{})
			require.NoError(t, err)
			assert.Equal(t, f, decoded)
			assert.Equal(t, 40, buf.Width)
			assert.Equal(t, 24, buf.Height)
		})
	}
}

func TestPNGRoundTripIsLossless(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i * 3)
	}

	buf, f, err := Decode(encodePNG(t, gray), DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, format.PNG, f)
	assert.Equal(t, pixel.Luma8, buf.Layout)
	assert.Equal(t, gray.Pix, buf.Pix)

	out, err := Encode(buf, format.PNG, EncodeOptions{PNGCompression: png.BestSpeed})
	require.NoError(t, err)

	again, _, err := Decode(out, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, buf.Pix, again.Pix)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("definitely not an image")} {
		_, f, err := Decode(data, DecodeOptions{})
		assert.ErrorIs(t, err, format.ErrUnrecognizedFormat)
		assert.Equal(t, format.Unknown, f)
	}
}

func TestDecodeRejectsTruncatedImage(t *testing.T) {
	data := encodePNG(t, gradient(32, 32))

	_, f, err := Decode(data[:len(data)/2], DecodeOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, format.PNG, f)

	var codecErr *Error
	require.ErrorAs(t, err, &codecErr)
	assert.Equal(t, format.PNG, codecErr.Format)
}

func TestDecodeEnforcesMaxPixels(t *testing.T) {
	data := encodePNG(t, gradient(20, 20))

	_, _, err := Decode(data, DecodeOptions{MaxPixels: 399})
	assert.ErrorIs(t, err, ErrDecode)

	_, _, err = Decode(data, DecodeOptions{MaxPixels: 400})
	assert.NoError(t, err)
}

func TestEncodeFloatLayoutDownConverts(t *testing.T) {
	buf, err := pixel.New(2, 1, pixel.RGB32F)
	require.NoError(t, err)
	buf.SetSample(0, 1.7)
	buf.SetSample(1, 0.5)
	buf.SetSample(2, -0.2)

	data, err := Encode(buf, format.PNG, EncodeOptions{})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.InDelta(t, 0x8000, g, 1)
	assert.Equal(t, uint32(0), b)
}

func TestEncodeRejectsUnknownFormat(t *testing.T) {
	buf, err := pixel.New(1, 1, pixel.RGB8)
	require.NoError(t, err)

	_, err = Encode(buf, format.Unknown, EncodeOptions{})
	assert.ErrorIs(t, err, ErrEncode)
}

func TestEncodeWebP(t *testing.T) {
	src, err := pixel.FromImage(gradient(16, 16))
	require.NoError(t, err)

	data, err := Encode(src, format.WEBP, EncodeOptions{})
	if !WebPAvailable {
		assert.ErrorIs(t, err, ErrEncode)
		return
	}
	require.NoError(t, err)

	buf, f, err := Decode(data, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, format.WEBP, f)
	assert.Equal(t, 16, buf.Width)
}

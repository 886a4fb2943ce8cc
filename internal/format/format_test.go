package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{name: "png", data: []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0}, want: PNG},
		{name: "jpeg", data: []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10}, want: JPEG},
		{name: "gif87a", data: []byte("GIF87a\x01\x00"), want: GIF},
		{name: "gif89a", data: []byte("GIF89a\x01\x00"), want: GIF},
		{name: "webp", data: []byte("RIFF\x24\x00\x00\x00WEBPVP8 "), want: WEBP},
		{name: "tiff little endian", data: []byte{'I', 'I', 0x2a, 0, 8, 0, 0, 0}, want: TIFF},
		{name: "tiff big endian", data: []byte{'M', 'M', 0, 0x2a, 0, 0, 0, 8}, want: TIFF},
		{name: "bmp", data: append([]byte("BM"), make([]byte, 20)...), want: BMP},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Sniff(tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSniffRejectsUnknownInput(t *testing.T) {
	for _, data := range [][]byte{nil, {}, []byte("not an image"), []byte("RIFF\x00\x00\x00\x00WAVE"), []byte("BM")} {
		f, err := Sniff(data)
		assert.ErrorIs(t, err, ErrUnrecognizedFormat)
		assert.Equal(t, Unknown, f)
	}
}

func TestParse(t *testing.T) {
	f, err := Parse("JPG")
	require.NoError(t, err)
	assert.Equal(t, JPEG, f)
	assert.Equal(t, "jpg", f.Extension())
	assert.Equal(t, "image/jpeg", f.ContentType())

	f, err = Parse(".webp")
	require.NoError(t, err)
	assert.Equal(t, WEBP, f)

	_, err = Parse("heic")
	assert.ErrorIs(t, err, ErrUnrecognizedFormat)
}

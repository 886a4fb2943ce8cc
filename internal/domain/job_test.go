package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/dunamismax/pixelchain/internal/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJobRequestValidate(t *testing.T) {
	resize := Operation{Op: OpResize, Width: 512, Height: 512}

	tests := []struct {
		name    string
		req     CreateJobRequest
		wantErr bool
	}{
		{
			name: "valid presigned",
			req:  CreateJobRequest{SourceType: SourceTypeS3Presigned, Operations: []Operation{resize}},
		},
		{
			name: "no operations re-encodes",
			req:  CreateJobRequest{SourceType: SourceTypeS3Presigned, OutputFormat: "png"},
		},
		{
			name:    "empty request",
			req:     CreateJobRequest{},
			wantErr: true,
		},
		{
			name:    "local file without object key",
			req:     CreateJobRequest{SourceType: SourceTypeLocalFile, Operations: []Operation{resize}},
			wantErr: true,
		},
		{
			name:    "unsupported source type",
			req:     CreateJobRequest{SourceType: "http_url", Operations: []Operation{resize}},
			wantErr: true,
		},
		{
			name:    "unknown operation",
			req:     CreateJobRequest{SourceType: SourceTypeS3Presigned, Operations: []Operation{{Op: "sharpen"}}},
			wantErr: true,
		},
		{
			name:    "unknown output format",
			req:     CreateJobRequest{SourceType: SourceTypeS3Presigned, OutputFormat: "heic"},
			wantErr: true,
		},
		{
			name:    "brighten beyond int32",
			req:     CreateJobRequest{SourceType: SourceTypeS3Presigned, Operations: []Operation{{Op: OpBrighten, Value: 1e30}}},
			wantErr: true,
		},
		{
			name:    "negative brighten beyond int32",
			req:     CreateJobRequest{SourceType: SourceTypeS3Presigned, Operations: []Operation{{Op: OpBrighten, Value: -3e9}}},
			wantErr: true,
		},
		{
			name: "brighten at int32 bound",
			req:  CreateJobRequest{SourceType: SourceTypeS3Presigned, Operations: []Operation{{Op: OpBrighten, Value: math.MaxInt32}}},
		},
		{
			name:    "quality out of range",
			req:     CreateJobRequest{SourceType: SourceTypeS3Presigned, Quality: 101},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseOperation(t *testing.T) {
	tests := []struct {
		text string
		want Operation
	}{
		{"resize:512,384", Operation{Op: OpResize, Width: 512, Height: 384}},
		{" Resize_Square:64 ", Operation{Op: OpResizeSquare, Side: 64}},
		{"thumbnail:100, 50", Operation{Op: OpThumbnail, Width: 100, Height: 50}},
		{"crop:1,2,3,4", Operation{Op: OpCrop, X: 1, Y: 2, Width: 3, Height: 4}},
		{"blur:1.5", Operation{Op: OpBlur, Sigma: 1.5}},
		{"fast_blur:0", Operation{Op: OpFastBlur}},
		{"brighten:-20", Operation{Op: OpBrighten, Value: -20}},
		{"contrast:25.5", Operation{Op: OpContrast, Value: 25.5}},
		{"grayscale", Operation{Op: OpGrayscale}},
		{"invert", Operation{Op: OpInvert}},
		{"hue_rotate:-90", Operation{Op: OpHueRotate, Degrees: -90}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParseOperation(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := ParseOperation(got.String())
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestParseOperationRejects(t *testing.T) {
	for _, text := range []string{
		"",
		"sharpen:2",
		"resize:512",
		"resize:0,10",
		"resize:a,b",
		"crop:-1,0,4,4",
		"blur:-1",
		"blur:fast",
		"brighten:1.5",
		"brighten:99999999999",
		"grayscale:1",
		"hue_rotate",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := ParseOperation(text)
			assert.ErrorIs(t, err, ErrInvalidOperation)
		})
	}
}

func TestParseOperationsReportsIndex(t *testing.T) {
	ops, err := ParseOperations([]string{"grayscale", "invert"})
	require.NoError(t, err)
	assert.Len(t, ops, 2)

	_, err = ParseOperations([]string{"grayscale", "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operations[1]")
}

func TestOperationJSON(t *testing.T) {
	var req CreateJobRequest
	body := `{"source_type":"s3_presigned","operations":[{"op":"resize","width":512,"height":512},{"op":"grayscale"},{"op":"contrast","value":25}],"output_format":"jpg"}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	require.NoError(t, req.Validate())

	require.Len(t, req.Operations, 3)
	assert.Equal(t, "resize:512,512", req.Operations[0].String())
	assert.Equal(t, "contrast:25", req.Operations[2].String())

	f, err := ParseOutputFormat(req.OutputFormat)
	require.NoError(t, err)
	assert.Equal(t, format.JPEG, f)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/pixelchain/internal/domain"
	"github.com/dunamismax/pixelchain/internal/format"
	"github.com/dunamismax/pixelchain/internal/storage"
)

// ObjectStore is the part of the storage client the object-store stages use.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

func NewObjectStoreRunner(store ObjectStore, outputPrefix string, transformer Transformer) *Runner {
	return NewRunner(
		ObjectStoreFetcher{Storage: store},
		ObjectStoreEmitter{Storage: store, OutputPrefix: outputPrefix},
		transformer,
	)
}

type ObjectStoreFetcher struct {
	Storage ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, domain.SourceTypeS3Presigned) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, data []byte, f format.Format, width, height int) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := storage.OutputKey(e.OutputPrefix, sanitizePathToken(req.JobID), outputName(f))
	if err := e.Storage.WriteObject(ctx, objectKey, data, f.ContentType()); err != nil {
		return Output{}, err
	}

	return Output{
		Format:  f.String(),
		Path:    objectKey,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

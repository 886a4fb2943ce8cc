// Package pipeline runs processing jobs: it fetches the source image, runs
// the requested chain of operations and emits the encoded result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelchain/internal/domain"
	"github.com/dunamismax/pixelchain/internal/format"
)

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	JobID        string
	SourceType   string
	ObjectKey    string
	Operations   []domain.Operation
	OutputFormat string
	Quality      int
}

type Output struct {
	Format  string `json:"format"`
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Success bool   `json:"success"`
}

type Result struct {
	SourceBytes  int
	SourceFormat string
	Operations   int
	Output       Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, data []byte, f format.Format, width, height int) (Output, error)
}

type Runner struct {
	fetcher     Fetcher
	transformer Transformer
	emitter     Emitter
}

func NewRunner(fetcher Fetcher, emitter Emitter, transformer Transformer) *Runner {
	return &Runner{
		fetcher:     fetcher,
		transformer: transformer,
		emitter:     emitter,
	}
}

func NewLocalRunner(outputDir string, transformer Transformer) *Runner {
	return NewRunner(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, transformer)
}

func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	target, err := domain.ParseOutputFormat(req.OutputFormat)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidOperation, err)
	}

	sourceBytes, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	rendered, err := r.transformer.Transform(ctx, sourceBytes, req.Operations, target, req.Quality)
	if err != nil {
		return Result{}, fmt.Errorf("transform stage: %w", err)
	}

	written, err := r.emitter.Emit(ctx, req, rendered.Data, rendered.Format, rendered.Width, rendered.Height)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}

	return Result{
		SourceBytes:  rendered.SourceBytes,
		SourceFormat: rendered.SourceFormat.String(),
		Operations:   len(req.Operations),
		Output:       written,
	}, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, domain.SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, data []byte, f format.Format, width, height int) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, outputName(f))
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		Format:  f.String(),
		Path:    fullPath,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

func outputName(f format.Format) string {
	return "output." + f.Extension()
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

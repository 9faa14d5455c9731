package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dunamismax/imageloom/internal/codec"
	"github.com/dunamismax/imageloom/internal/processor"
)

const SourceTypeLocalFile = "local_file"

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")

	// ErrNoImage means a transformation chain declined to produce an
	// image. It is the terminal "processing failed" outcome, distinct
	// from fetch or encode errors.
	ErrNoImage = errors.New("processing produced no image")
)

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Variants   []Variant
}

// Variant is one requested output: a resolved transformation chain plus the
// target encoding.
type Variant struct {
	ID      string
	Chain   processor.Composite
	Format  string
	Quality int
}

type Output struct {
	VariantID string
	Format    string
	Path      string
	Bytes     int
	Width     int
	Height    int
	CacheHit  bool
	Coalesced bool
	Success   bool
}

type Result struct {
	SourceBytes int
	Outputs     []Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, variant Variant, rendered Rendered) (Output, error)
}

// Engine drives a request end to end: fetch and decode the source once,
// render each variant through the loader, emit the results. The source is
// only touched when at least one variant misses the cache.
type Engine struct {
	fetcher Fetcher
	emitter Emitter
	loader  *Loader
}

func NewEngine(fetcher Fetcher, emitter Emitter, loader *Loader) (*Engine, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}
	if loader == nil {
		loader = NewLoader(nil, 0)
	}
	return &Engine{
		fetcher: fetcher,
		emitter: emitter,
		loader:  loader,
	}, nil
}

func NewLocalEngine(outputDir string, loader *Loader) (*Engine, error) {
	return NewEngine(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, loader)
}

func (e *Engine) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Variants) == 0 {
		return Result{}, errors.New("at least one variant is required")
	}

	source := &memoizedSource{fetch: func() ([]byte, error) {
		return e.fetcher.Fetch(ctx, req)
	}}

	out := Result{Outputs: make([]Output, 0, len(req.Variants))}
	for _, variant := range req.Variants {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		rendered, err := e.loader.Render(ctx, req, variant, source.load)
		if err != nil {
			return Result{}, fmt.Errorf("render stage variant=%s: %w", variant.ID, err)
		}

		written, err := e.emitter.Emit(ctx, req, variant, rendered)
		if err != nil {
			return Result{}, fmt.Errorf("emit stage variant=%s: %w", variant.ID, err)
		}
		out.Outputs = append(out.Outputs, written)
	}

	out.SourceBytes = source.size()
	return out, nil
}

// memoizedSource fetches and decodes the source at most once per request,
// no matter how many variants need it.
type memoizedSource struct {
	fetch func() ([]byte, error)

	once  sync.Once
	img   image.Image
	bytes int
	err   error
}

func (s *memoizedSource) load() (image.Image, error) {
	s.once.Do(func() {
		data, err := s.fetch()
		if err != nil {
			s.err = fmt.Errorf("fetch stage: %w", err)
			return
		}
		s.bytes = len(data)

		img, _, err := codec.Decode(data)
		if err != nil {
			s.err = fmt.Errorf("decode stage: %w", err)
			return
		}
		s.img = img
	})
	return s.img, s.err
}

func (s *memoizedSource) size() int {
	return s.bytes
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
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

func (e LocalFileEmitter) Emit(_ context.Context, req Request, variant Variant, rendered Rendered) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(variant.ID) == "" {
		return Output{}, errors.New("variant id is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	filename := fmt.Sprintf("%s.%s", sanitizePathToken(variant.ID), rendered.Format)
	fullPath := filepath.Join(jobDir, filename)
	if err := os.WriteFile(fullPath, rendered.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		VariantID: variant.ID,
		Format:    rendered.Format,
		Path:      fullPath,
		Bytes:     len(rendered.Data),
		Width:     rendered.Width,
		Height:    rendered.Height,
		CacheHit:  rendered.CacheHit,
		Coalesced: rendered.Coalesced,
		Success:   true,
	}, nil
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

package pipeline

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/dunamismax/imageloom/internal/codec"
	"github.com/dunamismax/imageloom/internal/processor"
)

func buildTestPNG(t testing.TB, width, height int) []byte {
	t.Helper()
	data, err := codec.Encode(image.NewRGBA(image.Rect(0, 0, width, height)), "png", 0)
	if err != nil {
		t.Fatalf("build test png: %v", err)
	}
	return data
}

func writeTestPNG(t testing.TB, width, height int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.png")
	if err := os.WriteFile(path, buildTestPNG(t, width, height), 0o644); err != nil {
		t.Fatalf("write test png: %v", err)
	}
	return path
}

func verifyImageWidth(t *testing.T, path string, want int) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	img, _, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got := img.Bounds().Dx(); got != want {
		t.Fatalf("output width %d, want %d", got, want)
	}
}

type staticFetcher struct {
	data  []byte
	calls atomic.Int64
}

func (f *staticFetcher) Fetch(context.Context, Request) ([]byte, error) {
	f.calls.Add(1)
	return f.data, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, variant Variant, rendered Rendered) (Output, error) {
	return Output{
		VariantID: variant.ID,
		Format:    rendered.Format,
		Bytes:     len(rendered.Data),
		Width:     rendered.Width,
		Height:    rendered.Height,
		CacheHit:  rendered.CacheHit,
		Coalesced: rendered.Coalesced,
		Success:   true,
	}, nil
}

func TestEngineProcessesLocalFileRequest(t *testing.T) {
	source := writeTestPNG(t, 200, 100)
	outputDir := t.TempDir()

	engine, err := NewLocalEngine(outputDir, nil)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	result, err := engine.Process(context.Background(), Request{
		JobID:      "job-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  source,
		Variants: []Variant{
			{ID: "thumb", Chain: processor.NewComposite(processor.Resize{Width: 50}), Format: "png"},
			{ID: "gray", Chain: processor.NewComposite(processor.Grayscale{}), Format: "jpeg", Quality: 85},
		},
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if result.SourceBytes == 0 {
		t.Fatal("expected the source size to be recorded")
	}
	if len(result.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(result.Outputs))
	}

	verifyImageWidth(t, filepath.Join(outputDir, "job-1", "thumb.png"), 50)
	verifyImageWidth(t, filepath.Join(outputDir, "job-1", "gray.jpeg"), 200)

	for _, out := range result.Outputs {
		if !out.Success || out.Bytes == 0 {
			t.Fatalf("unexpected output record: %+v", out)
		}
	}
}

func TestEngineValidatesRequest(t *testing.T) {
	engine, err := NewLocalEngine(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	variant := Variant{ID: "v", Chain: processor.NewComposite(), Format: "png"}

	if _, err := engine.Process(context.Background(), Request{Variants: []Variant{variant}}); err == nil {
		t.Fatal("expected an error for a missing job id")
	}
	if _, err := engine.Process(context.Background(), Request{JobID: "job-1"}); err == nil {
		t.Fatal("expected an error for missing variants")
	}
}

func TestEngineRejectsUnsupportedSourceType(t *testing.T) {
	engine, err := NewLocalEngine(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	_, err = engine.Process(context.Background(), Request{
		JobID:      "job-1",
		SourceType: "carrier_pigeon",
		ObjectKey:  "unused",
		Variants:   []Variant{{ID: "v", Chain: processor.NewComposite(), Format: "png"}},
	})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected ErrUnsupportedSourceType, got %v", err)
	}
}

func TestEngineReportsNoImageOutcome(t *testing.T) {
	source := writeTestPNG(t, 20, 20)

	engine, err := NewLocalEngine(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	_, err = engine.Process(context.Background(), Request{
		JobID:      "job-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  source,
		Variants: []Variant{
			{ID: "bad", Chain: processor.NewComposite(processor.Blur{Radius: 0}), Format: "png"},
		},
	})
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
}

func TestEngineFetchesSourceOnceAcrossVariants(t *testing.T) {
	fetcher := &staticFetcher{data: buildTestPNG(t, 100, 100)}

	engine, err := NewEngine(fetcher, discardEmitter{}, nil)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	_, err = engine.Process(context.Background(), Request{
		JobID:     "job-1",
		ObjectKey: "uploads/a.png",
		Variants: []Variant{
			{ID: "a", Chain: processor.NewComposite(processor.Resize{Width: 10}), Format: "png"},
			{ID: "b", Chain: processor.NewComposite(processor.Resize{Width: 20}), Format: "png"},
			{ID: "c", Chain: processor.NewComposite(processor.Grayscale{}), Format: "png"},
		},
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("source fetched %d times, want 1", got)
	}
}

func TestEngineStopsOnCancelledContext(t *testing.T) {
	engine, err := NewLocalEngine(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = engine.Process(ctx, Request{
		JobID:      "job-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  "unused",
		Variants:   []Variant{{ID: "v", Chain: processor.NewComposite(), Format: "png"}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSanitizePathToken(t *testing.T) {
	cases := map[string]string{
		"job-1":         "job-1",
		"../../escape":  "______escape",
		"a b/c":         "a_b_c",
		"  ":            "unknown",
		"UPPER_lower-9": "UPPER_lower-9",
	}
	for in, want := range cases {
		if got := sanitizePathToken(in); got != want {
			t.Fatalf("sanitizePathToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func BenchmarkEngineResizeVariant(b *testing.B) {
	fetcher := &staticFetcher{data: buildTestPNG(b, 640, 480)}

	engine, err := NewEngine(fetcher, discardEmitter{}, nil)
	if err != nil {
		b.Fatalf("build engine: %v", err)
	}

	req := Request{
		JobID:     "bench",
		ObjectKey: "uploads/bench.png",
		Variants: []Variant{
			{ID: "thumb", Chain: processor.NewComposite(processor.Resize{Width: 160}), Format: "png"},
		},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Process(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

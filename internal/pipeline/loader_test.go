package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/imageloom/internal/cache"
	"github.com/dunamismax/imageloom/internal/processor"
)

func countingSource(calls *atomic.Int64, width, height int) SourceFunc {
	return func() (image.Image, error) {
		calls.Add(1)
		return image.NewRGBA(image.Rect(0, 0, width, height)), nil
	}
}

func TestRenderServesCachedResult(t *testing.T) {
	loader := NewLoader(cache.NewMemory(), time.Minute)
	req := Request{JobID: "job-1", ObjectKey: "uploads/a.png"}
	variant := Variant{ID: "v", Chain: processor.NewComposite(processor.Resize{Width: 32}), Format: "png"}

	var calls atomic.Int64
	source := countingSource(&calls, 64, 64)

	first, err := loader.Render(context.Background(), req, variant, source)
	if err != nil {
		t.Fatalf("first render: %v", err)
	}
	if first.CacheHit {
		t.Fatal("first render cannot be a cache hit")
	}
	if first.Width != 32 || first.Height != 32 {
		t.Fatalf("unexpected dimensions %dx%d", first.Width, first.Height)
	}

	second, err := loader.Render(context.Background(), req, variant, source)
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if !second.CacheHit {
		t.Fatal("expected the second render to hit the cache")
	}
	if second.Width != 32 || second.Height != 32 {
		t.Fatalf("cached result lost dimensions: %dx%d", second.Width, second.Height)
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("source called %d times, want 1", got)
	}
}

func TestRenderCacheKeyFollowsChainIdentity(t *testing.T) {
	loader := NewLoader(cache.NewMemory(), time.Minute)
	req := Request{JobID: "job-1", ObjectKey: "uploads/a.png"}

	var calls atomic.Int64
	source := countingSource(&calls, 64, 64)

	thumb := Variant{ID: "v", Chain: processor.NewComposite(processor.Resize{Width: 32}), Format: "png"}
	if _, err := loader.Render(context.Background(), req, thumb, source); err != nil {
		t.Fatalf("render: %v", err)
	}

	// A different chain must not see the first chain's cached bytes.
	gray := Variant{ID: "v", Chain: processor.NewComposite(processor.Grayscale{}), Format: "png"}
	out, err := loader.Render(context.Background(), req, gray, source)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.CacheHit {
		t.Fatal("distinct chains shared a cache entry")
	}

	// The same chain rebuilt from scratch must.
	rebuilt := Variant{ID: "other", Chain: processor.NewComposite(processor.Resize{Width: 32}), Format: "png"}
	out, err = loader.Render(context.Background(), req, rebuilt, source)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !out.CacheHit {
		t.Fatal("equal chains did not share a cache entry")
	}

	if got := calls.Load(); got != 2 {
		t.Fatalf("source called %d times, want 2", got)
	}
}

func TestRenderComputesEquivalentWorkOnce(t *testing.T) {
	loader := NewLoader(cache.NewMemory(), time.Minute)
	req := Request{JobID: "job-1", ObjectKey: "uploads/a.png"}
	variant := Variant{ID: "v", Chain: processor.NewComposite(processor.Resize{Width: 48}), Format: "png"}

	var calls atomic.Int64
	source := countingSource(&calls, 96, 96)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := loader.Render(context.Background(), req, variant, source); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("render: %v", err)
	}

	// Concurrent callers coalesce onto one execution; stragglers hit the
	// cache. Either way the source decodes once.
	if got := calls.Load(); got != 1 {
		t.Fatalf("source called %d times, want 1", got)
	}
}

func TestRenderPassesFinalScanContext(t *testing.T) {
	loader := NewLoader(nil, 0)
	req := Request{JobID: "job-9", SourceType: SourceTypeLocalFile, ObjectKey: "uploads/a.png"}

	var seen processor.Context
	probe := processor.New("probe", func(img image.Image, pctx processor.Context) image.Image {
		seen = pctx
		return img
	})

	var calls atomic.Int64
	_, err := loader.Render(context.Background(), req, Variant{
		ID:     "v",
		Chain:  processor.NewComposite(probe),
		Format: "png",
	}, countingSource(&calls, 8, 8))
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if !seen.IsFinal {
		t.Fatal("expected the final-scan flag to be set")
	}
	if seen.Request == nil || seen.Request.JobID != "job-9" {
		t.Fatalf("expected request details in the context, got %+v", seen.Request)
	}
}

func TestRenderReportsNoImage(t *testing.T) {
	loader := NewLoader(nil, 0)

	var calls atomic.Int64
	_, err := loader.Render(context.Background(), Request{JobID: "j", ObjectKey: "k"}, Variant{
		ID:     "v",
		Chain:  processor.NewComposite(processor.Flip{Axis: "diagonal"}),
		Format: "png",
	}, countingSource(&calls, 8, 8))
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
}

func TestRenderPropagatesSourceError(t *testing.T) {
	loader := NewLoader(cache.NewMemory(), time.Minute)
	want := errors.New("source unavailable")

	_, err := loader.Render(context.Background(), Request{JobID: "j", ObjectKey: "k"}, Variant{
		ID:     "v",
		Chain:  processor.NewComposite(),
		Format: "png",
	}, func() (image.Image, error) { return nil, want })
	if !errors.Is(err, want) {
		t.Fatalf("expected the source error, got %v", err)
	}
}

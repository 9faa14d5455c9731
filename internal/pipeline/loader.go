package pipeline

import (
	"bytes"
	"context"
	"image"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dunamismax/imageloom/internal/cache"
	"github.com/dunamismax/imageloom/internal/codec"
	"github.com/dunamismax/imageloom/internal/domain"
	"github.com/dunamismax/imageloom/internal/processor"
)

// Rendered is one encoded variant result.
type Rendered struct {
	Data      []byte
	Format    string
	Width     int
	Height    int
	CacheHit  bool
	Coalesced bool
}

// SourceFunc supplies the decoded source image. The engine memoizes it so
// the source is fetched at most once per request even across variants.
type SourceFunc func() (image.Image, error)

// Loader renders a variant, consulting the result cache first and coalescing
// concurrent equivalent renders into a single execution. The cache and
// coalescing key is derived from the chain's hashable identifier, so two
// requests that would produce byte-identical output share one key and two
// requests that differ in any step share none.
type Loader struct {
	cache cache.Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewLoader builds a loader. store may be nil for coalescing without
// caching; ttl falls back to one hour.
func NewLoader(store cache.Cache, ttl time.Duration) *Loader {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Loader{
		cache: store,
		ttl:   ttl,
	}
}

func (l *Loader) Render(ctx context.Context, req Request, variant Variant, source SourceFunc) (Rendered, error) {
	format := codec.NormalizeFormat(variant.Format)
	key := cache.Key(req.ObjectKey, variant.Chain.Key(), format, variant.Quality)

	if cached, ok := l.lookup(ctx, key); ok {
		return cached, nil
	}

	v, err, shared := l.group.Do(key, func() (any, error) {
		// Another caller may have filled the cache while this one was
		// waiting to enter the group.
		if cached, ok := l.lookup(ctx, key); ok {
			return cached, nil
		}

		img, err := source()
		if err != nil {
			return nil, err
		}

		pctx := processor.Context{
			Request: &domain.ImageRequest{
				JobID:      req.JobID,
				SourceType: req.SourceType,
				ObjectKey:  req.ObjectKey,
			},
			IsFinal: true,
		}

		out := variant.Chain.Process(img, pctx)
		if out == nil {
			return nil, ErrNoImage
		}

		data, err := codec.Encode(out, format, variant.Quality)
		if err != nil {
			return nil, err
		}

		bounds := out.Bounds()
		rendered := Rendered{
			Data:   data,
			Format: format,
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
		}

		if l.cache != nil {
			// Best effort: a failed cache write only costs a recompute.
			_ = l.cache.Set(ctx, key, data, l.ttl)
		}
		return rendered, nil
	})
	if err != nil {
		return Rendered{}, err
	}

	rendered := v.(Rendered)
	rendered.Coalesced = shared
	return rendered, nil
}

func (l *Loader) lookup(ctx context.Context, key string) (Rendered, bool) {
	if l.cache == nil {
		return Rendered{}, false
	}

	data, ok, err := l.cache.Get(ctx, key)
	if err != nil || !ok {
		return Rendered{}, false
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Rendered{}, false
	}

	return Rendered{
		Data:     data,
		Format:   codec.NormalizeFormat(format),
		Width:    cfg.Width,
		Height:   cfg.Height,
		CacheHit: true,
	}, true
}

// Package processor defines the transformation chain applied to decoded
// images and the identity model the pipeline's caching is keyed on.
package processor

import (
	"image"

	"github.com/cespare/xxhash/v2"

	"github.com/dunamismax/imageloom/internal/domain"
)

// Processor is a single named transformation over a decoded image.
//
// Identity contract: Identifier and Key are pure functions of the
// processor's configuration, never of instance identity. Two processors
// built with the same configuration are indistinguishable by identity, and
// any configuration difference must change both values. The pipeline uses
// Key as a cache key, so a violation either serves the wrong image or
// recomputes identical work.
type Processor interface {
	// Identifier returns a stable, human-readable encoding of the
	// processor's configuration.
	Identifier() string

	// Key returns the hashable form of the identifier, used for map-based
	// cache lookups on the hot path.
	Key() uint64

	// Process returns the transformed image, or nil when the input cannot
	// or should not be transformed. A nil result is a valid terminal
	// outcome, not an error.
	Process(img image.Image, pctx Context) image.Image
}

// Context carries per-application metadata. It is constructed fresh for
// each Process call and is read-only during it.
type Context struct {
	// Request is the originating load request, if any.
	Request *domain.ImageRequest

	// IsFinal is false for progressive/intermediate passes.
	IsFinal bool

	// Scan is the progressive scan number, zero when not applicable.
	Scan int
}

// KeyOf derives the hashable identifier from an identifier string. Every
// processor derives its Key this way, which keeps the two identity forms in
// agreement by construction.
func KeyOf(identifier string) uint64 {
	return xxhash.Sum64String(identifier)
}

// New returns a processor whose behavior is the supplied closure and whose
// identity is derived solely from id, never from the function value. The
// caller must pick ids that uniquely describe the closure's configuration.
func New(id string, fn func(image.Image, Context) image.Image) Processor {
	if fn == nil {
		panic("processor: nil process func")
	}
	return anonymous{id: id, fn: fn}
}

type anonymous struct {
	id string
	fn func(image.Image, Context) image.Image
}

func (p anonymous) Identifier() string { return p.id }

func (p anonymous) Key() uint64 { return KeyOf(p.id) }

func (p anonymous) Process(img image.Image, pctx Context) image.Image {
	return p.fn(img, pctx)
}

package processor

import (
	"encoding/binary"
	"image"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// compositeTag seeds both identity forms so the empty chain cannot alias a
// single processor, and so a chain never aliases its own flattened members.
const compositeTag = "composite"

// Composite is an ordered, immutable chain of processors treated as one
// logical transformation. The zero value is the empty chain, which applies
// no transformation. Composites are value-like: share and read them from any
// goroutine without synchronization.
type Composite struct {
	processors []Processor
}

// NewComposite builds a chain from the given processors in order. The slice
// is copied so later mutation of the caller's slice cannot leak in. A nil
// member is a programmer error and panics.
func NewComposite(procs ...Processor) Composite {
	copied := make([]Processor, len(procs))
	for i, p := range procs {
		if p == nil {
			panic("processor: nil processor in composite")
		}
		copied[i] = p
	}
	return Composite{processors: copied}
}

// Len returns the number of member processors.
func (c Composite) Len() int { return len(c.processors) }

// Processors returns a copy of the member chain in order.
func (c Composite) Processors() []Processor {
	out := make([]Processor, len(c.processors))
	copy(out, c.processors)
	return out
}

// Process applies each member in sequence order, short-circuiting with nil
// on the first member that produces no image. The empty chain returns the
// input unchanged.
func (c Composite) Process(img image.Image, pctx Context) image.Image {
	for _, p := range c.processors {
		img = p.Process(img, pctx)
		if img == nil {
			return nil
		}
	}
	return img
}

// Identifier encodes the ordered member identifiers with each one quoted, so
// no two distinct orderings or groupings can produce the same string: the
// quoting escapes the delimiter, and member count and order survive in the
// encoding.
func (c Composite) Identifier() string {
	var b strings.Builder
	b.WriteString(compositeTag)
	b.WriteByte('(')
	for i, p := range c.processors {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(p.Identifier()))
	}
	b.WriteByte(')')
	return b.String()
}

// Key folds member keys in sequence order into a running digest seeded with
// a fixed tag. Any permutation, insertion, or removal changes the result,
// and every empty chain shares one canonical value distinct from any
// non-empty chain.
func (c Composite) Key() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(compositeTag)
	var buf [8]byte
	for _, p := range c.processors {
		binary.LittleEndian.PutUint64(buf[:], p.Key())
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// Equal reports structural identity equality: same length, pairwise
// identifier-equal members in the same order. It agrees exactly with
// Identifier equality. The hash is compared first as a cheap reject; it can
// never produce a false negative since every key is derived from the
// identifier it summarizes.
func (c Composite) Equal(other Composite) bool {
	if len(c.processors) != len(other.processors) {
		return false
	}
	if c.Key() != other.Key() {
		return false
	}
	for i, p := range c.processors {
		if p.Identifier() != other.processors[i].Identifier() {
			return false
		}
	}
	return true
}

package engine

import (
	"github.com/samber/lo"

	"github.com/m1k1o/go-segmentbuffer/pkg/resolver"
	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

// tolerance when matching the play head against a buffered range
const rangeTolerance = 0.1

type cursor struct {
	kind     track.Kind
	resolver *resolver.Resolver
	sink     *guardedSink

	index   int
	state   State
	ended   bool
	errored bool

	// bumped on every seek, switch and ad overlay
	generation uint64

	filling  bool
	burst    int
	failures int

	wake chan struct{}
}

func newCursor(kind track.Kind, r *resolver.Resolver) *cursor {
	return &cursor{
		kind:     kind,
		resolver: r,
		state:    StateUninitialized,
		filling:  true,
		wake:     make(chan struct{}, 1),
	}
}

func (c *cursor) rendition() string {
	return c.resolver.Descriptor().ID
}

func (c *cursor) lastIndex() int {
	return c.resolver.LastSegmentIndex()
}

// indexFor maps t to a segment index within the resolver's range.
func (c *cursor) indexFor(t float64) int {
	return lo.Clamp(c.resolver.Descriptor().IndexForTime(t), 0, c.lastIndex())
}

// nextStart is the presentation start of the segment the cursor fetches
// next.
func (c *cursor) nextStart() float64 {
	return c.resolver.Descriptor().SegmentStart(c.index)
}

func (c *cursor) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// invalidate makes completions of work started before the call stale.
func (c *cursor) invalidate() uint64 {
	c.generation++
	c.failures = 0
	c.burst = 0
	return c.generation
}

// BufferAhead returns how many seconds are buffered past t in the range
// holding t.
func BufferAhead(ranges []Range, t float64) float64 {
	for _, r := range ranges {
		if t >= r.Start-rangeTolerance && t < r.End {
			return r.End - t
		}
	}
	return 0
}

// BufferedPast sums every buffered second after t, gaps excluded.
func BufferedPast(ranges []Range, t float64) float64 {
	total := 0.0
	for _, r := range ranges {
		if r.End > t {
			total += r.End - max(r.Start, t)
		}
	}
	return total
}

// outsideWindow lists the parts of ranges lying outside [start, end).
func outsideWindow(ranges []Range, start, end float64) []Range {
	removals := []Range{}
	for _, r := range ranges {
		if left := min(r.End, start); r.Start < left {
			removals = append(removals, Range{Start: r.Start, End: left})
		}
		if right := max(r.Start, end); right < r.End {
			removals = append(removals, Range{Start: right, End: r.End})
		}
	}
	return removals
}

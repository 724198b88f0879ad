package timeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-segmentbuffer/pkg/resolver"
	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

const (
	MaxSegments        = 10000
	MinSegmentDuration = 0.1
	MaxSegmentDuration = 3600.0
)

var (
	ErrEmpty           = errors.New("no segments provided")
	ErrTooManySegments = errors.New("too many segments")
	ErrInvalidSegment  = errors.New("invalid segment")
	ErrInvalidTime     = errors.New("invalid time")
	ErrIndexOutOfRange = errors.New("segment index out of range")
	ErrDestroyed       = errors.New("timeline destroyed")
)

type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("timeline %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Kind string

const (
	KindContent Kind = "content"
	KindAd      Kind = "ad"
)

type Segment struct {
	URL       string
	Duration  uint64
	Timescale uint32
	Kind      Kind
}

func (s Segment) Seconds() float64 {
	return float64(s.Duration) / float64(s.Timescale)
}

type Option func(*Model)

// WithLogger replaces the global logger the model reports through.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Model) {
		m.logger = logger.With().Str("module", "timeline").Logger()
	}
}

type Model struct {
	logger zerolog.Logger

	mu sync.RWMutex

	segments  []Segment
	starts    []float64
	total     float64
	destroyed bool
}

func New(segments []Segment, opts ...Option) (*Model, error) {
	if len(segments) == 0 {
		return nil, &Error{Op: "new", Err: ErrEmpty}
	}

	if len(segments) > MaxSegments {
		return nil, &Error{Op: "new", Err: fmt.Errorf("%w: %d (max: %d)", ErrTooManySegments, len(segments), MaxSegments)}
	}

	starts := make([]float64, len(segments))
	total := 0.0
	for i, segment := range segments {
		if segment.Timescale == 0 {
			return nil, &Error{Op: "new", Err: fmt.Errorf("%w: segment %d has zero timescale", ErrInvalidSegment, i)}
		}

		d := segment.Seconds()
		if d < MinSegmentDuration {
			return nil, &Error{Op: "new", Err: fmt.Errorf("%w: segment %d too short: %vs (min: %vs)", ErrInvalidSegment, i, d, MinSegmentDuration)}
		}
		if d > MaxSegmentDuration {
			return nil, &Error{Op: "new", Err: fmt.Errorf("%w: segment %d too long: %vs (max: %vs)", ErrInvalidSegment, i, d, MaxSegmentDuration)}
		}

		starts[i] = total
		total += d
	}

	m := &Model{
		logger:   log.With().Str("module", "timeline").Logger(),
		segments: append([]Segment(nil), segments...),
		starts:   starts,
		total:    total,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger.Debug().
		Int("segments", len(segments)).
		Float64("duration", total).
		Msg("timeline initialized")

	return m, nil
}

// FromDescriptor builds a content timeline covering every segment the
// descriptor addresses.
func FromDescriptor(desc track.Descriptor, opts ...Option) (*Model, error) {
	r, err := resolver.New(desc)
	if err != nil {
		return nil, err
	}

	count := r.LastSegmentIndex() + 1
	if count > MaxSegments {
		return nil, &Error{Op: "new", Err: fmt.Errorf("%w: %d (max: %d)", ErrTooManySegments, count, MaxSegments)}
	}

	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		url, err := r.MediaURL(i)
		if err != nil {
			return nil, err
		}

		segments = append(segments, Segment{
			URL:       url,
			Duration:  segmentTicks(desc, i),
			Timescale: desc.Timescale,
			Kind:      KindContent,
		})
	}

	return New(segments, opts...)
}

func segmentTicks(desc track.Descriptor, i int) uint64 {
	if desc.Mode != track.ModeExplicitTimeline {
		return desc.SegmentDuration
	}

	if i+1 < len(desc.Timeline) {
		return desc.Timeline[i+1] - desc.Timeline[i]
	}

	if desc.SegmentDuration > 0 {
		return desc.SegmentDuration
	}

	// last segment without nominal duration, repeat the previous one
	if i > 0 {
		return desc.Timeline[i] - desc.Timeline[i-1]
	}

	return 0
}

func (m *Model) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.destroyed = true
	m.segments = nil
	m.starts = nil

	m.logger.Debug().Msg("timeline destroyed")
}

// IndexForTime returns the index of the segment covering t. Times at or past
// the end map to the last segment.
func (m *Model) IndexForTime(t float64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return 0, &Error{Op: "index for time", Err: ErrDestroyed}
	}

	return m.indexForTime(t)
}

func (m *Model) indexForTime(t float64) (int, error) {
	if t < 0 || math.IsNaN(t) {
		return 0, &Error{Op: "index for time", Err: fmt.Errorf("%w: %v (must be >= 0)", ErrInvalidTime, t)}
	}

	if t >= m.total {
		return len(m.segments) - 1, nil
	}

	i := sort.Search(len(m.starts), func(i int) bool {
		return m.starts[i] > t
	})

	return i - 1, nil
}

func (m *Model) SegmentForTime(t float64) (Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return Segment{}, &Error{Op: "segment for time", Err: ErrDestroyed}
	}

	i, err := m.indexForTime(t)
	if err != nil {
		return Segment{}, err
	}

	return m.segments[i], nil
}

func (m *Model) TotalDuration() (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return 0, &Error{Op: "total duration", Err: ErrDestroyed}
	}

	return m.total, nil
}

func (m *Model) SegmentCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return 0, &Error{Op: "segment count", Err: ErrDestroyed}
	}

	return len(m.segments), nil
}

func (m *Model) SegmentAtIndex(i int) (Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return Segment{}, &Error{Op: "segment at index", Err: ErrDestroyed}
	}

	if i < 0 || i >= len(m.segments) {
		return Segment{}, &Error{Op: "segment at index", Err: fmt.Errorf("%w: %d (valid range: 0-%d)", ErrIndexOutOfRange, i, len(m.segments)-1)}
	}

	return m.segments[i], nil
}

func (m *Model) TimeForIndex(i int) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return 0, &Error{Op: "time for index", Err: ErrDestroyed}
	}

	if i < 0 || i >= len(m.segments) {
		return 0, &Error{Op: "time for index", Err: fmt.Errorf("%w: %d (valid range: 0-%d)", ErrIndexOutOfRange, i, len(m.segments)-1)}
	}

	return m.starts[i], nil
}

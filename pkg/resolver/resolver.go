package resolver

import (
	"errors"
	"fmt"
	"math"
	"net/url"

	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

const (
	// guards against corrupt manifests producing unbounded loops
	MaxSegmentIndex = 100000
	MaxSegmentTime  = 1<<53 - 1
)

var (
	ErrMissingToken      = errors.New("media template lacks required token")
	ErrInvalidDescriptor = errors.New("invalid track descriptor")
	ErrIndexOutOfRange   = errors.New("segment index out of range")
	ErrLimitExceeded     = errors.New("value exceeds defensive limit")
	ErrNoInitialization  = errors.New("track has no initialization template")
)

// Error describes a failed resolution. Index is -1 when the failure is not
// tied to a segment.
type Error struct {
	Op    string
	ID    string
	Index int
	Err   error
}

func (e *Error) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("resolver %s %q: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("resolver %s %q index %d: %v", e.Op, e.ID, e.Index, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Resolver struct {
	desc track.Descriptor
	base *url.URL
	last int
}

// New validates the descriptor and prepares a resolver for it. Malformed
// descriptors are rejected here, before any network I/O happens.
func New(desc track.Descriptor) (*Resolver, error) {
	invalid := func(format string, a ...interface{}) error {
		return &Error{
			Op:    "new",
			ID:    desc.ID,
			Index: -1,
			Err:   fmt.Errorf("%w: %s", ErrInvalidDescriptor, fmt.Sprintf(format, a...)),
		}
	}

	base, err := url.Parse(desc.BaseURL)
	if err != nil {
		return nil, invalid("base url: %v", err)
	}

	if desc.Timescale == 0 {
		return nil, invalid("timescale must be positive")
	}

	if desc.StartIndex < 0 {
		return nil, invalid("start index %d is negative", desc.StartIndex)
	}

	var last int
	switch desc.Mode {
	case track.ModeImplicitCount:
		if !hasToken(desc.MediaTemplate, tokenNumber) {
			return nil, &Error{Op: "new", ID: desc.ID, Index: -1, Err: fmt.Errorf("%w: $%s$ in %q", ErrMissingToken, tokenNumber, desc.MediaTemplate)}
		}

		if desc.SegmentDuration == 0 {
			return nil, invalid("segment duration must be positive")
		}

		if desc.TotalDuration <= 0 || math.IsNaN(desc.TotalDuration) || math.IsInf(desc.TotalDuration, 0) {
			return nil, invalid("total duration %v", desc.TotalDuration)
		}

		// tolerate float drift on exact multiples
		count := math.Floor(desc.TotalDuration/desc.SegmentSeconds() + 1e-9)
		if count < 1 {
			return nil, invalid("total duration %vs shorter than one segment", desc.TotalDuration)
		}

		if count-1 > MaxSegmentIndex || float64(desc.StartIndex)+count > MaxSegmentTime {
			return nil, &Error{Op: "new", ID: desc.ID, Index: -1, Err: fmt.Errorf("%w: %v segments", ErrLimitExceeded, count)}
		}

		last = int(count) - 1
	case track.ModeExplicitTimeline:
		if !hasToken(desc.MediaTemplate, tokenTime) {
			return nil, &Error{Op: "new", ID: desc.ID, Index: -1, Err: fmt.Errorf("%w: $%s$ in %q", ErrMissingToken, tokenTime, desc.MediaTemplate)}
		}

		if len(desc.Timeline) == 0 {
			return nil, invalid("explicit timeline is empty")
		}

		if len(desc.Timeline)-1 > MaxSegmentIndex {
			return nil, &Error{Op: "new", ID: desc.ID, Index: -1, Err: fmt.Errorf("%w: %d segments", ErrLimitExceeded, len(desc.Timeline))}
		}

		for i, t := range desc.Timeline {
			if t > MaxSegmentTime {
				return nil, &Error{Op: "new", ID: desc.ID, Index: i, Err: fmt.Errorf("%w: time %d", ErrLimitExceeded, t)}
			}
			if i > 0 && t <= desc.Timeline[i-1] {
				return nil, invalid("timeline not increasing at %d", i)
			}
		}

		last = len(desc.Timeline) - 1
	default:
		return nil, invalid("unknown addressing mode %q", desc.Mode)
	}

	return &Resolver{
		desc: desc,
		base: base,
		last: last,
	}, nil
}

func (r *Resolver) Descriptor() track.Descriptor {
	return r.desc
}

func (r *Resolver) LastSegmentIndex() int {
	return r.last
}

func (r *Resolver) HasInit() bool {
	return r.desc.InitTemplate != ""
}

func (r *Resolver) InitURL() (string, error) {
	if !r.HasInit() {
		return "", &Error{Op: "init", ID: r.desc.ID, Index: -1, Err: ErrNoInitialization}
	}

	path := expand(r.desc.InitTemplate, substitution{
		representationID: r.desc.ID,
		bandwidth:        r.desc.Bandwidth,
	})

	return r.join("init", -1, path)
}

func (r *Resolver) MediaURL(index int) (string, error) {
	if index < 0 || index > r.last {
		return "", &Error{Op: "media", ID: r.desc.ID, Index: index, Err: fmt.Errorf("%w: valid range 0-%d", ErrIndexOutOfRange, r.last)}
	}

	sub := substitution{
		representationID: r.desc.ID,
		bandwidth:        r.desc.Bandwidth,
	}

	if r.desc.Mode == track.ModeExplicitTimeline {
		t := r.desc.Timeline[index]
		sub.time = &t
	} else {
		n := uint64(r.desc.StartIndex + index)
		sub.number = &n
	}

	return r.join("media", index, expand(r.desc.MediaTemplate, sub))
}

// join resolves path against the base url, absolute paths pass through.
func (r *Resolver) join(op string, index int, path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", &Error{Op: op, ID: r.desc.ID, Index: index, Err: fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)}
	}

	return r.base.ResolveReference(ref).String(), nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

type fakeSink struct {
	mime string

	mu       sync.Mutex
	ranges   []Range
	appends  []Chunk
	removes  []Range
	failData map[string]bool

	active     atomic.Int32
	overlapped atomic.Bool
}

func (s *fakeSink) enter() func() {
	if s.active.Add(1) > 1 {
		s.overlapped.Store(true)
	}
	return func() { s.active.Add(-1) }
}

func (s *fakeSink) Append(ctx context.Context, chunk Chunk) error {
	defer s.enter()()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failData[string(chunk.Data)] {
		return errors.New("append rejected")
	}

	s.appends = append(s.appends, chunk)
	if !chunk.Init {
		s.ranges = AddRange(s.ranges, Range{Start: chunk.Start, End: chunk.Start + chunk.Duration})
	}
	return nil
}

func (s *fakeSink) Remove(ctx context.Context, start, end float64) error {
	defer s.enter()()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removes = append(s.removes, Range{Start: start, End: end})
	s.ranges = SubtractRange(s.ranges, start, end)
	return nil
}

func (s *fakeSink) Buffered() []Range {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Range{}, s.ranges...)
}

// data lists the payloads appended so far, in order.
func (s *fakeSink) data() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []string{}
	for _, chunk := range s.appends {
		out = append(out, string(chunk.Data))
	}
	return out
}

func (s *fakeSink) removed() []Range {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Range{}, s.removes...)
}

type fakeSource struct {
	mu      sync.Mutex
	sinks   map[string]*fakeSink
	initial []Range
	reject  []string

	eos atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		sinks: map[string]*fakeSink{},
	}
}

func (s *fakeSource) CreateSink(mime string) (Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sink := &fakeSink{
		mime:     mime,
		ranges:   append([]Range{}, s.initial...),
		failData: map[string]bool{},
	}
	for _, data := range s.reject {
		sink.failData[data] = true
	}
	s.sinks[strings.SplitN(mime, "/", 2)[0]] = sink
	return sink, nil
}

func (s *fakeSource) EndOfStream() error {
	s.eos.Add(1)
	return nil
}

func (s *fakeSource) sink(kind track.Kind) *fakeSink {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sinks[string(kind)]
}

type fakeClock struct {
	mu    sync.Mutex
	t     float64
	seeks []float64
}

func (c *fakeClock) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *fakeClock) Seek(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = t
	c.seeks = append(c.seeks, t)
}

func (c *fakeClock) set(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = t
}

func (c *fakeClock) seeked() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]float64{}, c.seeks...)
}

// origin serves "init-<id>" for <id>/init.mp4, "<id>-<n>" for
// <id>/seg-<n>.m4s and "<id>-t<n>" for <id>/t-<n>.m4s. A hook may take over
// a path.
type origin struct {
	*httptest.Server

	mu    sync.Mutex
	hooks map[string]http.HandlerFunc
}

func newOrigin(t *testing.T) *origin {
	o := &origin{
		hooks: map[string]http.HandlerFunc{},
	}

	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		hook, ok := o.hooks[r.URL.Path]
		o.mu.Unlock()

		if ok {
			hook(w, r)
			return
		}

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}

		id, file := parts[0], parts[1]
		if file == "init.mp4" {
			fmt.Fprintf(w, "init-%s", id)
			return
		}

		var n int
		if _, err := fmt.Sscanf(file, "t-%d.m4s", &n); err == nil {
			fmt.Fprintf(w, "%s-t%d", id, n)
			return
		}
		if _, err := fmt.Sscanf(file, "seg-%d.m4s", &n); err != nil {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "%s-%d", id, n)
	}))

	t.Cleanup(o.Close)
	return o
}

func (o *origin) hook(path string, fn http.HandlerFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.hooks[path] = fn
}

func descriptor(o *origin, id string, kind track.Kind, segments int) track.Descriptor {
	desc := track.Descriptor{
		ID:              id,
		Kind:            kind,
		BaseURL:         o.URL + "/",
		InitTemplate:    "$RepresentationID$/init.mp4",
		MediaTemplate:   "$RepresentationID$/seg-$Number$.m4s",
		Mode:            track.ModeImplicitCount,
		StartIndex:      1,
		Timescale:       1,
		SegmentDuration: 4,
		TotalDuration:   float64(4 * segments),
		MimeType:        string(kind) + "/mp4",
	}

	if kind == track.KindVideo {
		desc.Codecs = "avc1.64001f"
		desc.Width, desc.Height = 640, 360
		desc.Bandwidth = 800000
	} else {
		desc.Codecs = "mp4a.40.2"
	}

	return desc
}

// timelineDescriptor addresses segments by $Time$, the first one starting at
// first ticks.
func timelineDescriptor(o *origin, id string, first uint64, segments int) track.Descriptor {
	desc := descriptor(o, id, track.KindVideo, segments)
	desc.Mode = track.ModeExplicitTimeline
	desc.MediaTemplate = "$RepresentationID$/t-$Time$.m4s"
	desc.Timeline = make([]uint64, segments)
	for i := range desc.Timeline {
		desc.Timeline[i] = first + uint64(4*i)
	}
	return desc
}

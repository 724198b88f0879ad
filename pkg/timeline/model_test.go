package timeline

import (
	"bytes"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

func threeSegments() []Segment {
	return []Segment{
		{URL: "a", Duration: 2000, Timescale: 1000, Kind: KindContent},
		{URL: "b", Duration: 10, Timescale: 1, Kind: KindAd},
		{URL: "c", Duration: 4, Timescale: 1, Kind: KindContent},
	}
}

func TestSegmentForTime(t *testing.T) {
	m, err := New(threeSegments())
	require.NoError(t, err)

	tests := []struct {
		time float64
		want string
	}{
		{0, "a"},
		{1.999, "a"},
		{2, "b"},
		{11.5, "b"},
		{12, "c"},
		{15.9, "c"},
		// clamps past the end
		{16, "c"},
		{1000, "c"},
	}

	for _, tt := range tests {
		segment, err := m.SegmentForTime(tt.time)
		require.NoError(t, err)
		assert.Equal(t, tt.want, segment.URL, "time %v", tt.time)
	}

	_, err = m.SegmentForTime(-1)
	assert.ErrorIs(t, err, ErrInvalidTime)

	_, err = m.SegmentForTime(math.NaN())
	assert.ErrorIs(t, err, ErrInvalidTime)
}

func TestAccessors(t *testing.T) {
	m, err := New(threeSegments())
	require.NoError(t, err)

	total, err := m.TotalDuration()
	require.NoError(t, err)
	assert.InDelta(t, 16.0, total, 1e-9)

	count, err := m.SegmentCount()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	segment, err := m.SegmentAtIndex(1)
	require.NoError(t, err)
	assert.Equal(t, KindAd, segment.Kind)

	start, err := m.TimeForIndex(2)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, start, 1e-9)

	_, err = m.SegmentAtIndex(3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = m.TimeForIndex(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestDestroy(t *testing.T) {
	m, err := New(threeSegments())
	require.NoError(t, err)

	m.Destroy()

	_, err = m.SegmentForTime(0)
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = m.TotalDuration()
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = m.SegmentCount()
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = m.SegmentAtIndex(0)
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = m.TimeForIndex(0)
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = m.IndexForTime(0)
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestNewValidation(t *testing.T) {
	tooMany := make([]Segment, MaxSegments+1)
	for i := range tooMany {
		tooMany[i] = Segment{Duration: 1, Timescale: 1}
	}

	tests := []struct {
		name     string
		segments []Segment
		want     error
	}{
		{"empty", nil, ErrEmpty},
		{"too many", tooMany, ErrTooManySegments},
		{"zero timescale", []Segment{{Duration: 1}}, ErrInvalidSegment},
		{"too short", []Segment{{Duration: 99, Timescale: 1000}}, ErrInvalidSegment},
		{"too long", []Segment{{Duration: 3601, Timescale: 1}}, ErrInvalidSegment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.segments)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFromDescriptor(t *testing.T) {
	desc := track.Descriptor{
		ID:            "a1",
		Kind:          track.KindAudio,
		BaseURL:       "http://localhost/",
		MediaTemplate: "seg-$Time$.m4s",
		Mode:          track.ModeExplicitTimeline,
		Timeline:      []uint64{0, 4000, 6000},
		Timescale:     1000,
	}

	m, err := FromDescriptor(desc)
	require.NoError(t, err)

	count, err := m.SegmentCount()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	total, err := m.TotalDuration()
	require.NoError(t, err)
	// last segment repeats the previous duration
	assert.InDelta(t, 8.0, total, 1e-9)

	segment, err := m.SegmentForTime(5)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/seg-4000.m4s", segment.URL)
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	m, err := New(threeSegments(), WithLogger(logger))
	require.NoError(t, err)
	m.Destroy()

	out := buf.String()
	assert.Contains(t, out, `"module":"timeline"`)
	assert.Contains(t, out, "timeline initialized")
	assert.Contains(t, out, "timeline destroyed")
}

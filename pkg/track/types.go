package track

import (
	"fmt"
	"math"
	"sort"
)

type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

type AddressingMode string

const (
	// media template carries $Time$, one start time per segment
	ModeExplicitTimeline AddressingMode = "explicit-timeline"
	// media template carries $Number$, counted from StartIndex
	ModeImplicitCount AddressingMode = "implicit-count"
)

// Descriptor is the immutable per-track metadata derived from a manifest.
// Times in Timeline and SegmentDuration are expressed in Timescale ticks,
// TotalDuration in seconds.
type Descriptor struct {
	ID   string
	Kind Kind

	BaseURL       string
	InitTemplate  string
	MediaTemplate string

	Mode            AddressingMode
	Timeline        []uint64
	StartIndex      int
	Timescale       uint32
	SegmentDuration uint64
	TotalDuration   float64

	MimeType string
	Codecs   string

	// video only
	Bandwidth int
	Width     int
	Height    int
}

// MimeCodec returns the value used to create a sink for this track.
func (d Descriptor) MimeCodec() string {
	if d.Codecs == "" {
		return d.MimeType
	}
	return fmt.Sprintf("%s; codecs=\"%s\"", d.MimeType, d.Codecs)
}

func (d Descriptor) Resolution() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// SegmentSeconds returns the nominal segment duration in seconds.
func (d Descriptor) SegmentSeconds() float64 {
	if d.Timescale == 0 {
		return 0
	}
	return float64(d.SegmentDuration) / float64(d.Timescale)
}

// origin is the timeline value presented at time zero. $Time$ keeps the raw
// timeline values, playback time starts at the first segment.
func (d Descriptor) origin() uint64 {
	if d.Mode == ModeExplicitTimeline && len(d.Timeline) > 0 {
		return d.Timeline[0]
	}
	return 0
}

func (d Descriptor) explicit() bool {
	return d.Mode == ModeExplicitTimeline && len(d.Timeline) > 0 && d.Timescale > 0
}

// SegmentStart returns the presentation start of segment i in seconds. An
// index past the last segment maps to the end of the timeline.
func (d Descriptor) SegmentStart(i int) float64 {
	if !d.explicit() {
		return float64(i) * d.SegmentSeconds()
	}

	if i < 0 {
		return 0
	}

	last := len(d.Timeline) - 1
	if i > last {
		return d.SegmentStart(last) + d.SegmentLength(last)
	}
	return float64(d.Timeline[i]-d.origin()) / float64(d.Timescale)
}

// SegmentLength returns the duration of segment i in seconds.
func (d Descriptor) SegmentLength(i int) float64 {
	if d.explicit() && i >= 0 && i+1 < len(d.Timeline) {
		return float64(d.Timeline[i+1]-d.Timeline[i]) / float64(d.Timescale)
	}
	return d.SegmentSeconds()
}

// IndexForTime maps a playback time to a segment index. The result is not
// clamped; callers clamp against the resolver's last index.
func (d Descriptor) IndexForTime(t float64) int {
	if t < 0 || math.IsNaN(t) {
		return 0
	}

	if d.explicit() {
		ticks := t*float64(d.Timescale) + float64(d.origin())
		// first start strictly after t, minus one
		i := sort.Search(len(d.Timeline), func(i int) bool {
			return float64(d.Timeline[i]) > ticks
		})
		if i == 0 {
			return 0
		}
		return i - 1
	}

	seconds := d.SegmentSeconds()
	if seconds <= 0 {
		return 0
	}
	return int(math.Floor(t / seconds))
}

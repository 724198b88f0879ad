package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

var (
	ErrNotInitialized     = errors.New("engine not initialized")
	ErrAlreadyInitialized = errors.New("engine already initialized")
	ErrDestroyed          = errors.New("engine destroyed")
	ErrNoTracks           = errors.New("no tracks registered")
	ErrTrackKind          = errors.New("descriptor has the wrong track kind")
	ErrDuplicateRendition = errors.New("rendition already registered")
	ErrAudioTrackExists   = errors.New("audio track already registered")
	ErrUnknownRendition   = errors.New("unknown rendition")
	ErrUnknownTrack       = errors.New("unknown track")
	ErrAdOverlayDisabled  = errors.New("ad overlay disabled")
	ErrAdActive           = errors.New("ad already active")
)

// SegmentError is reported once a segment has been given up on.
type SegmentError struct {
	Kind      track.Kind
	Rendition string
	Index     int
	URL       string
	Err       error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("%s segment %d of %q (%s): %v", e.Kind, e.Index, e.Rendition, e.URL, e.Err)
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

// Range is a buffered interval [Start, End) in seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Chunk is one unit of bytes handed to a sink. Start and Duration describe
// the presentation interval the bytes cover and are zero for
// initialization segments.
type Chunk struct {
	Data     []byte
	Init     bool
	Start    float64
	Duration float64
}

// Sink is a single track's playback buffer. Calls are never issued
// concurrently for the same sink.
type Sink interface {
	Append(ctx context.Context, chunk Chunk) error
	Remove(ctx context.Context, start, end float64) error
	Buffered() []Range
}

type Source interface {
	CreateSink(mime string) (Sink, error)
	EndOfStream() error
}

// Clock is the playback clock. Seek only repositions it, the engine is told
// about user seeks through OnSeek.
type Clock interface {
	CurrentTime() float64
	Seek(t float64)
}

type State string

const (
	StateUninitialized State = "uninitialized"
	StateBuffering     State = "buffering"
	StateSteady        State = "steady"
	StateSwitching     State = "switching"
	StateSeeking       State = "seeking"
	StateEnded         State = "ended"
)

type Config struct {
	LowWaterMark    float64       // seconds of buffer ahead considered steady
	HighWaterMark   float64       // seconds of buffer ahead never exceeded by scheduling
	MonitorInterval time.Duration // how often buffer ahead is re-checked
	SeekRetention   float64       // seconds kept on both sides of a seek target
	AdOverlay       bool

	// used when the engine creates its own fetcher
	MaxConcurrent  int
	MaxRetries     int
	RetryBaseDelay time.Duration
	Timeout        time.Duration

	SegmentRetries    int           // retries after a failed fetch or append
	SegmentRetryDelay time.Duration // fixed delay between those retries
	PrefetchCount     int           // segments fetched right after a switch
	ClearOnSwitch     bool

	Logger *zerolog.Logger
}

func (c Config) withDefaultValues() Config {
	if c.LowWaterMark <= 0 {
		c.LowWaterMark = 10
	}
	if c.HighWaterMark <= 0 {
		c.HighWaterMark = 30
	}
	if c.HighWaterMark < c.LowWaterMark {
		c.HighWaterMark = c.LowWaterMark
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = time.Second
	}
	if c.SeekRetention < 0 {
		c.SeekRetention = 0
	}
	if c.SegmentRetries < 0 {
		c.SegmentRetries = 0
	}
	if c.SegmentRetryDelay <= 0 {
		c.SegmentRetryDelay = 500 * time.Millisecond
	}
	if c.PrefetchCount < 0 {
		c.PrefetchCount = 0
	}
	return c
}

type Rendition struct {
	ID         string `json:"id"`
	Bandwidth  int    `json:"bandwidth"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Resolution string `json:"resolution"`
	Codecs     string `json:"codecs"`
}

type Ad struct {
	ID       string
	Data     []byte
	Start    float64 // where the ad bytes are placed on the timeline
	Duration float64
	ResumeAt float64 // content time playback returns to after the ad
}

type TrackStatus struct {
	Kind        track.Kind `json:"kind"`
	Rendition   string     `json:"rendition"`
	State       State      `json:"state"`
	Index       int        `json:"index"`
	LastIndex   int        `json:"last_index"`
	NextStart   float64    `json:"next_start"`
	Ended       bool       `json:"ended"`
	Errored     bool       `json:"errored"`
	BufferAhead float64    `json:"buffer_ahead"`
	Buffered    []Range    `json:"buffered"`
	Updating    bool       `json:"updating"`
}

type Status struct {
	Initialized bool          `json:"initialized"`
	CurrentTime float64       `json:"current_time"`
	Rendition   string        `json:"rendition"`
	AdActive    bool          `json:"ad_active"`
	EndOfStream bool          `json:"end_of_stream"`
	Tracks      []TrackStatus `json:"tracks"`
}

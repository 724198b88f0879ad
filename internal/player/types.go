package player

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/m1k1o/go-segmentbuffer/pkg/engine"
	"github.com/m1k1o/go-segmentbuffer/pkg/fetcher"
)

var (
	ErrNotStarted     = errors.New("player not started")
	ErrAlreadyStarted = errors.New("player already started")
	ErrInvalidTime    = errors.New("invalid seek time")
	ErrNoVideo        = errors.New("manifest has no video track")
	ErrAdTooLong      = errors.New("ad longer than the maximum ad duration")
)

// Ad is a single ad break: the bytes at URL are overlaid at At for
// Duration seconds, then content resumes at At.
type Ad struct {
	URL      string  `mapstructure:"url"`
	At       float64 `mapstructure:"at"`
	Duration float64 `mapstructure:"duration"`
}

type Config struct {
	ManifestURL string
	Output      string // directory receiving <kind>.mp4
	Rendition   string // initial rendition id or WxH, first listed when empty

	Rate float64       // playback speed
	Tick time.Duration // clock resolution

	Ads           []Ad
	MaxAdDuration float64 // seconds, longer ads are skipped

	Engine  engine.Config
	Fetcher fetcher.Config

	Fs     afero.Fs
	Logger *zerolog.Logger
}

func (c Config) withDefaultValues() Config {
	if c.Output == "" {
		c.Output = "."
	}
	if c.Rate <= 0 {
		c.Rate = 1
	}
	if c.Tick <= 0 {
		c.Tick = 250 * time.Millisecond
	}
	if c.MaxAdDuration <= 0 {
		c.MaxAdDuration = 30
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	return c
}

type SegmentStatus struct {
	Index    int     `json:"index"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	URL      string  `json:"url"`
}

type FileStatus struct {
	Name   string `json:"name"`
	Bytes  int64  `json:"bytes"`
	Chunks int    `json:"chunks"`
}

// AdStatus records what happened to one configured ad.
type AdStatus struct {
	ID        string    `json:"id,omitempty"`
	URL       string    `json:"url"`
	At        float64   `json:"at"`
	Duration  float64   `json:"duration"`
	Started   time.Time `json:"started,omitzero"`
	Ended     time.Time `json:"ended,omitzero"`
	Completed bool      `json:"completed"`
	Skipped   bool      `json:"skipped"`
	Error     string    `json:"error,omitempty"`
}

type Status struct {
	Manifest string         `json:"manifest"`
	Time     float64        `json:"time"`
	Duration float64        `json:"duration"`
	Stalled  bool           `json:"stalled"`
	Stalls   int            `json:"stalls"`
	Ended    bool           `json:"ended"`
	Segment  *SegmentStatus `json:"segment,omitempty"`
	Engine   engine.Status  `json:"engine"`
	Fetch    fetcher.Stats  `json:"fetch"`
	Files    []FileStatus   `json:"files"`
	Ads      []AdStatus     `json:"ads"`
}

type Manager interface {
	Start(ctx context.Context) error
	Wait(ctx context.Context) error
	Shutdown()

	Status() Status
	Renditions() []engine.Rendition
	Seek(t float64) error
	SwitchRendition(ctx context.Context, key string) error
}

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrSuperseded       = errors.New("request superseded by a newer request for the same url")
	ErrDestroyed        = errors.New("fetcher destroyed")
	ErrMaxRetries       = errors.New("max retries exceeded")
	ErrStatus           = errors.New("unexpected http status")
	ErrTimeout          = errors.New("attempt timed out")
	ErrResponseTooLarge = errors.New("response body exceeds maximum size limit")
)

const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"

	DefaultAcceptEncoding = "gzip, deflate, br"
	DefaultUserAgent      = "go-segmentbuffer/1.0"
)

// Error is returned once a fetch gives up. Status is the last http status
// seen, zero when no response was received.
type Error struct {
	URL      string
	Status   int
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s failed after %d attempts (status %d): %v", e.URL, e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Config struct {
	MaxConcurrent   int           // attempts in flight across all callers
	MaxRetries      int           // attempts per Fetch call
	RetryBaseDelay  time.Duration // base of the exponential backoff
	Timeout         time.Duration // per attempt
	DisableCache    bool
	UserAgent       string
	MaxResponseSize int64 // 0 disables the limit

	CacheCleanupPeriod time.Duration // how often should be cache cleanup called
	CacheExpiration    time.Duration // how long should be response kept in memory, 0 until cleared

	Client *http.Client
	Logger *zerolog.Logger
}

func (c Config) withDefaultValues() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.CacheCleanupPeriod <= 0 {
		c.CacheCleanupPeriod = 30 * time.Second
	}
	if c.CacheExpiration < 0 {
		c.CacheExpiration = 0
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	return c
}

type Stats struct {
	Requests     int64 `json:"requests"`
	Attempts     int64 `json:"attempts"`
	CacheHits    int64 `json:"cache_hits"`
	Failures     int64 `json:"failures"`
	Superseded   int64 `json:"superseded"`
	Bytes        int64 `json:"bytes"`
	InFlight     int64 `json:"in_flight"`
	CacheEntries int   `json:"cache_entries"`
}

type Option func(*options)

type options struct {
	useCache bool
}

// WithoutCache bypasses the cache for a single call, neither reading nor
// populating it.
func WithoutCache() Option {
	return func(o *options) {
		o.useCache = false
	}
}

type Fetcher interface {
	Fetch(ctx context.Context, url string, opts ...Option) ([]byte, error)
	ClearCache()
	Stats() Stats
	Destroy()
}

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

type request struct {
	id     string
	cancel context.CancelCauseFunc
}

type ManagerCtx struct {
	logger zerolog.Logger
	config Config
	sem    *semaphore.Weighted

	cache   map[string]*cacheEntry
	cacheMu sync.RWMutex

	cleanup   bool
	cleanupMu sync.Mutex
	shutdown  chan struct{}

	inflight   map[string]*request
	inflightMu sync.Mutex
	destroyed  bool

	requests   atomic.Int64
	attempts   atomic.Int64
	cacheHits  atomic.Int64
	failures   atomic.Int64
	superseded atomic.Int64
	bytes      atomic.Int64
	inFlight   atomic.Int64
}

func New(config Config) *ManagerCtx {
	config = config.withDefaultValues()

	logger := log.With().Str("module", "fetcher").Logger()
	if config.Logger != nil {
		logger = config.Logger.With().Str("module", "fetcher").Logger()
	}

	return &ManagerCtx{
		logger:   logger,
		config:   config,
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrent)),
		cache:    map[string]*cacheEntry{},
		inflight: map[string]*request{},
	}
}

// Fetch returns the payload at url. A second Fetch for a url still in
// flight cancels the first one, which then fails with ErrSuperseded.
func (m *ManagerCtx) Fetch(ctx context.Context, url string, opts ...Option) ([]byte, error) {
	o := options{useCache: !m.config.DisableCache}
	for _, opt := range opts {
		opt(&o)
	}

	m.requests.Add(1)

	if m.isDestroyed() {
		return nil, &Error{URL: url, Err: ErrDestroyed}
	}

	if o.useCache {
		if data, ok := m.getFromCache(url); ok {
			m.cacheHits.Add(1)
			return data, nil
		}
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	req := &request{
		id:     uuid.NewString(),
		cancel: cancel,
	}

	m.inflightMu.Lock()
	if m.destroyed {
		m.inflightMu.Unlock()
		cancel(ErrDestroyed)
		return nil, &Error{URL: url, Err: ErrDestroyed}
	}
	if prev, ok := m.inflight[url]; ok {
		m.logger.Debug().Str("url", url).Str("request", prev.id).Msg("superseding in-flight request")
		prev.cancel(ErrSuperseded)
	}
	m.inflight[url] = req
	m.inflightMu.Unlock()

	defer func() {
		m.inflightMu.Lock()
		if m.inflight[url] == req {
			delete(m.inflight, url)
		}
		m.inflightMu.Unlock()
		cancel(nil)
	}()

	logger := m.logger.With().Str("url", url).Str("request", req.id).Logger()

	data, status, attempts, err := m.fetchWithRetry(reqCtx, logger, url)
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			m.superseded.Add(1)
		} else {
			m.failures.Add(1)
		}

		logger.Debug().Err(err).Int("attempts", attempts).Msg("fetch failed")
		return nil, &Error{URL: url, Status: status, Attempts: attempts, Err: err}
	}

	m.bytes.Add(int64(len(data)))

	if o.useCache && !m.isDestroyed() {
		m.saveToCache(url, data)
	}

	return data, nil
}

func (m *ManagerCtx) fetchWithRetry(ctx context.Context, logger zerolog.Logger, url string) (data []byte, status int, attempts int, err error) {
	for attempt := 0; attempt < m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := m.backoff(attempt)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, status, attempts, context.Cause(ctx)
			case <-timer.C:
			}
		}

		attempts++
		data, status, err = m.attempt(ctx, url)
		if err == nil {
			return data, status, attempts, nil
		}

		// cancelled by caller, superseded or destroyed
		if ctx.Err() != nil {
			return nil, status, attempts, context.Cause(ctx)
		}

		if errors.Is(err, ErrResponseTooLarge) {
			return nil, status, attempts, err
		}

		logger.Warn().Err(err).
			Int("attempt", attempts).
			Int("max", m.config.MaxRetries).
			Msg("attempt failed")
	}

	return nil, status, attempts, fmt.Errorf("%w: %w", ErrMaxRetries, err)
}

// backoff returns base * 2^attempt scaled by a jitter in [0.5, 1.5).
func (m *ManagerCtx) backoff(attempt int) time.Duration {
	scale := math.Pow(2, float64(attempt)) * (0.5 + rand.Float64())
	return time.Duration(float64(m.config.RetryBaseDelay) * scale)
}

func (m *ManagerCtx) attempt(ctx context.Context, url string) ([]byte, int, error) {
	// waits in fifo order for a free slot
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, err
	}
	defer m.sem.Release(1)

	m.attempts.Add(1)
	m.inFlight.Add(1)
	defer m.inFlight.Add(-1)

	attemptCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set(HeaderUserAgent, m.config.UserAgent)
	req.Header.Set(HeaderAcceptEncoding, DefaultAcceptEncoding)

	resp, err := m.config.Client.Do(req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, 0, fmt.Errorf("%w after %s", ErrTimeout, m.config.Timeout)
		}
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	body, err := m.decode(resp)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	data, err := readLimited(body, m.config.MaxResponseSize)
	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, resp.StatusCode, fmt.Errorf("%w after %s", ErrTimeout, m.config.Timeout)
		}
		return nil, resp.StatusCode, err
	}

	return data, resp.StatusCode, nil
}

func (m *ManagerCtx) isDestroyed() bool {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()

	return m.destroyed
}

func (m *ManagerCtx) Stats() Stats {
	return Stats{
		Requests:     m.requests.Load(),
		Attempts:     m.attempts.Load(),
		CacheHits:    m.cacheHits.Load(),
		Failures:     m.failures.Load(),
		Superseded:   m.superseded.Load(),
		Bytes:        m.bytes.Load(),
		InFlight:     m.inFlight.Load(),
		CacheEntries: m.cacheSize(),
	}
}

// Destroy cancels every in-flight request and drops cache and counters.
// Later calls to Fetch fail with ErrDestroyed.
func (m *ManagerCtx) Destroy() {
	m.inflightMu.Lock()
	m.destroyed = true
	for url, req := range m.inflight {
		req.cancel(ErrDestroyed)
		delete(m.inflight, url)
	}
	m.inflightMu.Unlock()

	m.ClearCache()

	m.requests.Store(0)
	m.attempts.Store(0)
	m.cacheHits.Store(0)
	m.failures.Store(0)
	m.superseded.Store(0)
	m.bytes.Store(0)

	m.logger.Debug().Msg("destroyed")
}

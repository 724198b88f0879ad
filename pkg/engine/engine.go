package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/m1k1o/go-segmentbuffer/pkg/events"
	"github.com/m1k1o/go-segmentbuffer/pkg/fetcher"
	"github.com/m1k1o/go-segmentbuffer/pkg/resolver"
	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

var ErrEmptySegment = errors.New("segment payload is empty")

type job struct {
	gen       uint64
	index     int
	rendition string
	url       string
	err       error

	start    float64
	duration float64
}

type Engine struct {
	logger  zerolog.Logger
	config  Config
	source  Source
	clock   Clock
	events  *events.PlayerEvents
	fetcher fetcher.Fetcher

	ownFetcher bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	renditions  []*resolver.Resolver
	audioTrack  *resolver.Resolver
	video       *cursor
	audio       *cursor
	initialized bool
	destroyed   bool
	adActive    bool
	eosSignaled bool

	unsubscribe []func()
}

// New creates an engine feeding sinks created by source. When f is nil the
// engine creates and owns a fetcher configured from config.
func New(config Config, source Source, clock Clock, ev *events.PlayerEvents, f fetcher.Fetcher) *Engine {
	config = config.withDefaultValues()

	logger := log.With().Str("module", "engine").Logger()
	if config.Logger != nil {
		logger = config.Logger.With().Str("module", "engine").Logger()
	}

	ownFetcher := false
	if f == nil {
		f = fetcher.New(fetcher.Config{
			MaxConcurrent:  config.MaxConcurrent,
			MaxRetries:     config.MaxRetries,
			RetryBaseDelay: config.RetryBaseDelay,
			Timeout:        config.Timeout,
			Logger:         config.Logger,
		})
		ownFetcher = true
	}

	if ev == nil {
		ev = events.NewPlayerEvents(events.WithLogger(logger))
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		logger:     logger,
		config:     config,
		source:     source,
		clock:      clock,
		events:     ev,
		fetcher:    f,
		ownFetcher: ownFetcher,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (e *Engine) Events() *events.PlayerEvents {
	return e.events
}

// AddVideoTrack registers a video rendition. The first one registered is
// played from Init.
func (e *Engine) AddVideoTrack(desc track.Descriptor) error {
	if desc.Kind != track.KindVideo {
		return fmt.Errorf("%w: %q is %s", ErrTrackKind, desc.ID, desc.Kind)
	}

	r, err := resolver.New(desc)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return ErrDestroyed
	}

	exists := lo.ContainsBy(e.renditions, func(x *resolver.Resolver) bool {
		return x.Descriptor().ID == desc.ID
	})
	if exists {
		return fmt.Errorf("%w: %q", ErrDuplicateRendition, desc.ID)
	}

	e.renditions = append(e.renditions, r)
	e.logger.Debug().Str("id", desc.ID).Str("resolution", desc.Resolution()).Int("bandwidth", desc.Bandwidth).Msg("video track added")
	return nil
}

func (e *Engine) AddAudioTrack(desc track.Descriptor) error {
	if desc.Kind != track.KindAudio {
		return fmt.Errorf("%w: %q is %s", ErrTrackKind, desc.ID, desc.Kind)
	}

	r, err := resolver.New(desc)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return ErrDestroyed
	}

	if e.initialized {
		return ErrAlreadyInitialized
	}

	if e.audioTrack != nil {
		return ErrAudioTrackExists
	}

	e.audioTrack = r
	e.logger.Debug().Str("id", desc.ID).Msg("audio track added")
	return nil
}

// Init creates the sinks, appends the initialization segments and starts
// buffering. On error the engine should be destroyed.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if e.initialized {
		e.mu.Unlock()
		return ErrAlreadyInitialized
	}
	if len(e.renditions) == 0 && e.audioTrack == nil {
		e.mu.Unlock()
		return ErrNoTracks
	}

	e.initialized = true
	if len(e.renditions) > 0 {
		e.video = newCursor(track.KindVideo, e.renditions[0])
	}
	if e.audioTrack != nil {
		e.audio = newCursor(track.KindAudio, e.audioTrack)
	}
	cursors := e.cursors()
	e.mu.Unlock()

	for _, c := range cursors {
		if err := e.activate(ctx, c); err != nil {
			return err
		}
	}

	offStart, err := e.events.OnAdStart(func(events.AdInfo) {
		e.setAdActive(true)
	})
	if err != nil {
		return err
	}

	offEnd, err := e.events.OnAdEnd(func(info events.AdInfo) {
		e.endAd(info.ResumeAt)
	})
	if err != nil {
		offStart()
		return err
	}

	e.mu.Lock()
	e.unsubscribe = append(e.unsubscribe, offStart, offEnd)
	for _, c := range cursors {
		c.state = StateBuffering
	}
	e.mu.Unlock()

	for _, c := range cursors {
		e.wg.Add(1)
		go e.run(c)

		e.events.EmitBuffering(events.BufferingInfo{Kind: c.kind})
	}

	e.wg.Add(1)
	go e.monitor()

	e.logger.Info().Int("tracks", len(cursors)).Msg("engine ready")
	e.events.EmitReady()
	return nil
}

// activate creates the sink of a cursor and appends its initialization
// segment.
func (e *Engine) activate(ctx context.Context, c *cursor) error {
	desc := c.resolver.Descriptor()

	sink, err := e.source.CreateSink(desc.MimeCodec())
	if err != nil {
		return fmt.Errorf("create %s sink for %q: %w", c.kind, desc.MimeCodec(), err)
	}

	logger := e.logger.With().Str("submodule", "sink").Str("kind", string(c.kind)).Logger()
	guarded := newGuardedSink(e.ctx, logger, sink, c.notify)

	e.mu.Lock()
	c.sink = guarded
	e.mu.Unlock()

	return e.appendInit(ctx, c.resolver, guarded)
}

func (e *Engine) appendInit(ctx context.Context, r *resolver.Resolver, sink *guardedSink) error {
	if !r.HasInit() {
		return nil
	}

	data, err := e.fetchInit(ctx, r)
	if err != nil {
		return err
	}

	return e.wait(ctx, sink.append(Chunk{Data: data, Init: true}))
}

func (e *Engine) fetchInit(ctx context.Context, r *resolver.Resolver) ([]byte, error) {
	url, err := r.InitURL()
	if err != nil {
		return nil, err
	}

	data, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("initialization segment of %q: %w", r.Descriptor().ID, err)
	}

	return data, nil
}

// wait blocks until a sink mutation completes.
func (e *Engine) wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrDestroyed
	}
}

func (e *Engine) cursors() []*cursor {
	return lo.Compact([]*cursor{e.video, e.audio})
}

func (e *Engine) cursorFor(kind track.Kind) *cursor {
	switch kind {
	case track.KindVideo:
		return e.video
	case track.KindAudio:
		return e.audio
	}
	return nil
}

func (e *Engine) wakeAll() {
	e.mu.Lock()
	cursors := e.cursors()
	e.mu.Unlock()

	for _, c := range cursors {
		c.notify()
	}
}

func (e *Engine) monitor() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.wakeAll()
		}
	}
}

// OnTimeUpdate is called by the host while playback advances.
func (e *Engine) OnTimeUpdate(t float64) {
	e.wakeAll()
}

func (e *Engine) run(c *cursor) {
	defer e.wg.Done()

	for {
		if !e.step(c) {
			select {
			case <-e.ctx.Done():
				return
			case <-c.wake:
			}
		}

		if e.ctx.Err() != nil {
			return
		}
	}
}

// step schedules and processes at most one segment. It reports whether
// there was anything to do.
func (e *Engine) step(c *cursor) bool {
	j, emits, ok := e.schedule(c)
	flush(emits)

	if !ok {
		return false
	}

	e.process(c, j)
	return true
}

func (e *Engine) schedule(c *cursor) (job, []func(), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var emits []func()

	if e.destroyed || e.adActive || c.ended {
		return job{}, nil, false
	}

	switch c.state {
	case StateUninitialized, StateSwitching, StateEnded:
		return job{}, nil, false
	}

	// one mutation at a time
	if c.sink.Updating() {
		return job{}, nil, false
	}

	if c.state == StateSeeking {
		c.state = StateBuffering
	}

	if c.index > c.lastIndex() {
		e.endTrack(c, &emits)
		return job{}, emits, false
	}

	now := e.clock.CurrentTime()
	ahead := BufferAhead(c.sink.Buffered(), now)

	if ahead < e.config.LowWaterMark {
		c.filling = true
		if c.state == StateSteady {
			c.state = StateBuffering
			kind := c.kind
			emits = append(emits, func() {
				e.events.EmitBuffering(events.BufferingInfo{Kind: kind, Ahead: ahead})
			})
		}
	} else if c.state == StateBuffering {
		c.state = StateSteady
	}

	// media past a gap left by a skipped segment counts toward the ceiling
	if max(ahead, BufferedPast(c.sink.Buffered(), now)) >= e.config.HighWaterMark {
		c.filling = false
		return job{}, emits, false
	}

	if !c.filling && c.burst == 0 {
		return job{}, emits, false
	}

	desc := c.resolver.Descriptor()
	j := job{
		gen:       c.generation,
		index:     c.index,
		rendition: desc.ID,
		start:     desc.SegmentStart(c.index),
		duration:  desc.SegmentLength(c.index),
	}
	j.url, j.err = c.resolver.MediaURL(c.index)

	return j, emits, true
}

func (e *Engine) process(c *cursor, j job) {
	logger := e.logger.With().
		Str("kind", string(c.kind)).
		Str("rendition", j.rendition).
		Int("index", j.index).
		Logger()

	// resolution errors are not retried
	if j.err != nil {
		e.skip(c, j, j.err)
		return
	}

	data, err := e.fetcher.Fetch(e.ctx, j.url)
	if err == nil && len(data) == 0 {
		err = ErrEmptySegment
	}
	if err != nil {
		if e.ctx.Err() == nil {
			e.failed(c, j, err)
		}
		return
	}

	e.mu.Lock()
	if c.generation != j.gen || e.destroyed {
		e.mu.Unlock()
		logger.Debug().Msg("discarding stale segment")
		return
	}
	done := c.sink.append(Chunk{
		Data:     data,
		Start:    j.start,
		Duration: j.duration,
	})
	e.mu.Unlock()

	if err := e.wait(e.ctx, done); err != nil {
		if e.ctx.Err() == nil {
			e.failed(c, j, err)
		}
		return
	}

	var emits []func()

	e.mu.Lock()
	if c.generation != j.gen {
		e.mu.Unlock()
		return
	}
	c.index++
	c.failures = 0
	if c.burst > 0 {
		c.burst--
	}
	if c.index > c.lastIndex() {
		e.endTrack(c, &emits)
	}
	e.mu.Unlock()

	logger.Trace().Int("bytes", len(data)).Msg("segment appended")

	e.events.EmitSegmentAppended(events.SegmentInfo{
		Kind:      c.kind,
		Rendition: j.rendition,
		Index:     j.index,
		URL:       j.url,
		Start:     j.start,
		Duration:  j.duration,
		Bytes:     len(data),
	})

	flush(emits)
}

// failed either waits before the segment is tried again or gives up on it.
func (e *Engine) failed(c *cursor, j job, err error) {
	e.mu.Lock()
	if c.generation != j.gen {
		e.mu.Unlock()
		return
	}
	c.failures++
	failures := c.failures
	e.mu.Unlock()

	if failures > e.config.SegmentRetries {
		e.skip(c, j, err)
		return
	}

	e.logger.Warn().Err(err).
		Str("kind", string(c.kind)).
		Int("index", j.index).
		Int("failures", failures).
		Msg("segment failed, retrying")

	timer := time.NewTimer(e.config.SegmentRetryDelay)
	defer timer.Stop()

	select {
	case <-e.ctx.Done():
	case <-timer.C:
	}
}

// skip advances the cursor past a segment that will not be appended.
func (e *Engine) skip(c *cursor, j job, err error) {
	var emits []func()

	e.mu.Lock()
	if c.generation != j.gen {
		e.mu.Unlock()
		return
	}
	c.index++
	c.failures = 0
	if c.index > c.lastIndex() {
		e.endTrack(c, &emits)
	}
	e.mu.Unlock()

	segErr := &SegmentError{
		Kind:      c.kind,
		Rendition: j.rendition,
		Index:     j.index,
		URL:       j.url,
		Err:       err,
	}

	e.logger.Error().Err(segErr).Msg("segment skipped")

	e.events.EmitSegmentError(events.SegmentErrorInfo{
		Kind:      c.kind,
		Rendition: j.rendition,
		Index:     j.index,
		URL:       j.url,
		Err:       segErr,
	})

	flush(emits)
}

// endTrack marks c ended and signals end of stream once every active track
// has ended. Caller holds the lock.
func (e *Engine) endTrack(c *cursor, emits *[]func()) {
	c.ended = true
	c.state = StateEnded

	e.logger.Debug().Str("kind", string(c.kind)).Bool("errored", c.errored).Msg("track ended")

	if e.eosSignaled {
		return
	}

	allEnded := lo.EveryBy(e.cursors(), func(x *cursor) bool {
		return x.ended
	})
	if !allEnded {
		return
	}

	e.eosSignaled = true
	*emits = append(*emits, func() {
		if err := e.source.EndOfStream(); err != nil {
			e.logger.Err(err).Msg("unable to signal end of stream")
		}

		e.logger.Info().Msg("end of stream")
		e.events.EmitEnded()
	})
}

// SinkError reports an asynchronous failure of a track's sink. The track is
// ended instead of being fed again.
func (e *Engine) SinkError(kind track.Kind, err error) error {
	var emits []func()

	e.mu.Lock()
	c := e.cursorFor(kind)
	if c == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTrack, kind)
	}
	c.invalidate()
	c.errored = true
	e.endTrack(c, &emits)
	e.mu.Unlock()

	e.logger.Error().Err(err).Str("kind", string(kind)).Msg("sink error")
	e.events.EmitError(fmt.Errorf("%s sink: %w", kind, err))

	flush(emits)
	return nil
}

func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	for _, off := range unsubscribe {
		off()
	}

	e.cancel()
	e.wg.Wait()

	if e.ownFetcher {
		e.fetcher.Destroy()
	}

	e.logger.Debug().Msg("destroyed")
}

func flush(emits []func()) {
	for _, fn := range emits {
		fn()
	}
}

package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/m1k1o/go-segmentbuffer/internal/manifest"
	"github.com/m1k1o/go-segmentbuffer/pkg/engine"
	"github.com/m1k1o/go-segmentbuffer/pkg/events"
	"github.com/m1k1o/go-segmentbuffer/pkg/fetcher"
	"github.com/m1k1o/go-segmentbuffer/pkg/timeline"
	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

// session holds the parts of one playback. Fields are set once.
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	fetcher *fetcher.ManagerCtx
	events  *events.PlayerEvents
	source  *FileSource
	clock   *Clock
	engine  *engine.Engine
	ads     sync.WaitGroup
}

func (s *session) close(logger zerolog.Logger) {
	s.cancel()

	if s.clock != nil {
		s.clock.Stop()
	}
	if s.engine != nil {
		s.engine.Destroy()
	}

	s.ads.Wait()

	s.events.Destroy()
	s.fetcher.Destroy()

	if s.source != nil {
		if err := s.source.Close(); err != nil {
			logger.Warn().Err(err).Msg("unable to close sinks")
		}
	}
}

type ManagerCtx struct {
	logger zerolog.Logger
	config Config

	mu          sync.Mutex
	starting    bool
	session     *session
	timeline    *timeline.Model
	descriptors map[string]track.Descriptor
	duration    float64
	stalls      int
	adsFired    []bool
	ads         []AdStatus

	done     chan struct{}
	doneOnce sync.Once
}

func New(config Config) *ManagerCtx {
	config = config.withDefaultValues()

	logger := log.With().Str("module", "player").Logger()
	if config.Logger != nil {
		logger = config.Logger.With().Str("module", "player").Logger()
	}

	return &ManagerCtx{
		logger: logger,
		config: config,
		done:   make(chan struct{}),
	}
}

// Start loads the manifest, initializes the engine and starts the clock.
func (m *ManagerCtx) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.starting || m.session != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.starting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
	}()

	fetcherConfig := m.config.Fetcher
	if fetcherConfig.Logger == nil {
		fetcherConfig.Logger = &m.logger
	}
	engineConfig := m.config.Engine
	if engineConfig.Logger == nil {
		engineConfig.Logger = &m.logger
	}

	s := &session{
		fetcher: fetcher.New(fetcherConfig),
		events:  events.NewPlayerEvents(events.WithLogger(m.logger)),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := m.open(ctx, s, engineConfig); err != nil {
		s.close(m.logger)
		return err
	}

	m.mu.Lock()
	m.session = s
	m.mu.Unlock()

	s.clock.Start()
	return nil
}

func (m *ManagerCtx) open(ctx context.Context, s *session, engineConfig engine.Config) error {
	descs, err := manifest.Load(ctx, s.fetcher, m.config.ManifestURL)
	if err != nil {
		return err
	}

	video, audio := partition(descs, m.config.Rendition)
	if len(video) == 0 {
		return ErrNoVideo
	}

	model, err := timeline.FromDescriptor(video[0], timeline.WithLogger(m.logger))
	if err != nil {
		return err
	}

	duration := video[0].TotalDuration

	m.mu.Lock()
	m.descriptors = lo.SliceToMap(video, func(d track.Descriptor) (string, track.Descriptor) {
		return d.ID, d
	})
	m.duration = duration
	m.timeline = model
	m.adsFired = make([]bool, len(m.config.Ads))
	m.ads = lo.Map(m.config.Ads, func(ad Ad, _ int) AdStatus {
		return AdStatus{URL: ad.URL, At: ad.At, Duration: ad.Duration}
	})
	m.mu.Unlock()

	s.source = NewFileSource(m.config.Fs, m.config.Output, m.logger, nil)
	s.clock = NewClock(ClockConfig{
		Rate:     m.config.Rate,
		Interval: m.config.Tick,
		Duration: duration,
		Ahead:    s.source.BufferAhead,
		OnTime:   func(t float64) { m.onTime(s, t) },
		OnStall:  func(t float64) { m.onStall(s, t) },
		Logger:   m.logger,
	})
	s.engine = engine.New(engineConfig, s.source, s.clock, s.events, s.fetcher)

	for _, desc := range video {
		if err := s.engine.AddVideoTrack(desc); err != nil {
			return err
		}
	}
	if audio != nil {
		if err := s.engine.AddAudioTrack(*audio); err != nil {
			return err
		}
	}

	m.subscribe(s)

	if err := s.engine.Init(ctx); err != nil {
		return err
	}

	m.logger.Info().
		Str("manifest", m.config.ManifestURL).
		Str("rendition", video[0].ID).
		Bool("audio", audio != nil).
		Float64("duration", duration).
		Msg("playback started")

	return nil
}

// partition returns the video descriptors with the preferred rendition
// first, and the audio descriptor if any.
func partition(descs []track.Descriptor, preferred string) ([]track.Descriptor, *track.Descriptor) {
	video := lo.Filter(descs, func(d track.Descriptor, _ int) bool {
		return d.Kind == track.KindVideo
	})

	if preferred != "" {
		match := func(d track.Descriptor) bool {
			return d.ID == preferred || d.Resolution() == preferred
		}
		sort.SliceStable(video, func(i, j int) bool {
			return match(video[i]) && !match(video[j])
		})
	}

	audio, ok := lo.Find(descs, func(d track.Descriptor) bool {
		return d.Kind == track.KindAudio
	})
	if !ok {
		return video, nil
	}
	return video, &audio
}

func (m *ManagerCtx) subscribe(s *session) {
	_, _ = s.events.OnSegmentError(func(info events.SegmentErrorInfo) {
		m.logger.Warn().
			Str("kind", string(info.Kind)).
			Str("rendition", info.Rendition).
			Int("index", info.Index).
			Err(info.Err).
			Msg("segment lost")

		if s.clock.Stalled() {
			m.skipGap(s, s.clock.CurrentTime())
		}
	})

	_, _ = s.events.OnSegmentAppended(func(events.SegmentInfo) {
		if s.clock.Stalled() {
			m.skipGap(s, s.clock.CurrentTime())
		}
	})

	_, _ = s.events.OnBuffering(func(info events.BufferingInfo) {
		m.logger.Debug().Str("kind", string(info.Kind)).Float64("ahead", info.Ahead).Msg("buffering")
	})

	_, _ = s.events.OnError(func(err error) {
		m.logger.Err(err).Msg("playback error")
	})

	_, _ = s.events.OnAdEnd(func(info events.AdInfo) {
		m.logger.Info().Str("ad", info.AdID).Float64("resume_at", info.ResumeAt).Msg("ad finished")
	})

	_, _ = s.events.OnAdSkipped(func(info events.AdInfo) {
		m.logger.Debug().Str("ad", info.AdID).Msg("ad skipped")
	})

	_, _ = s.events.OnEnded(func() {
		switch {
		case s.clock.Ended():
			m.finish()
		case s.clock.Stalled():
			m.skipGap(s, s.clock.CurrentTime())
		}
	})
}

func (m *ManagerCtx) onTime(s *session, t float64) {
	s.engine.OnTimeUpdate(t)
	s.events.EmitTimeUpdate(t)

	m.scheduleAds(s, t)

	if s.clock.Ended() && s.source.Ended() {
		m.finish()
	}
}

func (m *ManagerCtx) onStall(s *session, t float64) {
	m.mu.Lock()
	m.stalls++
	m.mu.Unlock()

	// an empty kind reports the play head itself
	s.events.EmitBuffering(events.BufferingInfo{})

	m.skipGap(s, t)
}

// skipGap moves a stalled play head to the next buffered media once the
// segments under it have been given up on.
func (m *ManagerCtx) skipGap(s *session, t float64) {
	next, ok := nextRange(s.source, t)
	if !ok {
		if s.source.Ended() {
			m.finish()
		}
		return
	}

	if !s.source.Ended() && !abandoned(s.engine.Status(), t) {
		return
	}

	m.logger.Info().Float64("from", t).Float64("to", next).Msg("skipping gap")
	s.clock.Seek(next)
}

// abandoned reports whether every track lacking media at t has moved past
// it.
func abandoned(status engine.Status, t float64) bool {
	return lo.EveryBy(status.Tracks, func(ts engine.TrackStatus) bool {
		return ts.Ended || engine.BufferAhead(ts.Buffered, t) > 0 || ts.NextStart > t
	})
}

// nextRange returns the earliest buffered start after t.
func nextRange(source *FileSource, t float64) (float64, bool) {
	next := math.Inf(1)
	for _, kind := range []track.Kind{track.KindVideo, track.KindAudio} {
		sink, ok := source.Sink(kind)
		if !ok {
			continue
		}
		for _, r := range sink.Buffered() {
			if r.Start > t && r.Start < next {
				next = r.Start
			}
		}
	}
	return next, !math.IsInf(next, 1)
}

func (m *ManagerCtx) scheduleAds(s *session, t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}

	for i, ad := range m.config.Ads {
		if m.adsFired[i] || t < ad.At {
			continue
		}

		m.adsFired[i] = true
		s.ads.Add(1)
		go m.playAd(s, i, ad)
	}
}

// updateAd applies fn to the record of the i-th configured ad.
func (m *ManagerCtx) updateAd(i int, fn func(*AdStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i < len(m.ads) {
		fn(&m.ads[i])
	}
}

func (m *ManagerCtx) playAd(s *session, i int, ad Ad) {
	defer s.ads.Done()

	id := uuid.NewString()
	logger := m.logger.With().Str("ad", id).Str("url", ad.URL).Logger()

	skip := func(err error) {
		logger.Warn().Err(err).Msg("ad not inserted")
		m.updateAd(i, func(a *AdStatus) {
			a.Skipped = true
			a.Error = err.Error()
		})
		s.events.EmitAdSkipped(events.AdInfo{AdID: id, ResumeAt: ad.At})
	}

	m.updateAd(i, func(a *AdStatus) { a.ID = id })

	if ad.Duration > m.config.MaxAdDuration {
		skip(fmt.Errorf("%w: %vs (max: %vs)", ErrAdTooLong, ad.Duration, m.config.MaxAdDuration))
		return
	}

	data, err := s.fetcher.Fetch(s.ctx, ad.URL, fetcher.WithoutCache())
	if err != nil {
		skip(err)
		return
	}

	err = s.engine.InsertAd(s.ctx, engine.Ad{
		ID:       id,
		Data:     data,
		Start:    ad.At,
		Duration: ad.Duration,
		ResumeAt: ad.At,
	})
	if errors.Is(err, engine.ErrAdOverlayDisabled) || errors.Is(err, engine.ErrAdActive) {
		skip(err)
		return
	}
	if err != nil {
		// ad-error was emitted and content resumed
		m.updateAd(i, func(a *AdStatus) { a.Error = err.Error() })
		return
	}

	m.updateAd(i, func(a *AdStatus) { a.Started = time.Now() })

	timer := time.NewTimer(time.Duration(ad.Duration * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return
	case <-timer.C:
	}

	m.updateAd(i, func(a *AdStatus) {
		a.Ended = time.Now()
		a.Completed = true
	})
	s.events.EmitAdEnd(events.AdInfo{AdID: id, ResumeAt: ad.At})
}

func (m *ManagerCtx) finish() {
	m.doneOnce.Do(func() {
		m.logger.Info().Msg("playback finished")
		close(m.done)
	})
}

func (m *ManagerCtx) current() (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, ErrNotStarted
	}
	return m.session, nil
}

// Wait blocks until playback finishes or ctx is done.
func (m *ManagerCtx) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *ManagerCtx) Renditions() []engine.Rendition {
	s, err := m.current()
	if err != nil {
		return []engine.Rendition{}
	}
	return s.engine.Renditions()
}

func (m *ManagerCtx) Seek(t float64) error {
	if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTime, t)
	}

	s, err := m.current()
	if err != nil {
		return err
	}

	s.clock.Seek(t)
	now := s.clock.CurrentTime()
	s.engine.OnSeek(now)

	m.logger.Info().Float64("time", now).Msg("seek")
	return nil
}

func (m *ManagerCtx) SwitchRendition(ctx context.Context, key string) error {
	s, err := m.current()
	if err != nil {
		return err
	}

	if err := s.engine.SwitchRendition(ctx, key); err != nil {
		return err
	}

	current, ok := s.engine.CurrentRendition()
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	desc, ok := m.descriptors[current.ID]
	if !ok {
		return nil
	}

	model, err := timeline.FromDescriptor(desc, timeline.WithLogger(m.logger))
	if err != nil {
		return err
	}

	if m.timeline != nil {
		m.timeline.Destroy()
	}
	m.timeline = model
	return nil
}

func (m *ManagerCtx) Status() Status {
	m.mu.Lock()
	s := m.session
	model := m.timeline
	status := Status{
		Manifest: m.config.ManifestURL,
		Duration: m.duration,
		Stalls:   m.stalls,
		Files:    []FileStatus{},
		Ads:      append([]AdStatus{}, m.ads...),
	}
	m.mu.Unlock()

	select {
	case <-m.done:
		status.Ended = true
	default:
	}

	if s == nil {
		return status
	}

	status.Time = s.clock.CurrentTime()
	status.Stalled = s.clock.Stalled()
	status.Engine = s.engine.Status()
	status.Fetch = s.fetcher.Stats()

	if model != nil {
		if index, err := model.IndexForTime(status.Time); err == nil {
			segment, _ := model.SegmentAtIndex(index)
			start, _ := model.TimeForIndex(index)
			status.Segment = &SegmentStatus{
				Index:    index,
				Start:    start,
				Duration: segment.Seconds(),
				URL:      segment.URL,
			}
		}
	}

	for _, kind := range []track.Kind{track.KindVideo, track.KindAudio} {
		sink, ok := s.source.Sink(kind)
		if !ok {
			continue
		}
		bytes, chunks := sink.Written()
		status.Files = append(status.Files, FileStatus{
			Name:   sink.Name(),
			Bytes:  bytes,
			Chunks: chunks,
		})
	}

	return status
}

// Shutdown stops playback and releases every resource.
func (m *ManagerCtx) Shutdown() {
	m.mu.Lock()
	s := m.session
	model := m.timeline
	m.session = nil
	m.timeline = nil
	m.mu.Unlock()

	if s != nil {
		s.close(m.logger)
	}
	if model != nil {
		model.Destroy()
	}

	m.finish()
	m.logger.Debug().Msg("player stopped")
}

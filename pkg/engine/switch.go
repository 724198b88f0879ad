package engine

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/m1k1o/go-segmentbuffer/pkg/resolver"
	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

func (e *Engine) findRendition(key string) (*resolver.Resolver, bool) {
	return lo.Find(e.renditions, func(r *resolver.Resolver) bool {
		desc := r.Descriptor()
		return desc.ID == key || desc.Resolution() == key
	})
}

// SwitchRendition makes the rendition identified by key, its id or its
// WxH resolution, the current video track. Fetching continues from the
// segment holding the current playback time and the clock is moved to that
// segment's start.
func (e *Engine) SwitchRendition(ctx context.Context, key string) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if !e.initialized {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	if e.video == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTrack, track.KindVideo)
	}
	r, ok := e.findRendition(key)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownRendition, key)
	}
	if e.video.resolver == r {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	// nothing changes until the new initialization segment is available
	var initData []byte
	if r.HasInit() {
		data, err := e.fetchInit(ctx, r)
		if err != nil {
			return err
		}
		initData = data
	}

	c := e.video

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}

	if c.sink == nil {
		sink, err := e.source.CreateSink(r.Descriptor().MimeCodec())
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("create video sink for %q: %w", r.Descriptor().MimeCodec(), err)
		}
		logger := e.logger.With().Str("submodule", "sink").Str("kind", string(c.kind)).Logger()
		c.sink = newGuardedSink(e.ctx, logger, sink, c.notify)
	}

	from := c.rendition()
	gen := c.invalidate()
	c.state = StateSwitching
	c.resolver = r
	c.errored = false
	c.ended = false
	c.filling = true
	c.index = c.indexFor(e.clock.CurrentTime())
	e.eosSignaled = false

	if e.config.ClearOnSwitch {
		for _, br := range c.sink.Buffered() {
			c.sink.remove(br.Start, br.End)
		}
	}

	var done <-chan error
	if initData != nil {
		done = c.sink.append(Chunk{Data: initData, Init: true})
	}

	index := c.index
	boundary := r.Descriptor().SegmentStart(index)
	e.mu.Unlock()

	e.logger.Info().
		Str("from", from).
		Str("to", r.Descriptor().ID).
		Int("index", index).
		Msg("switching rendition")

	if done != nil {
		if err := e.wait(ctx, done); err != nil {
			e.resumeAfterSwitch(c, gen)
			e.events.EmitError(fmt.Errorf("switch to %q: %w", r.Descriptor().ID, err))
			return err
		}
	}

	if e.resumeAfterSwitch(c, gen) {
		e.clock.Seek(boundary)
	}

	c.notify()
	return nil
}

// resumeAfterSwitch lets the cursor buffer again, starting with a prefetch
// burst. It reports false when the switch has been superseded meanwhile.
func (e *Engine) resumeAfterSwitch(c *cursor, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c.generation != gen {
		return false
	}

	c.state = StateBuffering
	c.burst = e.config.PrefetchCount
	return true
}

func (e *Engine) Renditions() []Rendition {
	e.mu.Lock()
	defer e.mu.Unlock()

	return lo.Map(e.renditions, func(r *resolver.Resolver, _ int) Rendition {
		return toRendition(r.Descriptor())
	})
}

func (e *Engine) CurrentRendition() (Rendition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.video == nil {
		return Rendition{}, false
	}

	return toRendition(e.video.resolver.Descriptor()), true
}

func toRendition(desc track.Descriptor) Rendition {
	return Rendition{
		ID:         desc.ID,
		Bandwidth:  desc.Bandwidth,
		Width:      desc.Width,
		Height:     desc.Height,
		Resolution: desc.Resolution(),
		Codecs:     desc.Codecs,
	}
}

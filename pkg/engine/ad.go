package engine

import (
	"context"
	"fmt"

	"github.com/m1k1o/go-segmentbuffer/pkg/events"
	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

// InsertAd replaces everything buffered on the video track with the ad
// bytes. Scheduling stays paused until ad-end is emitted, which returns
// playback to ad.ResumeAt.
func (e *Engine) InsertAd(ctx context.Context, ad Ad) error {
	if !e.config.AdOverlay {
		return ErrAdOverlayDisabled
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if !e.initialized {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	if e.video == nil || e.video.sink == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTrack, track.KindVideo)
	}
	if e.adActive {
		e.mu.Unlock()
		return ErrAdActive
	}

	c := e.video
	c.invalidate()
	e.adActive = true

	if ranges := c.sink.Buffered(); len(ranges) > 0 {
		c.sink.remove(ranges[0].Start, ranges[len(ranges)-1].End)
	}

	done := c.sink.append(Chunk{
		Data:     ad.Data,
		Start:    ad.Start,
		Duration: ad.Duration,
	})
	e.mu.Unlock()

	e.logger.Info().
		Str("ad", ad.ID).
		Float64("start", ad.Start).
		Float64("resume_at", ad.ResumeAt).
		Msg("ad overlay started")

	e.events.EmitAdStart(events.AdInfo{AdID: ad.ID, ResumeAt: ad.ResumeAt})

	if err := e.wait(ctx, done); err != nil {
		e.events.EmitAdError(events.AdErrorInfo{AdID: ad.ID, Err: err})
		e.endAd(ad.ResumeAt)
		return fmt.Errorf("ad %q: %w", ad.ID, err)
	}

	return nil
}

func (e *Engine) setAdActive(active bool) {
	e.mu.Lock()
	e.adActive = active
	e.mu.Unlock()

	if !active {
		e.wakeAll()
	}
}

// endAd resumes content playback at resumeAt.
func (e *Engine) endAd(resumeAt float64) {
	e.mu.Lock()
	if !e.adActive || e.destroyed {
		e.mu.Unlock()
		return
	}
	e.adActive = false
	e.mu.Unlock()

	e.logger.Info().Float64("resume_at", resumeAt).Msg("ad overlay ended")

	e.clock.Seek(resumeAt)
	e.OnSeek(resumeAt)
}

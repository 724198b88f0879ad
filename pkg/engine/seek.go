package engine

import (
	"math"

	"github.com/samber/lo"
)

// OnSeek repositions every active track to t. Buffered data outside the
// retention window around t is queued for removal and fetching resumes from
// the segment holding t.
func (e *Engine) OnSeek(t float64) {
	if t < 0 || math.IsNaN(t) {
		t = 0
	}

	e.mu.Lock()
	if !e.initialized || e.destroyed {
		e.mu.Unlock()
		return
	}

	cursors := e.cursors()
	for _, c := range cursors {
		// an errored track stays ended
		if c.errored || c.sink == nil {
			continue
		}

		c.invalidate()
		c.state = StateSeeking

		window := e.config.SeekRetention
		for _, r := range outsideWindow(c.sink.Buffered(), t-window, t+window) {
			c.sink.remove(r.Start, r.End)
		}

		c.index = c.indexFor(t)
		c.ended = false
		c.filling = true

		e.logger.Debug().
			Str("kind", string(c.kind)).
			Float64("time", t).
			Int("index", c.index).
			Msg("seek")
	}

	// end of stream is signalled again once the tracks run out again
	if lo.SomeBy(cursors, func(c *cursor) bool { return !c.ended }) {
		e.eosSignaled = false
	}
	e.mu.Unlock()

	for _, c := range cursors {
		c.notify()
	}
}

package engine

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := Status{
		Initialized: e.initialized,
		AdActive:    e.adActive,
		EndOfStream: e.eosSignaled,
		Tracks:      []TrackStatus{},
	}

	if !e.initialized {
		return status
	}

	status.CurrentTime = e.clock.CurrentTime()

	if e.video != nil {
		status.Rendition = e.video.rendition()
	}

	for _, c := range e.cursors() {
		ts := TrackStatus{
			Kind:      c.kind,
			Rendition: c.rendition(),
			State:     c.state,
			Index:     c.index,
			LastIndex: c.lastIndex(),
			Ended:     c.ended,
			Errored:   c.errored,
			NextStart: c.nextStart(),
			Buffered:  []Range{},
		}

		if c.sink != nil {
			ts.Buffered = c.sink.Buffered()
			ts.BufferAhead = BufferAhead(ts.Buffered, status.CurrentTime)
			ts.Updating = c.sink.Updating()
		}

		status.Tracks = append(status.Tracks, ts)
	}

	return status
}

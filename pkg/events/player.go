package events

import (
	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

const (
	EventReady           = "ready"
	EventSegmentAppended = "segment-appended"
	EventSegmentError    = "segment-error"
	EventBuffering       = "buffering"
	EventEnded           = "ended"
	EventError           = "error"
	EventTimeUpdate      = "timeupdate"

	EventAdStart   = "ad-start"
	EventAdEnd     = "ad-end"
	EventAdError   = "ad-error"
	EventAdSkipped = "ad-skipped"
)

type SegmentInfo struct {
	Kind      track.Kind `json:"kind"`
	Rendition string     `json:"rendition"`
	Index     int        `json:"index"`
	URL       string     `json:"url"`
	Start     float64    `json:"start"`
	Duration  float64    `json:"duration"`
	Bytes     int        `json:"bytes"`
}

type SegmentErrorInfo struct {
	Kind      track.Kind
	Rendition string
	Index     int
	URL       string
	Err       error
}

type BufferingInfo struct {
	Kind  track.Kind
	Ahead float64
}

type AdInfo struct {
	AdID     string
	ResumeAt float64
}

type AdErrorInfo struct {
	AdID string
	Err  error
}

// PlayerEvents is the typed view of a Bus used between the engine and the
// player.
type PlayerEvents struct {
	*Bus
}

func NewPlayerEvents(opts ...Option) *PlayerEvents {
	return &PlayerEvents{
		Bus: NewBus(opts...),
	}
}

func on[T any](b *Bus, event string, fn func(T)) (func(), error) {
	return b.On(event, func(payload any) {
		if v, ok := payload.(T); ok {
			fn(v)
		}
	})
}

func onSignal(b *Bus, event string, fn func()) (func(), error) {
	return b.On(event, func(any) {
		fn()
	})
}

func (p *PlayerEvents) emit(event string, payload any) {
	if err := p.Emit(event, payload); err != nil {
		p.logger.Warn().Err(err).Str("event", event).Msg("unable to emit event")
	}
}

func (p *PlayerEvents) OnReady(fn func()) (func(), error) {
	return onSignal(p.Bus, EventReady, fn)
}

func (p *PlayerEvents) OnSegmentAppended(fn func(SegmentInfo)) (func(), error) {
	return on(p.Bus, EventSegmentAppended, fn)
}

func (p *PlayerEvents) OnSegmentError(fn func(SegmentErrorInfo)) (func(), error) {
	return on(p.Bus, EventSegmentError, fn)
}

func (p *PlayerEvents) OnBuffering(fn func(BufferingInfo)) (func(), error) {
	return on(p.Bus, EventBuffering, fn)
}

func (p *PlayerEvents) OnEnded(fn func()) (func(), error) {
	return onSignal(p.Bus, EventEnded, fn)
}

func (p *PlayerEvents) OnError(fn func(error)) (func(), error) {
	return on(p.Bus, EventError, fn)
}

func (p *PlayerEvents) OnTimeUpdate(fn func(float64)) (func(), error) {
	return on(p.Bus, EventTimeUpdate, fn)
}

func (p *PlayerEvents) OnAdStart(fn func(AdInfo)) (func(), error) {
	return on(p.Bus, EventAdStart, fn)
}

func (p *PlayerEvents) OnAdEnd(fn func(AdInfo)) (func(), error) {
	return on(p.Bus, EventAdEnd, fn)
}

func (p *PlayerEvents) OnAdError(fn func(AdErrorInfo)) (func(), error) {
	return on(p.Bus, EventAdError, fn)
}

func (p *PlayerEvents) OnAdSkipped(fn func(AdInfo)) (func(), error) {
	return on(p.Bus, EventAdSkipped, fn)
}

func (p *PlayerEvents) EmitReady() {
	p.emit(EventReady, nil)
}

func (p *PlayerEvents) EmitSegmentAppended(info SegmentInfo) {
	p.emit(EventSegmentAppended, info)
}

func (p *PlayerEvents) EmitSegmentError(info SegmentErrorInfo) {
	p.emit(EventSegmentError, info)
}

func (p *PlayerEvents) EmitBuffering(info BufferingInfo) {
	p.emit(EventBuffering, info)
}

func (p *PlayerEvents) EmitEnded() {
	p.emit(EventEnded, nil)
}

func (p *PlayerEvents) EmitError(err error) {
	p.emit(EventError, err)
}

func (p *PlayerEvents) EmitTimeUpdate(t float64) {
	p.emit(EventTimeUpdate, t)
}

func (p *PlayerEvents) EmitAdStart(info AdInfo) {
	p.emit(EventAdStart, info)
}

func (p *PlayerEvents) EmitAdEnd(info AdInfo) {
	p.emit(EventAdEnd, info)
}

func (p *PlayerEvents) EmitAdError(info AdErrorInfo) {
	p.emit(EventAdError, info)
}

func (p *PlayerEvents) EmitAdSkipped(info AdInfo) {
	p.emit(EventAdSkipped, info)
}

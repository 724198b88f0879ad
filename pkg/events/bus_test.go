package events

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

func TestBusOrderAndUnsubscribe(t *testing.T) {
	b := NewBus()

	var calls []string
	_, err := b.On("x", func(any) { calls = append(calls, "first") })
	require.NoError(t, err)
	off, err := b.On("x", func(any) { calls = append(calls, "second") })
	require.NoError(t, err)
	_, err = b.On("x", func(any) { calls = append(calls, "third") })
	require.NoError(t, err)

	require.NoError(t, b.Emit("x", nil))
	assert.Equal(t, []string{"first", "second", "third"}, calls)

	off()
	calls = nil
	require.NoError(t, b.Emit("x", nil))
	assert.Equal(t, []string{"first", "third"}, calls)
	assert.Equal(t, 2, b.ListenerCount("x"))
}

func TestBusOnce(t *testing.T) {
	b := NewBus()

	count := 0
	_, err := b.Once("x", func(any) { count++ })
	require.NoError(t, err)
	assert.Equal(t, 1, b.ListenerCount("x"))

	require.NoError(t, b.Emit("x", nil))
	require.NoError(t, b.Emit("x", nil))

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, b.ListenerCount("x"))
}

func TestBusPanickingHandler(t *testing.T) {
	b := NewBus()

	reached := false
	_, _ = b.On("x", func(any) { panic("boom") })
	_, _ = b.On("x", func(any) { reached = true })

	assert.NotPanics(t, func() {
		require.NoError(t, b.Emit("x", nil))
	})
	assert.True(t, reached)
}

func TestBusValidation(t *testing.T) {
	b := NewBus()

	_, err := b.On("", func(any) {})
	assert.ErrorIs(t, err, ErrInvalidEventName)

	_, err = b.On(strings.Repeat("e", MaxEventNameLength+1), func(any) {})
	assert.ErrorIs(t, err, ErrInvalidEventName)

	_, err = b.On("x", nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	assert.ErrorIs(t, b.Emit("", nil), ErrInvalidEventName)

	for i := 0; i < MaxListeners; i++ {
		_, err := b.On("full", func(any) {})
		require.NoError(t, err)
	}
	_, err = b.On("full", func(any) {})
	assert.ErrorIs(t, err, ErrTooManyListeners)
}

func TestBusRemoveAllAndDestroy(t *testing.T) {
	b := NewBus()

	_, _ = b.On("a", func(any) {})
	_, _ = b.On("b", func(any) {})

	b.RemoveAll("a")
	assert.Equal(t, 0, b.ListenerCount("a"))
	assert.Equal(t, 1, b.ListenerCount("b"))

	b.RemoveAll("")
	assert.Equal(t, 0, b.ListenerCount("b"))

	called := false
	_, _ = b.On("c", func(any) { called = true })
	b.Destroy()

	assert.NoError(t, b.Emit("c", nil))
	assert.False(t, called)

	_, err := b.On("c", func(any) {})
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestPlayerEventsTyped(t *testing.T) {
	p := NewPlayerEvents()

	var got SegmentInfo
	_, err := p.OnSegmentAppended(func(info SegmentInfo) { got = info })
	require.NoError(t, err)

	var gotErr error
	_, err = p.OnError(func(err error) { gotErr = err })
	require.NoError(t, err)

	ready := false
	_, err = p.OnReady(func() { ready = true })
	require.NoError(t, err)

	p.EmitSegmentAppended(SegmentInfo{Kind: track.KindVideo, Index: 4, Bytes: 10})
	p.EmitError(errors.New("sink failed"))
	p.EmitReady()

	assert.Equal(t, 4, got.Index)
	assert.Equal(t, track.KindVideo, got.Kind)
	assert.EqualError(t, gotErr, "sink failed")
	assert.True(t, ready)
}

func TestBusWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	p := NewPlayerEvents(WithLogger(logger))
	_, err := p.OnEnded(func() { panic("boom") })
	require.NoError(t, err)

	p.EmitEnded()

	out := buf.String()
	assert.Contains(t, out, `"submodule":"bus"`)
	assert.Contains(t, out, "event handler panicked")
}

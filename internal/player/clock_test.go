package player

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockAdvancesWithinBuffer(t *testing.T) {
	var (
		mu     sync.Mutex
		ahead  = 1.5
		times  []float64
		stalls int
	)

	c := NewClock(ClockConfig{
		Rate:     2,
		Interval: 500 * time.Millisecond,
		Duration: 10,
		Ahead: func(float64) float64 {
			mu.Lock()
			defer mu.Unlock()
			return ahead
		},
		OnTime: func(t float64) {
			mu.Lock()
			defer mu.Unlock()
			times = append(times, t)
		},
		OnStall: func(float64) {
			mu.Lock()
			defer mu.Unlock()
			stalls++
		},
	})

	// one second per tick, limited by the buffer
	c.tick()
	assert.InDelta(t, 1.0, c.CurrentTime(), 1e-9)

	mu.Lock()
	ahead = 0.5
	mu.Unlock()

	c.tick()
	assert.InDelta(t, 1.5, c.CurrentTime(), 1e-9)
	assert.False(t, c.Stalled())

	mu.Lock()
	ahead = 0
	mu.Unlock()

	c.tick()
	c.tick()
	assert.InDelta(t, 1.5, c.CurrentTime(), 1e-9)
	assert.True(t, c.Stalled())

	mu.Lock()
	assert.Equal(t, []float64{1, 1.5}, times)
	assert.Equal(t, 1, stalls)
	ahead = 100
	mu.Unlock()

	c.Seek(9.5)
	c.tick()
	assert.InDelta(t, 10.0, c.CurrentTime(), 1e-9)
	assert.True(t, c.Ended())
	assert.False(t, c.Stalled())

	c.Seek(-3)
	assert.Zero(t, c.CurrentTime())
	c.Seek(50)
	assert.InDelta(t, 10.0, c.CurrentTime(), 1e-9)
}

func TestClockRuns(t *testing.T) {
	c := NewClock(ClockConfig{
		Rate:     10,
		Interval: 5 * time.Millisecond,
		Ahead:    func(float64) float64 { return 1 },
	})

	c.Start()
	c.Start()

	require.Eventually(t, func() bool {
		return c.CurrentTime() > 0.1
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	c.Stop()

	stopped := c.CurrentTime()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, c.CurrentTime())
}

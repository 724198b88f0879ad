package player

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type ClockConfig struct {
	Rate     float64       // playback speed, 1 is real time
	Interval time.Duration // tick period
	Duration float64       // end of the presentation in seconds, 0 if unknown

	// Ahead reports the seconds buffered past t. It is never called with
	// the clock lock held.
	Ahead func(t float64) float64
	// OnTime is called after every advance.
	OnTime func(t float64)
	// OnStall is called when playback runs out of buffer.
	OnStall func(t float64)

	Logger zerolog.Logger
}

func (c ClockConfig) withDefaultValues() ClockConfig {
	if c.Rate <= 0 {
		c.Rate = 1
	}
	if c.Interval <= 0 {
		c.Interval = 250 * time.Millisecond
	}
	if c.Ahead == nil {
		c.Ahead = func(float64) float64 { return 0 }
	}
	return c
}

// Clock is a simulated play head. It advances at Rate while there is
// buffered media ahead of it and stalls otherwise.
type Clock struct {
	logger zerolog.Logger
	config ClockConfig

	mu      sync.Mutex
	t       float64
	seq     uint64
	stalled bool
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewClock(config ClockConfig) *Clock {
	config = config.withDefaultValues()

	return &Clock{
		logger: config.Logger.With().Str("submodule", "clock").Logger(),
		config: config,
	}
}

func (c *Clock) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

// Seek moves the play head without notifying anyone.
func (c *Clock) Seek(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.clamp(t)
	c.seq++
}

func (c *Clock) Stalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stalled
}

// Ended reports whether the play head reached the known duration.
func (c *Clock) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.config.Duration > 0 && c.t >= c.config.Duration
}

func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}

	c.running = true
	c.stop = make(chan struct{})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.tick()
			}
		}
	}()

	c.logger.Debug().Float64("rate", c.config.Rate).Dur("interval", c.config.Interval).Msg("clock started")
}

func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Debug().Msg("clock stopped")
}

func (c *Clock) clamp(t float64) float64 {
	if t < 0 || t != t {
		return 0
	}
	if c.config.Duration > 0 && t > c.config.Duration {
		return c.config.Duration
	}
	return t
}

// tick advances the play head by one interval, limited by the buffer ahead.
func (c *Clock) tick() {
	c.mu.Lock()
	t, seq := c.t, c.seq
	atEnd := c.config.Duration > 0 && t >= c.config.Duration
	c.mu.Unlock()

	if atEnd {
		return
	}

	ahead := c.config.Ahead(t)
	step := min(c.config.Rate*c.config.Interval.Seconds(), ahead)

	c.mu.Lock()
	if seq != c.seq {
		// seeked while measuring
		c.mu.Unlock()
		return
	}

	stalled := step <= 0
	wasStalled := c.stalled
	c.stalled = stalled
	c.t = c.clamp(t + max(step, 0))
	now := c.t
	c.mu.Unlock()

	if stalled && !wasStalled {
		c.logger.Debug().Float64("time", now).Msg("playback stalled")
		if c.config.OnStall != nil {
			c.config.OnStall(now)
		}
	}

	if step > 0 && c.config.OnTime != nil {
		c.config.OnTime(now)
	}
}

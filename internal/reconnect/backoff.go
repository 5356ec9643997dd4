// Package reconnect schedules transport reconnects with exponential backoff.
package reconnect

import (
	"math"
	"sync"
	"time"
)

type Controller struct {
	mu         sync.Mutex
	initial    time.Duration
	max        time.Duration
	multiplier float64
	attempt    int
	timer      *time.Timer
}

func NewController(initial, max time.Duration, multiplier float64) *Controller {
	if multiplier < 1 {
		multiplier = 1
	}
	return &Controller{initial: initial, max: max, multiplier: multiplier}
}

// Schedule runs fn after the backoff delay for the current attempt. At most
// one timer is pending: scheduling again cancels the previous one. Returns
// the delay used.
func (c *Controller) Schedule(fn func()) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	delay := c.delayFor(c.attempt)
	c.attempt++
	c.timer = time.AfterFunc(delay, fn)
	return delay
}

// NextDelay previews the delay the next Schedule call would use.
func (c *Controller) NextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delayFor(c.attempt)
}

// Reset clears the attempt counter after a successful reconnect and cancels
// any pending timer.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = 0
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Stop cancels a pending reconnect without touching the attempt counter.
// Used on user-initiated close.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) delayFor(attempt int) time.Duration {
	d := time.Duration(float64(c.initial) * math.Pow(c.multiplier, float64(attempt)))
	if d > c.max || d < 0 {
		return c.max
	}
	return d
}

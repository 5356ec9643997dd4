package reconnect

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDelaySequenceGrowsAndCaps(t *testing.T) {
	c := NewController(1*time.Second, 30*time.Second, 2.0)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := c.NextDelay(); got != w {
			t.Fatalf("attempt %d: next delay = %v, want %v", i, got, w)
		}
		if got := c.Schedule(func() {}); got != w {
			t.Fatalf("attempt %d: scheduled delay = %v, want %v", i, got, w)
		}
	}
	c.Stop()
}

func TestResetRestoresInitialDelay(t *testing.T) {
	c := NewController(1*time.Second, 30*time.Second, 2.0)
	for i := 0; i < 5; i++ {
		c.Schedule(func() {})
	}
	c.Reset()
	if got := c.NextDelay(); got != 1*time.Second {
		t.Fatalf("delay after reset = %v, want 1s", got)
	}
	c.Stop()
}

func TestOnlyLatestScheduleFires(t *testing.T) {
	c := NewController(20*time.Millisecond, 20*time.Millisecond, 1.0)
	var first, second atomic.Int32

	c.Schedule(func() { first.Add(1) })
	// Re-scheduling cancels the pending attempt.
	c.Schedule(func() { second.Add(1) })

	time.Sleep(100 * time.Millisecond)
	if first.Load() != 0 {
		t.Fatal("cancelled attempt must not fire")
	}
	if second.Load() != 1 {
		t.Fatal("latest attempt must fire")
	}
	c.Stop()
}

func TestStopCancelsPendingAttempt(t *testing.T) {
	c := NewController(10*time.Millisecond, 10*time.Millisecond, 1.0)
	var fired atomic.Int32
	c.Schedule(func() { fired.Add(1) })
	c.Stop()
	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("stopped attempt must not fire")
	}
}

func TestMultiplierBelowOneClamped(t *testing.T) {
	c := NewController(1*time.Second, 30*time.Second, 0.5)
	if got := c.NextDelay(); got != 1*time.Second {
		t.Fatalf("delay = %v, want 1s (multiplier clamped to 1)", got)
	}
}

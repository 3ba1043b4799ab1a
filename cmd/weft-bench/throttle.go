package main

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"
)

// throttleConfig tunes the adaptive backoff applied when the target
// signals overload.
type throttleConfig struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Exponent      float64 // growth factor per consecutive overload response
	JitterPercent int     // 0-100, share of the delay added at random
	StatusCodes   []int
}

func defaultThrottleConfig() *throttleConfig {
	return &throttleConfig{
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Exponent:      2.0,
		JitterPercent: 20,
		StatusCodes:   []int{429, 503, 507},
	}
}

// throttler slows workers down while the target keeps answering with
// overload status codes and releases them once it recovers.
type throttler struct {
	config  atomic.Pointer[throttleConfig]
	counter atomic.Int32
	active  atomic.Bool
}

func newThrottler(config *throttleConfig) *throttler {
	t := &throttler{}
	if config == nil {
		config = defaultThrottleConfig()
	}
	t.config.Store(config)
	return t
}

// Observe updates the throttle state from a response status code and
// reports whether it counted as overload.
func (t *throttler) Observe(statusCode int) bool {
	config := t.config.Load()
	for _, code := range config.StatusCodes {
		if code == statusCode {
			t.counter.Add(1)
			t.active.Store(true)
			return true
		}
	}
	if t.active.Load() {
		t.counter.Store(0)
		t.active.Store(false)
	}
	return false
}

// Wait sleeps for the current backoff delay, if any.
func (t *throttler) Wait() {
	if delay := t.delay(); delay > 0 {
		time.Sleep(delay)
	}
}

func (t *throttler) delay() time.Duration {
	if !t.active.Load() {
		return 0
	}
	config := t.config.Load()

	base := config.BaseDelay
	if config.Exponent > 1.0 {
		count := t.counter.Load() - 1
		if count < 0 {
			count = 0
		}
		base = min(config.MaxDelay, time.Duration(float64(base)*math.Pow(config.Exponent, float64(count))))
	}

	jitterPercent := min(max(float64(config.JitterPercent), 0), 100)
	jitter := time.Duration(rand.Int63n(int64(float64(base)*jitterPercent/100) + 1))

	return min(config.MaxDelay, base+jitter)
}

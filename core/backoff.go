package core

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultRetryMaxAttempts    = 3
	defaultRetryInitialBackoff = time.Second
	defaultRetryMaxBackoff     = 30 * time.Second
	defaultRetryJitterRatio    = 0.1
)

// ExponentialBackoffScheduler doubles the delay per attempt up to Max and
// spreads retries with a small random jitter so concurrent workers do not
// synchronize their redelivery storms.
type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
	rand    func() float64
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRetryInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRetryMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	jitter := s.Jitter
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	if jitter == 0 {
		return delay
	}
	random := s.rand
	if random == nil {
		random = rand.Float64
	}
	// Spread inside [delay*(1-jitter), delay*(1+jitter)].
	spread := 1 + jitter*(2*random()-1)
	jittered := time.Duration(float64(delay) * spread)
	if jittered <= 0 {
		return delay
	}
	return jittered
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ BackoffScheduler = ExponentialBackoffScheduler{}

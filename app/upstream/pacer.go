package upstream

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pechincha/harvester/app/metrics"
)

const (
	jitterFraction   = 0.2
	recoveryStreak   = 5
	recoveryFactor   = 0.9
	rateLimitFactor  = 2.0
	rateLimitCeiling = 4.0
	errorFactor      = 1.5
	errorCeiling     = 2.0
)

// Pacer spaces out sequential requests and adapts the spacing to observed
// errors: exponential-style backoff on rate limits, a gentler penalty on
// other errors, and gradual recovery after a streak of successes. State is
// in-memory only and resets on restart.
type Pacer struct {
	mu sync.Mutex

	baseDelay time.Duration
	minDelay  time.Duration
	maxDelay  time.Duration

	backoffMultiplier    float64
	consecutiveSuccesses int
	lastRequest          time.Time
}

func NewPacer(requestsPerMinute int, minDelay, maxDelay time.Duration) *Pacer {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	return &Pacer{
		baseDelay:         time.Minute / time.Duration(requestsPerMinute),
		minDelay:          minDelay,
		maxDelay:          maxDelay,
		backoffMultiplier: 1.0,
	}
}

// Wait blocks until the effective delay has elapsed since the previous call
// returned. The first call returns immediately. Cancelling the context
// interrupts the sleep.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	var sleep time.Duration
	if !p.lastRequest.IsZero() {
		delay := p.effectiveDelay()
		metrics.PacerDelay.Set(delay.Seconds())
		if elapsed := time.Since(p.lastRequest); elapsed < delay {
			sleep = delay - elapsed
		}
	}
	p.mu.Unlock()

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	p.mu.Lock()
	p.lastRequest = time.Now()
	p.mu.Unlock()
	return nil
}

// effectiveDelay applies the backoff multiplier and fresh ±20% jitter, then
// clamps to [minDelay, maxDelay]. Callers must hold p.mu.
func (p *Pacer) effectiveDelay() time.Duration {
	delay := float64(p.baseDelay) * p.backoffMultiplier
	delay += delay * jitterFraction * (2*rand.Float64() - 1)
	return p.clamp(time.Duration(delay))
}

func (p *Pacer) clamp(d time.Duration) time.Duration {
	if d < p.minDelay {
		d = p.minDelay
	}
	if d > p.maxDelay {
		d = p.maxDelay
	}
	return d
}

func (p *Pacer) OnSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consecutiveSuccesses++
	if p.consecutiveSuccesses >= recoveryStreak && p.backoffMultiplier > 1.0 {
		p.backoffMultiplier = max(1.0, p.backoffMultiplier*recoveryFactor)
		p.consecutiveSuccesses = 0
	}
}

func (p *Pacer) OnRateLimited() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consecutiveSuccesses = 0
	p.backoffMultiplier = min(rateLimitCeiling, p.backoffMultiplier*rateLimitFactor)
}

func (p *Pacer) OnOtherError() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consecutiveSuccesses = 0
	p.backoffMultiplier = min(errorCeiling, p.backoffMultiplier*errorFactor)
}

type PacerStats struct {
	CurrentDelay         time.Duration
	BackoffMultiplier    float64
	ConsecutiveSuccesses int
}

// Stats is a pure snapshot: CurrentDelay is the clamped base delay under the
// current multiplier, without jitter or metric updates.
func (p *Pacer) Stats() PacerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PacerStats{
		CurrentDelay:         p.clamp(time.Duration(float64(p.baseDelay) * p.backoffMultiplier)),
		BackoffMultiplier:    p.backoffMultiplier,
		ConsecutiveSuccesses: p.consecutiveSuccesses,
	}
}

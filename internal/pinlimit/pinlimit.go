// Package pinlimit throttles repeated PIN attempts per token, one
// golang.org/x/time/rate limiter per token identity instead of one
// process-wide limiter.
package pinlimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config controls the throttle's shape.
type Config struct {
	AttemptsPerMinute float64
	Burst             int
}

// DefaultConfig matches a cautious PIN-retry budget: five attempts per
// minute with a burst of three, enough for a fat-fingered retry without
// opening a path to online PIN guessing.
func DefaultConfig() Config {
	return Config{AttemptsPerMinute: 5, Burst: 3}
}

// Limiter tracks one rate.Limiter per token identity (keyed by slot index),
// created lazily on first use.
type Limiter struct {
	cfg      Config
	mu       sync.Mutex
	perToken map[int]*rate.Limiter
}

// New creates a Limiter with cfg.
func New(cfg Config) *Limiter {
	if cfg.AttemptsPerMinute <= 0 {
		cfg.AttemptsPerMinute = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	return &Limiter{cfg: cfg, perToken: make(map[int]*rate.Limiter)}
}

func (l *Limiter) limiterFor(slot int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.perToken[slot]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.AttemptsPerMinute/60.0), l.cfg.Burst)
		l.perToken[slot] = lim
	}
	return lim
}

// Allow reports whether another login attempt against slot may proceed right
// now, consuming one token from that slot's budget if so.
func (l *Limiter) Allow(slot int) bool {
	return l.limiterFor(slot).Allow()
}

// Reset clears the throttle for slot, called after a successful login so a
// legitimate user isn't penalized by earlier failed attempts.
func (l *Limiter) Reset(slot int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.perToken, slot)
}

// ResetAll clears every tracked slot, used when a token is removed and its
// slot index may later be reused by a different physical token.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perToken = make(map[int]*rate.Limiter)
}

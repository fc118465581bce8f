// Package ratex provides per-key attempt limiting for credential flows.
// Each key (typically a normalised email address) gets its own token
// bucket; idle buckets are evicted periodically so ephemeral keys don't
// accumulate.
package ratex

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the limiting parameters.
type Config struct {
	// Attempts is the number of attempts allowed per window.
	Attempts int
	// Window is the time window the attempts are spread over.
	Window time.Duration
	// Burst allows short bursts above the steady rate. Zero means Attempts.
	Burst int
}

// DefaultLoginLimit suits password login endpoints: 5 attempts per minute
// per key, all available as a burst.
var DefaultLoginLimit = Config{
	Attempts: 5,
	Window:   time.Minute,
	Burst:    5,
}

// Limiter manages token-bucket limiters for independent keys.
type Limiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

// New creates a Limiter from the given config.
func New(cfg Config) *Limiter {
	if cfg.Attempts <= 0 {
		cfg = DefaultLoginLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Attempts
	}

	return &Limiter{
		rate:        rate.Limit(float64(cfg.Attempts) / cfg.Window.Seconds()),
		burst:       cfg.Burst,
		lastCleanup: time.Now(),
	}
}

// Allow reports whether an attempt for key may proceed, consuming one
// token if so. An empty key is always allowed.
func (l *Limiter) Allow(key string) bool {
	if key == "" {
		return true
	}
	return l.getLimiter(key).Allow()
}

func (l *Limiter) getLimiter(key string) *rate.Limiter {
	// Fast path: limiter already exists
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(l.rate, l.burst)
	actual, _ := l.limiters.LoadOrStore(key, limiter)

	l.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup evicts limiters that have refilled completely, which marks
// them as idle. Runs at most once every 5 minutes.
func (l *Limiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) < 5*time.Minute {
		return
	}
	l.lastCleanup = time.Now()

	l.limiters.Range(func(key, value any) bool {
		limiter := value.(*rate.Limiter)
		if limiter.Tokens() >= float64(l.burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}

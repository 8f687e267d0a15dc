// Package ratelimit throttles request rates per caller identity using a
// sliding window over recorded request timestamps.
package ratelimit

import (
	"sync"
	"time"

	gateerrors "github.com/stacklok/toolgate/pkg/errors"
)

// Default thresholds.
const (
	DefaultPerMinute = 60
	DefaultPerHour   = 1000
)

// Config configures a Limiter.
type Config struct {
	// PerMinute is the request budget inside any 60-second window.
	PerMinute int

	// PerHour is the request budget inside any one-hour window.
	PerHour int
}

// Limiter is a sliding-window rate limiter keyed by caller identity.
// Counters are shared mutable state and updated under a single lock so
// concurrent bursts cannot undercount.
type Limiter struct {
	perMinute int
	perHour   int

	mu      sync.Mutex
	windows map[string][]time.Time

	// now is swapped in tests.
	now func() time.Time
}

// NewLimiter creates a Limiter. Non-positive thresholds use the defaults.
func NewLimiter(config Config) *Limiter {
	perMinute := config.PerMinute
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	perHour := config.PerHour
	if perHour <= 0 {
		perHour = DefaultPerHour
	}
	return &Limiter{
		perMinute: perMinute,
		perHour:   perHour,
		windows:   make(map[string][]time.Time),
		now:       time.Now,
	}
}

// Check admits or rejects a request from the identity. On admission the
// request is recorded; on rejection the returned error carries the
// duration after which a retry can succeed, computed from the oldest
// timestamp still inside the exceeded window.
func (l *Limiter) Check(identity string) error {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Prune anything older than the widest window.
	recent := l.windows[identity][:0:cap(l.windows[identity])]
	for _, ts := range l.windows[identity] {
		if now.Sub(ts) < time.Hour {
			recent = append(recent, ts)
		}
	}

	if err := checkWindow(recent, now, time.Minute, l.perMinute); err != nil {
		l.windows[identity] = recent
		return err
	}
	if err := checkWindow(recent, now, time.Hour, l.perHour); err != nil {
		l.windows[identity] = recent
		return err
	}

	l.windows[identity] = append(recent, now)
	return nil
}

// Reset forgets all recorded requests for the identity.
func (l *Limiter) Reset(identity string) {
	l.mu.Lock()
	delete(l.windows, identity)
	l.mu.Unlock()
}

// checkWindow rejects when the count inside the window meets or exceeds
// the limit.
func checkWindow(timestamps []time.Time, now time.Time, window time.Duration, limit int) error {
	count := 0
	var oldest time.Time
	for _, ts := range timestamps {
		if now.Sub(ts) < window {
			if count == 0 || ts.Before(oldest) {
				oldest = ts
			}
			count++
		}
	}

	if count >= limit {
		retryAfter := window - now.Sub(oldest)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return gateerrors.NewRateLimitedError("request rate limit exceeded", retryAfter)
	}
	return nil
}

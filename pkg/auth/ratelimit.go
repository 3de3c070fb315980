package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether an identity may make another request.
type RateLimiter interface {
	Allow(id *Identity) error
}

// InProcessLimiter keeps one token bucket per subject and tier. Each tier
// refills at its requests-per-minute rate and bursts up to the same amount.
type InProcessLimiter struct {
	tiers      map[string]int
	defaultRPM int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewInProcessLimiter creates a limiter. tiers maps tier names to
// requests per minute; unknown tiers use defaultRPM. A rate of zero or
// less disables limiting for that tier.
func NewInProcessLimiter(tiers map[string]int, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		buckets:    make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token for id.
func (l *InProcessLimiter) Allow(id *Identity) error {
	tier := id.Tier
	if tier == "" {
		tier = "default"
	}
	rpm, ok := l.tiers[tier]
	if !ok {
		rpm = l.defaultRPM
	}
	if rpm <= 0 {
		return nil
	}

	if !l.bucket(id.Subject+"/"+tier, rpm).Allow() {
		return ErrTooManyRequests
	}
	return nil
}

func (l *InProcessLimiter) bucket(key string, rpm int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
		l.buckets[key] = b
	}
	return b
}

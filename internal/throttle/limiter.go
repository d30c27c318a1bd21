// Package throttle admits or rejects write requests keyed by (actor, scope)
// under configured rates such as "1/15seconds" or "100/minute". State is
// process-local and ephemeral; a restart resets every quota.
package throttle

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrInvalidRate indicates a rate string the grammar does not accept.
	ErrInvalidRate = errors.New("throttle: invalid rate")

	ratePattern = regexp.MustCompile(`^(\d+)/(\d*)(second|minute|hour|day)s?$`)

	unitDurations = map[string]time.Duration{
		"second": time.Second,
		"minute": time.Minute,
		"hour":   time.Hour,
		"day":    24 * time.Hour,
	}
)

// Rate is a parsed quota: Permits admits per Window.
type Rate struct {
	Permits int
	Window  time.Duration
}

// ParseRate parses the "n/d-units" rate grammar. The span digits are
// optional: "1/15seconds" is one permit per fifteen seconds, "100/minute"
// is one hundred per minute.
func ParseRate(raw string) (Rate, error) {
	match := ratePattern.FindStringSubmatch(raw)
	if match == nil {
		return Rate{}, fmt.Errorf("%w: %q", ErrInvalidRate, raw)
	}

	permits, err := strconv.Atoi(match[1])
	if err != nil || permits < 1 {
		return Rate{}, fmt.Errorf("%w: %q", ErrInvalidRate, raw)
	}

	span := 1
	if match[2] != "" {
		span, err = strconv.Atoi(match[2])
		if err != nil || span < 1 {
			return Rate{}, fmt.Errorf("%w: %q", ErrInvalidRate, raw)
		}
	}

	return Rate{Permits: permits, Window: time.Duration(span) * unitDurations[match[3]]}, nil
}

// interval is the refill period of the equivalent token bucket.
func (r Rate) interval() time.Duration {
	return r.Window / time.Duration(r.Permits)
}

// Decision is the outcome of a check. On rejection RetryAfter holds the wait
// until the next permit.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds reports the wait rounded up to whole seconds, the unit
// the rejection message uses.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

// LimiterConfig carries the scope → rate-string table and an optional clock.
type LimiterConfig struct {
	Rates map[string]string
	Clock func() time.Time
}

// Limiter enforces independent quotas per (actor, scope). Each key gets a
// token bucket with burst n refilled every window/n, which yields exactly n
// admits per window and an explicit wait on rejection. Check-and-consume is
// atomic per key.
type Limiter struct {
	mu    sync.Mutex
	rates map[string]Rate
	keyed map[string]*rate.Limiter
	clock func() time.Time
}

// NewLimiter parses the configured rate table and constructs the limiter.
func NewLimiter(cfg LimiterConfig) (*Limiter, error) {
	rates := make(map[string]Rate, len(cfg.Rates))
	for scope, raw := range cfg.Rates {
		parsed, err := ParseRate(raw)
		if err != nil {
			return nil, fmt.Errorf("scope %q: %w", scope, err)
		}
		rates[scope] = parsed
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Limiter{
		rates: rates,
		keyed: make(map[string]*rate.Limiter),
		clock: clock,
	}, nil
}

// Check consumes one permit for (actor, scope) when quota remains. A scope
// with no configured rate always admits. There is no identity-based bypass:
// admins spend quota like everyone else.
func (l *Limiter) Check(actor, scope string) Decision {
	l.mu.Lock()
	quota, configured := l.rates[scope]
	if !configured {
		l.mu.Unlock()
		return Decision{Allowed: true}
	}

	key := scope + ":" + actor
	bucket, ok := l.keyed[key]
	if !ok {
		bucket = rate.NewLimiter(rate.Every(quota.interval()), quota.Permits)
		l.keyed[key] = bucket
	}
	l.mu.Unlock()

	now := l.clock()
	reservation := bucket.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{Allowed: false, RetryAfter: quota.Window}
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

package throttle

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestParseRate(t *testing.T) {
	cases := []struct {
		raw     string
		permits int
		window  time.Duration
	}{
		{raw: "1/15seconds", permits: 1, window: 15 * time.Second},
		{raw: "100/minute", permits: 100, window: time.Minute},
		{raw: "5/second", permits: 5, window: time.Second},
		{raw: "3/2hours", permits: 3, window: 2 * time.Hour},
		{raw: "1000/day", permits: 1000, window: 24 * time.Hour},
		{raw: "10/minutes", permits: 10, window: time.Minute},
	}
	for _, testCase := range cases {
		parsed, err := ParseRate(testCase.raw)
		if err != nil {
			t.Fatalf("ParseRate(%q) failed: %v", testCase.raw, err)
		}
		if parsed.Permits != testCase.permits {
			t.Fatalf("ParseRate(%q) permits = %d, want %d", testCase.raw, parsed.Permits, testCase.permits)
		}
		if parsed.Window != testCase.window {
			t.Fatalf("ParseRate(%q) window = %v, want %v", testCase.raw, parsed.Window, testCase.window)
		}
	}
}

func TestParseRateRejectsMalformedStrings(t *testing.T) {
	for _, raw := range []string{
		"",
		"minute",
		"100/",
		"/minute",
		"100 per minute",
		"100/fortnight",
		"0/minute",
		"-1/minute",
		"100/0seconds",
		"100/minute extra",
	} {
		if _, err := ParseRate(raw); !errors.Is(err, ErrInvalidRate) {
			t.Fatalf("ParseRate(%q) = %v, want ErrInvalidRate", raw, err)
		}
	}
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	cases := []struct {
		wait time.Duration
		want int
	}{
		{wait: 0, want: 0},
		{wait: -time.Second, want: 0},
		{wait: time.Millisecond, want: 1},
		{wait: time.Second, want: 1},
		{wait: 14*time.Second + time.Millisecond, want: 15},
		{wait: 15 * time.Second, want: 15},
	}
	for _, testCase := range cases {
		got := Decision{RetryAfter: testCase.wait}.RetryAfterSeconds()
		if got != testCase.want {
			t.Fatalf("RetryAfterSeconds(%v) = %d, want %d", testCase.wait, got, testCase.want)
		}
	}
}

func TestNewLimiterRejectsBadRate(t *testing.T) {
	_, err := NewLimiter(LimiterConfig{Rates: map[string]string{"slow": "sometimes"}})
	if !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1700000000, 0)}
}

func TestCheckEnforcesSlowScope(t *testing.T) {
	clock := newManualClock()
	limiter, err := NewLimiter(LimiterConfig{
		Rates: map[string]string{"slow": "1/15seconds"},
		Clock: clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := limiter.Check("user", "slow")
	if !first.Allowed {
		t.Fatalf("first request should be admitted")
	}

	second := limiter.Check("user", "slow")
	if second.Allowed {
		t.Fatalf("second request inside the window should be rejected")
	}
	if second.RetryAfterSeconds() != 15 {
		t.Fatalf("expected 15 second wait, got %d", second.RetryAfterSeconds())
	}

	// A rejected request spends no quota; the wait must not grow.
	again := limiter.Check("user", "slow")
	if again.Allowed || again.RetryAfterSeconds() != 15 {
		t.Fatalf("repeated rejection changed the wait: %+v", again)
	}

	clock.Advance(15 * time.Second)
	if decision := limiter.Check("user", "slow"); !decision.Allowed {
		t.Fatalf("request after the window should be admitted, got %+v", decision)
	}
}

func TestCheckKeysByActor(t *testing.T) {
	clock := newManualClock()
	limiter, err := NewLimiter(LimiterConfig{
		Rates: map[string]string{"slow": "1/15seconds"},
		Clock: clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision := limiter.Check("alice", "slow"); !decision.Allowed {
		t.Fatalf("alice's first request should be admitted")
	}
	if decision := limiter.Check("bob", "slow"); !decision.Allowed {
		t.Fatalf("bob's quota is independent of alice's, got %+v", decision)
	}
	if decision := limiter.Check("alice", "slow"); decision.Allowed {
		t.Fatalf("alice's second request should be rejected")
	}
}

func TestCheckKeysByScope(t *testing.T) {
	clock := newManualClock()
	limiter, err := NewLimiter(LimiterConfig{
		Rates: map[string]string{
			"default": "2/minute",
			"slow":    "1/15seconds",
		},
		Clock: clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision := limiter.Check("user", "slow"); !decision.Allowed {
		t.Fatalf("slow scope should admit the first request")
	}
	if decision := limiter.Check("user", "slow"); decision.Allowed {
		t.Fatalf("slow scope should reject the second request")
	}

	// Exhausting slow leaves default untouched.
	if decision := limiter.Check("user", "default"); !decision.Allowed {
		t.Fatalf("default scope should still admit, got %+v", decision)
	}
}

func TestCheckAdmitsUnconfiguredScope(t *testing.T) {
	limiter, err := NewLimiter(LimiterConfig{Rates: map[string]string{"slow": "1/15seconds"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 100; i++ {
		if decision := limiter.Check("user", "unmetered"); !decision.Allowed {
			t.Fatalf("unconfigured scope rejected request %d", i)
		}
	}
}

func TestCheckHonorsBurstThenRefills(t *testing.T) {
	clock := newManualClock()
	limiter, err := NewLimiter(LimiterConfig{
		Rates: map[string]string{"default": "4/minute"},
		Clock: clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 4; i++ {
		if decision := limiter.Check("user", "default"); !decision.Allowed {
			t.Fatalf("request %d inside the burst should be admitted", i)
		}
	}

	rejected := limiter.Check("user", "default")
	if rejected.Allowed {
		t.Fatalf("fifth request should be rejected")
	}
	if rejected.RetryAfterSeconds() != 15 {
		t.Fatalf("expected 15 second refill wait, got %d", rejected.RetryAfterSeconds())
	}

	clock.Advance(15 * time.Second)
	if decision := limiter.Check("user", "default"); !decision.Allowed {
		t.Fatalf("request after one refill interval should be admitted, got %+v", decision)
	}
	if decision := limiter.Check("user", "default"); decision.Allowed {
		t.Fatalf("refill grants one permit at a time")
	}
}

package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"assistgate/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestLimiter(daily int64, rpm int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	return New(Options{
		DailyTokenLimit:      daily,
		MaxRequestsPerMinute: rpm,
		Now:                  clock.Now,
	}), clock
}

func TestCheckAdmission(t *testing.T) {
	t.Run("fresh key admitted", func(t *testing.T) {
		l, _ := newTestLimiter(1000, 10)
		if err := l.CheckAdmission("caller-1"); err != nil {
			t.Errorf("Expected admission for fresh key, got: %v", err)
		}
	})

	t.Run("admission does not count as request", func(t *testing.T) {
		l, _ := newTestLimiter(1000, 2)
		for i := 0; i < 20; i++ {
			if err := l.CheckAdmission("caller-1"); err != nil {
				t.Fatalf("Check %d denied despite no recorded usage: %v", i, err)
			}
		}
	})

	t.Run("daily budget exhausted", func(t *testing.T) {
		l, _ := newTestLimiter(100, 10)
		l.RecordUsage("caller-1", 100)

		err := l.CheckAdmission("caller-1")
		if err == nil {
			t.Fatal("Expected denial after exhausting daily budget")
		}
		if !domain.IsRateLimited(err) {
			t.Errorf("Expected a rate limit error, got: %v", err)
		}
		if !strings.Contains(err.Error(), "daily token limit of 100") {
			t.Errorf("Daily denial reason should name the limit, got: %v", err)
		}
	})

	t.Run("daily check precedes rpm check", func(t *testing.T) {
		l, _ := newTestLimiter(100, 1)
		l.RecordUsage("caller-1", 200) // exhausts budget and fills the window

		err := l.CheckAdmission("caller-1")
		if err == nil {
			t.Fatal("Expected denial")
		}
		if !strings.Contains(err.Error(), "daily token limit") {
			t.Errorf("Daily reason should win when both limits are hit, got: %v", err)
		}
	})

	t.Run("rpm limit reached", func(t *testing.T) {
		l, _ := newTestLimiter(100000, 3)
		for i := 0; i < 3; i++ {
			l.RecordUsage("caller-1", 10)
		}

		err := l.CheckAdmission("caller-1")
		if err == nil {
			t.Fatal("Expected denial at rpm limit")
		}
		if !strings.Contains(err.Error(), "slow down") {
			t.Errorf("RPM denial should ask the caller to slow down, got: %v", err)
		}
	})

	t.Run("zero limits always deny", func(t *testing.T) {
		l, _ := newTestLimiter(0, 0)
		if err := l.CheckAdmission("caller-1"); err == nil {
			t.Error("Zero daily limit should deny every request")
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		l, _ := newTestLimiter(100, 10)
		l.RecordUsage("caller-1", 100)

		if err := l.CheckAdmission("caller-2"); err != nil {
			t.Errorf("One caller's usage should not affect another: %v", err)
		}
	})
}

func TestSlidingWindow(t *testing.T) {
	t.Run("window slides", func(t *testing.T) {
		l, clock := newTestLimiter(100000, 2)

		l.RecordUsage("caller-1", 10)
		clock.Advance(30 * time.Second)
		l.RecordUsage("caller-1", 10)

		if err := l.CheckAdmission("caller-1"); err == nil {
			t.Fatal("Expected denial with 2 requests inside the window")
		}

		// First request falls out of the trailing 60s window
		clock.Advance(31 * time.Second)
		if err := l.CheckAdmission("caller-1"); err != nil {
			t.Errorf("Expected admission after oldest request aged out: %v", err)
		}
	})

	t.Run("exact boundary", func(t *testing.T) {
		l, clock := newTestLimiter(100000, 1)

		l.RecordUsage("caller-1", 10)
		clock.Advance(60 * time.Second)

		// A timestamp exactly 60s old is no longer inside the trailing window
		if err := l.CheckAdmission("caller-1"); err != nil {
			t.Errorf("Expected admission at exact window boundary: %v", err)
		}
	})
}

func TestDailyRollover(t *testing.T) {
	t.Run("counter resets at midnight", func(t *testing.T) {
		l, clock := newTestLimiter(100, 10)
		l.RecordUsage("caller-1", 100)

		if err := l.CheckAdmission("caller-1"); err == nil {
			t.Fatal("Expected denial before rollover")
		}

		// Cross midnight
		clock.Advance(13 * time.Hour)
		if err := l.CheckAdmission("caller-1"); err != nil {
			t.Errorf("Expected admission after midnight rollover: %v", err)
		}
		if got := l.TokensToday("caller-1"); got != 0 {
			t.Errorf("Expected zeroed counter after rollover, got %d", got)
		}
	})

	t.Run("record after rollover starts fresh", func(t *testing.T) {
		l, clock := newTestLimiter(100, 10)
		l.RecordUsage("caller-1", 90)

		clock.Advance(24 * time.Hour)
		l.RecordUsage("caller-1", 30)

		if got := l.TokensToday("caller-1"); got != 30 {
			t.Errorf("Expected 30 tokens today after rollover, got %d", got)
		}
	})
}

func TestConcurrentRecording(t *testing.T) {
	l, _ := newTestLimiter(1000000, 1000000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.RecordUsage("shared", 1)
			}
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.RecordUsage(fmt.Sprintf("caller-%d", n), 1)
			}
		}(i)
	}
	wg.Wait()

	if got := l.TokensToday("shared"); got != 1000 {
		t.Errorf("Expected 1000 tokens for shared key, got %d", got)
	}
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("caller-%d", i)
		if got := l.TokensToday(key); got != 100 {
			t.Errorf("Expected 100 tokens for %s, got %d", key, got)
		}
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(100, 10)
	l.RecordUsage("caller-1", 100)
	l.Reset()

	if err := l.CheckAdmission("caller-1"); err != nil {
		t.Errorf("Expected admission after reset: %v", err)
	}
}

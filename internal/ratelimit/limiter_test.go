package ratelimit

import (
	"net/http"
	"sync"
	"testing"
	"time"
)

// mockClock is a controllable clock for testing.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2026, 5, 11, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAllowGesture_Cooldown(t *testing.T) {
	clock := newMockClock()
	limiter := New(&Config{
		GestureCooldown:     100 * time.Millisecond,
		GestureMaxPerMinute: 240,
		RefreshMaxPerMinute: 6,
		Clock:               clock,
	})

	ip := "203.0.113.7"

	// First gesture should be allowed
	result := limiter.AllowGesture(ip)
	if !result.Allowed {
		t.Errorf("First gesture should be allowed, got blocked: %s", result.Reason)
	}

	// Second gesture within cooldown should be blocked
	clock.Advance(40 * time.Millisecond)
	result = limiter.AllowGesture(ip)
	if result.Allowed {
		t.Error("Second gesture within cooldown should be blocked")
	}
	if result.Reason != "cooldown" {
		t.Errorf("Expected reason 'cooldown', got '%s'", result.Reason)
	}
	if result.RetryAfter != 60*time.Millisecond {
		t.Errorf("Expected RetryAfter 60ms, got %v", result.RetryAfter)
	}

	// After cooldown expires, should be allowed
	clock.Advance(61 * time.Millisecond)
	result = limiter.AllowGesture(ip)
	if !result.Allowed {
		t.Errorf("Gesture after cooldown should be allowed, got blocked: %s", result.Reason)
	}
}

func TestAllowGesture_MinuteLimit(t *testing.T) {
	clock := newMockClock()
	limiter := New(&Config{
		GestureCooldown:     1 * time.Millisecond,
		GestureMaxPerMinute: 3,
		RefreshMaxPerMinute: 6,
		Clock:               clock,
	})

	ip := "203.0.113.7"

	for i := 0; i < 3; i++ {
		if result := limiter.AllowGesture(ip); !result.Allowed {
			t.Fatalf("Gesture %d should be allowed, got blocked: %s", i+1, result.Reason)
		}
		clock.Advance(2 * time.Millisecond)
	}

	result := limiter.AllowGesture(ip)
	if result.Allowed {
		t.Error("Gesture over the minute limit should be blocked")
	}
	if result.Reason != "minute_limit" {
		t.Errorf("Expected reason 'minute_limit', got '%s'", result.Reason)
	}

	// A different client is not affected
	if result := limiter.AllowGesture("198.51.100.9"); !result.Allowed {
		t.Errorf("Other client should be allowed, got blocked: %s", result.Reason)
	}

	// Window rolls over
	clock.Advance(time.Minute)
	if result := limiter.AllowGesture(ip); !result.Allowed {
		t.Errorf("Gesture in the next window should be allowed, got blocked: %s", result.Reason)
	}
}

func TestAllowRefresh_MinuteLimit(t *testing.T) {
	clock := newMockClock()
	limiter := New(&Config{
		GestureCooldown:     1 * time.Millisecond,
		GestureMaxPerMinute: 240,
		RefreshMaxPerMinute: 2,
		Clock:               clock,
	})

	ip := "203.0.113.7"

	for i := 0; i < 2; i++ {
		if result := limiter.AllowRefresh(ip); !result.Allowed {
			t.Fatalf("Refresh %d should be allowed, got blocked: %s", i+1, result.Reason)
		}
		clock.Advance(time.Second)
	}

	result := limiter.AllowRefresh(ip)
	if result.Allowed {
		t.Error("Refresh over the minute limit should be blocked")
	}

	// Refresh and gesture budgets are independent
	if result := limiter.AllowGesture(ip); !result.Allowed {
		t.Errorf("Gesture should not be charged to the refresh budget: %s", result.Reason)
	}
}

func TestCleanupDropsIdleEntries(t *testing.T) {
	clock := newMockClock()
	limiter := New(&Config{
		GestureCooldown:     1 * time.Millisecond,
		GestureMaxPerMinute: 240,
		RefreshMaxPerMinute: 6,
		Clock:               clock,
	})

	limiter.AllowGesture("203.0.113.7")
	clock.Advance(2 * time.Minute)
	limiter.AllowGesture("198.51.100.9")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.gestureByIP) != 1 {
		t.Errorf("entries = %d, want the stale client dropped", len(limiter.gestureByIP))
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		trustProxy bool
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.7:54321",
			want:       "203.0.113.7",
		},
		{
			name:       "untrusted proxy ignores XFF",
			remoteAddr: "10.0.0.1:54321",
			xff:        "203.0.113.7",
			want:       "10.0.0.1",
		},
		{
			name:       "trusted proxy uses rightmost public XFF",
			remoteAddr: "10.0.0.1:54321",
			xff:        "198.51.100.9, 203.0.113.7, 10.0.0.2",
			trustProxy: true,
			want:       "203.0.113.7",
		},
		{
			name:       "trusted proxy all private uses last",
			remoteAddr: "10.0.0.1:54321",
			xff:        "192.168.1.5, 10.0.0.2",
			trustProxy: true,
			want:       "10.0.0.2",
		},
		{
			name:       "trusted proxy falls back to X-Real-IP",
			remoteAddr: "10.0.0.1:54321",
			xri:        "203.0.113.7",
			trustProxy: true,
			want:       "203.0.113.7",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.7",
			want:       "203.0.113.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: http.Header{}}
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := GetClientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("GetClientIP() = %s, want %s", got, tt.want)
			}
		})
	}
}

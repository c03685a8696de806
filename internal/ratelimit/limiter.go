// Package ratelimit provides per-client rate limiting for grid mutations.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Clock interface for testing time-dependent behavior.
type Clock interface {
	Now() time.Time
}

// realClock implements Clock using the system time.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config holds rate limit configuration.
type Config struct {
	// Gesture limits (click, select, move, stretch)
	GestureCooldown     time.Duration // Minimum time between gestures per client (default: 100ms)
	GestureMaxPerMinute int           // Max gestures per client per minute (default: 240)

	// Forced refresh limits
	RefreshMaxPerMinute int // Max forced day refreshes per client per minute (default: 6)

	// Clock for testing (nil uses real time)
	Clock Clock
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		GestureCooldown:     100 * time.Millisecond,
		GestureMaxPerMinute: 240,
		RefreshMaxPerMinute: 6,
	}
}

// LimitResult contains the result of a rate limit check.
type LimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     string // For logging
}

// entry tracks request counts and timestamps.
type entry struct {
	count   int
	firstAt time.Time // First request in window
	lastAt  time.Time // Most recent request (for cooldown)
}

// Limiter throttles grid mutations per client IP.
type Limiter struct {
	config *Config
	clock  Clock
	mu     sync.Mutex
	// Keyed by hash of client IP
	gestureByIP map[string]*entry
	refreshByIP map[string]*entry

	lastCleanup time.Time
}

// New creates a new rate limiter with the given config.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Limiter{
		config:      cfg,
		clock:       clock,
		gestureByIP: make(map[string]*entry),
		refreshByIP: make(map[string]*entry),
	}
}

// AllowGesture checks and records one gesture from the given client.
func (l *Limiter) AllowGesture(ip string) LimitResult {
	now := l.clock.Now()
	key := l.hashKey("gesture:ip:", ip)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeCleanup(now)

	e := l.gestureByIP[key]
	if e != nil {
		elapsed := now.Sub(e.lastAt)
		if elapsed < l.config.GestureCooldown {
			return LimitResult{
				Allowed:    false,
				RetryAfter: l.config.GestureCooldown - elapsed,
				Reason:     "cooldown",
			}
		}
		if now.Sub(e.firstAt) < time.Minute && e.count >= l.config.GestureMaxPerMinute {
			return LimitResult{
				Allowed:    false,
				RetryAfter: time.Minute - now.Sub(e.firstAt),
				Reason:     "minute_limit",
			}
		}
	}

	l.record(l.gestureByIP, key, now)
	return LimitResult{Allowed: true}
}

// AllowRefresh checks and records one forced refresh from the given client.
func (l *Limiter) AllowRefresh(ip string) LimitResult {
	now := l.clock.Now()
	key := l.hashKey("refresh:ip:", ip)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeCleanup(now)

	e := l.refreshByIP[key]
	if e != nil && now.Sub(e.firstAt) < time.Minute && e.count >= l.config.RefreshMaxPerMinute {
		return LimitResult{
			Allowed:    false,
			RetryAfter: time.Minute - now.Sub(e.firstAt),
			Reason:     "minute_limit",
		}
	}

	l.record(l.refreshByIP, key, now)
	return LimitResult{Allowed: true}
}

// record updates the window entry, resetting it when the window has passed.
// Callers hold l.mu.
func (l *Limiter) record(table map[string]*entry, key string, now time.Time) {
	e := table[key]
	if e == nil || now.Sub(e.firstAt) >= time.Minute {
		table[key] = &entry{count: 1, firstAt: now, lastAt: now}
		return
	}
	e.count++
	e.lastAt = now
}

func (l *Limiter) hashKey(prefix, value string) string {
	hash := sha256.Sum256([]byte(value))
	return prefix + hex.EncodeToString(hash[:8])
}

// maybeCleanup drops idle entries at most once a minute. Callers hold l.mu.
func (l *Limiter) maybeCleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < time.Minute {
		return
	}
	l.lastCleanup = now
	for k, e := range l.gestureByIP {
		if now.Sub(e.lastAt) > time.Minute {
			delete(l.gestureByIP, k)
		}
	}
	for k, e := range l.refreshByIP {
		if now.Sub(e.lastAt) > time.Minute {
			delete(l.refreshByIP, k)
		}
	}
}

// GetClientIP extracts the client IP from a request.
// When trustProxy is true, uses the rightmost IP from X-Forwarded-For (added by your proxy).
// When trustProxy is false, ignores X-Forwarded-For entirely (prevents spoofing).
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Use RIGHTMOST IP - this is the one your proxy added, not user-supplied
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(parts[i])
				// Skip private/internal IPs to find the real client
				if ip != "" && !isPrivateIP(ip) {
					return ip
				}
			}
			// All IPs are private, use the last one
			return strings.TrimSpace(parts[len(parts)-1])
		}

		// Check X-Real-IP (set by nginx)
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	// Fall back to RemoteAddr (direct connection or untrusted proxy)
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port (e.g., Unix socket or malformed)
		// Try to parse as IP directly, otherwise return as-is
		if parsed := net.ParseIP(r.RemoteAddr); parsed != nil {
			return r.RemoteAddr
		}
		// Last resort: strip anything after last colon that looks like a port
		if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
			candidate := r.RemoteAddr[:idx]
			if net.ParseIP(candidate) != nil {
				return candidate
			}
		}
		return r.RemoteAddr
	}
	return ip
}

// privateNetworks holds parsed CIDR ranges for private/reserved IPs.
// Parsed once at package init for efficiency.
var privateNetworks []*net.IPNet

func init() {
	privateRanges := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"::1/128",
		"fc00::/7",
		"fe80::/10", // Link-local
	}
	for _, cidr := range privateRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid private CIDR: " + cidr)
		}
		privateNetworks = append(privateNetworks, network)
	}
}

// isPrivateIP checks if an IP is in a private/reserved range.
// Handles both IPv4 and IPv4-mapped IPv6 addresses (e.g., ::ffff:192.168.1.1).
func isPrivateIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	// Convert IPv4-mapped IPv6 to IPv4 for consistent matching
	// e.g., ::ffff:192.168.1.1 -> 192.168.1.1
	if ipv4 := ip.To4(); ipv4 != nil {
		ip = ipv4
	}

	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// LogRateLimitExceeded logs a rate limit event.
func LogRateLimitExceeded(limitType, ip, reason string) {
	log.Warn().
		Str("event", "rate_limit_exceeded").
		Str("type", limitType).
		Str("ip", ip).
		Str("reason", reason).
		Msg("Grid rate limit exceeded")
}

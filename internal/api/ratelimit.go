package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/beaconai/beacon/internal/log"
)

// Per-IP limiter defaults and housekeeping intervals. Buckets idle longer
// than limiterStaleAfter are dropped during the next sweep.
const (
	defaultRateRPS   = 5
	defaultRateBurst = 10

	limiterSweepEvery = 5 * time.Minute
	limiterStaleAfter = 10 * time.Minute
)

// ipLimiter hands out a token bucket per client IP. Sweeping of stale
// buckets happens inline on the allow path, no background goroutine, and
// the counters feed the stats endpoint.
type ipLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*ipBucket
	limit     rate.Limit
	burst     int
	nextSweep time.Time

	allowed uint64
	limited uint64
	evicted uint64

	now func() time.Time
}

type ipBucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// ipLimiterStats is the wire form of the limiter counters.
type ipLimiterStats struct {
	ActiveIPs int    `json:"active_ips"`
	Allowed   uint64 `json:"allowed"`
	Limited   uint64 `json:"limited"`
	Evicted   uint64 `json:"evicted_stale"`
}

// newIPLimiter builds a limiter refilling rps tokens per second with the
// given burst. Non-positive arguments fall back to the package defaults.
func newIPLimiter(rps float64, burst int) *ipLimiter {
	if rps <= 0 {
		rps = defaultRateRPS
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}
	l := &ipLimiter{
		buckets: make(map[string]*ipBucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
	l.nextSweep = l.now().Add(limiterSweepEvery)
	return l
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !now.Before(l.nextSweep) {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > limiterStaleAfter {
				delete(l.buckets, k)
				l.evicted++
			}
		}
		l.nextSweep = now.Add(limiterSweepEvery)
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &ipBucket{tokens: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now

	if !b.tokens.Allow() {
		l.limited++
		return false
	}
	l.allowed++
	return true
}

func (l *ipLimiter) stats() ipLimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ipLimiterStats{
		ActiveIPs: len(l.buckets),
		Allowed:   l.allowed,
		Limited:   l.limited,
		Evicted:   l.evicted,
	}
}

// middleware rejects over-limit clients with 429 and a Retry-After hint.
func (l *ipLimiter) middleware(trustProxy bool, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !l.allow(ip) {
				logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client IP. Proxy headers are only honored when
// trustProxy is set, and their values are validated with net.ParseIP so
// arbitrary strings cannot become rate limiter keys.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
				return ip.String()
			}
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			raw := xff
			if first, _, ok := strings.Cut(xff, ","); ok {
				raw = first
			}
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

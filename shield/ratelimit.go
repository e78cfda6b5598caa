package shield

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limit for a single endpoint.
type RateLimitConfig struct {
	MaxRequests   int
	WindowSeconds int
	Enabled       bool
}

func (c RateLimitConfig) limit() rate.Limit {
	if c.MaxRequests <= 0 || c.WindowSeconds <= 0 {
		return 0
	}
	return rate.Every(time.Duration(c.WindowSeconds) * time.Second / time.Duration(c.MaxRequests))
}

type bucket struct {
	lim      *rate.Limiter
	cfg      RateLimitConfig
	lastSeen time.Time
	mu       sync.Mutex
}

// RateLimitMessage is the error text of a 429 response.
const RateLimitMessage = "Rate limit exceeded. Please try again later."

// RateLimiter provides per-IP, per-endpoint token bucket rate limiting.
// Rules live in the rate_limits table (see Schema) keyed "METHOD /path";
// endpoints without an enabled rule are not limited. A rule of N requests
// per W seconds refills one token every W/N and allows a burst of N.
type RateLimiter struct {
	db           *sql.DB
	rules        map[string]RateLimitConfig
	buckets      sync.Map
	mu           sync.RWMutex
	exclude      []string
	trustForward bool
	now          func() time.Time
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithExclude skips rate limiting for the given path prefixes.
func WithExclude(prefixes ...string) Option {
	return func(rl *RateLimiter) { rl.exclude = append(rl.exclude, prefixes...) }
}

// WithTrustForwarded keys clients by the first X-Forwarded-For address.
// Only enable behind a proxy that overwrites the header.
func WithTrustForwarded(trust bool) Option {
	return func(rl *RateLimiter) { rl.trustForward = trust }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(rl *RateLimiter) { rl.now = now }
}

// NewRateLimiter creates a rate limiter that reads rules from the
// rate_limits table in db. Call StartReloader to enable periodic rule
// refresh and GC.
func NewRateLimiter(db *sql.DB, opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		db:    db,
		rules: make(map[string]RateLimitConfig),
		now:   time.Now,
	}
	for _, o := range opts {
		o(rl)
	}
	rl.Reload()
	return rl
}

// StartReloader starts a background goroutine for rule reloading (every
// 60s) and bucket GC (every 5min). Stops when done is closed.
func (rl *RateLimiter) StartReloader(done <-chan struct{}) {
	reloadTick := time.NewTicker(60 * time.Second)
	gcTick := time.NewTicker(5 * time.Minute)
	go func() {
		defer reloadTick.Stop()
		defer gcTick.Stop()
		for {
			select {
			case <-done:
				return
			case <-reloadTick.C:
				rl.Reload()
			case <-gcTick.C:
				rl.gc(10 * time.Minute)
			}
		}
	}()
}

// Reload re-reads the rules. On query failure the previous rules stay.
func (rl *RateLimiter) Reload() {
	rows, err := rl.db.Query(`SELECT endpoint, max_requests, window_seconds, enabled FROM rate_limits`)
	if err != nil {
		slog.Warn("ratelimit: failed to reload rules", "error", err)
		return
	}
	defer rows.Close()

	rules := make(map[string]RateLimitConfig)
	for rows.Next() {
		var endpoint string
		var cfg RateLimitConfig
		var enabled int
		if err := rows.Scan(&endpoint, &cfg.MaxRequests, &cfg.WindowSeconds, &enabled); err != nil {
			continue
		}
		cfg.Enabled = enabled == 1
		rules[endpoint] = cfg
	}
	if err := rows.Err(); err != nil {
		slog.Warn("ratelimit: failed to reload rules", "error", err)
		return
	}

	rl.mu.Lock()
	rl.rules = rules
	rl.mu.Unlock()

	slog.Debug("ratelimit: rules reloaded", "count", len(rules))
}

// gc drops buckets idle for longer than idle. An idle bucket is full, so
// dropping it loses nothing.
func (rl *RateLimiter) gc(idle time.Duration) {
	cutoff := rl.now().Add(-idle)
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		stale := b.lastSeen.Before(cutoff)
		b.mu.Unlock()
		if stale {
			rl.buckets.Delete(key)
		}
		return true
	})
}

// reserve reports whether the request may proceed and, if not, how long
// until a token becomes available.
func (rl *RateLimiter) reserve(ip, endpoint string) (bool, time.Duration) {
	rl.mu.RLock()
	cfg, ok := rl.rules[endpoint]
	rl.mu.RUnlock()

	if !ok || !cfg.Enabled || cfg.MaxRequests <= 0 {
		return true, 0
	}

	now := rl.now()
	val, _ := rl.buckets.LoadOrStore(ip+"|"+endpoint, &bucket{
		lim: rate.NewLimiter(cfg.limit(), cfg.MaxRequests),
		cfg: cfg,
	})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg != cfg {
		b.lim.SetLimitAt(now, cfg.limit())
		b.lim.SetBurstAt(now, cfg.MaxRequests)
		b.cfg = cfg
	}
	b.lastSeen = now

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Duration(cfg.WindowSeconds) * time.Second
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

// Middleware is the HTTP middleware that enforces rate limits. Rejected
// requests get a 429 JSON error with a Retry-After header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		endpoint := r.Method + " " + r.URL.Path
		ip := ExtractIP(r, rl.trustForward)

		ok, wait := rl.reserve(ip, endpoint)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)

		secs := int(math.Ceil(wait.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", RateLimitMessage)
	})
}

// writeJSONError writes the service's error envelope.
func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success":    false,
		"error":      msg,
		"error_code": code,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// ExtractIP returns the client IP. With trustForwarded it prefers the
// first X-Forwarded-For entry, otherwise it uses RemoteAddr.
func ExtractIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if i := strings.IndexByte(xff, ','); i >= 0 {
				xff = xff[:i]
			}
			if ip := strings.TrimSpace(xff); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/evermind-ai/evermind/internal/adapters/metrics"
)

// rateWindow is one client's fixed one-minute counting window.
type rateWindow struct {
	start time.Time
	count int
}

// maxClients caps the window map so an address-spraying client cannot grow
// it without bound. When full, the stalest window is evicted.
const maxClients = 10000

type rateLimiter struct {
	perMinute int

	mu      sync.Mutex
	windows map[string]*rateWindow // client IP -> current window
}

// RateLimit caps requests per client IP per minute and answers the overflow
// with 429 and a Retry-After header. A limit of 0 disables the middleware.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := &rateLimiter{
		perMinute: perMinute,
		windows:   make(map[string]*rateWindow),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			retryAfter, ok := limiter.allow(ip, time.Now())
			if !ok {
				metrics.RateLimitRejections.Inc()
				log.Printf("HTTP 429: rate limit exceeded for %s (path=%s)", ip, r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allow counts the request against the client's window. When the window is
// full it returns false and the seconds until the window resets.
func (l *rateLimiter) allow(ip string, now time.Time) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	win := l.windows[ip]
	if win == nil || now.Sub(win.start) >= time.Minute {
		// Opportunistic sweep keeps the map from accumulating idle clients.
		for other, w := range l.windows {
			if now.Sub(w.start) >= time.Minute {
				delete(l.windows, other)
			}
		}
		if len(l.windows) >= maxClients {
			l.evictStalest()
		}
		l.windows[ip] = &rateWindow{start: now, count: 1}
		return 0, true
	}

	if win.count >= l.perMinute {
		retry := int((time.Minute - now.Sub(win.start)).Seconds())
		if retry < 1 {
			retry = 1
		}
		return retry, false
	}

	win.count++
	return 0, true
}

// evictStalest drops the window with the oldest start. Called with the lock
// held, only when the sweep left the map at capacity.
func (l *rateLimiter) evictStalest() {
	var stalest string
	var stalestStart time.Time
	for ip, w := range l.windows {
		if stalest == "" || w.start.Before(stalestStart) {
			stalest = ip
			stalestStart = w.start
		}
	}
	if stalest != "" {
		delete(l.windows, stalest)
	}
}

// clientIP prefers the forwarding headers set by a fronting proxy and falls
// back to the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

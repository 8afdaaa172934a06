package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/linkwatcher/beacon/internal/enrichment"
)

// trackLimiter throttles batch ingestion per client. Collectors flush at most
// one batch per heartbeat under normal operation, so a client hammering the
// endpoint is either a retry storm or abuse.
type trackLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	rate    int
	window  time.Duration
}

type clientWindow struct {
	count   int
	started time.Time
}

func newTrackLimiter(rate int, window time.Duration) *trackLimiter {
	tl := &trackLimiter{
		clients: make(map[string]*clientWindow),
		rate:    rate,
		window:  window,
	}
	go tl.evictIdle()
	return tl
}

func (tl *trackLimiter) allow(clientIP string) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	now := time.Now()
	cw, ok := tl.clients[clientIP]
	if !ok || now.Sub(cw.started) > tl.window {
		tl.clients[clientIP] = &clientWindow{count: 1, started: now}
		return true
	}
	cw.count++
	return cw.count <= tl.rate
}

func (tl *trackLimiter) evictIdle() {
	ticker := time.NewTicker(5 * time.Minute)
	for range ticker.C {
		tl.mu.Lock()
		now := time.Now()
		for ip, cw := range tl.clients {
			if now.Sub(cw.started) > tl.window*2 {
				delete(tl.clients, ip)
			}
		}
		tl.mu.Unlock()
	}
}

// RateLimit returns middleware that caps batches per client IP within a fixed
// window. The key is the same enriched client address Track stamps on events,
// so a proxy fronting many clients does not share one bucket.
func RateLimit(rate int, window time.Duration) func(http.Handler) http.Handler {
	limiter := newTrackLimiter(rate, window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := enrichment.ExtractClientIP(r.RemoteAddr, map[string]string{
				"X-Forwarded-For": r.Header.Get("X-Forwarded-For"),
				"X-Real-IP":       r.Header.Get("X-Real-IP"),
			})
			if !limiter.allow(clientIP) {
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

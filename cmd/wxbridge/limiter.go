package main

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// inboundLimiter applies a token bucket per remote address and evicts idle
// entries every few hundred hits.
type inboundLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu     sync.Mutex
	byAddr map[string]*limiterEntry
	hits   uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newInboundLimiter(rps float64, burst int) *inboundLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &inboundLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		byAddr:  make(map[string]*limiterEntry),
	}
}

func (l *inboundLimiter) allow(addr string, now time.Time) bool {
	if l == nil {
		return true
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byAddr[addr]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byAddr[addr] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byAddr {
			if v.lastSeen.Before(cutoff) {
				delete(l.byAddr, k)
			}
		}
	}
	return allowed
}

// wrap rejects requests over the limit with 429.
func (l *inboundLimiter) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(r.RemoteAddr, time.Now()) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

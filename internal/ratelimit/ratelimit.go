// Package ratelimit provides transport-level flood protection for the public
// listener: a per-IP token bucket in front of the question API.
//
// This is a process-local guard against a single client hammering the
// service, not a distributed limiter. The per-student question quota is a
// separate, application-level concern handled elsewhere.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/classpulse/classpulse/internal/httpmw"
)

// client tracks one IP's bucket and activity for eviction.
type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
	// denied flips on the first rejection so noisy offenders produce one
	// log line, not one per request
	denied bool
}

// Flood rejects requests from IPs exceeding the configured request rate.
type Flood struct {
	mu      sync.Mutex
	clients map[string]*client

	perSecond rate.Limit
	burst     int
	idleTTL   time.Duration

	// maxClients bounds the tracked map; once full, unknown IPs are let
	// through rather than tracked, trading precision for bounded memory
	maxClients int

	onFirstDenied func(ip string)
	onDenied      func(ip string)
	onCapacity    func()
}

type Option func(*Flood)

// WithRate sets the bucket refill rate and capacity. WithRate(10, 30)
// admits 30 requests at once, then 10 per second sustained.
func WithRate(perSecond float64, burst int) Option {
	return func(f *Flood) {
		f.perSecond = rate.Limit(perSecond)
		f.burst = burst
	}
}

// WithIdleTTL controls how long an idle IP stays tracked before eviction.
func WithIdleTTL(d time.Duration) Option {
	return func(f *Flood) { f.idleTTL = d }
}

// WithMaxClients caps the number of tracked IPs.
func WithMaxClients(n int) Option {
	return func(f *Flood) { f.maxClients = n }
}

// WithOnFirstDenied sets a callback fired once per tracked IP on its first
// rejection. Separate from WithOnDenied so logging fires once while
// counters tick every time.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(f *Flood) { f.onFirstDenied = fn }
}

// WithOnDenied sets a callback fired on every rejected request.
func WithOnDenied(fn func(ip string)) Option {
	return func(f *Flood) { f.onDenied = fn }
}

// WithOnCapacity sets a callback fired whenever an untracked IP is waved
// through because the client map is full.
func WithOnCapacity(fn func()) Option {
	return func(f *Flood) { f.onCapacity = fn }
}

// New builds a Flood limiter and starts its eviction goroutine. The
// goroutine exits when ctx is cancelled.
func New(ctx context.Context, opts ...Option) *Flood {
	f := &Flood{
		clients:    make(map[string]*client),
		perSecond:  10,
		burst:      30,
		idleTTL:    5 * time.Minute,
		maxClients: 10000,
	}
	for _, o := range opts {
		o(f)
	}
	go f.evict(ctx)
	return f
}

// Allow reports whether a request from ip may proceed.
func (f *Flood) Allow(ip string) bool {
	f.mu.Lock()
	c, ok := f.clients[ip]
	if !ok {
		if f.maxClients > 0 && len(f.clients) >= f.maxClients {
			// full map: fail open, the app-level quota still applies
			f.mu.Unlock()
			if f.onCapacity != nil {
				f.onCapacity()
			}
			return true
		}
		c = &client{bucket: rate.NewLimiter(f.perSecond, f.burst)}
		f.clients[ip] = c
	}
	c.lastSeen = time.Now()
	allowed := c.bucket.Allow()
	first := !allowed && !c.denied
	if first {
		c.denied = true
	}
	// hooks run outside the lock, they may log or do other slow work
	f.mu.Unlock()

	if !allowed {
		if first && f.onFirstDenied != nil {
			f.onFirstDenied(ip)
		}
		if f.onDenied != nil {
			f.onDenied(ip)
		}
	}
	return allowed
}

// evict drops idle clients every idleTTL/2 so a churn of one-shot IPs
// cannot grow the map without bound.
func (f *Flood) evict(ctx context.Context) {
	ticker := time.NewTicker(f.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			f.mu.Lock()
			for ip, c := range f.clients {
				if now.Sub(c.lastSeen) > f.idleTTL {
					delete(f.clients, ip)
				}
			}
			f.mu.Unlock()
		}
	}
}

// Middleware rejects over-limit requests with 429. The client IP must
// already be resolved into the context by httpmw.ClientIP.
func (f *Flood) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpmw.ClientIPFromContext(r.Context())
		if !f.Allow(ip) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Package ratelimit keeps one token bucket per key.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/weiawesome/wes-io-chat/internal/metrics"
	"github.com/weiawesome/wes-io-chat/pkg/response"
)

const defaultIdleTTL = 10 * time.Minute

type entry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// Pool hands out a limiter per key and forgets keys idle for longer than
// the TTL once Run is sweeping.
type Pool struct {
	mu    sync.Mutex
	m     map[string]*entry
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time
}

// NewPerMinute allows perMinute events per key with the given burst.
func NewPerMinute(perMinute, burst int, ttl time.Duration) *Pool {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = perMinute
	}
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	return &Pool{
		m:     make(map[string]*entry),
		limit: rate.Every(time.Minute / time.Duration(perMinute)),
		burst: burst,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (p *Pool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; ok {
		e.lastSeen = p.now()
		return e.l
	}
	l := rate.NewLimiter(p.limit, p.burst)
	p.m[key] = &entry{l: l, lastSeen: p.now()}
	return l
}

// Allow reports whether key may act now and consumes a token if so.
func (p *Pool) Allow(key string) bool {
	return p.get(key).AllowN(p.now(), 1)
}

// Len returns the number of tracked keys.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

func (p *Pool) sweep() {
	cutoff := p.now().Add(-p.ttl)
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
}

// Run sweeps idle keys until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	period := p.ttl / 10
	if period < time.Second {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-ctx.Done():
			return nil
		}
	}
}

// Middleware rejects requests from a client IP that exhausted its budget.
func (p *Pool) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !p.Allow(c.ClientIP()) {
			metrics.RateLimited.Inc()
			response.TooManyRequests(c, "too many requests, please try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}

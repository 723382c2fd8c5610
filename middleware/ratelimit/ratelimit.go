// Package ratelimit provides a per client token bucket for fiber routes.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"golang.org/x/time/rate"
)

// TextCode is returned in the error body of limited requests.
const TextCode = "RATE_LIMITED"

type Config struct {
	// PerSecond is the sustained number of requests allowed per client.
	PerSecond float64
	// Burst is the bucket size.
	Burst int
	// TTL is how long an idle bucket is kept.
	TTL time.Duration
	// KeyFunc derives the client key, defaults to ClientIP.
	KeyFunc func(c *fiber.Ctx) string
	// LimitReached renders the rejected response.
	LimitReached fiber.Handler
	Now          func() time.Time
}

func (c Config) withDefaults() Config {
	if c.PerSecond <= 0 {
		c.PerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.KeyFunc == nil {
		c.KeyFunc = ClientIP
	}
	if c.LimitReached == nil {
		c.LimitReached = func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   TextCode,
				"message": "rate limit exceeded",
			})
		}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter keeps one token bucket per client key.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
}

// New returns a Limiter. Call Run to evict idle buckets.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg.withDefaults(),
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes a token for key.
func (l *Limiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}
	now := l.cfg.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.cfg.PerSecond), l.cfg.Burst)}
		l.buckets[strings.Clone(key)] = b
	}
	b.seen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// Sweep drops buckets idle for longer than the TTL and returns how many
// remain.
func (l *Limiter) Sweep() int {
	now := l.cfg.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.cfg.TTL {
			delete(l.buckets, k)
		}
	}
	return len(l.buckets)
}

// Run sweeps idle buckets every minute until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Handler returns the fiber middleware.
func (l *Limiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !l.Allow(l.cfg.KeyFunc(c)) {
			return l.cfg.LimitReached(c)
		}
		return c.Next()
	}
}

// ClientIP returns the first X-Forwarded-For entry or the remote address.
// The result is copied out of the request buffer, which fasthttp reuses.
func ClientIP(c *fiber.Ctx) string {
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		parts := strings.Split(xff, ",")
		return utils.CopyString(strings.TrimSpace(parts[0]))
	}
	return utils.CopyString(c.IP())
}

// Package ratelimit applies fixed-window request quotas backed by Redis.
// The register and convert endpoints share one limiter but count against
// separate scopes: registration is keyed by client IP, job submission by
// user id.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Limiter holds the shared Redis connection and window settings. Quotas are
// attached per scope via Scope.
type Limiter struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// New builds a limiter against the given Redis instance. An empty prefix
// defaults to "codemorph:ratelimit"; a non-positive window defaults to one
// minute, matching the per-minute quotas in the config.
func New(addr, password, prefix string, window time.Duration) (*Limiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "codemorph:ratelimit"
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
		window: window,
	}, nil
}

// Scope names a quota bucket on the shared limiter. Scopes with different
// names never contend even for identical keys. A non-positive limit disables
// the scope entirely.
func (l *Limiter) Scope(name string, limit int) *Scope {
	return &Scope{limiter: l, name: name, limit: limit}
}

// Scope is one named quota. Allow is safe for concurrent use.
type Scope struct {
	limiter *Limiter
	name    string
	limit   int
}

// Allow reports whether key has quota left in the current window. Disabled
// scopes always allow. On Redis failures it fails closed: both guarded
// endpoints (registration, job submission) are abuse targets, so an outage
// throttles rather than opens them.
func (s *Scope) Allow(key string) bool {
	if s == nil {
		return false
	}
	if s.limit <= 0 {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := s.limiter.window.Milliseconds()
	windowSlot := time.Now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%s:%d", s.limiter.prefix, s.name, key, windowSlot)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := fixedWindowScript.Run(ctx, s.limiter.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false
	}
	return res <= int64(s.limit)
}

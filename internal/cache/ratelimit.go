package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimitIPPrefix is the Redis key prefix for IP rate limits.
const rateLimitIPPrefix = "ratelimit:ip:"

// RateLimitResult is the outcome of one rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// fixedWindowScript counts a hit in the current window and returns the
// count together with the window's remaining lifetime in milliseconds.
// The first hit opens the window; a key that lost its expiry gets one back.
var fixedWindowScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	local ttl = redis.call('PTTL', KEYS[1])
	if count == 1 or ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {count, ttl}
`)

// WindowLimit allows Requests per Window for one client. Windows are fixed:
// the counter resets Window after the first request that opened it.
type WindowLimit struct {
	Requests int
	Window   time.Duration
}

func (l WindowLimit) windowMillis() int64 {
	ms := l.Window.Milliseconds()
	if ms < 1 {
		return 1000
	}
	return ms
}

// CheckIPRateLimit counts one request from ip against limit. The address is
// hashed before it reaches Redis. On a Redis error the result allows the
// request and the error is returned alongside it.
func (c *Cache) CheckIPRateLimit(ctx context.Context, ip string, limit WindowLimit) (*RateLimitResult, error) {
	now := time.Now()
	quota := int64(limit.Requests)

	out, err := fixedWindowScript.Run(ctx, c.client,
		[]string{rateLimitIPPrefix + hashIP(ip)},
		limit.windowMillis(),
	).Int64Slice()
	if err != nil {
		return &RateLimitResult{
			Allowed:   true,
			Limit:     quota,
			Remaining: quota,
			ResetAt:   now.Add(limit.Window),
		}, err
	}

	count, ttl := out[0], time.Duration(out[1])*time.Millisecond
	res := &RateLimitResult{
		Allowed:   count <= quota,
		Limit:     quota,
		Remaining: quota - count,
		ResetAt:   now.Add(ttl),
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = ttl.Round(time.Second)
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
	}
	return res, nil
}

// hashIP returns the first 8 bytes of the address's SHA-256 as hex.
func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}

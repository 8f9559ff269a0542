package cache

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens)}
`

type TokenBucket struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  int
}

type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// NewTokenBucket returns nil when client is nil or the limits are not
// positive; a nil bucket allows everything.
func NewTokenBucket(client *redis.Client, rate float64, burst int) *TokenBucket {
	if client == nil || rate <= 0 || burst <= 0 {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		rate:   rate,
		burst:  burst,
	}
}

func RedeemBucketKey(customerID string) string {
	return "loyalty:ratelimit:redeem:" + customerID
}

func (t *TokenBucket) Allow(ctx context.Context, key string) (RateLimitResult, error) {
	if t == nil {
		return RateLimitResult{Allowed: true}, nil
	}
	if key == "" {
		return RateLimitResult{}, errors.New("rate limiter key is empty")
	}

	ttl := bucketTTL(t.rate, t.burst)
	res, err := t.script.Run(ctx, t.client, []string{key}, t.rate, t.burst, ttl.Milliseconds()).Slice()
	if err != nil {
		return RateLimitResult{}, err
	}
	if len(res) < 2 {
		return RateLimitResult{}, errors.New("invalid rate limit script response")
	}

	allowed, _ := res[0].(int64)
	remaining := 0.0
	if s, ok := res[1].(string); ok {
		remaining, _ = strconv.ParseFloat(s, 64)
	}

	result := RateLimitResult{Allowed: allowed == 1, Remaining: int(remaining)}
	if !result.Allowed {
		result.RetryAfter = RetryAfter(remaining, t.rate)
	}
	return result, nil
}

// RetryAfter is the time until one token refills.
func RetryAfter(remaining, rate float64) time.Duration {
	needed := 1.0 - remaining
	if needed <= 0 || rate <= 0 {
		return 0
	}
	return time.Duration(needed / rate * float64(time.Second))
}

func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil((float64(burst) / rate) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

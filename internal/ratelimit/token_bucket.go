package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// bucketScript refills from redis server time, takes one token when one is
// available and replies {allowed, remaining, retry_ms}. Remaining goes back
// as a string since redis truncates Lua numbers in replies.
const bucketScript = `
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local ttl_ms = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(capacity, tokens + (now - last) * per_ms)
  last = now
end

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry_ms = math.ceil((1 - tokens) / per_ms)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", last)
redis.call("PEXPIRE", KEYS[1], ttl_ms)
return {allowed, tostring(tokens), retry_ms}
`

var errBucketReply = errors.New("unexpected token bucket reply")

// TokenBucket keeps one bucket per key in a redis hash.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

// RateLimitResult is the outcome of taking one token.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(bucketScript),
	}
}

// Allow takes a token from key's bucket. The bucket holds burst tokens and
// refills at rate tokens per second.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	denied := &RateLimitResult{Allowed: false, Limit: burst}
	switch {
	case t == nil || t.client == nil:
		return denied, errors.New("rate limiter not configured")
	case key == "":
		return denied, errors.New("rate limiter key is empty")
	case rate <= 0 || burst <= 0:
		return denied, fmt.Errorf("rate limiter needs a positive rate and burst, got %v and %d", rate, burst)
	}

	reply, err := t.script.Run(ctx, t.client, []string{key},
		burst,
		rate/1000,
		bucketTTL(rate, burst).Milliseconds(),
	).Slice()
	if err != nil {
		return denied, err
	}
	res, err := parseBucketReply(reply, burst)
	if err != nil {
		return denied, err
	}
	return res, nil
}

func parseBucketReply(reply []any, burst int) (*RateLimitResult, error) {
	if len(reply) != 3 {
		return nil, fmt.Errorf("%w: %d values", errBucketReply, len(reply))
	}
	allowed, ok := reply[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: allowed=%v", errBucketReply, reply[0])
	}
	raw, ok := reply[1].(string)
	if !ok {
		return nil, fmt.Errorf("%w: remaining=%v", errBucketReply, reply[1])
	}
	remaining, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: remaining=%q", errBucketReply, raw)
	}
	retryMs, ok := reply[2].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: retry=%v", errBucketReply, reply[2])
	}

	return &RateLimitResult{
		Allowed:    allowed == 1,
		Limit:      burst,
		Remaining:  int(math.Floor(remaining)),
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}, nil
}

// bucketTTL lets an idle bucket expire once it would have refilled twice over.
func bucketTTL(rate float64, burst int) time.Duration {
	ttl := time.Duration(2 * float64(burst) / rate * float64(time.Second))
	return max(ttl, time.Second)
}

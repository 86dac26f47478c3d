package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/meterly/internal/config"
)

const keyUserRequests = "meterly:requests:user:%s"

// RequestLimiter caps per-user request rates with a per-minute token bucket.
// A nil limiter allows everything.
type RequestLimiter struct {
	bucket *TokenBucket
}

// NewRequestLimiter returns nil when redis is disabled.
func NewRequestLimiter(cfg config.Config) (*RequestLimiter, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	return NewRequestLimiterWithClient(client), nil
}

func NewRequestLimiterWithClient(client *redis.Client) *RequestLimiter {
	if client == nil {
		return nil
	}
	return &RequestLimiter{bucket: NewTokenBucket(client)}
}

func (l *RequestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow consumes one request from userID's bucket. perMinute <= 0 means the
// plan sets no request cap.
func (l *RequestLimiter) Allow(ctx context.Context, userID string, perMinute int) (*RateLimitResult, error) {
	if !l.Enabled() || perMinute <= 0 {
		return &RateLimitResult{Allowed: true}, nil
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &RateLimitResult{Allowed: false}, errors.New("rate limiter user is empty")
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUserRequests, userID), float64(perMinute)/60, perMinute)
}

func (l *RequestLimiter) Close() error {
	if !l.Enabled() {
		return nil
	}
	return l.bucket.client.Close()
}

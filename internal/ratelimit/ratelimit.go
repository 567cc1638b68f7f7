// Package ratelimit implements a sliding-window request limiter on Redis
// sorted sets, shared by every API instance pointing at the same Redis.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "storefront:ratelimit"

type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func New(client *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{
		client: client,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// NewFromURL parses a redis:// URL and pings the server.
func NewFromURL(ctx context.Context, url string, limit int, window time.Duration) (*Limiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return New(client, limit, window), nil
}

func (l *Limiter) Close() error {
	return l.client.Close()
}

// Allow records one request for key if the window has room. When it does not,
// retryAfter is the time until the oldest request in the window expires.
// Trim, record and count run in one MULTI so concurrent callers cannot both
// take the last slot. A request over the limit is removed again. Redis errors
// fail open.
func (l *Limiter) Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration) {
	now := l.now()
	windowStart := now.Add(-l.window)
	redisKey := keyPrefix + ":" + key
	min := strconv.FormatInt(windowStart.UnixMicro(), 10)
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	var count *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "0", "("+min)
		pipe.ZAdd(ctx, redisKey, &redis.Z{Score: float64(now.UnixMicro()), Member: member})
		count = pipe.ZCard(ctx, redisKey)
		pipe.Expire(ctx, redisKey, 2*l.window)
		return nil
	})
	if err != nil {
		log.Printf("ratelimit: record %s: %v", key, err)
		return true, 0
	}

	if count.Val() <= int64(l.limit) {
		return true, 0
	}

	if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
		log.Printf("ratelimit: release %s: %v", key, err)
	}
	return false, l.retryAfter(ctx, redisKey, now)
}

func (l *Limiter) retryAfter(ctx context.Context, redisKey string, now time.Time) time.Duration {
	oldest, err := l.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return l.window
	}

	expires := time.UnixMicro(int64(oldest[0].Score)).Add(l.window)
	wait := expires.Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// Bucket names the three advisory rate-limit buckets §5 names: identify, presence_updates, all.
type Bucket string

const (
	BucketIdentify Bucket = "identify"
	BucketPresence Bucket = "presence_updates"
	BucketAll      Bucket = "all"
)

// RateLimiter enforces advisory per-connection op rate limits with Redis-backed decaying
// counters (INCR + PEXPIRE), the same idiom the teacher's Valkey rate limiter uses. Limits are
// advisory and never block: Allow only reports whether the caller is within the limit. The hub
// checks the presence_updates bucket on STATUS_UPDATE and drops the op when it is exceeded; the
// identify and all buckets are not checked by any op handler.
type RateLimiter struct {
	rdb *redis.Client
}

// NewRateLimiter wraps a Redis client for rate-limit bucket tracking.
func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// Allow increments the counter for (bucket, userID, sessionID) and reports whether the caller is
// still within count over window. On any Redis error, Allow fails open (returns true): advisory
// limits must never turn a backing-store outage into a gateway outage.
func (r *RateLimiter) Allow(ctx context.Context, bucket Bucket, userID snowflake.ID, sessionID string, count int, window time.Duration) bool {
	key := fmt.Sprintf("ratelimit:%s:%s:%s", bucket, userID.String(), sessionID)

	pipe := r.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true
	}
	return incr.Val() <= int64(count)
}

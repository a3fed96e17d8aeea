package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRateLimiterAllowsUpToCount(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	limiter := NewRateLimiter(rdb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !limiter.Allow(ctx, BucketPresence, 1, "sess", 3, time.Minute) {
			t.Fatalf("request %d should be allowed within the count", i)
		}
	}
	if limiter.Allow(ctx, BucketPresence, 1, "sess", 3, time.Minute) {
		t.Fatal("request exceeding the count should be denied")
	}
}

func TestRateLimiterBucketsAreIndependent(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	limiter := NewRateLimiter(rdb)
	ctx := context.Background()

	if !limiter.Allow(ctx, BucketIdentify, 1, "sess", 1, time.Minute) {
		t.Fatal("first identify should be allowed")
	}
	if limiter.Allow(ctx, BucketIdentify, 1, "sess", 1, time.Minute) {
		t.Fatal("second identify within the window should be denied")
	}
	if !limiter.Allow(ctx, BucketPresence, 1, "sess", 1, time.Minute) {
		t.Fatal("a different bucket for the same user/session should be unaffected")
	}
}

func TestRateLimiterFailsOpenOnClosedRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	_ = rdb.Close()

	limiter := NewRateLimiter(rdb)
	if !limiter.Allow(context.Background(), BucketAll, 1, "sess", 1, time.Minute) {
		t.Fatal("Allow() should fail open when the backing store is unreachable")
	}
}

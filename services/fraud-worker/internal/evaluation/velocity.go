package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/nimeshabuddhika/fraud-router/pkg/views"
	"github.com/redis/go-redis/v9"
)

// Counter increments a key that expires after window and returns the new count.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter is a Counter backed by INCR and EXPIRE in one pipeline.
type RedisCounter struct {
	client redis.Cmdable
}

func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// VelocityRule flags a user who submits more than Limit transactions inside one window.
// Unlike the other rules it records every evaluation, so it is not idempotent.
type VelocityRule struct {
	counter Counter
	limit   int64
	window  time.Duration
	now     func() time.Time
}

func NewVelocityRule(counter Counter, limit int64, window time.Duration) *VelocityRule {
	return &VelocityRule{counter: counter, limit: limit, window: window, now: time.Now}
}

func (r *VelocityRule) Name() string { return "velocity" }

func (r *VelocityRule) Evaluate(ctx context.Context, txn views.Transaction) (bool, error) {
	if txn.UserID == "" || r.limit <= 0 || r.window <= 0 {
		return false, nil
	}
	bucket := r.now().UnixNano() / int64(r.window)
	key := fmt.Sprintf("fraud:velocity:%s:%d", txn.UserID, bucket)
	count, err := r.counter.Incr(ctx, key, r.window)
	if err != nil {
		return false, err
	}
	return count > r.limit, nil
}

package dispatch

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// StreamAdder is the subset of *redis.Client used by RedisStreamSink.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamSink appends records to a Redis stream, the durable clean-transaction store.
type RedisStreamSink struct {
	dest   Destination
	client StreamAdder
}

func NewRedisStreamSink(dest Destination, client StreamAdder) *RedisStreamSink {
	return &RedisStreamSink{dest: dest, client: client}
}

func (r *RedisStreamSink) Destination() Destination { return r.dest }

// Publish XADDs env and returns the stream entry id.
func (r *RedisStreamSink) Publish(ctx context.Context, env Envelope) (string, error) {
	values := map[string]interface{}{
		"transactionId": env.TransactionID,
		"body":          string(env.Body),
	}
	if env.Subject != "" {
		values["subject"] = env.Subject
	}
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{Stream: r.dest.Name, Values: values}).Result()
	if err != nil {
		return "", classifyRedisError(err)
	}
	return id, nil
}

var transientRedisReplies = []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "READONLY"}

// classifyRedisError treats server error replies as permanent unless the server asks to retry.
// Network and timeout errors do not implement redis.Error and stay transient.
func classifyRedisError(err error) error {
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		for _, prefix := range transientRedisReplies {
			if strings.HasPrefix(replyErr.Error(), prefix) {
				return transient("redis stream append failed", err)
			}
		}
		return permanent("redis stream append rejected", err)
	}
	return transient("redis stream append failed", err)
}

package cache

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	dialTimeout     = 3 * time.Second
	ioTimeout       = 2 * time.Second
	minIdleConns    = 2
	maxRetries      = 3
	minRetryBackoff = 50 * time.Millisecond
	maxRetryBackoff = 500 * time.Millisecond
	pingTimeout     = 30 * time.Second
)

// Config holds the Redis options shared by the velocity counter and the
// stream channel. Only Addr is required.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	UseTLS   bool
	PoolSize int
}

// New returns a configured redis.Client and verifies connectivity with PING.
// The PING is retried with backoff for up to 30s so the worker can start
// alongside its Redis container. Call the returned closer during shutdown.
func New(ctx context.Context, logger *zap.Logger, cfg Config) (*redis.Client, func(), error) {
	opts := &redis.Options{
		Addr:            cfg.Addr,
		Username:        cfg.Username,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     dialTimeout,
		ReadTimeout:     ioTimeout,
		WriteTimeout:    ioTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    minIdleConns,
		MaxRetries:      maxRetries,
		MinRetryBackoff: minRetryBackoff,
		MaxRetryBackoff: maxRetryBackoff,
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}

	// TLS for production (e.g., managed Redis)
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = pingTimeout
	ping := func() error { return client.Ping(ctx).Err() }
	notify := func(err error, wait time.Duration) {
		logger.Warn("redis_ping_failed", zap.String("addr", cfg.Addr), zap.Duration("retry_in", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("redis_connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))

	closer := func() {
		_ = client.Close()
	}

	return client, closer, nil
}

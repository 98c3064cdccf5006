package redisq

import (
	"context"
	"fmt"
	"time"

	"syncq/internal/config"
	"syncq/pkg/backoff"

	"github.com/codeGROOVE-dev/retry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Client struct {
	Cfg config.Redis
	Rdb *redis.Client
}

func New(cfg config.Redis) *Client {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{Cfg: cfg, Rdb: c}
}

// Connect pings the server, backing off between attempts.
func (c *Client) Connect(ctx context.Context) error {
	attempts := c.Cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error { return c.Rdb.Ping(ctx).Err() },
		retry.Attempts(uint(attempts)),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return backoff.ExponentialJitter(200*time.Millisecond, 5*time.Second, int(n)+1)
		}),
		retry.MaxDelay(5*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Msg("redis ping failed")
		}),
	)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Msg("connected to redis")
	return nil
}

func (c *Client) key(parts ...string) string {
	k := c.Cfg.KeyPrefix
	if k == "" {
		k = "syncq"
	}
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (c *Client) Close() error { return c.Rdb.Close() }

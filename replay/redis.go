package replay

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vitwit/x402-oracle/types"
)

const defaultKeyPrefix = "x402:replay:"

// RedisGuard claims keys with SET NX so that consumption is atomic across
// every replica sharing the same Redis.
type RedisGuard struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Guard = (*RedisGuard)(nil)

type RedisOption func(*RedisGuard)

// WithPrefix namespaces keys.
func WithPrefix(prefix string) RedisOption {
	return func(g *RedisGuard) {
		g.prefix = prefix
	}
}

// WithTTL expires consumed keys. Zero keeps them forever; a TTL shorter than
// the freshness window of the slowest verifier would re-open replay.
func WithTTL(ttl time.Duration) RedisOption {
	return func(g *RedisGuard) {
		g.ttl = ttl
	}
}

func NewRedisGuard(client goredis.UniversalClient, opts ...RedisOption) *RedisGuard {
	g := &RedisGuard{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewRedisGuardFromURL parses a redis:// URL and pings the server.
func NewRedisGuardFromURL(ctx context.Context, url string, opts ...RedisOption) (*RedisGuard, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, types.WrapError(types.ErrConfigError, err, "invalid redis url")
	}
	client := goredis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, types.WrapError(types.ErrUpstreamUnavailable, err, "redis unreachable")
	}
	return NewRedisGuard(client, opts...), nil
}

func (g *RedisGuard) Consume(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, types.WrapError(types.ErrUpstreamUnavailable, err, "replay store unavailable")
	}
	return ok, nil
}

func (g *RedisGuard) Close() error {
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

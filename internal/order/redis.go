package order

import (
	"context"
	"errors"

	"github.com/himgis/webgis/internal/cache/redisstore"
)

// RedisBackend keeps the order under a single key. SET replaces the value
// atomically.
type RedisBackend struct {
	client *redisstore.Client
	key    string
}

func NewRedisBackend(client *redisstore.Client, key string) *RedisBackend {
	return &RedisBackend{client: client, key: key}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Read(ctx context.Context) ([]byte, error) {
	raw, err := b.client.Get(ctx, b.key)
	if errors.Is(err, redisstore.ErrMissing) {
		return nil, ErrNoOrder
	}
	return raw, err
}

func (b *RedisBackend) Write(ctx context.Context, data []byte) error {
	return b.client.Set(ctx, b.key, data, 0)
}

func (b *RedisBackend) Close() error { return b.client.Close() }

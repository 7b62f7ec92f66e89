package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCache namespaces tiles by session and generation. Clear swaps the
// generation, so the old tiles become unreachable at once and expire by TTL.
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	session string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	// Session scopes the keys. A random id is used when empty.
	Session string
}

func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = time.Hour // default TTL
	}

	session := cfg.Session
	if session == "" {
		session = uuid.NewString()
	}

	c := &RedisCache{
		client:  client,
		ttl:     ttl,
		session: session,
	}

	if err := c.Recreate(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return c, nil
}

var (
	_ TileCache   = (*RedisCache)(nil)
	_ Recreatable = (*RedisCache)(nil)
)

func (c *RedisCache) generationKey() string {
	return fmt.Sprintf("isochrone:%s:generation", c.session)
}

func (c *RedisCache) tilePrefix(gen string) string {
	return fmt.Sprintf("isochrone:%s:%s:tile:", c.session, gen)
}

func (c *RedisCache) keyFor(gen string, k TileCacheKey) string {
	return fmt.Sprintf("%s%d:%d:%d", c.tilePrefix(gen), k.Z, k.X, k.Y)
}

func (c *RedisCache) generation(ctx context.Context) (string, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrLayerMissing
		}
		return "", fmt.Errorf("redis get error: %w", err)
	}
	return gen, nil
}

func (c *RedisCache) Get(ctx context.Context, k TileCacheKey) (TileCacheValue, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		if errors.Is(err, ErrLayerMissing) {
			return nil, false, nil
		}
		return nil, false, err
	}

	data, err := c.client.Get(ctx, c.keyFor(gen, k)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get error: %w", err)
	}

	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, k TileCacheKey, v TileCacheValue) error {
	gen, err := c.generation(ctx)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, c.keyFor(gen, k), []byte(v), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}

// Clear moves to a fresh generation. It fails with ErrLayerMissing when the
// current generation is gone instead of silently recreating it.
func (c *RedisCache) Clear(ctx context.Context) error {
	ok, err := c.client.SetXX(ctx, c.generationKey(), uuid.NewString(), 0).Result()
	if err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	if !ok {
		return ErrLayerMissing
	}
	return nil
}

// Recreate installs a fresh generation unconditionally.
func (c *RedisCache) Recreate(ctx context.Context) error {
	if err := c.client.Set(ctx, c.generationKey(), uuid.NewString(), 0).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	var s Stats

	gen, err := c.generation(ctx)
	if err != nil {
		if errors.Is(err, ErrLayerMissing) {
			return s, nil
		}
		return s, err
	}

	iter := c.client.Scan(ctx, 0, c.tilePrefix(gen)+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := c.client.StrLen(ctx, iter.Val()).Result()
		if err != nil {
			return s, fmt.Errorf("redis strlen error: %w", err)
		}
		s.Tiles++
		s.Bytes += n
	}
	if err := iter.Err(); err != nil {
		return s, fmt.Errorf("redis scan error: %w", err)
	}

	return s, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "flowguard:callback:"

// Options configure the client.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to redis. It returns nil when the server cannot be
// reached within two seconds; callers run without the cache in that case.
func NewClient(opts Options) *goredis.Client {
	if opts.Addr == "" {
		return nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}

// ResultCache keeps applied callback results so replays are answered without
// touching the database. The receipt table stays authoritative.
type ResultCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewResultCache(client *goredis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResultCache{client: client, ttl: ttl}
}

func (c *ResultCache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(val), true, nil
}

func (c *ResultCache) Put(ctx context.Context, key string, result json.RawMessage) error {
	return c.client.Set(ctx, keyPrefix+key, []byte(result), c.ttl).Err()
}

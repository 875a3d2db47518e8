package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNewClientWithoutAddr(t *testing.T) {
	assert.Nil(t, NewClient(Options{}))
}

func TestResultCacheUnreachable(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	cache := NewResultCache(client, 0)
	assert.Equal(t, 24*time.Hour, cache.ttl)

	ctx := context.Background()
	_, ok, err := cache.Get(ctx, "TX1:abc")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, cache.Put(ctx, "TX1:abc", json.RawMessage(`{}`)))
}

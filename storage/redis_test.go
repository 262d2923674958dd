package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisOptions(t *testing.T) RedisOptions {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	return RedisOptions{
		Addr:         addr,
		PoolSize:     10,
		MinIdleConns: 2,
		IdleTimeout:  5 * time.Minute,
		KeyPrefix:    fmt.Sprintf("complaint-test:%d:", time.Now().UnixNano()),
	}
}

func TestRedisStore(t *testing.T) {
	opts := redisOptions(t)
	store, err := NewRedisStore(opts)
	if err != nil {
		t.Skipf("redis unavailable at %s: %v", opts.Addr, err)
	}
	defer store.Close()
	defer func() {
		assert.NoError(t, store.Flush(context.Background()))
	}()

	runStoreSuite(t, store)
}

func TestRedisStoreConnectFailure(t *testing.T) {
	_, err := NewRedisStore(RedisOptions{Addr: "invalid:6379"})
	assert.Error(t, err)
}

func TestRedisStoreFlushNeedsPrefix(t *testing.T) {
	opts := redisOptions(t)
	opts.KeyPrefix = ""
	store, err := NewRedisStore(opts)
	if err != nil {
		t.Skipf("redis unavailable at %s: %v", opts.Addr, err)
	}
	defer store.Close()
	require.Error(t, store.Flush(context.Background()))
}

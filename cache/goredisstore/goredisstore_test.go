package goredisstore_test

import (
	"testing"
	"time"

	"github.com/go-redis/redis"

	"github.com/quotepacer/pacer/cache"
	"github.com/quotepacer/pacer/cache/cachetest"
	"github.com/quotepacer/pacer/cache/goredisstore"
)

const (
	redisTestDB     = 1
	redisTestPrefix = "pacer-go-redis:"
)

// Demonstrates how to back the response cache with redis using the
// go-redis library.
func ExampleNew() {
	// import "github.com/go-redis/redis"

	// Initialize a redis client using go-redis
	client := redis.NewClient(&redis.Options{
		PoolSize:    10, // default
		IdleTimeout: 30 * time.Second,
		Addr:        "localhost:6379",
		Password:    "", // no password set
		DB:          0,  // use default DB
	})

	// Setup store
	store, err := goredisstore.New(client, "pacer:")
	if err != nil {
		panic(err)
	}

	// Then, hand the store to the cache
	c := cache.New(store)
	c.Set("stocks_brapi_quote/PETR4", []byte(`{"results":[]}`), 15*time.Minute)
}

func TestRedisStore(t *testing.T) {
	c, st := setupRedis(t)
	defer c.Close()
	defer clearRedis(c)

	clearRedis(c)
	cachetest.TestStore(t, st)
	cachetest.TestCacheTTL(t, st)
}

func BenchmarkRedisStore(b *testing.B) {
	c, st := setupRedis(b)
	defer c.Close()
	defer clearRedis(c)

	cachetest.BenchmarkStore(b, st)
}

func clearRedis(c *redis.Client) error {
	keys, err := c.Keys(redisTestPrefix + "*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.Del(keys...).Err()
}

func setupRedis(tb testing.TB) (*redis.Client, *goredisstore.GoRedisStore) {
	client := redis.NewClient(&redis.Options{
		PoolSize:    10, // default
		IdleTimeout: 30 * time.Second,
		Addr:        "localhost:6379",
		Password:    "",          // no password set
		DB:          redisTestDB, // use default DB
	})

	if err := client.Ping().Err(); err != nil {
		client.Close()
		tb.Skip("redis server not available on localhost port 6379")
	}

	st, err := goredisstore.New(client, redisTestPrefix)
	if err != nil {
		client.Close()
		tb.Fatal(err)
	}

	return client, st
}

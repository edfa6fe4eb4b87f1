// Package goredisstore offers a Redis-based store implementation for the
// cache using go-redis.
package goredisstore // import "github.com/quotepacer/pacer/cache/goredisstore"

import (
	"strings"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/quotepacer/pacer/cache"
)

const scanCount = 100

// GoRedisStore implements a Redis-based cache store using go-redis.
type GoRedisStore struct {
	client redis.UniversalClient
	prefix string
}

// New creates a new Redis-based store, using the provided client to
// interact with Redis. The keys will have the specified keyPrefix, which
// may be an empty string.
func New(client redis.UniversalClient, keyPrefix string) (*GoRedisStore, error) {
	return &GoRedisStore{
		client: client,
		prefix: keyPrefix,
	}, nil
}

func (r *GoRedisStore) Get(key string) (cache.Entry, bool, error) {
	data, err := r.client.Get(r.prefix + key).Bytes()
	if err == redis.Nil {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, errors.Wrap(err, "goredisstore: GET")
	}
	e, err := cache.UnmarshalEntry(data)
	if err != nil {
		return cache.Entry{}, false, errors.Wrapf(err, "goredisstore: decoding %s", key)
	}
	return e, true, nil
}

func (r *GoRedisStore) Set(key string, e cache.Entry) error {
	data, err := cache.MarshalEntry(e)
	if err != nil {
		return errors.Wrapf(err, "goredisstore: encoding %s", key)
	}
	err = r.client.Set(r.prefix+key, data, cache.Expiry(e)).Err()
	return errors.Wrap(err, "goredisstore: SET")
}

func (r *GoRedisStore) Delete(key string) error {
	return errors.Wrap(r.client.Del(r.prefix+key).Err(), "goredisstore: DEL")
}

func (r *GoRedisStore) DeletePrefix(prefix string) error {
	return r.scan(prefix, func(keys []string) error {
		return errors.Wrap(r.client.Del(keys...).Err(), "goredisstore: DEL")
	})
}

func (r *GoRedisStore) Len() (int, error) {
	var n int
	err := r.scan("", func(keys []string) error {
		n += len(keys)
		return nil
	})
	return n, err
}

func (r *GoRedisStore) scan(prefix string, fn func([]string) error) error {
	match := escapeGlob(r.prefix+prefix) + "*"
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(cursor, match, scanCount).Result()
		if err != nil {
			return errors.Wrap(err, "goredisstore: SCAN")
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

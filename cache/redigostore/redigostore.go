// Package redigostore offers a Redis-based store implementation for the
// cache using redigo.
package redigostore // import "github.com/quotepacer/pacer/cache/redigostore"

import (
	"strings"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"

	"github.com/quotepacer/pacer/cache"
)

const scanCount = 100

// RedigoStore implements a Redis-based cache store using redigo. Entries
// expire in Redis when their TTL runs out.
type RedigoStore struct {
	pool   *redis.Pool
	prefix string
	db     int
}

// New creates a new Redis-based store, using the pool to get its
// connections. The keys will have the specified keyPrefix, which may be
// an empty string, and the database index specified by db will be
// selected to store the keys. Clearing the store only touches keys under
// keyPrefix.
func New(pool *redis.Pool, keyPrefix string, db int) (*RedigoStore, error) {
	return &RedigoStore{
		pool:   pool,
		prefix: keyPrefix,
		db:     db,
	}, nil
}

func (r *RedigoStore) Get(key string) (cache.Entry, bool, error) {
	conn, err := r.getConn()
	if err != nil {
		return cache.Entry{}, false, err
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", r.prefix+key))
	if err == redis.ErrNil {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, errors.Wrap(err, "redigostore: GET")
	}
	e, err := cache.UnmarshalEntry(data)
	if err != nil {
		return cache.Entry{}, false, errors.Wrapf(err, "redigostore: decoding %s", key)
	}
	return e, true, nil
}

func (r *RedigoStore) Set(key string, e cache.Entry) error {
	data, err := cache.MarshalEntry(e)
	if err != nil {
		return errors.Wrapf(err, "redigostore: encoding %s", key)
	}

	conn, err := r.getConn()
	if err != nil {
		return err
	}
	defer conn.Close()

	args := redis.Args{r.prefix + key, data}
	if d := cache.Expiry(e); d > 0 {
		ms := d.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		args = args.Add("PX", ms)
	}
	if _, err := conn.Do("SET", args...); err != nil {
		return errors.Wrap(err, "redigostore: SET")
	}
	return nil
}

func (r *RedigoStore) Delete(key string) error {
	conn, err := r.getConn()
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("DEL", r.prefix+key)
	return errors.Wrap(err, "redigostore: DEL")
}

// DeletePrefix walks the matching keys with SCAN and deletes them batch
// by batch. Keys written concurrently may survive.
func (r *RedigoStore) DeletePrefix(prefix string) error {
	conn, err := r.getConn()
	if err != nil {
		return err
	}
	defer conn.Close()

	return r.scan(conn, prefix, func(keys []string) error {
		_, err := conn.Do("DEL", redis.Args{}.AddFlat(keys)...)
		return errors.Wrap(err, "redigostore: DEL")
	})
}

func (r *RedigoStore) Len() (int, error) {
	conn, err := r.getConn()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var n int
	err = r.scan(conn, "", func(keys []string) error {
		n += len(keys)
		return nil
	})
	return n, err
}

func (r *RedigoStore) scan(conn redis.Conn, prefix string, fn func([]string) error) error {
	match := escapeGlob(r.prefix+prefix) + "*"
	cursor := 0
	for {
		vals, err := redis.Values(conn.Do("SCAN", cursor, "MATCH", match, "COUNT", scanCount))
		if err != nil {
			return errors.Wrap(err, "redigostore: SCAN")
		}
		if cursor, err = redis.Int(vals[0], nil); err != nil {
			return errors.Wrap(err, "redigostore: SCAN cursor")
		}
		keys, err := redis.Strings(vals[1], nil)
		if err != nil {
			return errors.Wrap(err, "redigostore: SCAN keys")
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if cursor == 0 {
			return nil
		}
	}
}

// Select the specified database index.
func (r *RedigoStore) getConn() (redis.Conn, error) {
	conn := r.pool.Get()

	// Select the specified database
	if r.db > 0 {
		if _, err := redis.String(conn.Do("SELECT", r.db)); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "redigostore: SELECT")
		}
	}

	return conn, nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

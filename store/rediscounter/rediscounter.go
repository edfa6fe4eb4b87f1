// Package rediscounter offers a Redis-based pacer.CounterStore using
// redigo, so that daily call budgets are shared between processes.
package rediscounter // import "github.com/quotepacer/pacer/store/rediscounter"

import (
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"

	"github.com/quotepacer/pacer"
)

var _ pacer.CounterStore = (*RedisCounter)(nil)

// RedisCounter keeps each counter in two keys: the count itself and the
// start of its window, both expiring with the window.
type RedisCounter struct {
	pool   *redis.Pool
	prefix string
	db     int
}

// New returns a RedisCounter using keys under keyPrefix in database db.
func New(pool *redis.Pool, keyPrefix string, db int) *RedisCounter {
	return &RedisCounter{
		pool:   pool,
		prefix: keyPrefix,
		db:     db,
	}
}

// incrSince opens a new window when the ts key is missing or older than
// ARGV[1], otherwise it increments the count.
var incrSince = redis.NewScript(2, `
local ts = redis.call('GET', KEYS[2])
if (not ts) or tonumber(ts) < tonumber(ARGV[1]) then
  redis.call('SET', KEYS[1], 1, 'PX', ARGV[2])
  redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
  return 1
end
return redis.call('INCR', KEYS[1])
`)

func (r *RedisCounter) IncrSince(key string, since time.Time, window time.Duration) (int, error) {
	conn, err := r.getConn()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	ms := window.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	n, err := redis.Int(incrSince.Do(conn, r.prefix+key, r.prefix+key+":ts", since.UnixNano(), ms))
	return n, errors.Wrap(err, "rediscounter: incr")
}

func (r *RedisCounter) GetTs(key string) (int, time.Time, error) {
	conn, err := r.getConn()
	if err != nil {
		return 0, time.Time{}, err
	}
	defer conn.Close()

	vals, err := redis.Values(conn.Do("MGET", r.prefix+key, r.prefix+key+":ts"))
	if err != nil {
		return 0, time.Time{}, errors.Wrap(err, "rediscounter: MGET")
	}
	var scnt, sts string
	if _, err = redis.Scan(vals, &scnt, &sts); err != nil {
		return 0, time.Time{}, errors.Wrap(err, "rediscounter: scan")
	}
	if scnt == "" {
		return 0, time.Time{}, nil
	}
	cnt, err := strconv.Atoi(scnt)
	if err != nil {
		return 0, time.Time{}, errors.Wrap(err, "rediscounter: count")
	}
	var ts time.Time
	if sts != "" {
		nsec, err := strconv.ParseInt(sts, 10, 64)
		if err != nil {
			return 0, time.Time{}, errors.Wrap(err, "rediscounter: timestamp")
		}
		ts = time.Unix(0, nsec).UTC()
	}
	return cnt, ts, nil
}

func (r *RedisCounter) getConn() (redis.Conn, error) {
	conn := r.pool.Get()
	if r.db > 0 {
		if _, err := redis.String(conn.Do("SELECT", r.db)); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "rediscounter: SELECT")
		}
	}
	return conn, nil
}

package cache

import (
	"errors"
	"time"
)

// ErrNoSuchKey may be returned by backends that cannot express a miss
// otherwise. Cache treats it as a miss.
var ErrNoSuchKey = errors.New("cache: no such key")

// Entry is a stored value with the time it was stored and how long it
// stays valid.
type Entry struct {
	Value    interface{}
	StoredAt time.Time
	TTL      time.Duration
}

// Valid reports whether the entry is still fresh at now.
func (e Entry) Valid(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// Store is the backend a Cache keeps its entries in. Implementations must
// be safe for concurrent use. They may drop entries after their TTL but
// are not required to; the Cache checks validity on every read.
type Store interface {
	// Get returns the entry stored under key and whether it exists.
	Get(key string) (Entry, bool, error)

	// Set stores e under key, replacing any previous entry.
	Set(key string, e Entry) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// DeletePrefix removes every key starting with prefix. An empty
	// prefix removes everything.
	DeletePrefix(prefix string) error

	// Len returns the number of stored keys, expired ones included.
	Len() (int, error)
}

// ExpiredDeleter is implemented by stores that can remove a key only if
// its entry is still invalid at now, as one atomic step. A Cache uses it
// to drop expired entries on read without racing a concurrent Set. Stores
// without it keep expired entries until Purge or their own expiry.
type ExpiredDeleter interface {
	DeleteExpired(key string, now time.Time) (bool, error)
}

// Purger is implemented by stores that can drop expired entries in bulk.
type Purger interface {
	Purge(now time.Time) (int, error)
}

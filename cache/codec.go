package cache

import (
	"time"

	"github.com/goccy/go-json"
)

// envelope is the serialized form of an Entry in remote stores. Byte
// values travel as-is in B; anything else is JSON-encoded into V.
type envelope struct {
	B   []byte          `json:"b,omitempty"`
	V   json.RawMessage `json:"v,omitempty"`
	Raw bool            `json:"raw,omitempty"`
	At  int64           `json:"at"`
	TTL int64           `json:"ttl"`
}

// MarshalEntry encodes e for stores that keep bytes. A []byte value comes
// back as []byte from UnmarshalEntry; other values come back in their
// generic JSON form (map[string]interface{}, []interface{}, float64...).
func MarshalEntry(e Entry) ([]byte, error) {
	env := envelope{At: e.StoredAt.UnixNano(), TTL: int64(e.TTL)}
	if b, ok := e.Value.([]byte); ok {
		env.B, env.Raw = b, true
	} else {
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		env.V = v
	}
	return json.Marshal(env)
}

// UnmarshalEntry decodes data produced by MarshalEntry.
func UnmarshalEntry(data []byte) (Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Entry{}, err
	}
	e := Entry{
		StoredAt: time.Unix(0, env.At).UTC(),
		TTL:      time.Duration(env.TTL),
	}
	if env.Raw {
		if env.B == nil {
			env.B = []byte{}
		}
		e.Value = env.B
		return e, nil
	}
	if len(env.V) > 0 {
		var v interface{}
		if err := json.Unmarshal(env.V, &v); err != nil {
			return Entry{}, err
		}
		e.Value = v
	}
	return e, nil
}

// Expiry returns how long a remote store should keep e: the remainder of
// its TTL, or the whole TTL when that remainder is already gone. Zero
// means no expiry.
func Expiry(e Entry) time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	if d := e.TTL - time.Since(e.StoredAt); d > 0 {
		return d
	}
	return e.TTL
}

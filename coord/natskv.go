package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSKV is the cross-process Cache, backed by a JetStream key/value bucket.
// The bucket's MaxAge is a backstop; per-key TTLs are carried in an envelope
// so stale indicator values self-expire exactly like the in-process cache.
type NATSKV struct {
	kv  nats.KeyValue
	now func() time.Time
}

type envelope struct {
	Value   []byte `json:"v"`
	Expires int64  `json:"exp,omitempty"` // unix seconds, 0: never
}

// NewNATSKV connects the coordination bucket, creating it on first use.
func NewNATSKV(nc *nats.Conn, bucket string, maxAge time.Duration) (*NATSKV, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: bucket,
			TTL:    maxAge,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open coordination bucket %q: %w", bucket, err)
	}
	return &NATSKV{kv: kv, now: time.Now}, nil
}

func (c *NATSKV) seal(value []byte, ttl time.Duration) ([]byte, error) {
	env := envelope{Value: value}
	if ttl > 0 {
		env.Expires = c.now().Add(ttl).Unix()
	}
	return json.Marshal(env)
}

func (c *NATSKV) open(data []byte) ([]byte, bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("decode cache envelope: %w", err)
	}
	if env.Expires > 0 && c.now().Unix() >= env.Expires {
		return nil, true, nil
	}
	return env.Value, false, nil
}

func (c *NATSKV) Get(_ context.Context, key string) (Entry, error) {
	kve, err := c.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return Entry{}, ErrKeyNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("cache get %q: %w", key, err)
	}

	value, expired, err := c.open(kve.Value())
	if err != nil {
		return Entry{}, err
	}
	if expired {
		// Best effort: clear the stale entry so Create can win later.
		_ = c.kv.Delete(key)
		return Entry{}, ErrKeyNotFound
	}
	return Entry{Value: value, Revision: kve.Revision()}, nil
}

func (c *NATSKV) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	data, err := c.seal(value, ttl)
	if err != nil {
		return err
	}
	if _, err := c.kv.Put(key, data); err != nil {
		return fmt.Errorf("cache put %q: %w", key, err)
	}
	return nil
}

func (c *NATSKV) Create(_ context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	data, err := c.seal(value, ttl)
	if err != nil {
		return 0, err
	}

	rev, err := c.kv.Create(key, data)
	if err == nil {
		return rev, nil
	}
	if !errors.Is(err, nats.ErrKeyExists) {
		return 0, fmt.Errorf("cache create %q: %w", key, err)
	}

	// The key exists; if it holds only an expired envelope, replace it
	// conditionally and claim the slot.
	kve, kerr := c.kv.Get(key)
	if errors.Is(kerr, nats.ErrKeyNotFound) {
		// Purged between the create and the read; one retry settles it.
		if rev, err = c.kv.Create(key, data); err != nil {
			return 0, ErrKeyExists
		}
		return rev, nil
	}
	if kerr != nil {
		return 0, fmt.Errorf("cache get %q: %w", key, kerr)
	}
	_, expired, err := c.open(kve.Value())
	if err != nil {
		return 0, err
	}
	if !expired {
		return 0, ErrKeyExists
	}
	if rev, err = c.kv.Update(key, data, kve.Revision()); err != nil {
		return 0, ErrKeyExists
	}
	return rev, nil
}

func (c *NATSKV) Update(_ context.Context, key string, value []byte, rev uint64, ttl time.Duration) (uint64, error) {
	data, err := c.seal(value, ttl)
	if err != nil {
		return 0, err
	}

	newRev, err := c.kv.Update(key, data, rev)
	if err == nil {
		return newRev, nil
	}
	if errors.Is(err, nats.ErrKeyNotFound) {
		return 0, ErrKeyNotFound
	}
	// Only a lost revision race maps to the mismatch error; transport
	// failures propagate so callers never mistake one for losing the race.
	var apiErr *nats.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence {
		return 0, ErrRevisionMismatch
	}
	return 0, fmt.Errorf("cache update %q: %w", key, err)
}

func (c *NATSKV) Delete(_ context.Context, key string) error {
	err := c.kv.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	return nil
}

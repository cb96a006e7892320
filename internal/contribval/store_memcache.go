package contribval

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// memcached treats expirations above 30 days as absolute unix timestamps.
const memcacheRelativeLimit = 30 * 24 * time.Hour

// memcacheStore delegates storage and expiry to a memcached cluster so
// several instances share one schema copy and one submission history.
type memcacheStore struct {
	client *memcache.Client
}

func newMemcacheStore(servers []string, timeout time.Duration) *memcacheStore {
	c := memcache.New(servers...)
	if timeout > 0 {
		c.Timeout = timeout
	}
	return &memcacheStore{client: c}
}

func (m *memcacheStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	it, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return it.Value, true, nil
}

func (m *memcacheStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return m.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: memcacheExpiration(ttl, time.Now()),
	})
}

func (m *memcacheStore) Close() error { return nil }

func memcacheExpiration(ttl time.Duration, now time.Time) int32 {
	if ttl > memcacheRelativeLimit {
		return int32(now.Add(ttl).Unix())
	}
	secs := int32(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

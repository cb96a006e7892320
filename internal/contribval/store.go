package contribval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Store is the key/value cache shared by every component. Values are opaque
// bytes with a per-key time-to-live; an expired key reads as absent.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// getJSON decodes the value under key into v. Callers only ever see the
// decoded form.
func getJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := decodeExact(b, v); err != nil {
		return false, fmt.Errorf("decode cache key %q: %w", key, err)
	}
	return true, nil
}

func setJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache key %q: %w", key, err)
	}
	return s.Set(ctx, key, b, ttl)
}

// ---- ram store ----

type ramItem struct {
	key       string
	value     []byte
	expiresAt time.Time
	prev      *ramItem
	next      *ramItem
}

func (it *ramItem) size() int64 { return int64(len(it.key) + len(it.value)) }

// ramStore is an in-process Store. With maxBytes > 0 it evicts least recently
// used entries once the total size would exceed the bound.
type ramStore struct {
	maxBytes int64
	now      func() time.Time

	mu    sync.Mutex
	items map[string]*ramItem
	head  *ramItem
	tail  *ramItem
	total int64
}

func newRAMStore(maxBytes int64, now func() time.Time) *ramStore {
	if now == nil {
		now = time.Now
	}
	return &ramStore{maxBytes: maxBytes, now: now, items: map[string]*ramItem{}}
}

func (c *ramStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, _, ok := c.getWithExpiry(key)
	return v, ok, nil
}

func (c *ramStore) getWithExpiry(key string) ([]byte, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, time.Time{}, false
	}
	if !it.expiresAt.After(c.now()) {
		c.removeLocked(it)
		return nil, time.Time{}, false
	}
	c.moveToFront(it)
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, it.expiresAt, true
}

func (c *ramStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return c.setUntil(key, value, c.now().Add(ttl))
}

// errValueTooLarge is returned for a value that cannot fit in a bounded
// store even when empty. Any previous value under the key is dropped.
var errValueTooLarge = errors.New("value exceeds store bound")

func (c *ramStore) setUntil(key string, value []byte, expiresAt time.Time) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	it := &ramItem{key: key, value: stored, expiresAt: expiresAt}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.items[key]; ok {
		c.removeLocked(old)
	}
	if c.maxBytes > 0 && it.size() > c.maxBytes {
		return fmt.Errorf("set %q (%s, max %s): %w", key,
			formatBytes(uint64(it.size())), formatBytes(uint64(c.maxBytes)), errValueTooLarge)
	}
	for c.maxBytes > 0 && c.total+it.size() > c.maxBytes && c.tail != nil {
		c.removeLocked(c.tail)
	}
	c.items[key] = it
	c.addToFront(it)
	c.total += it.size()
	return nil
}

func (c *ramStore) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok {
		c.removeLocked(it)
	}
}

func (c *ramStore) Close() error { return nil }

func (c *ramStore) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *ramStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *ramStore) removeLocked(it *ramItem) {
	c.unlink(it)
	delete(c.items, it.key)
	c.total -= it.size()
}

func (c *ramStore) addToFront(it *ramItem) {
	it.prev = nil
	it.next = c.head
	if c.head != nil {
		c.head.prev = it
	}
	c.head = it
	if c.tail == nil {
		c.tail = it
	}
}

func (c *ramStore) unlink(it *ramItem) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		c.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		c.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

func (c *ramStore) moveToFront(it *ramItem) {
	if c.head == it {
		return
	}
	c.unlink(it)
	c.addToFront(it)
}

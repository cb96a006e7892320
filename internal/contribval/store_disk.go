package contribval

import (
	"bytes"
	"context"
	"encoding/gob"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout inside leveldb:
//
//	e:<key>  gob(diskEntry)
//	m:<key>  gob(diskMeta)
const (
	diskEntryPrefix = "e:"
	diskMetaPrefix  = "m:"
)

type diskEntry struct {
	Value     []byte
	ExpiresAt int64 // unix nanoseconds
}

type diskMeta struct {
	Size       int64
	LastAccess int64
	ExpiresAt  int64
}

// diskStore persists entries in leveldb so cached schemas and the submission
// history survive restarts. Total size is bounded by maxBytes; when exceeded
// the least recently accessed tenth is dropped.
type diskStore struct {
	maxBytes int64
	now      func() time.Time

	db *leveldb.DB

	mu        sync.Mutex
	index     map[string]diskMeta
	totalSize int64
}

func newDiskStore(path string, maxBytes int64, now func() time.Time) (*diskStore, error) {
	if now == nil {
		now = time.Now
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	d := &diskStore{
		maxBytes: maxBytes,
		now:      now,
		db:       db,
		index:    map[string]diskMeta{},
	}
	if err := d.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *diskStore) Close() error {
	return d.db.Close()
}

func (d *diskStore) loadIndex() error {
	it := d.db.NewIterator(util.BytesPrefix([]byte(diskMetaPrefix)), nil)
	defer it.Release()

	var total int64
	idx := map[string]diskMeta{}
	for it.Next() {
		key := string(bytes.TrimPrefix(it.Key(), []byte(diskMetaPrefix)))
		var meta diskMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		idx[key] = meta
		total += meta.Size
	}
	if err := it.Error(); err != nil {
		return err
	}
	d.mu.Lock()
	d.index = idx
	d.totalSize = total
	d.mu.Unlock()
	return nil
}

func (d *diskStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, _, ok, err := d.getWithExpiry(key)
	return v, ok, err
}

func (d *diskStore) getWithExpiry(key string) ([]byte, time.Time, bool, error) {
	b, err := d.db.Get([]byte(diskEntryPrefix+key), nil)
	if err == leveldb.ErrNotFound {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	var ent diskEntry
	if err := decodeGob(b, &ent); err != nil {
		// unreadable entries behave like misses and get replaced on next Set
		return nil, time.Time{}, false, nil
	}
	now := d.now()
	expiresAt := time.Unix(0, ent.ExpiresAt)
	if !expiresAt.After(now) {
		return nil, time.Time{}, false, d.delete(key)
	}

	d.mu.Lock()
	if meta, ok := d.index[key]; ok {
		meta.LastAccess = now.UnixNano()
		d.index[key] = meta
	}
	d.mu.Unlock()
	return ent.Value, expiresAt, true, nil
}

func (d *diskStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return d.setUntil(key, value, d.now().Add(ttl))
}

func (d *diskStore) setUntil(key string, value []byte, expiresAt time.Time) error {
	b, err := encodeGob(diskEntry{Value: value, ExpiresAt: expiresAt.UnixNano()})
	if err != nil {
		return err
	}
	meta := diskMeta{
		Size:       int64(len(b)),
		LastAccess: d.now().UnixNano(),
		ExpiresAt:  expiresAt.UnixNano(),
	}
	mb, err := encodeGob(meta)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(diskEntryPrefix+key), b)
	batch.Put([]byte(diskMetaPrefix+key), mb)
	if err := d.db.Write(batch, nil); err != nil {
		return err
	}

	d.mu.Lock()
	if old, ok := d.index[key]; ok {
		d.totalSize -= old.Size
	}
	d.index[key] = meta
	d.totalSize += meta.Size
	over := d.maxBytes > 0 && d.totalSize > d.maxBytes
	d.mu.Unlock()

	if over {
		return d.evictSome(key)
	}
	return nil
}

func (d *diskStore) delete(key string) error {
	batch := new(leveldb.Batch)
	batch.Delete([]byte(diskEntryPrefix + key))
	batch.Delete([]byte(diskMetaPrefix + key))
	if err := d.db.Write(batch, nil); err != nil {
		return err
	}

	d.mu.Lock()
	if meta, ok := d.index[key]; ok {
		d.totalSize -= meta.Size
		delete(d.index, key)
	}
	d.mu.Unlock()
	return nil
}

// evictSome drops expired entries first, then the least recently accessed
// tenth of what remains. The key just written is kept.
func (d *diskStore) evictSome(keep string) error {
	type item struct {
		key string
		m   diskMeta
	}
	now := d.now().UnixNano()

	d.mu.Lock()
	items := make([]item, 0, len(d.index))
	for k, m := range d.index {
		if k != keep {
			items = append(items, item{k, m})
		}
	}
	d.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		ei, ej := items[i].m.ExpiresAt <= now, items[j].m.ExpiresAt <= now
		if ei != ej {
			return ei
		}
		return items[i].m.LastAccess < items[j].m.LastAccess
	})

	n := len(items) / 10
	if n < 1 {
		n = 1
	}
	for i, it := range items {
		if i >= n && it.m.ExpiresAt > now {
			break
		}
		if err := d.delete(it.key); err != nil {
			return err
		}
	}
	return nil
}

func (d *diskStore) TotalSize() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalSize
}

func (d *diskStore) KeyCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.index)
}

// ---- tiered store ----

// tieredStore keeps hot entries in RAM in front of leveldb. Writes go to both
// tiers; a disk hit is promoted to RAM with its remaining ttl.
type tieredStore struct {
	ram  *ramStore
	disk *diskStore
}

func newTieredStore(ram *ramStore, disk *diskStore) *tieredStore {
	return &tieredStore{ram: ram, disk: disk}
}

func (t *tieredStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if v, _, ok := t.ram.getWithExpiry(key); ok {
		return v, true, nil
	}
	v, expiresAt, ok, err := t.disk.getWithExpiry(key)
	if err != nil || !ok {
		return nil, false, err
	}
	// too large for the RAM tier: keep serving it from disk
	_ = t.ram.setUntil(key, v, expiresAt)
	return v, true, nil
}

func (t *tieredStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := t.disk.now().Add(ttl)
	if err := t.disk.setUntil(key, value, expiresAt); err != nil {
		t.ram.Delete(key)
		return err
	}
	// disk holds values too large for the RAM tier
	_ = t.ram.setUntil(key, value, expiresAt)
	return nil
}

func (t *tieredStore) Close() error {
	return t.disk.Close()
}

// ---- encoding ----

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

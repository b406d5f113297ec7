package localbase

import (
	"bytes"
	"maps"
	"slices"
	"sync"
)

// memStorage keeps every bucket in a map that is replaced wholesale on
// commit. Readers see the map current when they began; a single writer at a
// time works on a copy. Stored values are never mutated, so copies are
// shallow.
type memStorage struct {
	writeLock sync.Mutex

	lock    sync.RWMutex
	buckets map[string]map[string][]byte
	closed  bool
}

func newMemStorage() *memStorage {
	return &memStorage{buckets: make(map[string]map[string][]byte)}
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	if writable {
		s.writeLock.Lock()
	}
	s.lock.RLock()
	closed, buckets := s.closed, s.buckets
	s.lock.RUnlock()
	if closed {
		if writable {
			s.writeLock.Unlock()
		}
		return nil, ErrClosed
	}

	tx := &memTx{s: s, writable: writable, buckets: buckets}
	if writable {
		tx.buckets = maps.Clone(buckets)
		tx.copied = make(map[string]bool)
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	return nil
}

type memTx struct {
	s        *memStorage
	writable bool
	done     bool
	buckets  map[string]map[string][]byte
	copied   map[string]bool
}

func (tx *memTx) Bucket(name string) storageBucket {
	if tx.buckets[name] == nil {
		return nil
	}
	return memBucket{tx, name}
}

func (tx *memTx) CreateBucket(name string) (storageBucket, error) {
	if !tx.writable {
		return nil, ErrNotWritable
	}
	if tx.buckets[name] == nil {
		tx.buckets[name] = make(map[string][]byte)
		tx.copied[name] = true
	}
	return memBucket{tx, name}, nil
}

// mutable returns the named bucket, copying it on first write.
func (tx *memTx) mutable(name string) map[string][]byte {
	if !tx.copied[name] {
		tx.buckets[name] = maps.Clone(tx.buckets[name])
		tx.copied[name] = true
	}
	return tx.buckets[name]
}

func (tx *memTx) Commit() error {
	if !tx.writable {
		return ErrNotWritable
	}
	if tx.done {
		return nil
	}
	tx.s.lock.Lock()
	closed := tx.s.closed
	if !closed {
		tx.s.buckets = tx.buckets
	}
	tx.s.lock.Unlock()
	tx.finish()
	if closed {
		return ErrClosed
	}
	return nil
}

func (tx *memTx) Rollback() error {
	tx.finish()
	return nil
}

func (tx *memTx) finish() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.writable {
		tx.s.writeLock.Unlock()
	}
}

type memBucket struct {
	tx   *memTx
	name string
}

func (b memBucket) Get(key []byte) []byte {
	return b.tx.buckets[b.name][string(key)]
}

func (b memBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return ErrNotWritable
	}
	b.tx.mutable(b.name)[string(key)] = bytes.Clone(value)
	return nil
}

func (b memBucket) Delete(key []byte) error {
	if !b.tx.writable {
		return ErrNotWritable
	}
	delete(b.tx.mutable(b.name), string(key))
	return nil
}

// Cursor iterates over the bucket as it was when the cursor was created.
func (b memBucket) Cursor() storageCursor {
	m := b.tx.buckets[b.name]
	keys := slices.Sorted(maps.Keys(m))
	return &memCursor{m: m, keys: keys}
}

type memCursor struct {
	m    map[string][]byte
	keys []string
	pos  int
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	c.pos, _ = slices.BinarySearch(c.keys, string(seek))
	return c.current()
}

func (c *memCursor) Next() ([]byte, []byte) {
	c.pos++
	return c.current()
}

func (c *memCursor) current() ([]byte, []byte) {
	if c.pos >= len(c.keys) {
		return nil, nil
	}
	k := c.keys[c.pos]
	return []byte(k), c.m[k]
}

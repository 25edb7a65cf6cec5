package cache

import (
	"bytes"
	"context"
	"time"

	"github.com/coocood/freecache"
)

// DefaultMemorySize is the freecache arena size in bytes.
const DefaultMemorySize = 32 * 1024 * 1024

// Memory is an in-process Provider backed by freecache.
type Memory struct {
	cache *freecache.Cache
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &Memory{cache: freecache.NewCache(size)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, err := m.cache.Get([]byte(key))
	if err != nil {
		return nil, ErrMiss
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	secs := int(ttl / time.Second)
	if ttl > 0 && secs == 0 {
		secs = 1
	}
	return m.cache.Set([]byte(key), val, secs)
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.cache.Del([]byte(k))
	}
	return nil
}

// DeletePrefix walks the arena; acceptable for the key counts a response
// cache holds.
func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	p := []byte(prefix)
	var doomed [][]byte
	it := m.cache.NewIterator()
	for e := it.Next(); e != nil; e = it.Next() {
		if bytes.HasPrefix(e.Key, p) {
			doomed = append(doomed, e.Key)
		}
	}
	for _, k := range doomed {
		m.cache.Del(k)
	}
	return nil
}

func (m *Memory) Close() error {
	m.cache.Clear()
	return nil
}

package storage

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEngine wraps an Engine with an in-memory LRU read cache, matching
// spec §4.3's "in-memory-cached on-disk KV engine" phrasing. Writes go
// through to the underlying engine synchronously and update the cache so
// reads are never stale; this is safe without its own locking because the
// single-writer Service loop is the only caller.
type CachedEngine struct {
	next  Engine
	cache *lru.Cache[string, []byte]
}

// NewCachedEngine wraps next with an LRU cache holding up to size entries.
func NewCachedEngine(next Engine, size int) (*CachedEngine, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &CachedEngine{next: next, cache: cache}, nil
}

func (e *CachedEngine) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok := e.cache.Get(key); ok {
		return append([]byte(nil), v...), true, nil
	}
	v, ok, err := e.next.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	e.cache.Add(key, v)
	return v, true, nil
}

func (e *CachedEngine) Put(ctx context.Context, key string, value []byte) error {
	if err := e.next.Put(ctx, key, value); err != nil {
		return err
	}
	e.cache.Add(key, append([]byte(nil), value...))
	return nil
}

func (e *CachedEngine) Delete(ctx context.Context, key string) error {
	if err := e.next.Delete(ctx, key); err != nil {
		return err
	}
	e.cache.Remove(key)
	return nil
}

func (e *CachedEngine) Close() error {
	return e.next.Close()
}

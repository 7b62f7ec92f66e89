package cache

import (
	"context"
	"sync"
)

type MapCache struct {
	m *TypedSyncMap
}

type TypedSyncMap struct {
	m sync.Map
}

func (c *TypedSyncMap) Load(k TileCacheKey) (TileCacheValue, bool) {
	v, exists := c.m.Load(k)
	if !exists {
		return nil, false
	}
	return v.(TileCacheValue), exists
}

func (c *TypedSyncMap) Store(k TileCacheKey, v TileCacheValue) {
	c.m.Store(k, v)
}

func (c *TypedSyncMap) Clear() {
	c.m.Clear()
}

func (c *TypedSyncMap) Range(fn func(TileCacheKey, TileCacheValue) bool) {
	c.m.Range(func(k, v any) bool {
		return fn(k.(TileCacheKey), v.(TileCacheValue))
	})
}

func NewMapCache() *MapCache {
	return &MapCache{
		m: &TypedSyncMap{},
	}
}

var _ TileCache = (*MapCache)(nil)

func (c *MapCache) Get(_ context.Context, k TileCacheKey) (TileCacheValue, bool, error) {
	v, exists := c.m.Load(k)
	return v, exists, nil
}

func (c *MapCache) Set(_ context.Context, k TileCacheKey, v TileCacheValue) error {
	c.m.Store(k, v)
	return nil
}

func (c *MapCache) Clear(_ context.Context) error {
	c.m.Clear()
	return nil
}

func (c *MapCache) Stats(_ context.Context) (Stats, error) {
	var s Stats
	c.m.Range(func(_ TileCacheKey, v TileCacheValue) bool {
		s.Tiles++
		s.Bytes += int64(len(v))
		return true
	})
	return s, nil
}

package storage

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type CacheConfig struct {
	BlobTTL        time.Duration
	BlobMaxEntries int
	ListTTL        time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		BlobTTL:        5 * time.Minute,
		BlobMaxEntries: 64,
		ListTTL:        30 * time.Second,
	}
}

type MetricsSnapshot struct {
	BlobHits       uint64
	BlobMisses     uint64
	ListHits       uint64
	ListMisses     uint64
	OriginReads    uint64
	OriginWrites   uint64
	OriginReadErr  uint64
	OriginWriteErr uint64
}

type cacheMetrics struct {
	blobHits       atomic.Uint64
	blobMisses     atomic.Uint64
	listHits       atomic.Uint64
	listMisses     atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
}

const listKey = ""

// CachedStore is a read-through cache in front of a slower Store. Put
// goes to the origin first and then refreshes the cache; it also drops
// the cached listing so the resolver sees new artifacts immediately.
type CachedStore struct {
	origin    Store
	blobCache *expirable.LRU[string, []byte]
	listCache *expirable.LRU[string, []string]
	metrics   cacheMetrics
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	def := DefaultCacheConfig()
	if cfg.BlobTTL <= 0 {
		cfg.BlobTTL = def.BlobTTL
	}
	if cfg.BlobMaxEntries <= 0 {
		cfg.BlobMaxEntries = def.BlobMaxEntries
	}
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = def.ListTTL
	}
	return &CachedStore{
		origin:    origin,
		blobCache: expirable.NewLRU[string, []byte](cfg.BlobMaxEntries, nil, cfg.BlobTTL),
		listCache: expirable.NewLRU[string, []string](1, nil, cfg.ListTTL),
	}
}

func (s *CachedStore) Put(ctx context.Context, name string, content []byte) error {
	s.metrics.originWrites.Add(1)
	if err := s.origin.Put(ctx, name, content); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}
	s.blobCache.Add(name, append([]byte(nil), content...))
	s.listCache.Remove(listKey)
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, name string) error {
	s.metrics.originWrites.Add(1)
	if err := s.origin.Delete(ctx, name); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}
	s.blobCache.Remove(name)
	s.listCache.Remove(listKey)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, name string) ([]byte, error) {
	if raw, ok := s.blobCache.Get(name); ok {
		s.metrics.blobHits.Add(1)
		return append([]byte(nil), raw...), nil
	}
	s.metrics.blobMisses.Add(1)
	s.metrics.originReads.Add(1)

	raw, err := s.origin.Get(ctx, name)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	s.blobCache.Add(name, append([]byte(nil), raw...))
	return raw, nil
}

func (s *CachedStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	raw, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *CachedStore) List(ctx context.Context) ([]string, error) {
	if list, ok := s.listCache.Get(listKey); ok {
		s.metrics.listHits.Add(1)
		return append([]string(nil), list...), nil
	}
	s.metrics.listMisses.Add(1)
	s.metrics.originReads.Add(1)

	list, err := s.origin.List(ctx)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	s.listCache.Add(listKey, append([]string(nil), list...))
	return list, nil
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		BlobHits:       s.metrics.blobHits.Load(),
		BlobMisses:     s.metrics.blobMisses.Load(),
		ListHits:       s.metrics.listHits.Load(),
		ListMisses:     s.metrics.listMisses.Load(),
		OriginReads:    s.metrics.originReads.Load(),
		OriginWrites:   s.metrics.originWrites.Load(),
		OriginReadErr:  s.metrics.originReadErr.Load(),
		OriginWriteErr: s.metrics.originWriteErr.Load(),
	}
}

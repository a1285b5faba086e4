package local

import (
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"srcgrep/internal/domain"
)

// responseCache keeps recent search responses per snapshot and query.
// Every purge starts a new generation; a response computed in an older
// generation is not stored.
type responseCache struct {
	cache *lru.Cache[uint64, []domain.FileMatches]
	gen   atomic.Uint64
}

// newResponseCache returns nil when size is not positive, which disables
// caching.
func newResponseCache(size int) *responseCache {
	if size <= 0 {
		return nil
	}
	cache, err := lru.New[uint64, []domain.FileMatches](size)
	if err != nil {
		// Only fails for a non-positive size
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &responseCache{cache: cache}
}

func cacheKey(snapshot, query string, opts Options) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s\x00%s\x00%t\x00%t\x00%d\x00%d\x00%d\x00%q\x00%q",
		snapshot, query, opts.Regex, opts.CaseSensitive,
		opts.MaxFiles, opts.MaxMatchesPerFile, opts.MaxFileSize,
		opts.Include, opts.Exclude))
}

// generation must be read before the files a response is built from
func (c *responseCache) generation() uint64 {
	if c == nil {
		return 0
	}
	return c.gen.Load()
}

func (c *responseCache) get(key uint64) ([]domain.FileMatches, bool) {
	if c == nil {
		return nil, false
	}
	return c.cache.Get(key)
}

// add stores files unless the cache was purged since gen was read
func (c *responseCache) add(key uint64, files []domain.FileMatches, gen uint64) {
	if c == nil || c.gen.Load() != gen {
		return
	}
	c.cache.Add(key, files)
}

func (c *responseCache) purge() {
	if c == nil {
		return
	}
	c.gen.Add(1)
	c.cache.Purge()
}

func (c *responseCache) len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

package dataloader

import (
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CacheManager is an LRU cache of preprocessed images keyed by path. The
// oldest entry of the ordered map is the least recently used.
type CacheManager struct {
	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, []float32]
	maxSize int

	hits   int64
	misses int64
}

// NewCacheManager creates a cache holding at most maxSize images. A maxSize
// of zero or less disables caching.
func NewCacheManager(maxSize int) *CacheManager {
	return &CacheManager{
		entries: orderedmap.New[string, []float32](),
		maxSize: maxSize,
	}
}

// Get retrieves an item and marks it most recently used
func (cm *CacheManager) Get(key string) ([]float32, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := cm.entries.GetAndMoveToBack(key)
	if err != nil {
		cm.misses++
		return nil, false
	}
	cm.hits++
	return data, true
}

// Put adds an item, evicting the least recently used entries over capacity
func (cm *CacheManager) Put(key string, data []float32) {
	if cm.maxSize <= 0 {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, present := cm.entries.Set(key, data); present {
		_ = cm.entries.MoveToBack(key)
		return
	}
	for cm.entries.Len() > cm.maxSize {
		cm.entries.Delete(cm.entries.Oldest().Key)
	}
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	stats := CacheStats{
		Size:    cm.entries.Len(),
		MaxSize: cm.maxSize,
		Hits:    cm.hits,
		Misses:  cm.misses,
	}
	if total := cm.hits + cm.misses; total > 0 {
		stats.HitRate = float64(cm.hits) / float64(total) * 100
	}
	return stats
}

// Clear drops every entry. Statistics are cumulative and survive a Clear.
func (cm *CacheManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.entries = orderedmap.New[string, []float32]()
}

type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}

package cache

import "sync"

// vectorEntry couples a vector with the model that produced it.
type vectorEntry struct {
	vector []float32
	model  string
}

// VectorCache holds embeddings keyed by text. Tag vectors live in an
// unbounded map (tag volume is small relative to memory); content vectors go
// through a bounded LRU to cap memory growth. Reads observe writes made
// within the process immediately.
type VectorCache struct {
	mu      sync.RWMutex
	tags    map[string]vectorEntry
	content *LRUCache[string, vectorEntry]
}

// NewVectorCache creates a vector cache with the given content LRU capacity.
func NewVectorCache(contentCapacity int) *VectorCache {
	return &VectorCache{
		tags:    make(map[string]vectorEntry),
		content: NewLRUCache[string, vectorEntry](contentCapacity),
	}
}

// Get returns the cached vector and producing model for a tag key.
func (c *VectorCache) Get(key string) ([]float32, string, bool) {
	c.mu.RLock()
	e, ok := c.tags[key]
	c.mu.RUnlock()
	if !ok {
		return nil, "", false
	}
	return e.vector, e.model, true
}

// Put stores a tag vector with the model that produced it.
func (c *VectorCache) Put(key string, vector []float32, modelID string) {
	c.mu.Lock()
	c.tags[key] = vectorEntry{vector: vector, model: modelID}
	c.mu.Unlock()
}

// ModelOf returns the model identifier recorded for a tag key.
func (c *VectorCache) ModelOf(key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.tags[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	return e.model, true
}

// Remove drops a tag key from the cache.
func (c *VectorCache) Remove(key string) {
	c.mu.Lock()
	delete(c.tags, key)
	c.mu.Unlock()
}

// GetContent returns the cached vector for a content key from the LRU.
func (c *VectorCache) GetContent(key string) ([]float32, string, bool) {
	e, ok := c.content.Get(key)
	if !ok {
		return nil, "", false
	}
	return e.vector, e.model, true
}

// PutContent stores a content vector behind the LRU bound.
func (c *VectorCache) PutContent(key string, vector []float32, modelID string) {
	c.content.Set(key, vectorEntry{vector: vector, model: modelID})
}

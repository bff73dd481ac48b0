package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(maxItems int) *Cache {
	return New(Config{
		DefaultTTL:      time.Minute,
		CleanupInterval: time.Minute,
		MaxItems:        maxItems,
	})
}

func TestCacheSetGet(t *testing.T) {
	c := newTestCache(10)
	defer c.Close()

	c.Set("key", "value")
	v, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := newTestCache(10)
	defer c.Close()

	c.SetWithTTL("short", "value", 10*time.Millisecond)
	_, ok := c.Get("short")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("short")
	assert.False(t, ok)
}

func TestCacheEvictsAtCapacity(t *testing.T) {
	c := newTestCache(2)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get("c")
	assert.True(t, ok)
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(10)
	defer c.Close()

	c.Set("key", "value")
	c.Delete("key")
	_, ok := c.Get("key")
	assert.False(t, ok)
}

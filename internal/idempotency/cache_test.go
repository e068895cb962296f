package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetSet(t *testing.T) {
	c := NewCache[string](time.Minute, 10)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", "first")
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first", got)

	c.Set("a", "second")
	got, ok = c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "second", got)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache[int](time.Minute, 10)
	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	c.Set("a", 1)
	_, ok := c.Get("a")
	require.True(t, ok)

	current = current.Add(time.Minute + time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestCachePerEntryTTL(t *testing.T) {
	c := NewCache[int](time.Minute, 10)
	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	c.SetWithTTL("short", 1, 10*time.Second)
	c.Set("long", 2)

	current = current.Add(30 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache[int](time.Minute, 2)

	c.Set("a", 1)
	c.Set("b", 2)
	// Touch a so b becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCacheIgnoresEmptyKey(t *testing.T) {
	c := NewCache[int](time.Minute, 2)
	c.Set("", 1)
	_, ok := c.Get("")
	assert.False(t, ok)
}

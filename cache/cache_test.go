package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c := New[string]()
	c.Set("k", "v", time.Minute)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestCache_MissOnAbsent(t *testing.T) {
	c := New[int]()
	got, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Zero(t, got)
}

func TestCache_ExpiryBehavesAsMiss(t *testing.T) {
	c := New[string]()
	c.Set("k", "v", 10*time.Millisecond)

	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
	// Expired entry is lazily removed.
	assert.Equal(t, 0, c.Len())
}

func TestCache_LastWriterWins(t *testing.T) {
	c := New[string]()
	c.Set("k", "first", time.Minute)
	c.Set("k", "second", time.Minute)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "second", got)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Set("shared", n, time.Minute)
			c.Get("shared")
		}(i)
	}
	wg.Wait()

	_, ok := c.Get("shared")
	assert.True(t, ok)
}

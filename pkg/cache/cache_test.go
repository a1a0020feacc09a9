package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGetDelete(t *testing.T) {
	c := New[string](Options{TTL: time.Minute})
	defer c.Close()

	c.Set("user_1", "Ada Lovelace")
	v, ok := c.Get("user_1")
	assert.True(t, ok)
	assert.Equal(t, "Ada Lovelace", v)

	c.Delete("user_1")
	_, ok = c.Get("user_1")
	assert.False(t, ok)
}

func TestExpiredEntriesAreHidden(t *testing.T) {
	c := New[int](Options{})
	defer c.Close()

	c.SetWithExpiration("k", 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMaxItemsEvicts(t *testing.T) {
	c := New[int](Options{TTL: time.Hour, MaxItems: 2})
	defer c.Close()

	var evicted []string
	c.SetOnEvicted(func(k string, _ int) { evicted = append(evicted, k) })

	c.SetWithExpiration("a", 1, time.Minute)
	c.SetWithExpiration("b", 2, time.Hour)
	c.SetWithExpiration("c", 3, time.Hour)

	assert.Equal(t, 2, c.Count())
	assert.Equal(t, []string{"a"}, evicted)

	// overwriting an existing key must not evict
	c.Set("b", 20)
	assert.Equal(t, 2, c.Count())
}

func TestCleanupLoopPurges(t *testing.T) {
	c := New[int](Options{CleanupInterval: 5 * time.Millisecond})
	defer c.Close()

	c.SetWithExpiration("k", 1, time.Millisecond)
	assert.Eventually(t, func() bool { return c.Count() == 0 }, time.Second, 5*time.Millisecond)
}

package embedcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/corpus-retrieval/internal/core/ports"
)

var (
	_ ports.EmbeddingCache = (*Cache)(nil)
	_ ports.EmbeddingCache = Noop{}
)

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, time.Minute)
	c.Add("a", []float32{1})
	c.Add("b", []float32{2})
	_, _ = c.Get("a")
	c.Add("c", []float32{3})

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.Equal(t, 2, c.Len())
}

func TestCacheExpiresEntries(t *testing.T) {
	c := New(10, 20*time.Millisecond)
	c.Add("q", []float32{1, 2})

	_, ok := c.Get("q")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("q")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCacheReturnsCopies(t *testing.T) {
	c := New(10, time.Minute)
	in := []float32{1, 2, 3}
	c.Add("q", in)
	in[0] = 99

	got, ok := c.Get("q")
	require.True(t, ok)
	assert.Equal(t, float32(1), got[0])

	got[1] = 42
	again, _ := c.Get("q")
	assert.Equal(t, float32(2), again[1])
}

func TestCacheIgnoresEmptyVectors(t *testing.T) {
	c := New(0, 0)
	c.Add("q", nil)
	assert.Equal(t, 0, c.Len())
}

func TestNoopNeverHits(t *testing.T) {
	var c Noop
	c.Add("q", []float32{1})
	_, ok := c.Get("q")
	assert.False(t, ok)
}

package worker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCacheMonotonic(t *testing.T) {
	var c ResultCache
	assert.Nil(t, c.Load())

	require.True(t, c.Store(&Result{Sequence: 5}))
	require.False(t, c.Store(&Result{Sequence: 3}), "an older result never replaces a newer one")
	require.False(t, c.Store(&Result{Sequence: 5}))
	require.True(t, c.Store(&Result{Sequence: 6}))

	assert.Equal(t, uint64(6), c.Load().Sequence)
}

func TestResultCacheClear(t *testing.T) {
	var c ResultCache
	c.Store(&Result{Sequence: 1})
	c.Clear()
	assert.Nil(t, c.Load())
}

func TestResultCacheConcurrentStores(t *testing.T) {
	var c ResultCache
	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			c.Store(&Result{Sequence: seq})
		}(uint64(i))
	}
	wg.Wait()

	require.NotNil(t, c.Load())
	assert.Equal(t, uint64(100), c.Load().Sequence)
}

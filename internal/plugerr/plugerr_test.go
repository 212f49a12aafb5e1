package plugerr

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	_, ok := q.PopFirst()
	assert.False(t, ok)

	q.Post(New(ErrorThread, SubTabThreadCreate, 11, "first"))
	q.Post(New(ErrorFilterLoad, SubFilterLoaderRun, 0, "second"))
	assert.Equal(t, 2, q.Len())

	e, ok := q.PopFirst()
	require.True(t, ok)
	assert.Equal(t, "first", e.Description)
	assert.Equal(t, os.Getpid(), e.ProcessID)
	assert.Equal(t, 11, e.ErrorCode)

	e, ok = q.PopFirst()
	require.True(t, ok)
	assert.Equal(t, "second", e.Description)

	_, ok = q.PopFirst()
	assert.False(t, ok)
}

func TestQueueConcurrentDeliveredOnce(t *testing.T) {
	q := NewQueue()
	const producers, each = 8, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				q.Post(New(ErrorThread, SubTabThreadCreate, p*each+i, "x"))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for {
		e, ok := q.PopFirst()
		if !ok {
			break
		}
		assert.False(t, seen[e.ErrorCode], "duplicate delivery %d", e.ErrorCode)
		seen[e.ErrorCode] = true
	}
	assert.Len(t, seen, producers*each)
}

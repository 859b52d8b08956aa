package resources

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeferredQueueWaitsForFrameSlot(t *testing.T) {
	var ran []int
	q := NewDeferredQueue(2, func(f PendingFree) {
		f.Callback()
	})
	free := func(id int) PendingFree {
		return PendingFree{Kind: FreeCallback, Callback: func() { ran = append(ran, id) }}
	}

	q.Push(free(1), free(2))
	assert.Equal(t, 0, q.BeginFrame(0))
	assert.Empty(t, ran, "frees are parked, not run")
	assert.Equal(t, 2, q.Parked(0))

	q.Push(free(3))
	assert.Equal(t, 0, q.BeginFrame(1))
	assert.Empty(t, ran)

	// Slot 0 comes around again: its previous frame retired.
	assert.Equal(t, 2, q.BeginFrame(0))
	assert.Equal(t, []int{1, 2}, ran)

	assert.Equal(t, 1, q.BeginFrame(1))
	assert.Equal(t, []int{1, 2, 3}, ran)
}

func TestDeferredQueueFlushRunsEverything(t *testing.T) {
	count := 0
	q := NewDeferredQueue(3, func(PendingFree) { count++ })
	q.Push(PendingFree{}, PendingFree{})
	q.BeginFrame(2)
	q.Push(PendingFree{})

	assert.Equal(t, 3, q.Flush())
	assert.Equal(t, 3, count)
	assert.Equal(t, 0, q.Flush())
}

func TestDeferredQueueConcurrentProducers(t *testing.T) {
	var count int
	q := NewDeferredQueue(1, func(PendingFree) { count++ })

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(PendingFree{Kind: FreeCallback})
			}
		}()
	}
	wg.Wait()

	q.BeginFrame(0)
	assert.Equal(t, 800, q.Parked(0))
	assert.Equal(t, 800, q.BeginFrame(0))
	assert.Equal(t, 800, count)
}

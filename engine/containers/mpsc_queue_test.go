package containers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMPSCQueueFIFO(t *testing.T) {
	q := NewMPSCQueue[int]()
	assert.True(t, q.IsEmpty())

	_, ok := q.Pop()
	assert.False(t, ok)

	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.True(t, q.IsEmpty())
	assert.Zero(t, q.Len())
}

func TestMPSCQueueConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 1000

	q := NewMPSCQueue[int]()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool, producers*perProducer)
	lastPerProducer := make([]int, producers)
	for i := range lastPerProducer {
		lastPerProducer[i] = -1
	}
	n := q.Drain(func(v int) {
		require.False(t, seen[v], "value %d popped twice", v)
		seen[v] = true
		// Values from one producer keep their push order.
		p := v / perProducer
		assert.Greater(t, v, lastPerProducer[p])
		lastPerProducer[p] = v
	})
	assert.Equal(t, producers*perProducer, n)
	assert.Len(t, seen, producers*perProducer)
}

func TestMPSCQueueLenNeverNegative(t *testing.T) {
	const producers, perProducer = 4, 5000
	q := NewMPSCQueue[int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(i)
			}
		}()
	}

	popped := 0
	for popped < producers*perProducer {
		if _, ok := q.Pop(); ok {
			popped++
		}
		require.GreaterOrEqual(t, q.Len(), 0)
	}
	wg.Wait()
	assert.Equal(t, 0, q.Len())
	assert.True(t, q.IsEmpty())
}

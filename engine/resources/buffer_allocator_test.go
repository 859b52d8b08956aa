package resources

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAllocatorFirstFitReusesGap(t *testing.T) {
	a := NewBufferAllocator("test", 1024)

	first, err := a.Allocate(64, 4)
	require.NoError(t, err)
	middle, err := a.Allocate(128, 4)
	require.NoError(t, err)
	last, err := a.Allocate(64, 4)
	require.NoError(t, err)

	assert.Equal(t, Slot{Offset: 0, Size: 64}, first)
	assert.Equal(t, Slot{Offset: 64, Size: 128}, middle)
	assert.Equal(t, Slot{Offset: 192, Size: 64}, last)

	require.NoError(t, a.Free(middle))
	reused, err := a.Allocate(100, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), reused.Offset, "first fit must land in the freed gap")
	assert.Equal(t, []Slot{first, reused, last}, a.Slots())
}

func TestBufferAllocatorRoundTrip(t *testing.T) {
	a := NewBufferAllocator("test", 256)
	s, err := a.Allocate(200, 8)
	require.NoError(t, err)
	require.NoError(t, a.Free(s))
	assert.Empty(t, a.Slots())
	assert.Zero(t, a.Used())

	again, err := a.Allocate(200, 8)
	require.NoError(t, err)
	assert.Equal(t, s, again)
}

func TestBufferAllocatorAlignment(t *testing.T) {
	a := NewBufferAllocator("test", 1024)
	_, err := a.Allocate(3, 1)
	require.NoError(t, err)
	s, err := a.Allocate(16, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), s.Offset)
}

func TestBufferAllocatorExhaustion(t *testing.T) {
	a := NewBufferAllocator("test", 128)
	_, err := a.Allocate(128, 4)
	require.NoError(t, err)
	_, err = a.Allocate(1, 1)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
}

func TestBufferAllocatorRejectsBadRequests(t *testing.T) {
	a := NewBufferAllocator("test", 128)
	_, err := a.Allocate(0, 4)
	assert.True(t, errors.Is(err, ErrInvalidSize))
	_, err = a.Allocate(8, 3)
	assert.True(t, errors.Is(err, ErrInvalidAlignment))
	_, err = a.Allocate(8, 0)
	assert.True(t, errors.Is(err, ErrInvalidAlignment))

	// Sizes close to the top of the range must not wrap into a fit.
	_, err = a.Allocate(129, 4)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	first, err := a.Allocate(16, 16)
	require.NoError(t, err)
	_, err = a.Allocate(^uint64(0)-7, 16)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	_, err = a.Allocate(16, 1<<63)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.Equal(t, []Slot{first}, a.Slots())
}

func TestBufferAllocatorDoubleFree(t *testing.T) {
	a := NewBufferAllocator("test", 128)
	s, err := a.Allocate(16, 4)
	require.NoError(t, err)
	require.NoError(t, a.Free(s))
	assert.True(t, errors.Is(a.Free(s), ErrUnknownAllocation))
	assert.True(t, errors.Is(a.Free(Slot{Offset: 128}), ErrUnknownAllocation), "tail sentinel is not freeable")
}

func TestBufferAllocatorNeverOverlaps(t *testing.T) {
	a := NewBufferAllocator("test", 1<<16)
	rng := rand.New(rand.NewSource(7))

	var mu sync.Mutex
	var live []Slot
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				size := uint64(r.Intn(256) + 1)
				align := uint64(1) << r.Intn(5)
				s, err := a.Allocate(size, align)
				if err != nil {
					continue
				}
				mu.Lock()
				live = append(live, s)
				if r.Intn(3) == 0 {
					victim := live[r.Intn(len(live))]
					for j := range live {
						if live[j] == victim {
							live = append(live[:j], live[j+1:]...)
							break
						}
					}
					mu.Unlock()
					assert.NoError(t, a.Free(victim))
					continue
				}
				mu.Unlock()
			}
		}(rng.Int63())
	}
	wg.Wait()

	slots := a.Slots()
	for i := 1; i < len(slots); i++ {
		assert.LessOrEqual(t, slots[i-1].End(), slots[i].Offset)
	}
	assert.ElementsMatch(t, live, slots)
}

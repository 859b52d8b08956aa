package resources

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAsset struct {
	RefCount
	ready bool
}

func (a *fakeAsset) IsLoaded() bool {
	return a.ready
}

type fakeLoader struct {
	mu      sync.Mutex
	records map[string]*fakeAsset
	loads   int
}

func (l *fakeLoader) AcquireAsset(path string) *fakeAsset {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	a, ok := l.records[path]
	if !ok {
		a = &fakeAsset{}
		if l.records == nil {
			l.records = make(map[string]*fakeAsset)
		}
		l.records[path] = a
	}
	a.AddReference()
	return a
}

func TestRefCountReturnsPreDecrementValue(t *testing.T) {
	var rc RefCount
	rc.AddReference()
	rc.AddReference()
	assert.Equal(t, uint64(2), rc.RemoveReference())
	assert.Equal(t, uint64(1), rc.RemoveReference())
	assert.Equal(t, uint64(0), rc.ReferenceCount())
}

func TestRefCountUnderflowIsFatal(t *testing.T) {
	panicOnFatal(t)
	var rc RefCount
	require.Panics(t, func() { rc.RemoveReference() })
}

func TestRefCountConcurrentBalance(t *testing.T) {
	var rc RefCount
	const workers, iterations = 16, 1000

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				rc.AddReference()
			}
			for j := 0; j < iterations/2; j++ {
				rc.RemoveReference()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(workers*iterations/2), rc.ReferenceCount())
}

func TestAssetPtrLifecycle(t *testing.T) {
	loader := &fakeLoader{}
	p := NewAssetPtr[*fakeAsset]("cube.mesh")
	assert.False(t, p.IsBound())
	assert.False(t, p.IsLoaded())

	p.Load(loader)
	p.Load(loader)
	require.True(t, p.IsBound())
	assert.Equal(t, 1, loader.loads, "load on a bound handle is a no-op")

	record, _ := p.Get()
	assert.Equal(t, uint64(1), record.ReferenceCount())
	assert.False(t, p.IsLoaded(), "bound but not ready")
	record.ready = true
	assert.True(t, p.IsLoaded())

	clone := p.Clone()
	assert.Equal(t, uint64(2), record.ReferenceCount())

	moved := clone.Move()
	assert.False(t, clone.IsBound())
	assert.Equal(t, uint64(2), record.ReferenceCount())

	moved.Reset()
	p.Reset()
	assert.Equal(t, uint64(0), record.ReferenceCount())
	assert.Equal(t, "cube.mesh", p.Path(), "reset keeps the path")

	p.Reset()
	assert.Equal(t, uint64(0), record.ReferenceCount())
}

func TestAssetPtrWithoutPathNeverLoads(t *testing.T) {
	loader := &fakeLoader{}
	var p AssetPtr[*fakeAsset]
	p.Load(loader)
	assert.False(t, p.IsBound())
	assert.Equal(t, 0, loader.loads)
}

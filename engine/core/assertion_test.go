package core

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoutesToFatalHandler(t *testing.T) {
	var got error
	prev := SetFatalHandler(func(err error) { got = err })
	defer SetFatalHandler(prev)

	Verify(true, "never reported")
	require.NoError(t, got)

	Verify(false, "slot %d missing", 7)
	require.Error(t, got)
	assert.True(t, errors.Is(got, ErrFatal))
	assert.Contains(t, got.Error(), "slot 7 missing")
}

func TestFatalIgnoresNil(t *testing.T) {
	called := false
	prev := SetFatalHandler(func(err error) { called = true })
	defer SetFatalHandler(prev)

	Fatal(nil)
	assert.False(t, called)
}

func TestVerifyNonFatal(t *testing.T) {
	called := false
	prev := SetFatalHandler(func(err error) { called = true })
	defer SetFatalHandler(prev)

	assert.True(t, VerifyNonFatal(true, "fine"))
	assert.False(t, VerifyNonFatal(false, "leaked %d textures", 3))
	assert.False(t, called)
}

func TestSetLogLevel(t *testing.T) {
	require.NoError(t, SetLogLevel("info"))
	require.Error(t, SetLogLevel("chatty"))
	require.NoError(t, SetLogLevel("debug"))
}

func TestResourceMetricsSnapshot(t *testing.T) {
	var m ResourceMetrics
	m.LoadsScheduled.Add(3)
	m.DeferredFreesRun.Add(1)
	s := m.Snapshot()
	assert.Equal(t, uint64(3), s.LoadsScheduled)
	assert.Equal(t, uint64(1), s.DeferredFreesRun)
	assert.Zero(t, s.StagingFreed)
}

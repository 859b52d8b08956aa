package resources

import (
	"testing"

	"github.com/spaghettifunk/keystone/engine/core"
)

// panicOnFatal turns fatal conditions into panics for the duration of the
// test so they can be asserted with require.Panics.
func panicOnFatal(t *testing.T) {
	t.Helper()
	prev := core.SetFatalHandler(func(err error) { panic(err) })
	t.Cleanup(func() { core.SetFatalHandler(prev) })
}

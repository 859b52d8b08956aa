package engine

import (
	"time"

	"github.com/spaghettifunk/keystone/engine/systems"
)

// FrameInfo describes the frame being updated.
type FrameInfo struct {
	Number    uint64
	Slot      uint32
	DeltaTime time.Duration
}

// Game is the set of hooks the engine drives. Nil hooks are skipped.
type Game struct {
	Name  string
	State interface{}

	FnInitialize Initialize
	FnUpdate     Update
	FnShutdown   Shutdown
}

// Initialize runs once the asset systems are up.
type Initialize func(sm *systems.SystemManager) error

// Update runs once per frame, after the frame slot's deferred frees.
type Update func(frame FrameInfo) error

// Shutdown runs before the final collection. Games drop their handles here.
type Shutdown func() error

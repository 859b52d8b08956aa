package testbed

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/rand"

	"github.com/spaghettifunk/keystone/engine"
	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/resources"
	"github.com/spaghettifunk/keystone/engine/systems"
)

// Models the testbed cycles through. Several share textures so dropping
// one keeps the shared records alive.
var modelPaths = []string{
	"models/cube.obj",
	"models/plane.obj",
	"models/tetra.obj",
	"models/pyramid.model.toml",
}

const (
	entityCount = 16
	// Per frame chance that an entity changes what it holds.
	churn = 0.05
	// Frames between two status lines.
	reportInterval = 300
)

type entity struct {
	model resources.AssetPtr[*systems.Model]
	ready bool
}

type gameState struct {
	sm       *systems.SystemManager
	rng      *rand.Rand
	entities []entity
	loads    uint64
	drops    uint64
}

type TestGame struct {
	*engine.Game
}

// NewTestGame builds a game that keeps loading and dropping models to
// exercise sharing, deferred frees and collection.
func NewTestGame(seed uint64) *TestGame {
	state := &gameState{
		rng:      rand.New(rand.NewSource(seed)),
		entities: make([]entity, entityCount),
	}
	tg := &TestGame{
		Game: &engine.Game{
			Name:  "Keystone Testbed",
			State: state,
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(sm *systems.SystemManager) error {
	if sm == nil {
		return errors.New("the engine did not provide a system manager")
	}
	state := g.state()
	state.sm = sm
	for i := range state.entities {
		g.assign(&state.entities[i])
	}
	core.LogInfo("testbed spawned %d entities over %d models", len(state.entities), len(modelPaths))
	return nil
}

func (g *TestGame) assign(e *entity) {
	state := g.state()
	e.model.Reset()
	e.model = resources.NewAssetPtr[*systems.Model](modelPaths[state.rng.Intn(len(modelPaths))])
	e.model.Load(state.sm.Models())
	e.ready = false
	state.loads++
}

func (g *TestGame) Update(frame engine.FrameInfo) error {
	state := g.state()
	for i := range state.entities {
		e := &state.entities[i]
		switch {
		case !e.model.IsBound():
			if state.rng.Float64() < churn {
				g.assign(e)
			}
		case !e.ready:
			if e.model.IsLoaded() {
				e.ready = true
				if m, ok := e.model.Get(); ok {
					core.LogDebug("entity %d holds %s (%s)", i, e.model.Path(), m.State())
				}
			}
		case state.rng.Float64() < churn:
			// Either swap the model or leave the slot empty for a while.
			if state.rng.Intn(2) == 0 {
				g.assign(e)
			} else {
				e.model.Reset()
				state.drops++
			}
		}
	}

	if frame.Number%reportInterval == 0 {
		models, meshes, textures := state.sm.Models().Counts()
		core.LogInfo("frame %d: %d models, %d meshes, %d textures resident (%d loads, %d drops, dt %s)",
			frame.Number, models, meshes, textures, state.loads, state.drops, frame.DeltaTime)
	}
	return nil
}

// Shutdown drops every handle so the final collection finds nothing alive.
func (g *TestGame) Shutdown() error {
	state := g.state()
	for i := range state.entities {
		state.entities[i].model.Reset()
	}
	core.LogInfo("testbed released its entities after %d loads and %d drops", state.loads, state.drops)
	return nil
}

package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/keystone/engine/assets"
	"github.com/spaghettifunk/keystone/engine/containers"
	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer"
	"github.com/spaghettifunk/keystone/engine/resources"
	"github.com/spaghettifunk/keystone/engine/systems"
)

var ErrInvalidStage = errors.New("operation not allowed in the current engine stage")

// Frames kept for the frame time statistics.
const frameHistory = 120

// Engine owns the device, the resource context and the asset systems, and
// drives the frame loop that retires deferred frees and collects garbage.
type Engine struct {
	config *Config
	game   *Game

	mu           sync.Mutex
	currentStage Stage

	renderer      *renderer.Renderer
	metrics       *core.ResourceMetrics
	resources     *resources.Context
	catalog       *assets.AssetCatalog
	systemManager *systems.SystemManager

	clock      *core.Clock
	frameTimes *containers.RingQueue[time.Duration]
	frame      atomic.Uint64
	stop       chan struct{}
	stopOnce   sync.Once
}

func New(config *Config, g *Game) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	if g == nil {
		g = &Game{}
	}
	r, err := renderer.New(config.RendererConfig())
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return &Engine{
		config:       config,
		game:         g,
		currentStage: EngineStageUninitialized,
		renderer:     r,
		metrics:      &core.ResourceMetrics{},
		clock:        core.NewClock(),
		frameTimes:   containers.NewRingQueue[time.Duration](frameHistory),
		stop:         make(chan struct{}),
	}, nil
}

func (e *Engine) Stage() Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentStage
}

// transition moves from one stage to the next or fails if the engine is
// elsewhere.
func (e *Engine) transition(from, to Stage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentStage != from {
		return errors.Wrapf(ErrInvalidStage, "want %s, engine is %s", from, e.currentStage)
	}
	e.currentStage = to
	return nil
}

func (e *Engine) Initialize() error {
	if err := e.transition(EngineStageUninitialized, EngineStageInitializing); err != nil {
		return err
	}
	name := e.config.Engine.Name
	if e.game.Name != "" {
		name = e.game.Name
	}

	if err := e.renderer.Initialize(name); err != nil {
		return errors.Wrapf(err, "initializing %s renderer", e.renderer.Type)
	}

	ctx, err := resources.NewContext(e.config.ContextConfig(), e.renderer, e.metrics)
	if err != nil {
		return err
	}
	e.resources = ctx

	catalog, err := assets.NewAssetCatalog(e.config.CatalogConfig())
	if err != nil {
		return err
	}
	e.catalog = catalog
	catalog.OnChange(func(info assets.AssetInfo, op fsnotify.Op) {
		core.LogDebug("asset %s (%s): %s", info.Path, info.Type, op)
	})

	sm, err := systems.NewSystemManager(e.config.SystemManagerConfig(), ctx, catalog)
	if err != nil {
		return err
	}
	e.systemManager = sm

	if e.game.FnInitialize != nil {
		if err := e.game.FnInitialize(sm); err != nil {
			return errors.Wrap(err, "game initialize")
		}
	}

	core.LogInfo("%s initialized with the %s backend, %d frames in flight.", name, e.renderer.Type, e.config.Engine.FramesInFlight)
	return e.transition(EngineStageInitializing, EngineStageInitialized)
}

// Run executes frames until ctx is canceled, Stop is called or the
// configured frame budget is spent.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.transition(EngineStageInitialized, EngineStageRunning); err != nil {
		return err
	}
	defer func() {
		_ = e.transition(EngineStageRunning, EngineStageInitialized)
	}()

	e.clock.Start()
	lastTime := e.clock.Elapsed()
	maxFrames := e.config.Engine.MaxFrames

	for maxFrames == 0 || e.frame.Load() < maxFrames {
		select {
		case <-ctx.Done():
			return nil
		case <-e.stop:
			return nil
		default:
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		if err := e.runFrame(currentTime - lastTime); err != nil {
			return err
		}
		e.frameTimes.Push(e.clock.Elapsed() - currentTime)
		lastTime = currentTime
	}
	return nil
}

func (e *Engine) runFrame(delta time.Duration) error {
	number := e.frame.Load()
	slot := uint32(number % uint64(e.config.Engine.FramesInFlight))

	// The slot's previous submission must retire before its frees run.
	if err := e.renderer.BeginFrame(slot, time.Duration(e.config.Resources.TransferTimeout)); err != nil {
		return errors.Wrapf(err, "frame %d", number)
	}
	e.resources.BeginFrame(slot)

	if e.game.FnUpdate != nil {
		if err := e.game.FnUpdate(FrameInfo{Number: number, Slot: slot, DeltaTime: delta}); err != nil {
			core.LogError("Game update failed, shutting down: %s", err)
			return errors.Wrap(err, "game update")
		}
	}

	if number%e.config.Engine.GCInterval == 0 {
		if !e.systemManager.GarbageCollect() {
			core.LogDebug("frame %d: garbage collection skipped, jobs in flight", number)
		}
	}

	if err := e.renderer.DrawFrame(slot); err != nil {
		return errors.Wrapf(err, "frame %d", number)
	}
	e.frame.Add(1)

	if e.frame.Load()%frameHistory == 0 {
		core.LogDebug("frame %d: average frame time %s", number, e.AverageFrameTime())
	}
	return nil
}

// Stop ends Run after the current frame.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// AverageFrameTime is the mean duration of the recent frames.
func (e *Engine) AverageFrameTime() time.Duration {
	if e.frameTimes.IsEmpty() {
		return 0
	}
	var total time.Duration
	e.frameTimes.Each(func(d time.Duration) { total += d })
	return total / time.Duration(e.frameTimes.Len())
}

func (e *Engine) FrameNumber() uint64 {
	return e.frame.Load()
}

func (e *Engine) Systems() *systems.SystemManager {
	return e.systemManager
}

func (e *Engine) Resources() *resources.Context {
	return e.resources
}

func (e *Engine) Metrics() *core.ResourceMetrics {
	return e.metrics
}

// Shutdown lets the game drop its handles, waits for outstanding loads,
// collects everything still alive, reports leaks and then releases the
// resource context and the device.
func (e *Engine) Shutdown() error {
	e.Stop()
	e.mu.Lock()
	if e.currentStage == EngineStageShuttingDown || e.currentStage == EngineStageShutDown {
		e.mu.Unlock()
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.mu.Unlock()

	var errs error
	if e.game.FnShutdown != nil {
		if err := e.game.FnShutdown(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "game shutdown"))
		}
	}
	if e.systemManager != nil {
		if err := e.systemManager.Shutdown(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	e.metrics.Log()
	if err := e.renderer.WaitIdle(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if e.resources != nil {
		e.resources.Shutdown()
	}
	if err := e.renderer.Shutdown(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if e.catalog != nil {
		e.catalog.Shutdown()
	}

	e.mu.Lock()
	e.currentStage = EngineStageShutDown
	e.mu.Unlock()
	core.LogInfo("Engine shut down after %d frames.", e.frame.Load())
	return errs
}

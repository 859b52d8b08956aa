package systems

import (
	"time"

	"github.com/spaghettifunk/keystone/engine/assets"
	"github.com/spaghettifunk/keystone/engine/resources"
)

type SystemManagerConfig struct {
	Workers     int
	QueueSize   int
	LoadTimeout time.Duration
}

// SystemManager owns the job pool and the asset systems running on it.
type SystemManager struct {
	jobSystem    *JobSystem
	modelSystem  *ModelSystem
	shaderSystem *ShaderSystem
}

func NewSystemManager(config SystemManagerConfig, ctx *resources.Context, catalog *assets.AssetCatalog) (*SystemManager, error) {
	js, err := NewJobSystem(config.Workers, config.QueueSize)
	if err != nil {
		return nil, err
	}
	ms, err := NewModelSystem(ctx, js, catalog)
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}
	ssys, err := NewShaderSystem(ShaderSystemConfig{
		LoadTimeout: config.LoadTimeout,
	}, js, catalog, ctx.Metrics())
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}
	return &SystemManager{
		jobSystem:    js,
		modelSystem:  ms,
		shaderSystem: ssys,
	}, nil
}

func (sm *SystemManager) Jobs() *JobSystem {
	return sm.jobSystem
}

func (sm *SystemManager) Models() *ModelSystem {
	return sm.modelSystem
}

func (sm *SystemManager) Shaders() *ShaderSystem {
	return sm.shaderSystem
}

// GarbageCollect runs the collectors of every asset system and reports
// whether they ran.
func (sm *SystemManager) GarbageCollect() bool {
	ran := sm.modelSystem.GarbageCollect(false)
	return sm.shaderSystem.GarbageCollect() && ran
}

func (sm *SystemManager) Shutdown() error {
	sm.jobSystem.Wait()
	if err := sm.modelSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.shaderSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.jobSystem.Shutdown(); err != nil {
		return err
	}
	return nil
}

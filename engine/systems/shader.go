package systems

import (
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/assets"
	"github.com/spaghettifunk/keystone/engine/containers"
	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
	"github.com/spaghettifunk/keystone/engine/resources"
)

var ErrNotAShader = errors.New("asset is not a shader module")

/** @brief A compiled shader module shared by every pipeline that uses it. */
type Shader struct {
	resources.RefCount

	/** @brief Path the shader was requested with. */
	Path string
	/** @brief The SPIR-V module, set once loaded. */
	Module *metadata.ShaderModule

	loaded atomic.Bool
	done   chan struct{}
}

func (s *Shader) IsLoaded() bool {
	return s.loaded.Load()
}

// WaitUntilLoaded blocks until the module is read. Expiry of timeout is
// fatal.
func (s *Shader) WaitUntilLoaded(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		core.Fatal(errors.Wrapf(resources.ErrTransferTimeout, "shader %s not loaded after %s", s.Path, timeout))
	}
}

/** @brief Configuration for the shader system. */
type ShaderSystemConfig struct {
	/** @brief How long WaitUntilLoaded callers wait before giving up. */
	LoadTimeout time.Duration
}

// ShaderSystem caches SPIR-V modules by path with the same single-flight,
// reference counted envelope the model system uses. Modules live in host
// memory only, so nothing waits on the device.
type ShaderSystem struct {
	config  ShaderSystemConfig
	jobs    *JobSystem
	catalog *assets.AssetCatalog
	metrics *core.ResourceMetrics
	shaders *containers.ConcurrentMap[string, *Shader]
}

func NewShaderSystem(config ShaderSystemConfig, jobs *JobSystem, catalog *assets.AssetCatalog, metrics *core.ResourceMetrics) (*ShaderSystem, error) {
	if jobs == nil || catalog == nil {
		err := errors.AssertionFailedf("NewShaderSystem - job system and catalog are required")
		core.LogError(err.Error())
		return nil, err
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = resources.DefaultTransferTimeout
	}
	if metrics == nil {
		metrics = &core.ResourceMetrics{}
	}
	return &ShaderSystem{
		config:  config,
		jobs:    jobs,
		catalog: catalog,
		metrics: metrics,
		shaders: containers.NewConcurrentMap[string, *Shader](containers.StringHasher),
	}, nil
}

// LoadShader returns the record for path without blocking or taking a
// reference, scheduling the read when the record is new.
func (ss *ShaderSystem) LoadShader(path string) *Shader {
	return ss.acquireShader(path, func(*Shader) {})
}

// AcquireShader is LoadShader with one reference taken for the caller
// while the record is still guarded against collection.
func (ss *ShaderSystem) AcquireShader(path string) *Shader {
	return ss.acquireShader(path, func(s *Shader) { s.AddReference() })
}

// AcquireAsset lets AssetPtr handles bind to shaders.
func (ss *ShaderSystem) AcquireAsset(path string) *Shader {
	return ss.AcquireShader(path)
}

func (ss *ShaderSystem) acquireShader(path string, onAcquire func(*Shader)) *Shader {
	shader, inserted := ss.shaders.Acquire(path, func() *Shader {
		return &Shader{Path: path, done: make(chan struct{})}
	}, onAcquire)
	if inserted {
		ss.metrics.LoadsScheduled.Add(1)
		ss.jobs.AddWorkNonBlocking(metadata.JobTask{
			Name:    path,
			JobType: metadata.JOB_TYPE_RESOURCE_LOAD,
			OnStart: func() error {
				return ss.loadShader(shader)
			},
			OnFailure: func(err error) {
				core.Fatal(errors.Wrapf(err, "loading shader %s", path))
			},
		})
	}
	return shader
}

func (ss *ShaderSystem) Shader(path string) (*Shader, bool) {
	return ss.shaders.Load(path)
}

func (ss *ShaderSystem) Len() int {
	return ss.shaders.Len()
}

func (ss *ShaderSystem) loadShader(shader *Shader) error {
	core.LogInfo("loading shader - %s", shader.Path)
	res, err := ss.catalog.LoadAsset(shader.Path, nil)
	if err != nil {
		return err
	}
	module, ok := res.Data.(*metadata.ShaderModule)
	if !ok {
		return errors.Wrapf(ErrNotAShader, "%s is a %s", shader.Path, res.Type)
	}
	shader.Module = module
	shader.loaded.Store(true)
	close(shader.done)
	core.LogInfo("finished loading shader - %s (%s, %d words)", shader.Path, module.Stage, len(module.Code))
	return nil
}

// GarbageCollect erases loaded shaders nobody references. It is a no-op
// while load tasks are outstanding.
func (ss *ShaderSystem) GarbageCollect() bool {
	if !ss.jobs.Idle() {
		return false
	}
	ss.shaders.Range(func(path string, shader *Shader) bool {
		if !shader.IsLoaded() {
			return true
		}
		if ss.shaders.DeleteIf(path, unreferenced[*Shader]) {
			ss.metrics.RecordsDestroyed.Add(1)
			core.LogDebug("GC'd shader %s", path)
		}
		return true
	})
	return true
}

/**
 * @brief Shuts down the shader system, reporting modules still referenced.
 */
func (ss *ShaderSystem) Shutdown() error {
	ss.jobs.Wait()
	ss.GarbageCollect()
	core.VerifyNonFatal(ss.shaders.Len() == 0, "%d shaders leaked: %v", ss.shaders.Len(), sorted(ss.shaders.Keys()))
	return nil
}

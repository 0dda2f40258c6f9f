package systems

import (
	"context"

	"github.com/spaghettifunk/anima-shaders/engine/cache"
	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer"
	"github.com/spaghettifunk/anima-shaders/engine/shaderc"
)

type SystemManagerConfig struct {
	Shader ShaderSystemConfig
	// Number of job workers loading shaders concurrently.
	Workers int
	// Capacity of the job queue.
	QueueSize int
}

type SystemManager struct {
	JobSystem    *JobSystem
	ShaderSystem *ShaderSystem
}

func NewSystemManager(config *SystemManagerConfig, sources SourceProvider, registry *shaderc.Registry, c *cache.Cache, device renderer.ShaderDevice, logger core.Logger, events *core.EventBus) (*SystemManager, error) {
	if logger == nil {
		logger = core.NopLogger()
	}
	js, err := NewJobSystem(config.Workers, config.QueueSize, logger.With("system", "jobs"))
	if err != nil {
		return nil, err
	}
	ssys, err := NewShaderSystem(&config.Shader, sources, registry, c, device, logger.With("system", "shaders"), events)
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}
	return &SystemManager{
		JobSystem:    js,
		ShaderSystem: ssys,
	}, nil
}

// LoadAll loads the named shaders on the job workers.
func (sm *SystemManager) LoadAll(ctx context.Context, names []string) (map[string]*Program, map[string]error) {
	return sm.ShaderSystem.LoadAll(ctx, sm.JobSystem, names)
}

func (sm *SystemManager) Shutdown() error {
	if err := sm.ShaderSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.JobSystem.Shutdown(); err != nil {
		return err
	}
	return nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spaghettifunk/anima-shaders/engine/assets"
	"github.com/spaghettifunk/anima-shaders/engine/assets/loaders"
	"github.com/spaghettifunk/anima-shaders/engine/cache"
	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/reflection"
	"github.com/spaghettifunk/anima-shaders/engine/shaderc"
	"github.com/spaghettifunk/anima-shaders/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently watching sources
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine has released everything
	EngineStageShutdown
)

type Engine struct {
	currentStage  Stage
	stageMu       sync.Mutex
	config        *Config
	logger        core.Logger
	events        *core.EventBus
	assetManager  *assets.AssetManager
	cache         *cache.Cache
	registry      *shaderc.Registry
	systemManager *systems.SystemManager
	cancel        context.CancelFunc
}

// New builds the pipeline from config. device may be nil, in which case
// shaders stop at their descriptors and no native objects are created.
func New(config *Config, device renderer.ShaderDevice, logger core.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = core.NopLogger()
	}

	registry, err := NewRegistry(config)
	if err != nil {
		logger.Errorf("%v", err)
		return nil, err
	}

	events := core.NewEventBus()
	am := assets.NewAssetManager(config.Shaders.SourceDir, config.Shaders.Extensions, logger.With("system", "assets"), events)
	c := cache.New(config.CacheConfig(), logger.With("system", "cache"))

	sm, err := systems.NewSystemManager(config.SystemManagerConfig(), am, registry, c, device, logger, events)
	if err != nil {
		logger.Errorf("%v", err)
		return nil, err
	}

	return &Engine{
		currentStage:  EngineStageUninitialized,
		config:        config,
		logger:        logger,
		events:        events,
		assetManager:  am,
		cache:         c,
		registry:      registry,
		systemManager: sm,
	}, nil
}

// NewRegistry registers the compilers named by the configuration: naga for
// WGSL and glslangValidator for GLSL, with spirv-cross emitting GLSL text
// for the latter.
func NewRegistry(config *Config) (*shaderc.Registry, error) {
	glslang, err := shaderc.NewGLSLangCompiler(config.Compiler.GLSLangBin, config.Compiler.VulkanEnv, config.Compiler.OpenGLVersion, config.Compiler.ExtraArgs)
	if err != nil {
		return nil, err
	}
	registry := shaderc.NewRegistry(glslang, shaderc.NewNagaCompiler(config.Targets.GLSLVersion))
	registry.RegisterEmitter(metadata.LanguageGLSL, shaderc.NewSPIRVCross(config.Compiler.SPIRVCrossBin, config.Targets.GLSLVersion))
	return registry, nil
}

func (e *Engine) Initialize() error {
	if err := e.assetManager.Initialize(); err != nil {
		return err
	}

	e.events.Register(core.EVENT_CODE_SOURCE_CHANGED, e, e.onSourceChanged)
	e.events.Register(core.EVENT_CODE_SOURCE_REMOVED, e, e.onSourceRemoved)

	e.setStage(EngineStageInitialized)
	e.logger.Infof("indexed %d shader sources under %s", len(e.assetManager.Names()), e.config.Shaders.SourceDir)
	return nil
}

func (e *Engine) setStage(s Stage) {
	e.stageMu.Lock()
	e.currentStage = s
	e.stageMu.Unlock()
}

func (e *Engine) stage() Stage {
	e.stageMu.Lock()
	defer e.stageMu.Unlock()
	return e.currentStage
}

func (e *Engine) Events() *core.EventBus { return e.events }

func (e *Engine) Metrics() core.MetricsSnapshot {
	return e.systemManager.ShaderSystem.Metrics().Snapshot()
}

// Names lists every indexed shader source.
func (e *Engine) Names() []string {
	return e.assetManager.Names()
}

/**
 * @brief Loads the named shaders, or every indexed one when names is empty.
 * @return The loaded programs and the failure of every shader that did not load.
 */
func (e *Engine) Build(ctx context.Context, names []string) (map[string]*systems.Program, map[string]error) {
	if len(names) == 0 {
		names = e.assetManager.Names()
	}
	return e.systemManager.LoadAll(ctx, names)
}

/**
 * @brief Watches the source directory and rebuilds shaders as they change.
 * Blocks until ctx is cancelled or Shutdown is called.
 */
func (e *Engine) Run(ctx context.Context) error {
	if e.stage() != EngineStageInitialized {
		return fmt.Errorf("engine cannot run from stage %d", e.stage())
	}
	ctx, cancel := context.WithCancel(ctx)
	e.stageMu.Lock()
	e.cancel = cancel
	e.currentStage = EngineStageRunning
	e.stageMu.Unlock()
	defer cancel()

	e.logger.Infof("watching %s", e.config.Shaders.SourceDir)
	return e.assetManager.Watch(ctx)
}

func (e *Engine) Shutdown() error {
	e.stageMu.Lock()
	if e.currentStage == EngineStageShutdown || e.currentStage == EngineStageShuttingDown {
		e.stageMu.Unlock()
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	cancel := e.cancel
	e.stageMu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.events.Unregister(core.EVENT_CODE_SOURCE_CHANGED, e)
	e.events.Unregister(core.EVENT_CODE_SOURCE_REMOVED, e)
	err := e.systemManager.Shutdown()
	e.setStage(EngineStageShutdown)
	return err
}

/**
 * @brief Reflects a compiled SPIR-V file, one manifest per entry point stage.
 */
func (e *Engine) Inspect(path string) (*reflection.Module, []*metadata.StageResources, error) {
	res, err := e.assetManager.LoadAsset(path, metadata.ResourceTypeBinary, nil)
	if err != nil {
		return nil, nil, err
	}
	words, ok := res.Data.([]uint32)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected payload %T for %s", res.Data, filepath.Base(path))
	}
	module, err := reflection.Parse(words)
	if err != nil {
		return nil, nil, err
	}
	stages, err := reflection.Stages(words)
	if err != nil {
		return nil, nil, err
	}
	out := make([]*metadata.StageResources, 0, len(stages))
	for _, stage := range stages {
		r, err := reflection.Reflect(stage, words)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, r)
	}
	return module, out, nil
}

func (e *Engine) onSourceChanged(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if e.stage() != EngineStageRunning {
		return false
	}
	ss := e.systemManager.ShaderSystem
	p, err := ss.Reload(context.Background(), data.Shader)
	if err != nil {
		// the load already logged the failure
		return false
	}
	e.logger.Infof("reloaded '%s' (%d stages, %d cache hits)", p.Name, len(p.Binaries), p.CacheHits)
	return false
}

func (e *Engine) onSourceRemoved(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if err := e.cache.Invalidate(data.Shader); err != nil {
		e.logger.Warnf("invalidating cache of '%s': %v", data.Shader, err)
	}
	if err := e.systemManager.ShaderSystem.Unload(data.Shader); err != nil && !errors.Is(err, core.ErrShaderNotFound) {
		e.logger.Warnf("unloading '%s': %v", data.Shader, err)
	}
	e.logger.Infof("removed '%s'", data.Shader)
	return false
}

// ShaderSource returns the preprocessed source of an indexed shader.
func (e *Engine) ShaderSource(name string) (*loaders.ShaderSource, error) {
	res, err := e.assetManager.LoadAsset(name, metadata.ResourceTypeShader, nil)
	if err != nil {
		return nil, err
	}
	src, ok := res.Data.(*loaders.ShaderSource)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T for '%s'", res.Data, name)
	}
	return src, nil
}

package systems

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima-shaders/engine/assets/loaders"
	"github.com/spaghettifunk/anima-shaders/engine/cache"
	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/reflection"
	"github.com/spaghettifunk/anima-shaders/engine/shaderc"
)

/** @brief Configuration for the shader system. */
type ShaderSystemConfig struct {
	/** @brief The target the descriptors and native handles are built for. */
	Target metadata.Target
	/** @brief With a Vulkan target, also compile every stage for OpenGL. */
	CrossCompileOpenGL bool
	/** @brief Produce GLSL text for the OpenGL binaries. */
	EmitGLSL bool
	/** @brief Per-stage binding limits of the backend. */
	Limits renderer.Limits
}

// SourceProvider hands out preprocessed shader sources by name.
type SourceProvider interface {
	LoadAsset(name string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error)
}

/**
 * @brief A shader program that went through the whole pipeline.
 */
type Program struct {
	ID       uint32
	Name     string
	Path     string
	Language metadata.Language
	Target   metadata.Target
	State    metadata.ShaderState
	/** @brief Binaries for Target, one per stage. */
	Binaries  metadata.CompiledBinary
	Resources metadata.ShaderResources
	/** @brief Descriptors in pipeline stage order. */
	Descriptors []*metadata.BackendShaderDescriptor
	/** @brief Native handles, empty when the system has no device. */
	Handles []renderer.NativeShader
	/** @brief OpenGL binaries when cross-compiling from a Vulkan target. */
	OpenGLBinaries metadata.CompiledBinary
	/** @brief Emitted GLSL text per stage, when enabled. */
	GLSL map[metadata.ShaderStage]string
	/** @brief Number of stage binaries served from the cache. */
	CacheHits int
	RequestID string
}

type ShaderSystem struct {
	// This system's configuration.
	Config *ShaderSystemConfig
	// A lookup table for shader name->program
	lookup map[string]*Program
	mutex  sync.RWMutex
	closed bool
	nextID atomic.Uint32

	sources  SourceProvider
	registry *shaderc.Registry
	cache    *cache.Cache
	device   renderer.ShaderDevice
	logger   core.Logger
	events   *core.EventBus
	metrics  *core.Metrics
}

// NewShaderSystem wires the pipeline. cache, device, logger and events may be
// nil: no caching, no native handles, no logging and no events respectively.
func NewShaderSystem(config *ShaderSystemConfig, sources SourceProvider, registry *shaderc.Registry, c *cache.Cache, device renderer.ShaderDevice, logger core.Logger, events *core.EventBus) (*ShaderSystem, error) {
	if config == nil {
		return nil, fmt.Errorf("NewShaderSystem - config is required")
	}
	if sources == nil || registry == nil {
		return nil, fmt.Errorf("NewShaderSystem - a source provider and a compiler registry are required")
	}
	if logger == nil {
		logger = core.NopLogger()
	}
	if c == nil {
		c = cache.New(cache.Config{}, logger)
	}
	if config.Target == metadata.TargetOpenGL && config.CrossCompileOpenGL {
		logger.Warnf("NewShaderSystem - CrossCompileOpenGL is ignored when the target is already OpenGL")
	}

	return &ShaderSystem{
		Config:   config,
		lookup:   make(map[string]*Program),
		sources:  sources,
		registry: registry,
		cache:    c,
		device:   device,
		logger:   logger,
		events:   events,
		metrics:  core.NewMetrics(),
	}, nil
}

func (s *ShaderSystem) Metrics() *core.Metrics { return s.metrics }

// loadRun carries the per-load context through the pipeline steps.
type loadRun struct {
	name      string
	requestID string
	logger    core.Logger
	state     metadata.ShaderState
}

func (s *ShaderSystem) transition(run *loadRun, state metadata.ShaderState, stage metadata.ShaderStage) {
	run.state = state
	if stage != metadata.ShaderStageUndefined {
		run.logger.Debugf("%s: %s", stage, state)
	} else {
		run.logger.Debugf("%s", state)
	}
	s.events.Fire(core.EVENT_CODE_SHADER_STATE_CHANGED, s, core.EventContext{
		Shader:    run.name,
		RequestID: run.requestID,
		State:     state,
		Stage:     stage,
	})
}

func (s *ShaderSystem) fail(run *loadRun, state metadata.ShaderState, stage metadata.ShaderStage, err error) error {
	run.state = state
	loadErr := &core.LoadError{Shader: run.name, State: state, Stage: stage, Err: err}
	run.logger.Errorf("%v", loadErr)
	s.metrics.RecordLoad(true)
	s.events.Fire(core.EVENT_CODE_SHADER_FAILED, s, core.EventContext{
		Shader:    run.name,
		RequestID: run.requestID,
		State:     state,
		Stage:     stage,
		Err:       err,
	})
	return loadErr
}

/**
 * @brief Returns the loaded program, loading it first when needed.
 * Failed loads register nothing and return a *core.LoadError.
 */
func (s *ShaderSystem) Load(ctx context.Context, name string) (*Program, error) {
	if p, ok := s.Get(name); ok {
		return p, nil
	}
	if s.isClosed() {
		return nil, core.ErrSystemClosed
	}

	p, err := s.build(ctx, name)
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		s.release(p)
		return nil, core.ErrSystemClosed
	}
	if existing, ok := s.lookup[name]; ok {
		// A concurrent load got there first.
		s.mutex.Unlock()
		s.release(p)
		return existing, nil
	}
	s.lookup[name] = p
	s.mutex.Unlock()
	return p, nil
}

/**
 * @brief Rebuilds a shader from its current source. The previous program
 * stays registered when the rebuild fails.
 */
func (s *ShaderSystem) Reload(ctx context.Context, name string) (*Program, error) {
	if s.isClosed() {
		return nil, core.ErrSystemClosed
	}
	p, err := s.build(ctx, name)
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		s.release(p)
		return nil, core.ErrSystemClosed
	}
	old := s.lookup[name]
	s.lookup[name] = p
	s.mutex.Unlock()

	if old != nil {
		s.release(old)
	}
	return p, nil
}

// build runs the state machine for one load without touching the lookup.
func (s *ShaderSystem) build(ctx context.Context, name string) (*Program, error) {
	run := &loadRun{name: name, requestID: core.NewRequestID()}
	run.logger = s.logger.With("shader", name, "request", run.requestID)
	clock := core.NewClock()
	clock.Start()
	s.transition(run, metadata.ShaderStateUnprocessed, metadata.ShaderStageUndefined)

	// Preprocess.
	res, err := s.sources.LoadAsset(name, metadata.ResourceTypeShader, nil)
	if err != nil {
		return nil, s.fail(run, metadata.ShaderStatePreprocessFailed, metadata.ShaderStageUndefined, err)
	}
	src, ok := res.Data.(*loaders.ShaderSource)
	if !ok {
		return nil, s.fail(run, metadata.ShaderStatePreprocessFailed, metadata.ShaderStageUndefined, fmt.Errorf("unexpected resource payload %T", res.Data))
	}
	s.transition(run, metadata.ShaderStatePreprocessed, metadata.ShaderStageUndefined)

	compiler, err := s.registry.For(src.Language)
	if err != nil {
		return nil, s.fail(run, metadata.ShaderStateCompileFailed, metadata.ShaderStageUndefined, err)
	}

	p := &Program{
		ID:        s.nextID.Add(1),
		Name:      name,
		Path:      src.Path,
		Language:  src.Language,
		Target:    s.Config.Target,
		RequestID: run.requestID,
	}

	// Compile or fetch every stage for the primary target.
	binaries, hits, stage, err := s.compileStages(ctx, run, src, compiler, p.Target)
	if err != nil {
		return nil, s.fail(run, metadata.ShaderStateCompileFailed, stage, err)
	}
	p.Binaries = binaries
	p.CacheHits = hits
	if hits == len(binaries) {
		s.transition(run, metadata.ShaderStateCacheHit, metadata.ShaderStageUndefined)
	} else {
		s.transition(run, metadata.ShaderStateCompiled, metadata.ShaderStageUndefined)
	}

	// Reflect.
	p.Resources = make(metadata.ShaderResources, len(binaries))
	for _, stage := range binaries.Stages() {
		r, err := reflection.Reflect(stage, binaries[stage])
		if err != nil {
			return nil, s.fail(run, metadata.ShaderStateReflectFailed, stage, err)
		}
		p.Resources[stage] = r
	}
	s.transition(run, metadata.ShaderStateReflected, metadata.ShaderStageUndefined)

	// OpenGL side outputs.
	var descriptorGLSL map[metadata.ShaderStage]string
	glBinaries := p.Binaries
	if p.Target == metadata.TargetVulkan && s.Config.CrossCompileOpenGL {
		gl, glHits, stage, err := s.compileStages(ctx, run, src, compiler, metadata.TargetOpenGL)
		if err != nil {
			return nil, s.fail(run, metadata.ShaderStateCompileFailed, stage, err)
		}
		p.OpenGLBinaries = gl
		p.CacheHits += glHits
		glBinaries = gl
	}
	if s.Config.EmitGLSL && (p.Target == metadata.TargetOpenGL || s.Config.CrossCompileOpenGL) {
		texts, stage, err := s.emitGLSL(ctx, src, glBinaries)
		if err != nil {
			return nil, s.fail(run, metadata.ShaderStateCompileFailed, stage, err)
		}
		p.GLSL = texts
		if p.Target == metadata.TargetOpenGL {
			descriptorGLSL = texts
		}
	}

	// Assemble; every stage is checked before any native object exists.
	descs, err := renderer.Assemble(name, p.Binaries, p.Resources, descriptorGLSL, s.Config.Limits)
	if err != nil {
		var limitErr *core.ResourceLimitExceededError
		if errors.As(err, &limitErr) {
			return nil, s.fail(run, metadata.ShaderStateLimitExceeded, limitErr.Stage, err)
		}
		return nil, s.fail(run, metadata.ShaderStateReflectFailed, metadata.ShaderStageUndefined, err)
	}
	p.Descriptors = descs
	s.transition(run, metadata.ShaderStateAssembled, metadata.ShaderStageUndefined)

	if s.device != nil {
		handles, err := renderer.CreateShaders(s.device, descs)
		if err != nil {
			return nil, s.fail(run, metadata.ShaderStateCreateFailed, metadata.ShaderStageUndefined, err)
		}
		p.Handles = handles
	}

	p.State = metadata.ShaderStateReady
	s.transition(run, metadata.ShaderStateReady, metadata.ShaderStageUndefined)
	s.metrics.RecordLoad(false)
	s.events.Fire(core.EVENT_CODE_SHADER_READY, s, core.EventContext{
		Shader:    name,
		RequestID: run.requestID,
		State:     metadata.ShaderStateReady,
	})
	clock.Stop()
	run.logger.Infof("ready in %s (%d stages, %d cache hits)", clock.Elapsed().Round(time.Microsecond), len(p.Binaries), p.CacheHits)
	return p, nil
}

// compileStages produces a binary per stage, from the cache when the
// fingerprint matches. It stops at the first stage that fails.
func (s *ShaderSystem) compileStages(ctx context.Context, run *loadRun, src *loaders.ShaderSource, compiler shaderc.Compiler, target metadata.Target) (metadata.CompiledBinary, int, metadata.ShaderStage, error) {
	binaries := make(metadata.CompiledBinary, len(src.Bundle))
	hits := 0
	compilerName := compiler.Name()

	for _, stage := range src.Bundle.Stages() {
		body := src.Bundle[stage]
		key := cache.Key{Shader: src.Name, Stage: stage, Target: target}
		fingerprint := cache.Fingerprint(body, compilerName, target)

		if words, ok := s.cache.Load(key, fingerprint); ok {
			s.metrics.RecordCacheHit()
			binaries[stage] = words
			hits++
			s.transition(run, metadata.ShaderStateCacheHit, stage)
			continue
		}
		s.metrics.RecordCacheMiss()

		start := time.Now()
		words, err := compiler.Compile(ctx, stage, body, target)
		if err != nil {
			return nil, 0, stage, err
		}
		s.metrics.RecordCompile(time.Since(start))
		binaries[stage] = words

		if err := s.cache.Store(key, fingerprint, words); err != nil {
			run.logger.Warnf("%v", err)
		}
		s.transition(run, metadata.ShaderStateCompiled, stage)
	}
	return binaries, hits, metadata.ShaderStageUndefined, nil
}

func (s *ShaderSystem) emitGLSL(ctx context.Context, src *loaders.ShaderSource, binaries metadata.CompiledBinary) (map[metadata.ShaderStage]string, metadata.ShaderStage, error) {
	emitter, ok := s.registry.Emitter(src.Language)
	if !ok {
		return nil, metadata.ShaderStageUndefined, fmt.Errorf("%w: no GLSL emitter for %s", core.ErrCompilerNotFound, src.Language)
	}
	texts := make(map[metadata.ShaderStage]string, len(binaries))
	for _, stage := range binaries.Stages() {
		text, err := emitter.EmitGLSL(ctx, stage, src.Bundle[stage], binaries[stage])
		if err != nil {
			return nil, stage, err
		}
		texts[stage] = text
	}
	return texts, metadata.ShaderStageUndefined, nil
}

func (s *ShaderSystem) release(p *Program) {
	if s.device != nil && len(p.Handles) > 0 {
		renderer.ReleaseShaders(s.device, p.Handles)
	}
	p.Handles = nil
}

func (s *ShaderSystem) isClosed() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.closed
}

// Get returns a loaded program without loading it.
func (s *ShaderSystem) Get(name string) (*Program, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	p, ok := s.lookup[name]
	return p, ok
}

// Unload drops a program and releases its native handles.
func (s *ShaderSystem) Unload(name string) error {
	s.mutex.Lock()
	p, ok := s.lookup[name]
	delete(s.lookup, name)
	s.mutex.Unlock()
	if !ok {
		return fmt.Errorf("%w: '%s' is not loaded", core.ErrShaderNotFound, name)
	}
	s.release(p)
	return nil
}

// Names lists the loaded programs, sorted.
func (s *ShaderSystem) Names() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	names := make([]string, 0, len(s.lookup))
	for name := range s.lookup {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

/**
 * @brief Loads every named shader on the job system and waits for all of them.
 * @return The programs that loaded and the error of every one that did not.
 */
func (s *ShaderSystem) LoadAll(ctx context.Context, js *JobSystem, names []string) (map[string]*Program, map[string]error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		programs = make(map[string]*Program, len(names))
		failures = make(map[string]error)
	)
	for _, name := range names {
		name := name
		wg.Add(1)
		err := js.Submit(metadata.JobTask{
			Name:        "load " + name,
			InputParams: name,
			OnStart: func(in interface{}) (interface{}, error) {
				return s.Load(ctx, in.(string))
			},
			OnComplete: func(result interface{}) {
				mu.Lock()
				programs[name] = result.(*Program)
				mu.Unlock()
			},
			OnFailure: func(err error) {
				mu.Lock()
				failures[name] = err
				mu.Unlock()
			},
			OnCompletionCallback: wg.Done,
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			failures[name] = err
			mu.Unlock()
		}
	}
	wg.Wait()
	return programs, failures
}

/**
 * @brief Shuts down the shader system, releasing every native handle.
 */
func (s *ShaderSystem) Shutdown() error {
	s.mutex.Lock()
	programs := s.lookup
	s.lookup = make(map[string]*Program)
	s.closed = true
	s.mutex.Unlock()

	for _, p := range programs {
		s.release(p)
	}
	return nil
}

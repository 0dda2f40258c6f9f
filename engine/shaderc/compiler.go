package shaderc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

/**
 * @brief Turns the source of one stage into SPIR-V words.
 * Implementations must be deterministic for a given (source, target, Name()).
 */
type Compiler interface {
	// Name identifies the compiler and its version. It is part of every
	// cache fingerprint, so it must change whenever the output could.
	Name() string
	Language() metadata.Language
	Compile(ctx context.Context, stage metadata.ShaderStage, source string, target metadata.Target) ([]uint32, error)
}

// GLSLEmitter produces GLSL text for backends that consume source instead of SPIR-V.
// Emitters work from the stage source, the compiled binary, or both.
type GLSLEmitter interface {
	EmitGLSL(ctx context.Context, stage metadata.ShaderStage, source string, binary []uint32) (string, error)
}

// Registry maps source languages to compilers and GLSL emitters.
type Registry struct {
	mutex     sync.RWMutex
	compilers map[metadata.Language]Compiler
	emitters  map[metadata.Language]GLSLEmitter
}

func NewRegistry(compilers ...Compiler) *Registry {
	r := &Registry{
		compilers: make(map[metadata.Language]Compiler),
		emitters:  make(map[metadata.Language]GLSLEmitter),
	}
	for _, c := range compilers {
		r.Register(c)
	}
	return r
}

// Register replaces any compiler already registered for the same language.
func (r *Registry) Register(c Compiler) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.compilers[c.Language()] = c
}

func (r *Registry) RegisterEmitter(lang metadata.Language, e GLSLEmitter) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.emitters[lang] = e
}

func (r *Registry) For(lang metadata.Language) (Compiler, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	c, ok := r.compilers[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrCompilerNotFound, lang)
	}
	return c, nil
}

// Emitter returns the explicitly registered emitter for lang, falling back to
// the compiler itself when it can emit GLSL.
func (r *Registry) Emitter(lang metadata.Language) (GLSLEmitter, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if e, ok := r.emitters[lang]; ok {
		return e, true
	}
	if c, ok := r.compilers[lang]; ok {
		e, ok := c.(GLSLEmitter)
		return e, ok
	}
	return nil, false
}

// Languages lists the languages with a registered compiler.
func (r *Registry) Languages() []metadata.Language {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]metadata.Language, 0, len(r.compilers))
	for lang := range r.compilers {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func compileError(stage metadata.ShaderStage, target metadata.Target, diagnostic string, err error) *core.CompilationError {
	return &core.CompilationError{Stage: stage, Target: target, Diagnostic: diagnostic, Err: err}
}

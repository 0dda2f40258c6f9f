package core

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

var (
	ErrMalformedSource       = errors.New("malformed shader source")
	ErrCompilation           = errors.New("shader compilation failed")
	ErrReflection            = errors.New("shader reflection failed")
	ErrResourceLimitExceeded = errors.New("shader resource limit exceeded")
	ErrCacheWrite            = errors.New("shader cache write failed")

	ErrShaderNotFound      = errors.New("shader not found")
	ErrUnknownStage        = errors.New("unknown shader stage")
	ErrUnknownTarget       = errors.New("unknown shader target")
	ErrCompilerNotFound    = errors.New("no compiler registered for language")
	ErrSystemClosed        = errors.New("system already shut down")
	ErrNoWorkers           = errors.New("job system needs at least one worker")
	ErrNegativeChannelSize = errors.New("job queue size cannot be negative")
	ErrUnknown             = errors.New("unknown")
)

// MalformedSourceError reports a bad stage marker or content outside any stage.
type MalformedSourceError struct {
	// Line is 1-based, 0 when the problem is not tied to a line.
	Line   int
	Reason string
}

func (e *MalformedSourceError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed shader source: line %d: %s", e.Line, e.Reason)
	}
	return "malformed shader source: " + e.Reason
}

func (e *MalformedSourceError) Is(target error) bool { return target == ErrMalformedSource }

// CompilationError carries the compiler diagnostic for one stage.
type CompilationError struct {
	Stage      metadata.ShaderStage
	Target     metadata.Target
	Diagnostic string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compiling %s stage for %s: %s", e.Stage, e.Target, e.Diagnostic)
}

func (e *CompilationError) Unwrap() error { return e.Err }

func (e *CompilationError) Is(target error) bool { return target == ErrCompilation }

// ReflectionError reports a structurally invalid binary.
type ReflectionError struct {
	Stage metadata.ShaderStage
	// Offset is the word offset of the offending instruction.
	Offset int
	Reason string
}

func (e *ReflectionError) Error() string {
	return fmt.Sprintf("reflecting %s stage: word %d: %s", e.Stage, e.Offset, e.Reason)
}

func (e *ReflectionError) Is(target error) bool { return target == ErrReflection }

// ResourceLimitExceededError names the stage whose bound resources go over the limit.
type ResourceLimitExceededError struct {
	Stage metadata.ShaderStage
	// What is being limited, e.g. "samplers+uniform buffers".
	What   string
	Count  uint32
	Limit  uint32
	Excess uint32
}

func (e *ResourceLimitExceededError) Error() string {
	return fmt.Sprintf("%s stage binds %d %s, limit is %d (%d over)", e.Stage, e.Count, e.What, e.Limit, e.Excess)
}

func (e *ResourceLimitExceededError) Is(target error) bool { return target == ErrResourceLimitExceeded }

// CacheWriteError is never fatal; the pipeline logs it and keeps going.
type CacheWriteError struct {
	Path string
	Err  error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("writing shader cache %s: %v", e.Path, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

func (e *CacheWriteError) Is(target error) bool { return target == ErrCacheWrite }

// LoadError is what a failed shader load returns to the caller.
type LoadError struct {
	Shader string
	// State is the terminal failure state the load stopped in.
	State metadata.ShaderState
	// Stage is ShaderStageUndefined when the failure is not tied to one stage.
	Stage metadata.ShaderStage
	Err   error
}

func (e *LoadError) Error() string {
	if e.Stage != metadata.ShaderStageUndefined {
		return fmt.Sprintf("shader '%s' %s at %s stage: %v", e.Shader, e.State, e.Stage, e.Err)
	}
	return fmt.Sprintf("shader '%s' %s: %v", e.Shader, e.State, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{&MalformedSourceError{Line: 3, Reason: "unknown stage 'tess'"}, ErrMalformedSource},
		{&CompilationError{Stage: metadata.ShaderStageFragment, Diagnostic: "syntax error"}, ErrCompilation},
		{&ReflectionError{Offset: 5, Reason: "bad magic"}, ErrReflection},
		{&ResourceLimitExceededError{Stage: metadata.ShaderStageVertex, Count: 3, Limit: 2, Excess: 1}, ErrResourceLimitExceeded},
		{&CacheWriteError{Path: "/tmp/x", Err: errors.New("disk full")}, ErrCacheWrite},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.err), func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			wrapped := &LoadError{Shader: "lit", State: metadata.ShaderStateCompileFailed, Err: tt.err}
			assert.ErrorIs(t, wrapped, tt.sentinel)
		})
	}
}

func TestLoadErrorMessage(t *testing.T) {
	cause := &CompilationError{Stage: metadata.ShaderStageFragment, Target: metadata.TargetVulkan, Diagnostic: "'x' : undeclared identifier"}
	err := &LoadError{Shader: "lit", State: metadata.ShaderStateCompileFailed, Stage: metadata.ShaderStageFragment, Err: cause}
	assert.Equal(t, "shader 'lit' CompileFailed at fragment stage: compiling fragment stage for vulkan: 'x' : undeclared identifier", err.Error())

	var ce *CompilationError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, metadata.ShaderStageFragment, ce.Stage)

	noStage := &LoadError{Shader: "lit", State: metadata.ShaderStatePreprocessFailed, Err: &MalformedSourceError{Reason: "no stage markers"}}
	assert.Equal(t, "shader 'lit' PreprocessFailed: malformed shader source: no stage markers", noStage.Error())
}

func TestCacheWriteErrorUnwraps(t *testing.T) {
	cause := errors.New("read-only file system")
	err := &CacheWriteError{Path: "/cache/lit.vertex.vulkan.bin", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "/cache/lit.vertex.vulkan.bin")
}

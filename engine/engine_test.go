package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-shaders/engine/assets/loaders"
	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-shaders/engine/shaderc"
)

const spriteSource = `#shader vertex
@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> @builtin(position) vec4<f32> {
    return vec4<f32>(0.0, 0.0, 0.0, 1.0);
}
#shader fragment
@group(0) @binding(0) var sprite: texture_2d<f32>;
@group(0) @binding(1) var sprite_sampler: sampler;

@fragment
fn fs_main(@location(0) uv: vec2<f32>) -> @location(0) vec4<f32> {
    return textureSample(sprite, sprite_sampler, uv);
}
`

func testConfig(t *testing.T) *Config {
	t.Helper()
	root := t.TempDir()
	c := DefaultConfig()
	c.Shaders.SourceDir = filepath.Join(root, "shaders")
	c.Cache.Root = filepath.Join(root, "cache")
	c.Jobs.Workers = 2
	require.NoError(t, os.MkdirAll(c.Shaders.SourceDir, 0o755))
	return c
}

func newEngine(t *testing.T, c *Config) *Engine {
	t.Helper()
	e, err := New(c, nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func TestEngineBuild(t *testing.T) {
	c := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(c.Shaders.SourceDir, "sprite.wgsl"), []byte(spriteSource), 0o644))
	e := newEngine(t, c)

	programs, failures := e.Build(context.Background(), nil)
	require.Empty(t, failures)
	require.Contains(t, programs, "sprite")
	p := programs["sprite"]
	assert.Equal(t, metadata.ShaderStateReady, p.State)
	assert.Equal(t, uint32(1), p.Descriptors[1].NumSamplers)

	_, err := os.Stat(filepath.Join(c.Cache.Root, "sprite.cached.meta.json"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), e.Metrics().Loads)
}

func TestEngineBuildReportsFailures(t *testing.T) {
	c := testConfig(t)
	e := newEngine(t, c)

	_, failures := e.Build(context.Background(), []string{"nope"})
	require.Contains(t, failures, "nope")
	assert.ErrorIs(t, failures["nope"], core.ErrShaderNotFound)
}

func TestEngineInspect(t *testing.T) {
	c := testConfig(t)
	e := newEngine(t, c)

	src, err := loaders.Preprocess(spriteSource)
	require.NoError(t, err)
	words, err := shaderc.NewNagaCompiler(330).Compile(context.Background(), metadata.ShaderStageFragment, src[metadata.ShaderStageFragment], metadata.TargetVulkan)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "sprite.frag.spv")
	require.NoError(t, os.WriteFile(path, loaders.BytecodeToBytes(words), 0o644))

	module, stages, err := e.Inspect(path)
	require.NoError(t, err)
	assert.NotZero(t, module.Bound)
	require.Len(t, stages, 1)
	assert.Equal(t, metadata.ShaderStageFragment, stages[0].Stage)
	assert.Equal(t, "fs_main", stages[0].EntryPoint)
	assert.Equal(t, uint32(1), stages[0].Count(metadata.ResourceKindSampledImage))
}

func TestEngineRunReloadsChangedSources(t *testing.T) {
	c := testConfig(t)
	source := filepath.Join(c.Shaders.SourceDir, "sprite.wgsl")
	require.NoError(t, os.WriteFile(source, []byte(spriteSource), 0o644))
	e := newEngine(t, c)
	e.assetManager.Debounce = 20 * time.Millisecond

	_, failures := e.Build(context.Background(), nil)
	require.Empty(t, failures)

	var reloaded atomic.Int32
	e.Events().Register(core.EVENT_CODE_SHADER_READY, t, func(_ core.SystemEventCode, _, _ interface{}, data core.EventContext) bool {
		if data.Shader == "sprite" {
			reloaded.Add(1)
		}
		return false
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.stage() == EngineStageRunning }, time.Second, 5*time.Millisecond)
	// give the watcher a moment to register the directory
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(source, []byte(spriteSource+"// edited\n"), 0o644))
	require.Eventually(t, func() bool { return reloaded.Load() > 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(source))
	require.Eventually(t, func() bool {
		return len(e.systemManager.ShaderSystem.Names()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	_, err := os.Stat(filepath.Join(c.Cache.Root, "sprite.cached.meta.json"))
	assert.True(t, os.IsNotExist(err))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngineShutdownIsIdempotent(t *testing.T) {
	e := newEngine(t, testConfig(t))
	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())
	assert.Error(t, e.Run(context.Background()))
}

func TestSampleShaders(t *testing.T) {
	c := testConfig(t)
	c.Shaders.SourceDir = filepath.Join("..", "assets", "shaders")
	e := newEngine(t, c)

	assert.Equal(t, []string{"lit", "particles", "sprite"}, e.Names())
	for _, name := range e.Names() {
		src, err := e.ShaderSource(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, src.Bundle, name)
	}

	lit, err := e.ShaderSource("lit")
	require.NoError(t, err)
	assert.Contains(t, lit.Bundle[metadata.ShaderStageVertex], "mat4 projection;")

	particles, err := e.ShaderSource("particles")
	require.NoError(t, err)
	assert.Equal(t, []metadata.ShaderStage{metadata.ShaderStageCompute}, particles.Bundle.Stages())

	programs, failures := e.Build(context.Background(), []string{"sprite"})
	require.Empty(t, failures)
	fs := programs["sprite"].Descriptors[1]
	assert.Equal(t, uint32(1), fs.NumUniformBuffers)
	assert.Equal(t, uint32(1), fs.NumSamplers)
}

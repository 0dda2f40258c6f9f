package cache

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-shaders/engine/assets/loaders"
	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

var (
	vertexKey   = Key{Shader: "basic", Stage: metadata.ShaderStageVertex, Target: metadata.TargetVulkan}
	fragmentKey = Key{Shader: "basic", Stage: metadata.ShaderStageFragment, Target: metadata.TargetVulkan}
	sample      = []uint32{0x07230203, 0x00010300, 0, 8, 0}
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	return New(Config{Root: filepath.Join(t.TempDir(), "cache"), Enabled: true}, nil)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "basic.vertex.vulkan.bin", vertexKey.BinaryName())
	assert.Equal(t, "basic.fragment.opengl.bin", Key{"basic", metadata.ShaderStageFragment, metadata.TargetOpenGL}.BinaryName())
	assert.Equal(t, "basic.cached.meta.json", MetaName("basic"))
}

func TestFingerprint(t *testing.T) {
	base := Fingerprint("void main() {}", "glslang 11", metadata.TargetVulkan)
	assert.Len(t, base, 64)
	assert.Equal(t, base, Fingerprint("void main() {}", "glslang 11", metadata.TargetVulkan))
	assert.NotEqual(t, base, Fingerprint("void main() { }", "glslang 11", metadata.TargetVulkan))
	assert.NotEqual(t, base, Fingerprint("void main() {}", "glslang 12", metadata.TargetVulkan))
	assert.NotEqual(t, base, Fingerprint("void main() {}", "glslang 11", metadata.TargetOpenGL))
	assert.NotEqual(t, Fingerprint("ab", "c", metadata.TargetVulkan), Fingerprint("a", "bc", metadata.TargetVulkan))
}

func TestStoreThenLoad(t *testing.T) {
	c := newCache(t)
	fp := Fingerprint("src", "compiler", metadata.TargetVulkan)

	_, ok := c.Load(vertexKey, fp)
	assert.False(t, ok)

	require.NoError(t, c.Store(vertexKey, fp, sample))

	path, ok := c.Lookup(vertexKey, fp)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(c.Root(), "basic.vertex.vulkan.bin"), path)

	words, ok := c.Load(vertexKey, fp)
	require.True(t, ok)
	assert.Equal(t, sample, words)

	// Other stages of the same shader are independent entries.
	_, ok = c.Load(fragmentKey, fp)
	assert.False(t, ok)

	_, err := os.Stat(filepath.Join(c.Root(), MetaName("basic")))
	assert.NoError(t, err)
}

func TestModifiedSourceMisses(t *testing.T) {
	c := newCache(t)
	old := Fingerprint("old", "compiler", metadata.TargetVulkan)
	require.NoError(t, c.Store(vertexKey, old, sample))

	_, ok := c.Load(vertexKey, Fingerprint("new", "compiler", metadata.TargetVulkan))
	assert.False(t, ok)

	// Changing one stage leaves the other stage's entry valid.
	fragFP := Fingerprint("frag", "compiler", metadata.TargetVulkan)
	require.NoError(t, c.Store(fragmentKey, fragFP, sample))
	updated := []uint32{0x07230203, 0x00010300, 0, 9, 0, 1}
	require.NoError(t, c.Store(vertexKey, Fingerprint("new", "compiler", metadata.TargetVulkan), updated))

	words, ok := c.Load(vertexKey, Fingerprint("new", "compiler", metadata.TargetVulkan))
	require.True(t, ok)
	assert.Equal(t, updated, words)
	_, ok = c.Load(fragmentKey, fragFP)
	assert.True(t, ok)
}

func TestTamperedBinaryMisses(t *testing.T) {
	c := newCache(t)
	fp := Fingerprint("src", "compiler", metadata.TargetVulkan)
	require.NoError(t, c.Store(vertexKey, fp, sample))

	require.NoError(t, os.WriteFile(filepath.Join(c.Root(), vertexKey.BinaryName()), []byte{1, 2, 3, 4}, 0o644))
	_, ok := c.Load(vertexKey, fp)
	assert.False(t, ok)

	require.NoError(t, os.Remove(filepath.Join(c.Root(), vertexKey.BinaryName())))
	_, ok = c.Lookup(vertexKey, fp)
	assert.False(t, ok)
}

func TestSameSizeBinaryReplacementMisses(t *testing.T) {
	c := newCache(t)
	fp := Fingerprint("src", "compiler", metadata.TargetVulkan)
	require.NoError(t, c.Store(vertexKey, fp, sample))

	// A store of different source that was interrupted after the binary
	// rename: new bytes of the same length sit under the old record.
	other := []uint32{0x07230203, 0x00010300, 0, 9, 0}
	require.NoError(t, writeAtomic(filepath.Join(c.Root(), vertexKey.BinaryName()), loaders.BytecodeToBytes(other)))

	_, ok := c.Load(vertexKey, fp)
	assert.False(t, ok)
	_, ok = c.Lookup(vertexKey, fp)
	assert.False(t, ok)
}

func TestStoreDropsRecordBeforeReplacingBinary(t *testing.T) {
	c := newCache(t)
	fp := Fingerprint("src", "compiler", metadata.TargetVulkan)
	require.NoError(t, c.Store(vertexKey, fp, sample))
	require.NoError(t, c.Store(fragmentKey, fp, sample))

	// Make the binary rename fail.
	binPath := filepath.Join(c.Root(), vertexKey.BinaryName())
	require.NoError(t, os.Remove(binPath))
	require.NoError(t, os.MkdirAll(filepath.Join(binPath, "blocker"), 0o755))

	err := c.Store(vertexKey, Fingerprint("new src", "compiler", metadata.TargetVulkan), sample)
	var writeErr *core.CacheWriteError
	require.True(t, errors.As(err, &writeErr))

	meta, err := readMeta(filepath.Join(c.Root(), MetaName("basic")), "basic")
	require.NoError(t, err)
	assert.NotContains(t, meta.Entries, vertexKey.entryName())
	assert.Contains(t, meta.Entries, fragmentKey.entryName())
	assert.Equal(t, checksum(loaders.BytecodeToBytes(sample)), meta.Entries[fragmentKey.entryName()].Checksum)
}

func TestCorruptMetadataIsRewritten(t *testing.T) {
	c := newCache(t)
	require.NoError(t, os.MkdirAll(c.Root(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.Root(), MetaName("basic")), []byte("{not json"), 0o644))

	fp := Fingerprint("src", "compiler", metadata.TargetVulkan)
	_, ok := c.Lookup(vertexKey, fp)
	assert.False(t, ok)

	require.NoError(t, c.Store(vertexKey, fp, sample))
	_, ok = c.Lookup(vertexKey, fp)
	assert.True(t, ok)
}

func TestDisabledCache(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	c := New(Config{Root: root, Enabled: false}, core.NopLogger())
	fp := Fingerprint("src", "compiler", metadata.TargetVulkan)

	assert.False(t, c.Enabled())
	require.NoError(t, c.Store(vertexKey, fp, sample))
	_, ok := c.Load(vertexKey, fp)
	assert.False(t, ok)

	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestUnwritableRoot(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	c := New(Config{Root: filepath.Join(blocker, "cache"), Enabled: true}, nil)
	err := c.Store(vertexKey, "fp", sample)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrCacheWrite))

	var wErr *core.CacheWriteError
	require.True(t, errors.As(err, &wErr))
	assert.NotEmpty(t, wErr.Path)
}

func TestInvalidShaderName(t *testing.T) {
	c := newCache(t)
	err := c.Store(Key{Shader: "../escape", Stage: metadata.ShaderStageVertex}, "fp", sample)
	assert.True(t, errors.Is(err, core.ErrCacheWrite))
	_, ok := c.Lookup(Key{Shader: "../escape", Stage: metadata.ShaderStageVertex}, "fp")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	c := newCache(t)
	fp := Fingerprint("src", "compiler", metadata.TargetVulkan)
	require.NoError(t, c.Store(vertexKey, fp, sample))
	require.NoError(t, c.Store(fragmentKey, fp, sample))

	other := Key{Shader: "basic.ui", Stage: metadata.ShaderStageVertex, Target: metadata.TargetVulkan}
	require.NoError(t, c.Store(other, fp, sample))

	require.NoError(t, c.Invalidate("basic"))
	_, ok := c.Lookup(vertexKey, fp)
	assert.False(t, ok)
	_, ok = c.Lookup(fragmentKey, fp)
	assert.False(t, ok)

	_, ok = c.Lookup(other, fp)
	assert.True(t, ok)

	entries, err := os.ReadDir(c.Root())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, []string{"basic.cached.meta.json", "basic.vertex.vulkan.bin"}, e.Name())
	}

	require.NoError(t, New(Config{Root: filepath.Join(t.TempDir(), "none"), Enabled: true}, nil).Invalidate("basic"))
}

func TestConcurrentStores(t *testing.T) {
	c := newCache(t)
	var wg sync.WaitGroup
	for _, stage := range metadata.Stages() {
		for _, target := range []metadata.Target{metadata.TargetVulkan, metadata.TargetOpenGL} {
			wg.Add(1)
			go func(stage metadata.ShaderStage, target metadata.Target) {
				defer wg.Done()
				key := Key{Shader: "basic", Stage: stage, Target: target}
				assert.NoError(t, c.Store(key, Fingerprint(stage.String(), "c", target), sample))
			}(stage, target)
		}
	}
	wg.Wait()

	for _, stage := range metadata.Stages() {
		for _, target := range []metadata.Target{metadata.TargetVulkan, metadata.TargetOpenGL} {
			_, ok := c.Load(Key{Shader: "basic", Stage: stage, Target: target}, Fingerprint(stage.String(), "c", target))
			assert.True(t, ok, "%s %s", stage, target)
		}
	}

	entries, err := os.ReadDir(c.Root())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

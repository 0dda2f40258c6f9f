package renderer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

type fakeHandle struct {
	stage metadata.ShaderStage
}

func (h *fakeHandle) Stage() metadata.ShaderStage { return h.stage }

// fakeDevice records every call and fails creation for the stages in failOn.
type fakeDevice struct {
	failOn   metadata.ShaderStage
	created  []metadata.ShaderStage
	released []metadata.ShaderStage
}

func (d *fakeDevice) CreateShader(desc *metadata.BackendShaderDescriptor) (NativeShader, error) {
	if desc.Stage&d.failOn != 0 {
		return nil, errors.New("device lost")
	}
	d.created = append(d.created, desc.Stage)
	return &fakeHandle{stage: desc.Stage}, nil
}

func (d *fakeDevice) ReleaseShader(shader NativeShader) {
	d.released = append(d.released, shader.Stage())
}

func resourcesOf(stage metadata.ShaderStage, kinds ...metadata.ResourceKind) *metadata.StageResources {
	r := &metadata.StageResources{Stage: stage, EntryPoint: "main"}
	for i, k := range kinds {
		r.Resources = append(r.Resources, metadata.ShaderResource{Binding: uint32(i), Kind: k, Count: 1})
	}
	return r
}

func program() (metadata.CompiledBinary, metadata.ShaderResources) {
	binaries := metadata.CompiledBinary{
		metadata.ShaderStageFragment: {0x07230203, 1, 2},
		metadata.ShaderStageVertex:   {0x07230203, 1},
	}
	resources := metadata.ShaderResources{
		metadata.ShaderStageVertex: resourcesOf(metadata.ShaderStageVertex, metadata.ResourceKindUniformBuffer),
		metadata.ShaderStageFragment: resourcesOf(metadata.ShaderStageFragment,
			metadata.ResourceKindUniformBuffer,
			metadata.ResourceKindSampledImage,
			metadata.ResourceKindSampler,
			metadata.ResourceKindStorageBuffer,
			metadata.ResourceKindStorageImage),
	}
	return binaries, resources
}

func TestAssembleCounts(t *testing.T) {
	binaries, resources := program()
	descs, err := Assemble("lit", binaries, resources, nil, Limits{})
	require.NoError(t, err)
	require.Len(t, descs, 2)

	vs, fs := descs[0], descs[1]
	assert.Equal(t, metadata.ShaderStageVertex, vs.Stage)
	assert.Equal(t, metadata.ShaderStageFragment, fs.Stage)

	assert.Equal(t, "lit", fs.Name)
	assert.Equal(t, "main", fs.EntryPoint)
	assert.Equal(t, metadata.ShaderFormatSPIRV, fs.Format)
	assert.Equal(t, uint64(12), fs.CodeSize)
	assert.Equal(t, uint32(1), fs.NumSamplers)
	assert.Equal(t, uint32(1), fs.NumUniformBuffers)
	assert.Equal(t, uint32(1), fs.NumStorageBuffers)
	assert.Equal(t, uint32(1), fs.NumStorageTextures)

	assert.Equal(t, uint32(0), vs.NumSamplers)
	assert.Equal(t, uint32(1), vs.NumUniformBuffers)
}

func TestAssembleGLSL(t *testing.T) {
	binaries, resources := program()
	glsl := map[metadata.ShaderStage]string{
		metadata.ShaderStageVertex:   "#version 330 core\n",
		metadata.ShaderStageFragment: "#version 330 core\n",
	}
	descs, err := Assemble("lit", binaries, resources, glsl, Limits{})
	require.NoError(t, err)
	for _, d := range descs {
		assert.Equal(t, metadata.ShaderFormatGLSL, d.Format)
		assert.Equal(t, "#version 330 core\n", d.Source)
	}

	delete(glsl, metadata.ShaderStageFragment)
	_, err = Assemble("lit", binaries, resources, glsl, Limits{})
	assert.Error(t, err)
}

func TestAssembleMissingReflection(t *testing.T) {
	binaries, resources := program()
	delete(resources, metadata.ShaderStageFragment)
	_, err := Assemble("lit", binaries, resources, nil, Limits{})
	assert.Error(t, err)
}

func TestAssembleDefaultsEntryPoint(t *testing.T) {
	binaries, resources := program()
	resources[metadata.ShaderStageVertex].EntryPoint = ""
	descs, err := Assemble("lit", binaries, resources, nil, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "main", descs[0].EntryPoint)
}

func TestAssembleLimitExceeded(t *testing.T) {
	binaries, resources := program()
	resources[metadata.ShaderStageFragment] = resourcesOf(metadata.ShaderStageFragment,
		metadata.ResourceKindUniformBuffer,
		metadata.ResourceKindUniformBuffer,
		metadata.ResourceKindSampledImage,
		metadata.ResourceKindSampledImage,
		metadata.ResourceKindSampledImage,
		metadata.ResourceKindStorageBuffer,
		metadata.ResourceKindStorageBuffer,
		metadata.ResourceKindStorageImage,
		metadata.ResourceKindStorageImage)

	tests := []struct {
		name   string
		limits Limits
		what   string
		count  uint32
		limit  uint32
		excess uint32
	}{
		{"combined", Limits{MaxResourcesPerStage: 4}, "samplers+uniform buffers", 5, 4, 1},
		{"samplers", Limits{MaxSamplers: 1}, "samplers", 3, 1, 2},
		{"uniform buffers", Limits{MaxUniformBuffers: 1}, "uniform buffers", 2, 1, 1},
		{"storage buffers", Limits{MaxStorageBuffers: 1}, "storage buffers", 2, 1, 1},
		{"storage images", Limits{MaxStorageImages: 1}, "storage images", 2, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			descs, err := Assemble("lit", binaries, resources, nil, tt.limits)
			require.Error(t, err)
			assert.Nil(t, descs)
			assert.True(t, errors.Is(err, core.ErrResourceLimitExceeded))

			var lErr *core.ResourceLimitExceededError
			require.True(t, errors.As(err, &lErr))
			assert.Equal(t, metadata.ShaderStageFragment, lErr.Stage)
			assert.Equal(t, tt.what, lErr.What)
			assert.Equal(t, tt.count, lErr.Count)
			assert.Equal(t, tt.limit, lErr.Limit)
			assert.Equal(t, tt.excess, lErr.Excess)
		})
	}

	_, err := Assemble("lit", binaries, resources, nil, Limits{MaxResourcesPerStage: 5, MaxSamplers: 3, MaxUniformBuffers: 2, MaxStorageBuffers: 2, MaxStorageImages: 2})
	assert.NoError(t, err)
}

func TestCreateShaders(t *testing.T) {
	binaries, resources := program()
	descs, err := Assemble("lit", binaries, resources, nil, Limits{})
	require.NoError(t, err)

	dev := &fakeDevice{}
	handles, err := CreateShaders(dev, descs)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, []metadata.ShaderStage{metadata.ShaderStageVertex, metadata.ShaderStageFragment}, dev.created)
	assert.Empty(t, dev.released)

	ReleaseShaders(dev, handles)
	assert.Equal(t, []metadata.ShaderStage{metadata.ShaderStageFragment, metadata.ShaderStageVertex}, dev.released)
}

func TestCreateShadersReleasesOnFailure(t *testing.T) {
	binaries, resources := program()
	binaries[metadata.ShaderStageGeometry] = []uint32{0x07230203}
	resources[metadata.ShaderStageGeometry] = resourcesOf(metadata.ShaderStageGeometry)
	descs, err := Assemble("lit", binaries, resources, nil, Limits{})
	require.NoError(t, err)
	require.Len(t, descs, 3)

	dev := &fakeDevice{failOn: metadata.ShaderStageFragment}
	handles, err := CreateShaders(dev, descs)
	require.Error(t, err)
	assert.Nil(t, handles)
	assert.Contains(t, err.Error(), "fragment")
	assert.Equal(t, []metadata.ShaderStage{metadata.ShaderStageVertex, metadata.ShaderStageGeometry}, dev.created)
	assert.Equal(t, []metadata.ShaderStage{metadata.ShaderStageGeometry, metadata.ShaderStageVertex}, dev.released)
}

func TestExcess(t *testing.T) {
	_, over := excess[uint32](10, 0)
	assert.False(t, over)
	_, over = excess[uint32](3, 3)
	assert.False(t, over)
	n, over := excess[uint32](5, 3)
	assert.True(t, over)
	assert.Equal(t, uint32(2), n)
}

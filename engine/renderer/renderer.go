package renderer

import (
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

const defaultEntryPoint = "main"

/**
 * @brief Per-stage binding limits of the GPU backend. Zero means unlimited.
 */
type Limits struct {
	/** @brief Samplers plus uniform buffers bound by one stage. */
	MaxResourcesPerStage uint32
	MaxSamplers          uint32
	MaxUniformBuffers    uint32
	MaxStorageBuffers    uint32
	MaxStorageImages     uint32
}

// excess returns how far count goes over limit. A zero limit never overflows.
func excess[T constraints.Unsigned](count, limit T) (T, bool) {
	if limit == 0 || count <= limit {
		return 0, false
	}
	return count - limit, true
}

// Check verifies one stage's descriptor against the limits.
func (l Limits) Check(desc *metadata.BackendShaderDescriptor) error {
	checks := []struct {
		what         string
		count, limit uint32
	}{
		{"samplers+uniform buffers", desc.NumSamplers + desc.NumUniformBuffers, l.MaxResourcesPerStage},
		{"samplers", desc.NumSamplers, l.MaxSamplers},
		{"uniform buffers", desc.NumUniformBuffers, l.MaxUniformBuffers},
		{"storage buffers", desc.NumStorageBuffers, l.MaxStorageBuffers},
		{"storage images", desc.NumStorageTextures, l.MaxStorageImages},
	}
	for _, c := range checks {
		if over, ok := excess(c.count, c.limit); ok {
			return &core.ResourceLimitExceededError{
				Stage:  desc.Stage,
				What:   c.what,
				Count:  c.count,
				Limit:  c.limit,
				Excess: over,
			}
		}
	}
	return nil
}

// Assemble builds one descriptor per compiled stage, in pipeline order, and
// checks every stage against the limits before returning any of them. When
// glsl is non-nil the descriptors carry GLSL text alongside the binary.
func Assemble(name string, binaries metadata.CompiledBinary, resources metadata.ShaderResources, glsl map[metadata.ShaderStage]string, limits Limits) ([]*metadata.BackendShaderDescriptor, error) {
	descs := make([]*metadata.BackendShaderDescriptor, 0, len(binaries))
	for _, stage := range binaries.Stages() {
		res, ok := resources[stage]
		if !ok || res == nil {
			return nil, fmt.Errorf("%s stage of '%s' has no reflected resources", stage, name)
		}
		code := binaries[stage]

		desc := &metadata.BackendShaderDescriptor{
			Name:               name,
			Stage:              stage,
			EntryPoint:         res.EntryPoint,
			Format:             metadata.ShaderFormatSPIRV,
			Code:               code,
			CodeSize:           uint64(len(code)) * 4,
			NumSamplers:        res.Count(metadata.ResourceKindSampledImage),
			NumUniformBuffers:  res.Count(metadata.ResourceKindUniformBuffer),
			NumStorageBuffers:  res.Count(metadata.ResourceKindStorageBuffer),
			NumStorageTextures: res.Count(metadata.ResourceKindStorageImage),
		}
		if desc.EntryPoint == "" {
			desc.EntryPoint = defaultEntryPoint
		}
		if glsl != nil {
			text, ok := glsl[stage]
			if !ok {
				return nil, fmt.Errorf("%s stage of '%s' has no GLSL text", stage, name)
			}
			desc.Format = metadata.ShaderFormatGLSL
			desc.Source = text
		}

		if err := limits.Check(desc); err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

// CreateShaders creates every descriptor on the device. Either all handles
// are returned or, on the first failure, the ones already created are
// released in reverse order and none are returned.
func CreateShaders(device ShaderDevice, descs []*metadata.BackendShaderDescriptor) ([]NativeShader, error) {
	handles := make([]NativeShader, 0, len(descs))
	for _, desc := range descs {
		h, err := device.CreateShader(desc)
		if err != nil {
			ReleaseShaders(device, handles)
			return nil, fmt.Errorf("creating %s stage of '%s': %w", desc.Stage, desc.Name, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// ReleaseShaders releases handles in reverse creation order.
func ReleaseShaders(device ShaderDevice, handles []NativeShader) {
	for i := len(handles) - 1; i >= 0; i-- {
		if handles[i] != nil {
			device.ReleaseShader(handles[i])
		}
	}
}

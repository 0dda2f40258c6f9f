package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-shaders/engine/renderer"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderStage struct {
	stage    metadata.ShaderStage
	released bool
	/** @brief The shader module creation info. */
	CreateInfo vk.ShaderModuleCreateInfo
	/** @brief The internal shader module Handle. */
	Handle vk.ShaderModule
	/** @brief The pipeline shader stage creation info. */
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

func (s *VulkanShaderStage) Stage() metadata.ShaderStage { return s.stage }

/**
 * @brief Creates Vulkan shader modules from assembled descriptors.
 */
type ShaderDevice struct {
	LogicalDevice vk.Device
	Allocator     *vk.AllocationCallbacks
}

func NewShaderDevice(device vk.Device, allocator *vk.AllocationCallbacks) *ShaderDevice {
	return &ShaderDevice{LogicalDevice: device, Allocator: allocator}
}

func (d *ShaderDevice) CreateShader(desc *metadata.BackendShaderDescriptor) (renderer.NativeShader, error) {
	if desc.Format != metadata.ShaderFormatSPIRV {
		return nil, fmt.Errorf("vulkan cannot consume %s shaders", desc.Format)
	}
	flag, err := StageFlag(desc.Stage)
	if err != nil {
		return nil, err
	}

	s := &VulkanShaderStage{stage: desc.Stage, CreateInfo: moduleCreateInfo(desc)}

	if res := vk.CreateShaderModule(d.LogicalDevice, &s.CreateInfo, d.Allocator, &s.Handle); res != vk.Success {
		return nil, fmt.Errorf("vkCreateShaderModule failed for %s stage of '%s': %s", desc.Stage, desc.Name, ResultString(res))
	}

	// Shader stage info
	s.ShaderStageCreateInfo.SType = vk.StructureTypePipelineShaderStageCreateInfo
	s.ShaderStageCreateInfo.Stage = flag
	s.ShaderStageCreateInfo.Module = s.Handle
	s.ShaderStageCreateInfo.PName = SafeString(desc.EntryPoint)

	return s, nil
}

// moduleCreateInfo fills the create info for one stage. CodeSize is in bytes.
func moduleCreateInfo(desc *metadata.BackendShaderDescriptor) vk.ShaderModuleCreateInfo {
	return vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: desc.CodeSize,
		PCode:    desc.Code,
	}
}

func (d *ShaderDevice) ReleaseShader(shader renderer.NativeShader) {
	s, ok := shader.(*VulkanShaderStage)
	if !ok || s.released {
		return
	}
	vk.DestroyShaderModule(d.LogicalDevice, s.Handle, d.Allocator)
	s.released = true
}

// StageFlag maps a pipeline stage to its Vulkan stage bit.
func StageFlag(stage metadata.ShaderStage) (vk.ShaderStageFlagBits, error) {
	switch stage {
	case metadata.ShaderStageVertex:
		return vk.ShaderStageVertexBit, nil
	case metadata.ShaderStageGeometry:
		return vk.ShaderStageGeometryBit, nil
	case metadata.ShaderStageFragment:
		return vk.ShaderStageFragmentBit, nil
	case metadata.ShaderStageCompute:
		return vk.ShaderStageComputeBit, nil
	}
	return 0, fmt.Errorf("no vulkan stage for %s", stage)
}

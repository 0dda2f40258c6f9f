package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

func TestStageFlag(t *testing.T) {
	tests := []struct {
		stage metadata.ShaderStage
		flag  vk.ShaderStageFlagBits
	}{
		{metadata.ShaderStageVertex, vk.ShaderStageVertexBit},
		{metadata.ShaderStageGeometry, vk.ShaderStageGeometryBit},
		{metadata.ShaderStageFragment, vk.ShaderStageFragmentBit},
		{metadata.ShaderStageCompute, vk.ShaderStageComputeBit},
	}
	for _, tt := range tests {
		flag, err := StageFlag(tt.stage)
		require.NoError(t, err)
		assert.Equal(t, tt.flag, flag)
	}

	_, err := StageFlag(metadata.ShaderStageUndefined)
	assert.Error(t, err)
}

func TestSafeString(t *testing.T) {
	assert.Equal(t, "main\x00", SafeString("main"))
	assert.Equal(t, "main\x00", SafeString("main\x00"))
	assert.Equal(t, "\x00", SafeString(""))
}

func TestCreateShaderRejectsGLSL(t *testing.T) {
	var device vk.Device
	d := NewShaderDevice(device, nil)
	_, err := d.CreateShader(&metadata.BackendShaderDescriptor{Stage: metadata.ShaderStageVertex, Format: metadata.ShaderFormatGLSL})
	assert.Error(t, err)

	_, err = d.CreateShader(&metadata.BackendShaderDescriptor{Stage: metadata.ShaderStageUndefined})
	assert.Error(t, err)
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "VK_SUCCESS", ResultString(vk.Success))
	assert.Equal(t, "VK_ERROR_OUT_OF_DEVICE_MEMORY", ResultString(vk.ErrorOutOfDeviceMemory))
	assert.Equal(t, "VkResult(-12345)", ResultString(vk.Result(-12345)))
}

func TestModuleCreateInfo(t *testing.T) {
	code := []uint32{0x07230203, 0x00010300, 0, 1, 0}
	desc := &metadata.BackendShaderDescriptor{
		Stage:    metadata.ShaderStageFragment,
		Format:   metadata.ShaderFormatSPIRV,
		Code:     code,
		CodeSize: uint64(len(code)) * 4,
	}
	info := moduleCreateInfo(desc)
	assert.Equal(t, vk.StructureTypeShaderModuleCreateInfo, info.SType)
	assert.Equal(t, uint64(20), info.CodeSize)
	assert.Equal(t, code, info.PCode)
}

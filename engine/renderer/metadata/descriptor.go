package metadata

/** @brief Format of the code handed to the GPU backend. */
type ShaderFormat int

const (
	ShaderFormatSPIRV ShaderFormat = iota
	ShaderFormatGLSL
)

func (f ShaderFormat) String() string {
	if f == ShaderFormatGLSL {
		return "glsl"
	}
	return "spirv"
}

/**
 * @brief Everything a GPU backend needs to create the native object for one stage.
 * Derived from the binary and its reflection; rebuilt on every load.
 */
type BackendShaderDescriptor struct {
	/** @brief The name of the program this stage belongs to. */
	Name  string
	Stage ShaderStage
	/** @brief The entry point function name. */
	EntryPoint string
	Format     ShaderFormat
	/** @brief The SPIR-V words. */
	Code []uint32
	/** @brief Size of Code in bytes. */
	CodeSize uint64
	/** @brief GLSL text, set only when Format is ShaderFormatGLSL. */
	Source string

	NumSamplers        uint32
	NumUniformBuffers  uint32
	NumStorageBuffers  uint32
	NumStorageTextures uint32
}

package metadata

import "fmt"

type ResourceType int

/** @brief Pre-defined resource types. */
const (
	ResourceTypeNone ResourceType = iota
	/** @brief Text resource type. */
	ResourceTypeText
	/** @brief Binary resource type (compiled SPIR-V). */
	ResourceTypeBinary
	/** @brief Shader resource type (a combined multi-stage source file). */
	ResourceTypeShader
)

/**
 * @brief A generic structure for a resource. All resource loaders
 * load data into these.
 */
type Resource struct {
	/** @brief The name of the resource. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data. */
	Data interface{}
}

/** @brief The kind of a resource bound to a shader stage. */
type ResourceKind int

const (
	ResourceKindUniformBuffer ResourceKind = iota
	ResourceKindStorageBuffer
	ResourceKindSampledImage
	ResourceKindStorageImage
	// A standalone sampler object. Paired with a separate texture, so it is
	// not counted as a sampler binding of its own.
	ResourceKindSampler
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceKindUniformBuffer:
		return "uniform_buffer"
	case ResourceKindStorageBuffer:
		return "storage_buffer"
	case ResourceKindSampledImage:
		return "sampled_image"
	case ResourceKindStorageImage:
		return "storage_image"
	case ResourceKindSampler:
		return "sampler"
	}
	return fmt.Sprintf("ResourceKind(%d)", int(k))
}

/**
 * @brief A single resource declared by a compiled stage.
 */
type ShaderResource struct {
	/** @brief Debug name, empty when the binary was stripped. */
	Name string
	/** @brief The descriptor set index. */
	Set uint32
	/** @brief The binding index within the set. */
	Binding uint32
	Kind    ResourceKind
	/** @brief Array element count, 1 for scalars and 0 for runtime-sized arrays. */
	Count uint32
	/** @brief Declared size in bytes of one buffer element. Zero for images and samplers. */
	Size uint32
	/** @brief Top-level members of a buffer block, in declaration order. */
	Members []BufferMember
}

/** @brief One member of a uniform or storage buffer block. */
type BufferMember struct {
	Name   string
	Type   DataType
	Offset uint32
	Size   uint32
}

/** @brief A stage input or output variable with an explicit location. */
type StageIO struct {
	Name     string
	Location uint32
	Type     DataType
	/** @brief Byte offset inside a tightly packed vertex, in location order. */
	Offset uint32
	Size   uint32
}

/** @brief The shape of a reflected value. */
type DataType int

const (
	DataTypeUnknown DataType = iota
	DataTypeBool
	DataTypeInt
	DataTypeUInt
	DataTypeFloat
	DataTypeVec2
	DataTypeVec3
	DataTypeVec4
	DataTypeIVec2
	DataTypeIVec3
	DataTypeIVec4
	DataTypeUVec2
	DataTypeUVec3
	DataTypeUVec4
	DataTypeMat3
	DataTypeMat4
	// Nested struct members.
	DataTypeStruct
	DataTypeArray
)

var dataTypeNames = map[DataType]string{
	DataTypeUnknown: "unknown",
	DataTypeBool:    "bool",
	DataTypeInt:     "int",
	DataTypeUInt:    "uint",
	DataTypeFloat:   "float",
	DataTypeVec2:    "vec2",
	DataTypeVec3:    "vec3",
	DataTypeVec4:    "vec4",
	DataTypeIVec2:   "ivec2",
	DataTypeIVec3:   "ivec3",
	DataTypeIVec4:   "ivec4",
	DataTypeUVec2:   "uvec2",
	DataTypeUVec3:   "uvec3",
	DataTypeUVec4:   "uvec4",
	DataTypeMat3:    "mat3",
	DataTypeMat4:    "mat4",
	DataTypeStruct:  "struct",
	DataTypeArray:   "array",
}

func (d DataType) String() string {
	if n, ok := dataTypeNames[d]; ok {
		return n
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

// Size is the tightly packed size in bytes of a scalar, vector or matrix of
// 32-bit components. Struct, array and unknown types report zero.
func (d DataType) Size() uint32 {
	switch d {
	case DataTypeBool, DataTypeInt, DataTypeUInt, DataTypeFloat:
		return 4
	case DataTypeVec2, DataTypeIVec2, DataTypeUVec2:
		return 8
	case DataTypeVec3, DataTypeIVec3, DataTypeUVec3:
		return 12
	case DataTypeVec4, DataTypeIVec4, DataTypeUVec4:
		return 16
	case DataTypeMat3:
		return 36
	case DataTypeMat4:
		return 64
	}
	return 0
}

/**
 * @brief Everything reflected out of one stage's binary.
 */
type StageResources struct {
	Stage ShaderStage
	/** @brief Name of the entry point function. */
	EntryPoint string
	/** @brief Resources sorted by (set, binding, name). */
	Resources []ShaderResource
	Inputs    []StageIO
	Outputs   []StageIO
	/** @brief Size in bytes of one tightly packed vertex built from Inputs. */
	InputStride uint32
}

// Count returns the number of resources of the given kind.
func (r *StageResources) Count(kind ResourceKind) uint32 {
	n := uint32(0)
	for _, res := range r.Resources {
		if res.Kind == kind {
			n++
		}
	}
	return n
}

// ShaderResources is the reflected manifest for every stage of a program.
type ShaderResources map[ShaderStage]*StageResources

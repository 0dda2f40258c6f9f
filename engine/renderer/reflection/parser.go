package reflection

import (
	"fmt"
	"math/bits"

	"github.com/gogpu/naga/spirv"

	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

const headerWords = 5

// Opcodes, decorations and storage classes the naga spirv package does not export.
const (
	opTypeImage        spirv.OpCode = 25
	opTypeSampler      spirv.OpCode = 26
	opTypeSampledImage spirv.OpCode = 27

	decorationBufferBlock spirv.Decoration = 3

	storageClassUniformConstant uint32 = 0
	storageClassInput           uint32 = 1
	storageClassUniform         uint32 = 2
	storageClassOutput          uint32 = 3
	storageClassPushConstant    uint32 = 9
	storageClassStorageBuffer   uint32 = 12
)

// Execution models as they appear in OpEntryPoint.
const (
	executionModelVertex    uint32 = 0
	executionModelGeometry  uint32 = 3
	executionModelFragment  uint32 = 4
	executionModelGLCompute uint32 = 5
)

/** @brief One decoded SPIR-V instruction. */
type Instruction struct {
	Opcode spirv.OpCode
	/** @brief Operand words, excluding the opcode/word-count word. */
	Operands []uint32
	/** @brief Word offset of the instruction inside the binary. */
	Offset int
}

/** @brief A SPIR-V binary split into its header and instruction stream. */
type Module struct {
	Version      uint32
	Generator    uint32
	Bound        uint32
	Instructions []Instruction
}

// VersionString renders the header version as "major.minor".
func (m *Module) VersionString() string {
	return fmt.Sprintf("%d.%d", (m.Version>>16)&0xff, (m.Version>>8)&0xff)
}

// Parse walks the word stream and checks its structure. It does not validate
// semantics beyond what reflection needs.
func Parse(words []uint32) (*Module, error) {
	return parse(metadata.ShaderStageUndefined, words)
}

func parse(stage metadata.ShaderStage, words []uint32) (*Module, error) {
	if len(words) < headerWords {
		return nil, &core.ReflectionError{Stage: stage, Offset: 0, Reason: fmt.Sprintf("truncated header: %d words", len(words))}
	}
	switch words[0] {
	case spirv.MagicNumber:
	case bits.ReverseBytes32(spirv.MagicNumber):
		return nil, &core.ReflectionError{Stage: stage, Offset: 0, Reason: "byte-swapped magic number, binary has the wrong endianness"}
	default:
		return nil, &core.ReflectionError{Stage: stage, Offset: 0, Reason: fmt.Sprintf("bad magic number 0x%08x", words[0])}
	}

	m := &Module{
		Version:   words[1],
		Generator: words[2],
		Bound:     words[3],
	}
	if m.Bound == 0 {
		return nil, &core.ReflectionError{Stage: stage, Offset: 3, Reason: "id bound is zero"}
	}

	for i := headerWords; i < len(words); {
		count := int(words[i] >> 16)
		op := spirv.OpCode(words[i] & 0xffff)
		if count == 0 {
			return nil, &core.ReflectionError{Stage: stage, Offset: i, Reason: fmt.Sprintf("opcode %d has a word count of zero", op)}
		}
		if i+count > len(words) {
			return nil, &core.ReflectionError{Stage: stage, Offset: i, Reason: fmt.Sprintf("opcode %d runs past the end of the binary", op)}
		}
		m.Instructions = append(m.Instructions, Instruction{
			Opcode:   op,
			Operands: words[i+1 : i+count],
			Offset:   i,
		})
		i += count
	}
	return m, nil
}

// decodeString reads a nul-terminated literal string and returns it with the
// number of words it occupied.
func decodeString(words []uint32) (string, int, bool) {
	buf := make([]byte, 0, len(words)*4)
	for i, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(buf), i + 1, true
			}
			buf = append(buf, c)
		}
	}
	return "", 0, false
}

package reflection

import (
	"fmt"
	"math"
	"sort"

	"github.com/gogpu/naga/spirv"

	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

type decorations struct {
	set, binding, location      uint32
	hasLocation                 bool
	block, bufferBlock, builtIn bool
	arrayStride                 uint32
}

type member struct {
	name         string
	offset       uint32
	hasOffset    bool
	matrixStride uint32
}

type variable struct {
	id, typeID, storageClass uint32
	offset                   int
}

type entryPoint struct {
	model uint32
	name  string
}

// reflector collects the module-level tables needed to classify variables.
type reflector struct {
	stage     metadata.ShaderStage
	names     map[uint32]string
	decos     map[uint32]*decorations
	members   map[uint32]map[uint32]*member
	types     map[uint32]Instruction
	constants map[uint32]uint32
	variables []variable
	entries   []entryPoint
}

// Reflect extracts the resource manifest of one compiled stage. The result
// depends only on the words, so reflecting the same binary twice yields equal
// manifests.
func Reflect(stage metadata.ShaderStage, words []uint32) (*metadata.StageResources, error) {
	m, err := parse(stage, words)
	if err != nil {
		return nil, err
	}

	r := &reflector{
		stage:     stage,
		names:     make(map[uint32]string),
		decos:     make(map[uint32]*decorations),
		members:   make(map[uint32]map[uint32]*member),
		types:     make(map[uint32]Instruction),
		constants: make(map[uint32]uint32),
	}
	for _, inst := range m.Instructions {
		if err := r.visit(inst); err != nil {
			return nil, err
		}
	}

	out := &metadata.StageResources{
		Stage:     stage,
		Resources: []metadata.ShaderResource{},
	}
	if ep, ok := r.entryPoint(); ok {
		out.EntryPoint = ep.name
	} else {
		return nil, &core.ReflectionError{Stage: stage, Offset: headerWords, Reason: "no entry point"}
	}

	seen := make(map[[2]uint32]string)
	for _, v := range r.variables {
		switch v.storageClass {
		case storageClassInput, storageClassOutput:
			d := r.decos[v.id]
			if d == nil || !d.hasLocation || d.builtIn {
				continue
			}
			io, err := r.stageIO(v, d.location)
			if err != nil {
				return nil, err
			}
			if v.storageClass == storageClassInput {
				out.Inputs = append(out.Inputs, io)
			} else {
				out.Outputs = append(out.Outputs, io)
			}
		case storageClassUniformConstant, storageClassUniform, storageClassStorageBuffer:
			res, ok, err := r.resource(v)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			key := [2]uint32{res.Set, res.Binding}
			if other, dup := seen[key]; dup {
				return nil, &core.ReflectionError{
					Stage:  stage,
					Offset: v.offset,
					Reason: fmt.Sprintf("'%s' and '%s' share set %d binding %d", other, res.Name, res.Set, res.Binding),
				}
			}
			seen[key] = res.Name
			out.Resources = append(out.Resources, res)
		}
	}

	sort.Slice(out.Resources, func(i, j int) bool {
		a, b := out.Resources[i], out.Resources[j]
		if a.Set != b.Set {
			return a.Set < b.Set
		}
		if a.Binding != b.Binding {
			return a.Binding < b.Binding
		}
		return a.Name < b.Name
	})
	out.InputStride = packIO(out.Inputs)
	packIO(out.Outputs)
	return out, nil
}

// packIO sorts variables by location and lays them out back to back. It
// returns the total size.
func packIO(io []metadata.StageIO) uint32 {
	sort.Slice(io, func(i, j int) bool {
		if io[i].Location != io[j].Location {
			return io[i].Location < io[j].Location
		}
		return io[i].Name < io[j].Name
	})
	offset := uint32(0)
	for i := range io {
		io[i].Offset = offset
		offset += io[i].Size
	}
	return offset
}

func (r *reflector) fail(inst Instruction, format string, args ...interface{}) error {
	return &core.ReflectionError{Stage: r.stage, Offset: inst.Offset, Reason: fmt.Sprintf(format, args...)}
}

func (r *reflector) deco(id uint32) *decorations {
	d, ok := r.decos[id]
	if !ok {
		d = &decorations{}
		r.decos[id] = d
	}
	return d
}

func (r *reflector) visit(inst Instruction) error {
	ops := inst.Operands
	switch inst.Opcode {
	case spirv.OpName:
		if len(ops) < 2 {
			return r.fail(inst, "OpName needs a target and a name")
		}
		name, _, ok := decodeString(ops[1:])
		if !ok {
			return r.fail(inst, "OpName string is not terminated")
		}
		r.names[ops[0]] = name

	case spirv.OpEntryPoint:
		if len(ops) < 3 {
			return r.fail(inst, "OpEntryPoint is too short")
		}
		name, _, ok := decodeString(ops[2:])
		if !ok {
			return r.fail(inst, "OpEntryPoint name is not terminated")
		}
		r.entries = append(r.entries, entryPoint{model: ops[0], name: name})

	case spirv.OpDecorate:
		if len(ops) < 2 {
			return r.fail(inst, "OpDecorate needs a target and a decoration")
		}
		d := r.deco(ops[0])
		switch spirv.Decoration(ops[1]) {
		case spirv.DecorationBlock:
			d.block = true
		case decorationBufferBlock:
			d.bufferBlock = true
		case spirv.DecorationBuiltIn:
			d.builtIn = true
		case spirv.DecorationDescriptorSet:
			if len(ops) < 3 {
				return r.fail(inst, "DescriptorSet decoration without a value")
			}
			d.set = ops[2]
		case spirv.DecorationBinding:
			if len(ops) < 3 {
				return r.fail(inst, "Binding decoration without a value")
			}
			d.binding = ops[2]
		case spirv.DecorationLocation:
			if len(ops) < 3 {
				return r.fail(inst, "Location decoration without a value")
			}
			d.location, d.hasLocation = ops[2], true
		case spirv.DecorationArrayStride:
			if len(ops) < 3 {
				return r.fail(inst, "ArrayStride decoration without a value")
			}
			d.arrayStride = ops[2]
		}

	case spirv.OpMemberName:
		if len(ops) < 3 {
			return r.fail(inst, "OpMemberName needs a type, a member and a name")
		}
		name, _, ok := decodeString(ops[2:])
		if !ok {
			return r.fail(inst, "OpMemberName string is not terminated")
		}
		r.member(ops[0], ops[1]).name = name

	case spirv.OpMemberDecorate:
		if len(ops) < 3 {
			return r.fail(inst, "OpMemberDecorate needs a type, a member and a decoration")
		}
		switch spirv.Decoration(ops[2]) {
		case spirv.DecorationBuiltIn:
			// Structs whose members are builtins (gl_PerVertex) are not user IO.
			r.deco(ops[0]).builtIn = true
		case spirv.DecorationOffset:
			if len(ops) < 4 {
				return r.fail(inst, "Offset decoration without a value")
			}
			m := r.member(ops[0], ops[1])
			m.offset, m.hasOffset = ops[3], true
		case spirv.DecorationMatrixStride:
			if len(ops) < 4 {
				return r.fail(inst, "MatrixStride decoration without a value")
			}
			r.member(ops[0], ops[1]).matrixStride = ops[3]
		}

	case spirv.OpTypeStruct, opTypeImage, opTypeSampler, opTypeSampledImage, spirv.OpTypeBool:
		if len(ops) < 1 {
			return r.fail(inst, "type declaration without a result id")
		}
		r.types[ops[0]] = inst

	case spirv.OpTypeFloat, spirv.OpTypeRuntimeArray:
		if len(ops) < 2 {
			return r.fail(inst, "%s is too short", opName(inst.Opcode))
		}
		r.types[ops[0]] = inst

	case spirv.OpTypeInt, spirv.OpTypeVector, spirv.OpTypeMatrix, spirv.OpTypeArray:
		if len(ops) < 3 {
			return r.fail(inst, "%s is too short", opName(inst.Opcode))
		}
		r.types[ops[0]] = inst

	case spirv.OpTypePointer:
		if len(ops) < 3 {
			return r.fail(inst, "OpTypePointer is too short")
		}
		r.types[ops[0]] = inst

	case spirv.OpConstant:
		if len(ops) < 3 {
			return r.fail(inst, "OpConstant is too short")
		}
		r.constants[ops[1]] = ops[2]

	case spirv.OpVariable:
		if len(ops) < 3 {
			return r.fail(inst, "OpVariable is too short")
		}
		r.variables = append(r.variables, variable{id: ops[1], typeID: ops[0], storageClass: ops[2], offset: inst.Offset})
	}
	return nil
}

func (r *reflector) member(structID, index uint32) *member {
	ms, ok := r.members[structID]
	if !ok {
		ms = make(map[uint32]*member)
		r.members[structID] = ms
	}
	m, ok := ms[index]
	if !ok {
		m = &member{}
		ms[index] = m
	}
	return m
}

func opName(op spirv.OpCode) string {
	switch op {
	case spirv.OpTypeInt:
		return "OpTypeInt"
	case spirv.OpTypeFloat:
		return "OpTypeFloat"
	case spirv.OpTypeVector:
		return "OpTypeVector"
	case spirv.OpTypeMatrix:
		return "OpTypeMatrix"
	case spirv.OpTypeArray:
		return "OpTypeArray"
	case spirv.OpTypeRuntimeArray:
		return "OpTypeRuntimeArray"
	}
	return fmt.Sprintf("opcode %d", op)
}

// entryPoint picks the entry point for the reflected stage, or the first one
// when no execution model matches.
func (r *reflector) entryPoint() (entryPoint, bool) {
	if len(r.entries) == 0 {
		return entryPoint{}, false
	}
	want, known := executionModels[r.stage]
	if known {
		for _, ep := range r.entries {
			if ep.model == want {
				return ep, true
			}
		}
	}
	return r.entries[0], true
}

var executionModels = map[metadata.ShaderStage]uint32{
	metadata.ShaderStageVertex:   executionModelVertex,
	metadata.ShaderStageGeometry: executionModelGeometry,
	metadata.ShaderStageFragment: executionModelFragment,
	metadata.ShaderStageCompute:  executionModelGLCompute,
}

// resource classifies a bindable variable. ok is false for variables that
// do not occupy a descriptor binding, such as push constants.
func (r *reflector) resource(v variable) (metadata.ShaderResource, bool, error) {
	ptr, ok := r.types[v.typeID]
	if !ok || ptr.Opcode != spirv.OpTypePointer {
		return metadata.ShaderResource{}, false, &core.ReflectionError{
			Stage:  r.stage,
			Offset: v.offset,
			Reason: fmt.Sprintf("variable %d has undefined pointer type %d", v.id, v.typeID),
		}
	}

	base, count, err := r.unwrapArrays(ptr.Operands[2], v.offset)
	if err != nil {
		return metadata.ShaderResource{}, false, err
	}

	t, ok := r.types[base]
	if !ok {
		return metadata.ShaderResource{}, false, nil
	}

	var kind metadata.ResourceKind
	switch t.Opcode {
	case spirv.OpTypeStruct:
		switch v.storageClass {
		case storageClassStorageBuffer:
			kind = metadata.ResourceKindStorageBuffer
		case storageClassUniform:
			if d := r.decos[base]; d != nil && d.bufferBlock {
				kind = metadata.ResourceKindStorageBuffer
			} else {
				kind = metadata.ResourceKindUniformBuffer
			}
		default:
			return metadata.ShaderResource{}, false, nil
		}
	case opTypeSampledImage:
		kind = metadata.ResourceKindSampledImage
	case opTypeImage:
		// Operands: result, sampled type, dim, depth, arrayed, ms, sampled, format.
		if len(t.Operands) < 7 {
			return metadata.ShaderResource{}, false, &core.ReflectionError{Stage: r.stage, Offset: t.Offset, Reason: "OpTypeImage is too short"}
		}
		if t.Operands[6] == 2 {
			kind = metadata.ResourceKindStorageImage
		} else {
			kind = metadata.ResourceKindSampledImage
		}
	case opTypeSampler:
		kind = metadata.ResourceKindSampler
	default:
		return metadata.ShaderResource{}, false, nil
	}

	name := r.names[v.id]
	if name == "" {
		name = r.names[base]
	}
	d := r.decos[v.id]
	if d == nil {
		d = &decorations{}
	}
	res := metadata.ShaderResource{
		Name:    name,
		Set:     d.set,
		Binding: d.binding,
		Kind:    kind,
		Count:   count,
	}
	if t.Opcode == spirv.OpTypeStruct {
		res.Members, res.Size, err = r.structLayout(base, map[uint32]bool{})
		if err != nil {
			return metadata.ShaderResource{}, false, err
		}
	}
	return res, true, nil
}

// unwrapArrays strips array and runtime-array layers off a resource type and
// returns the element type with the total element count. Runtime arrays
// report a count of zero.
func (r *reflector) unwrapArrays(base uint32, offset int) (uint32, uint32, error) {
	count := uint64(1)
	visited := make(map[uint32]bool)
	for {
		t, ok := r.types[base]
		if !ok {
			return base, uint32(count), nil
		}
		switch t.Opcode {
		case spirv.OpTypeArray, spirv.OpTypeRuntimeArray:
		default:
			return base, uint32(count), nil
		}
		if visited[base] {
			return 0, 0, &core.ReflectionError{Stage: r.stage, Offset: t.Offset, Reason: fmt.Sprintf("array type %d refers to itself", base)}
		}
		visited[base] = true

		if t.Opcode == spirv.OpTypeRuntimeArray {
			count = 0
			base = t.Operands[1]
			continue
		}
		length, ok := r.constants[t.Operands[2]]
		if !ok {
			return 0, 0, &core.ReflectionError{Stage: r.stage, Offset: t.Offset, Reason: fmt.Sprintf("array length %d is not a constant", t.Operands[2])}
		}
		count *= uint64(length)
		if count > math.MaxUint32 {
			return 0, 0, &core.ReflectionError{Stage: r.stage, Offset: offset, Reason: fmt.Sprintf("array element count %d does not fit in 32 bits", count)}
		}
		base = t.Operands[1]
	}
}

// Stages lists the stages a binary declares entry points for, in pipeline
// order. Used when a binary is inspected without knowing its stage.
func Stages(words []uint32) ([]metadata.ShaderStage, error) {
	m, err := Parse(words)
	if err != nil {
		return nil, err
	}
	seen := make(map[metadata.ShaderStage]bool)
	for _, inst := range m.Instructions {
		if inst.Opcode != spirv.OpEntryPoint || len(inst.Operands) == 0 {
			continue
		}
		for stage, model := range executionModels {
			if model == inst.Operands[0] {
				seen[stage] = true
			}
		}
	}
	out := make([]metadata.ShaderStage, 0, len(seen))
	for stage := range seen {
		out = append(out, stage)
	}
	metadata.SortStages(out)
	return out, nil
}

package reflection

import (
	"fmt"
	"math"

	"github.com/gogpu/naga/spirv"

	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

// stageIO describes an input or output variable. Offsets are filled in once
// every variable of the stage is known.
func (r *reflector) stageIO(v variable, location uint32) (metadata.StageIO, error) {
	io := metadata.StageIO{Name: r.names[v.id], Location: location}
	ptr, ok := r.types[v.typeID]
	if !ok || ptr.Opcode != spirv.OpTypePointer {
		return io, &core.ReflectionError{
			Stage:  r.stage,
			Offset: v.offset,
			Reason: fmt.Sprintf("variable %d has undefined pointer type %d", v.id, v.typeID),
		}
	}
	base := ptr.Operands[2]
	io.Type = r.dataType(base)
	size, err := r.sizeOf(base, 0, map[uint32]bool{})
	if err != nil {
		return io, err
	}
	io.Size = size
	return io, nil
}

// dataType names the shape of a type. Anything that is not a 32-bit style
// scalar, vector or square matrix of 3 or 4 columns is reported as unknown.
func (r *reflector) dataType(id uint32) metadata.DataType {
	t, ok := r.types[id]
	if !ok {
		return metadata.DataTypeUnknown
	}
	switch t.Opcode {
	case spirv.OpTypeBool, spirv.OpTypeInt, spirv.OpTypeFloat:
		return r.scalarType(id)
	case spirv.OpTypeVector:
		n := t.Operands[2]
		if n < 2 || n > 4 {
			return metadata.DataTypeUnknown
		}
		switch r.scalarType(t.Operands[1]) {
		case metadata.DataTypeFloat:
			return metadata.DataTypeVec2 + metadata.DataType(n-2)
		case metadata.DataTypeInt:
			return metadata.DataTypeIVec2 + metadata.DataType(n-2)
		case metadata.DataTypeUInt:
			return metadata.DataTypeUVec2 + metadata.DataType(n-2)
		}
	case spirv.OpTypeMatrix:
		column, columns := metadata.DataTypeUnknown, t.Operands[2]
		if c, ok := r.types[t.Operands[1]]; ok && c.Opcode == spirv.OpTypeVector {
			column = r.dataType(t.Operands[1])
		}
		switch {
		case column == metadata.DataTypeVec3 && columns == 3:
			return metadata.DataTypeMat3
		case column == metadata.DataTypeVec4 && columns == 4:
			return metadata.DataTypeMat4
		}
	case spirv.OpTypeStruct:
		return metadata.DataTypeStruct
	case spirv.OpTypeArray, spirv.OpTypeRuntimeArray:
		return metadata.DataTypeArray
	}
	return metadata.DataTypeUnknown
}

func (r *reflector) scalarType(id uint32) metadata.DataType {
	t, ok := r.types[id]
	if !ok {
		return metadata.DataTypeUnknown
	}
	switch t.Opcode {
	case spirv.OpTypeBool:
		return metadata.DataTypeBool
	case spirv.OpTypeInt:
		if t.Operands[2] == 1 {
			return metadata.DataTypeInt
		}
		return metadata.DataTypeUInt
	case spirv.OpTypeFloat:
		return metadata.DataTypeFloat
	}
	return metadata.DataTypeUnknown
}

// structLayout lists the members of a block with their offsets and returns
// the declared size: the end of the member that ends last. Members without
// an Offset decoration are packed after the previous one.
func (r *reflector) structLayout(id uint32, visiting map[uint32]bool) ([]metadata.BufferMember, uint32, error) {
	t := r.types[id]
	if visiting[id] {
		return nil, 0, &core.ReflectionError{Stage: r.stage, Offset: t.Offset, Reason: fmt.Sprintf("struct %d contains itself", id)}
	}
	visiting[id] = true
	defer delete(visiting, id)

	memberTypes := t.Operands[1:]
	members := make([]metadata.BufferMember, 0, len(memberTypes))
	next, end := uint64(0), uint64(0)
	for i, typeID := range memberTypes {
		info := r.members[id][uint32(i)]
		if info == nil {
			info = &member{}
		}
		offset := next
		if info.hasOffset {
			offset = uint64(info.offset)
		}
		size, err := r.sizeOf(typeID, info.matrixStride, visiting)
		if err != nil {
			return nil, 0, err
		}
		next = offset + uint64(size)
		if next > math.MaxUint32 {
			return nil, 0, &core.ReflectionError{Stage: r.stage, Offset: t.Offset, Reason: fmt.Sprintf("struct %d is larger than 4 GiB", id)}
		}
		if next > end {
			end = next
		}
		members = append(members, metadata.BufferMember{
			Name:   info.name,
			Type:   r.dataType(typeID),
			Offset: uint32(offset),
			Size:   size,
		})
	}
	return members, uint32(end), nil
}

// sizeOf returns the size in bytes of a type as laid out in memory. A
// runtime array contributes nothing to the size of its block.
func (r *reflector) sizeOf(id, matrixStride uint32, visiting map[uint32]bool) (uint32, error) {
	t, ok := r.types[id]
	if !ok {
		return 0, nil
	}
	tooLarge := func(n uint64) (uint32, error) {
		if n > math.MaxUint32 {
			return 0, &core.ReflectionError{Stage: r.stage, Offset: t.Offset, Reason: fmt.Sprintf("type %d is larger than 4 GiB", id)}
		}
		return uint32(n), nil
	}

	switch t.Opcode {
	case spirv.OpTypeVector, spirv.OpTypeMatrix, spirv.OpTypeArray:
		if visiting[id] {
			return 0, &core.ReflectionError{Stage: r.stage, Offset: t.Offset, Reason: fmt.Sprintf("type %d refers to itself", id)}
		}
		visiting[id] = true
		defer delete(visiting, id)
	}

	switch t.Opcode {
	case spirv.OpTypeBool:
		return 4, nil
	case spirv.OpTypeInt, spirv.OpTypeFloat:
		return t.Operands[1] / 8, nil
	case spirv.OpTypeVector:
		component, err := r.sizeOf(t.Operands[1], 0, visiting)
		if err != nil {
			return 0, err
		}
		return tooLarge(uint64(component) * uint64(t.Operands[2]))
	case spirv.OpTypeMatrix:
		stride := matrixStride
		if stride == 0 {
			column, err := r.sizeOf(t.Operands[1], 0, visiting)
			if err != nil {
				return 0, err
			}
			stride = column
		}
		return tooLarge(uint64(stride) * uint64(t.Operands[2]))
	case spirv.OpTypeArray:
		length, ok := r.constants[t.Operands[2]]
		if !ok {
			return 0, &core.ReflectionError{Stage: r.stage, Offset: t.Offset, Reason: fmt.Sprintf("array length %d is not a constant", t.Operands[2])}
		}
		stride := uint32(0)
		if d := r.decos[id]; d != nil {
			stride = d.arrayStride
		}
		if stride == 0 {
			elem, err := r.sizeOf(t.Operands[1], matrixStride, visiting)
			if err != nil {
				return 0, err
			}
			stride = elem
		}
		return tooLarge(uint64(stride) * uint64(length))
	case spirv.OpTypeStruct:
		_, size, err := r.structLayout(id, visiting)
		return size, err
	}
	return 0, nil
}

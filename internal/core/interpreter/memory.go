package interpreter

import (
	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
	"github.com/wazexec/wazexec/internal/core/stack"
)

// execMemory handles every non-atomic memory instruction: typed loads
// (including sign/zero-extending narrow loads), stores, memory.size/grow,
// and the bulk-memory family (memory.init/copy/fill, data.drop). Grounded
// on wasm/vm_memory.go's memoryBase/i32Load/i64Load/f32Load/f64Load/
// i32Load8s/u family, generalized from a hand-written function per
// width/signedness to a single (width, signed) pair carried on the
// instruction's NumKind-shaped immediates.
func (m *machine) execMemory(frame *stack.Frame, insn ast.Instruction) *core.Trap {
	mem := frame.Function.Module.Memories[insn.Mem.MemoryIndex]

	switch insn.Op {
	case ast.OpLoad:
		return m.execLoad(mem, frame, insn)
	case ast.OpStore:
		return m.execStore(mem, frame, insn)
	case ast.OpMemorySize:
		m.operands.Push(api.I32(int32(mem.PageSize())))
		frame.PC++
	case ast.OpMemoryGrow:
		delta := m.operands.Pop().U32()
		prev, ok := mem.Grow(delta)
		if !ok {
			m.operands.Push(api.I32(-1))
		} else {
			m.operands.Push(api.I32(int32(prev)))
		}
		frame.PC++
	case ast.OpMemoryInit:
		return m.execMemoryInit(mem, frame, insn)
	case ast.OpDataDrop:
		frame.Function.Module.Data[insn.Index].Dropped = true
		frame.Function.Module.Data[insn.Index].Bytes = nil
		frame.PC++
	case ast.OpMemoryCopy:
		return m.execMemoryCopy(frame, insn)
	case ast.OpMemoryFill:
		return m.execMemoryFill(mem, frame)
	}
	return nil
}

// execLoad dispatches on insn.NumKind (the result width) and insn.NumOp,
// which this engine reuses to encode the narrow-load signedness/width the
// same way i32.load8_s/i32.load8_u/i32.load16_s/... differ only in that one
// axis. NumExtend8S/16S/32S mark sign-extending loads; for i32 only,
// NumExtendU marks the 8-bit and NumExtendS the 16-bit zero-extending load.
// i64 has no zero-extending narrow load here. Any other NumOp is the
// natural-width load.
func (m *machine) execLoad(mem *core.MemoryInstance, frame *stack.Frame, insn ast.Instruction) *core.Trap {
	addr := m.operands.Pop().U32()
	offset := addr + uint32(insn.Mem.Offset)
	if offset < addr {
		return core.NewTrap(core.TrapOutOfBounds, "memory access out of bounds")
	}

	switch insn.NumKind {
	case ast.KindI32:
		switch insn.NumOp {
		case ast.NumExtend8S:
			b, ok := mem.ReadByte(offset)
			if !ok {
				return oobTrap()
			}
			m.operands.Push(api.I32(int32(int8(b))))
		case ast.NumExtendU: // reused here to mean 8-bit zero-extend
			b, ok := mem.ReadByte(offset)
			if !ok {
				return oobTrap()
			}
			m.operands.Push(api.I32(int32(b)))
		case ast.NumExtend16S:
			v, ok := mem.ReadUint16Le(offset)
			if !ok {
				return oobTrap()
			}
			m.operands.Push(api.I32(int32(int16(v))))
		case ast.NumExtendS: // reused here to mean 16-bit zero-extend
			v, ok := mem.ReadUint16Le(offset)
			if !ok {
				return oobTrap()
			}
			m.operands.Push(api.I32(int32(v)))
		default:
			v, ok := mem.ReadUint32Le(offset)
			if !ok {
				return oobTrap()
			}
			m.operands.Push(api.I32(int32(v)))
		}
	case ast.KindI64:
		switch insn.NumOp {
		case ast.NumExtend8S:
			b, ok := mem.ReadByte(offset)
			if !ok {
				return oobTrap()
			}
			m.operands.Push(api.I64(int64(int8(b))))
		case ast.NumExtend16S:
			v, ok := mem.ReadUint16Le(offset)
			if !ok {
				return oobTrap()
			}
			m.operands.Push(api.I64(int64(int16(v))))
		case ast.NumExtend32S:
			v, ok := mem.ReadUint32Le(offset)
			if !ok {
				return oobTrap()
			}
			m.operands.Push(api.I64(int64(int32(v))))
		default:
			v, ok := mem.ReadUint64Le(offset)
			if !ok {
				return oobTrap()
			}
			m.operands.Push(api.I64(int64(v)))
		}
	case ast.KindF32:
		v, ok := mem.ReadFloat32Le(offset)
		if !ok {
			return oobTrap()
		}
		m.operands.Push(api.F32(v))
	case ast.KindF64:
		v, ok := mem.ReadFloat64Le(offset)
		if !ok {
			return oobTrap()
		}
		m.operands.Push(api.F64(v))
	}
	frame.PC++
	return nil
}

func (m *machine) execStore(mem *core.MemoryInstance, frame *stack.Frame, insn ast.Instruction) *core.Trap {
	val := m.operands.Pop()
	addr := m.operands.Pop().U32()
	offset := addr + uint32(insn.Mem.Offset)
	if offset < addr {
		return core.NewTrap(core.TrapOutOfBounds, "memory access out of bounds")
	}

	var ok bool
	switch insn.NumKind {
	case ast.KindI32:
		switch insn.NumOp {
		case ast.NumExtend8S, ast.NumExtendU:
			ok = mem.WriteByte(offset, byte(val.U32()))
		case ast.NumExtend16S, ast.NumExtendS:
			ok = mem.WriteUint16Le(offset, uint16(val.U32()))
		default:
			ok = mem.WriteUint32Le(offset, val.U32())
		}
	case ast.KindI64:
		switch insn.NumOp {
		case ast.NumExtend8S:
			ok = mem.WriteByte(offset, byte(val.U64()))
		case ast.NumExtend16S:
			ok = mem.WriteUint16Le(offset, uint16(val.U64()))
		case ast.NumExtend32S:
			ok = mem.WriteUint32Le(offset, uint32(val.U64()))
		default:
			ok = mem.WriteUint64Le(offset, val.U64())
		}
	case ast.KindF32:
		ok = mem.WriteUint32Le(offset, uint32(val.Lo))
	case ast.KindF64:
		ok = mem.WriteUint64Le(offset, val.Lo)
	}
	if !ok {
		return oobTrap()
	}
	frame.PC++
	return nil
}

func oobTrap() *core.Trap { return core.NewTrap(core.TrapOutOfBounds, "memory access out of bounds") }

func (m *machine) execMemoryInit(mem *core.MemoryInstance, frame *stack.Frame, insn ast.Instruction) *core.Trap {
	n := m.operands.Pop().U32()
	src := m.operands.Pop().U32()
	dst := m.operands.Pop().U32()
	data := frame.Function.Module.Data[insn.Index]
	if data == nil || data.Dropped || uint64(src)+uint64(n) > uint64(len(data.Bytes)) {
		return core.NewTrap(core.TrapOutOfBounds, "memory.init out of data bounds")
	}
	if !mem.Write(dst, data.Bytes[src:src+n]) {
		return oobTrap()
	}
	frame.PC++
	return nil
}

func (m *machine) execMemoryCopy(frame *stack.Frame, insn ast.Instruction) *core.Trap {
	n := m.operands.Pop().U32()
	src := m.operands.Pop().U32()
	dst := m.operands.Pop().U32()
	dstMem := frame.Function.Module.Memories[insn.Mem.MemoryIndex]
	srcMem := frame.Function.Module.Memories[insn.Index2]
	b, ok := srcMem.Read(src, n)
	if !ok {
		return oobTrap()
	}
	// copy through a temporary since src/dst may be the same memory with
	// overlapping ranges; mem.Write's copy() handles the overlap correctly
	// only when reading first into an independent buffer.
	tmp := append([]byte(nil), b...)
	if !dstMem.Write(dst, tmp) {
		return oobTrap()
	}
	frame.PC++
	return nil
}

func (m *machine) execMemoryFill(mem *core.MemoryInstance, frame *stack.Frame) *core.Trap {
	n := m.operands.Pop().U32()
	val := byte(m.operands.Pop().U32())
	dst := m.operands.Pop().U32()
	if !mem.HasSize(dst, n) {
		return oobTrap()
	}
	for i := uint32(0); i < n; i++ {
		mem.WriteByte(dst+i, val)
	}
	frame.PC++
	return nil
}

package interpreter

import (
	"context"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
	"github.com/wazexec/wazexec/internal/core/stack"
)

// execAtomic handles the threads-proposal atomic family: typed atomic
// load/store, the read-modify-write operators, compare-exchange, wait/notify
// (delegated to the machine's Atomic Coordinator), and fence (a no-op here
// since every non-wait access already goes through a sequentially consistent
// primitive). Grounded on memory.go's execLoad/execStore, generalized the
// same (NumKind, NumOp)-pair way, with AtomicOp taking NumOp's place. Narrow
// (8-/16-bit) atomic load/store/RMW variants are out of scope; only the
// natural i32/i64 widths are implemented.
func (m *machine) execAtomic(ctx context.Context, frame *stack.Frame, insn ast.Instruction) *core.Trap {
	mem := frame.Function.Module.Memories[insn.Mem.MemoryIndex]
	is64 := insn.NumKind == ast.KindI64

	switch insn.AtomicOp {
	case ast.AtomicFence:
		// Every load/store already uses a sequentially consistent primitive,
		// so there is nothing additional to order.
	case ast.AtomicLoad:
		addr, trap := m.atomicAddr(mem, insn)
		if trap != nil {
			return trap
		}
		if is64 {
			m.operands.Push(api.I64(int64(mem.AtomicLoad64(addr))))
		} else {
			m.operands.Push(api.I32(int32(mem.AtomicLoad32(addr))))
		}
	case ast.AtomicStore:
		var v uint64
		if is64 {
			v = m.operands.Pop().U64()
		} else {
			v = uint64(m.operands.Pop().U32())
		}
		addr, trap := m.atomicAddr(mem, insn)
		if trap != nil {
			return trap
		}
		if is64 {
			mem.AtomicStore64(addr, v)
		} else {
			mem.AtomicStore32(addr, uint32(v))
		}
	case ast.AtomicRmwAdd, ast.AtomicRmwSub, ast.AtomicRmwAnd, ast.AtomicRmwOr, ast.AtomicRmwXor, ast.AtomicRmwXchg:
		var operand uint64
		if is64 {
			operand = m.operands.Pop().U64()
		} else {
			operand = uint64(m.operands.Pop().U32())
		}
		addr, trap := m.atomicAddr(mem, insn)
		if trap != nil {
			return trap
		}
		old := m.atomicRMW(mem, addr, is64, insn.AtomicOp, operand)
		if is64 {
			m.operands.Push(api.I64(int64(old)))
		} else {
			m.operands.Push(api.I32(int32(uint32(old))))
		}
	case ast.AtomicRmwCmpxchg:
		var expected, replacement uint64
		if is64 {
			replacement = m.operands.Pop().U64()
			expected = m.operands.Pop().U64()
		} else {
			replacement = uint64(m.operands.Pop().U32())
			expected = uint64(m.operands.Pop().U32())
		}
		addr, trap := m.atomicAddr(mem, insn)
		if trap != nil {
			return trap
		}
		var old uint64
		if is64 {
			old = mem.AtomicCompareExchange64(addr, expected, replacement)
		} else {
			old = uint64(mem.AtomicCompareExchange32(addr, uint32(expected), uint32(replacement)))
		}
		if is64 {
			m.operands.Push(api.I64(int64(old)))
		} else {
			m.operands.Push(api.I32(int32(uint32(old))))
		}
	case ast.AtomicWait:
		timeout := m.operands.Pop().I64()
		var expected uint64
		if is64 {
			expected = m.operands.Pop().U64()
		} else {
			expected = uint64(m.operands.Pop().U32())
		}
		addr, trap := m.atomicAddr(mem, insn)
		if trap != nil {
			return trap
		}
		var result int32
		var waitTrap *core.Trap
		if is64 {
			r, t := m.atomics.Wait64(ctx, mem, addr, expected, timeout)
			result, waitTrap = int32(r), t
		} else {
			r, t := m.atomics.Wait32(ctx, mem, addr, uint32(expected), timeout)
			result, waitTrap = int32(r), t
		}
		if waitTrap != nil {
			return waitTrap
		}
		m.operands.Push(api.I32(result))
	case ast.AtomicNotify:
		count := m.operands.Pop().U32()
		addr, trap := m.atomicAddr(mem, insn)
		if trap != nil {
			return trap
		}
		m.operands.Push(api.I32(int32(m.atomics.Notify(mem, addr, count))))
	}

	frame.PC++
	return nil
}

// atomicAddr pops the address operand, applies the static offset, and
// validates natural alignment (required for every atomic access, unlike
// ordinary load/store) and bounds.
func (m *machine) atomicAddr(mem *core.MemoryInstance, insn ast.Instruction) (uint32, *core.Trap) {
	addr := m.operands.Pop().U32()
	offset := addr + uint32(insn.Mem.Offset)
	if offset < addr {
		return 0, core.NewTrap(core.TrapOutOfBounds, "atomic memory access out of bounds")
	}
	width := uint32(4)
	if insn.NumKind == ast.KindI64 {
		width = 8
	}
	if offset%width != 0 {
		return 0, core.NewTrap(core.TrapOutOfBounds, "unaligned atomic memory access")
	}
	if !mem.HasSize(offset, width) {
		return 0, core.NewTrap(core.TrapOutOfBounds, "atomic memory access out of bounds")
	}
	return offset, nil
}

func (m *machine) atomicRMW(mem *core.MemoryInstance, addr uint32, is64 bool, op ast.AtomicOp, operand uint64) uint64 {
	apply := func(old uint64) uint64 {
		switch op {
		case ast.AtomicRmwAdd:
			return old + operand
		case ast.AtomicRmwSub:
			return old - operand
		case ast.AtomicRmwAnd:
			return old & operand
		case ast.AtomicRmwOr:
			return old | operand
		case ast.AtomicRmwXor:
			return old ^ operand
		default: // AtomicRmwXchg
			return operand
		}
	}
	if is64 {
		return mem.AtomicRMW64(addr, apply)
	}
	return uint64(mem.AtomicRMW32(addr, func(old uint32) uint32 { return uint32(apply(uint64(old))) }))
}

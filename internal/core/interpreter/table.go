package interpreter

import (
	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
	"github.com/wazexec/wazexec/internal/core/stack"
)

// execTable handles the table instruction family: table.get/set, the
// bulk-table ops added alongside bulk memory (table.init/copy/grow/size/
// fill), and elem.drop. Grounded on the Instantiator's table-building logic
// and generalized to every element kind, not just funcref.
func (m *machine) execTable(frame *stack.Frame, insn ast.Instruction) *core.Trap {
	var table *core.TableInstance
	if insn.Op != ast.OpElemDrop {
		table = frame.Function.Module.Tables[insn.Index]
	}

	switch insn.Op {
	case ast.OpTableGet:
		idx := m.operands.Pop().U32()
		if idx >= table.Size() {
			return core.NewTrap(core.TrapOutOfBounds, "table.get index %d out of bounds", idx)
		}
		m.operands.Push(api.RefVal(table.Elements[idx], table.ElemType))
	case ast.OpTableSet:
		v := m.operands.Pop()
		idx := m.operands.Pop().U32()
		if idx >= table.Size() {
			return core.NewTrap(core.TrapOutOfBounds, "table.set index %d out of bounds", idx)
		}
		table.Elements[idx] = v.Ref
	case ast.OpTableSize:
		m.operands.Push(api.I32(int32(table.Size())))
	case ast.OpTableGrow:
		n := m.operands.Pop().U32()
		initVal := m.operands.Pop()
		prev, ok := table.Grow(n, initVal.Ref)
		if !ok {
			m.operands.Push(api.I32(-1))
		} else {
			m.operands.Push(api.I32(int32(prev)))
		}
	case ast.OpTableFill:
		n := m.operands.Pop().U32()
		v := m.operands.Pop()
		idx := m.operands.Pop().U32()
		if uint64(idx)+uint64(n) > uint64(table.Size()) {
			return core.NewTrap(core.TrapOutOfBounds, "table.fill out of bounds")
		}
		for i := uint32(0); i < n; i++ {
			table.Elements[idx+i] = v.Ref
		}
	case ast.OpTableCopy:
		dstTable := table
		srcTable := frame.Function.Module.Tables[insn.Index2]
		n := m.operands.Pop().U32()
		src := m.operands.Pop().U32()
		dst := m.operands.Pop().U32()
		if uint64(src)+uint64(n) > uint64(srcTable.Size()) || uint64(dst)+uint64(n) > uint64(dstTable.Size()) {
			return core.NewTrap(core.TrapOutOfBounds, "table.copy out of bounds")
		}
		tmp := append([]api.Reference(nil), srcTable.Elements[src:src+n]...)
		copy(dstTable.Elements[dst:], tmp)
	case ast.OpTableInit:
		elem := frame.Function.Module.Elements[insn.Index2]
		n := m.operands.Pop().U32()
		src := m.operands.Pop().U32()
		dst := m.operands.Pop().U32()
		if elem == nil || elem.Dropped || uint64(src)+uint64(n) > uint64(len(elem.References)) {
			return core.NewTrap(core.TrapOutOfBounds, "table.init out of element bounds")
		}
		if uint64(dst)+uint64(n) > uint64(table.Size()) {
			return core.NewTrap(core.TrapOutOfBounds, "table.init out of table bounds")
		}
		copy(table.Elements[dst:], elem.References[src:src+n])
	case ast.OpElemDrop:
		e := frame.Function.Module.Elements[insn.Index]
		if e != nil {
			e.Dropped = true
			e.References = nil
		}
	}
	frame.PC++
	return nil
}

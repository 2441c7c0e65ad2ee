package interpreter

import (
	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
	"github.com/wazexec/wazexec/internal/core/gc"
	"github.com/wazexec/wazexec/internal/core/stack"
)

// execRefGC handles every reference and GC instruction: ref.null/is_null/
// func/eq/as_non_null, the br_on_null/non_null/cast/cast_fail family, the
// any/extern conversions, i31 boxing, and the struct/array family, which it
// delegates to internal/core/gc for field and element access. Grounded on
// the Instantiator's own reference construction (ref.func/ref.null in
// constant expressions) generalized to every opcode that produces or
// inspects a Reference.
func (m *machine) execRefGC(frame *stack.Frame, insn ast.Instruction) *core.Trap {
	mi := frame.Function.Module

	switch insn.Op {
	case ast.OpRefNull:
		m.operands.Push(api.RefVal(api.NullRef(core.HeapTypeFromIndex(insn.Index)), api.ValueTypeGCRef))
	case ast.OpRefIsNull:
		r := m.operands.Pop().Ref
		m.operands.PushBool(r.Null)
	case ast.OpRefFunc:
		m.operands.Push(api.RefVal(api.FuncRef(mi, insn.Index, api.HeapTypeFunc), api.ValueTypeFuncRef))
	case ast.OpRefEq:
		b := m.operands.Pop().Ref
		a := m.operands.Pop().Ref
		m.operands.PushBool(refEquals(a, b))
	case ast.OpRefAsNonNull:
		r := m.operands.Peek().Ref
		if r.Null {
			return core.NewTrap(core.TrapNullReference, "ref.as_non_null on null reference")
		}
	case ast.OpRefTest:
		r := m.operands.Pop().Ref
		m.operands.PushBool(matchesHeapType(r, core.HeapTypeFromIndex(insn.Index), insn.Index2 != 0, mi))
	case ast.OpRefCast:
		r := m.operands.Peek().Ref
		if !matchesHeapType(r, core.HeapTypeFromIndex(insn.Index), insn.Index2 != 0, mi) {
			return core.NewTrap(core.TrapCastFailure, "ref.cast: value does not match target type")
		}
	case ast.OpBrOnNull:
		if m.operands.Peek().Ref.Null {
			m.operands.Pop()
			m.branch(frame, insn.Index)
			return nil
		}
	case ast.OpBrOnNonNull:
		if !m.operands.Peek().Ref.Null {
			m.branch(frame, insn.Index)
			return nil
		}
		m.operands.Pop()
	case ast.OpBrOnCast:
		r := m.operands.Peek().Ref
		if matchesHeapType(r, core.HeapTypeFromIndex(insn.Index), insn.Index2 != 0, mi) {
			m.branch(frame, insn.Index)
			return nil
		}
	case ast.OpBrOnCastFail:
		r := m.operands.Peek().Ref
		if !matchesHeapType(r, core.HeapTypeFromIndex(insn.Index), insn.Index2 != 0, mi) {
			m.branch(frame, insn.Index)
			return nil
		}
	case ast.OpAnyConvertExtern:
		r := m.operands.Pop().Ref
		r.Kind = api.HeapTypeAny
		m.operands.Push(api.RefVal(r, api.ValueTypeGCRef))
	case ast.OpExternConvertAny:
		r := m.operands.Pop().Ref
		r.Kind = api.HeapTypeExtern
		m.operands.Push(api.RefVal(r, api.ValueTypeExternRef))
	case ast.OpI31New:
		v := m.operands.Pop().I32()
		m.operands.Push(api.RefVal(api.I31Ref(v), api.ValueTypeGCRef))
	case ast.OpI31GetS:
		r := m.operands.Pop().Ref
		if r.Null {
			return core.NewTrap(core.TrapNullReference, "i31.get_s on null reference")
		}
		m.operands.Push(api.I32(r.I31))
	case ast.OpI31GetU:
		r := m.operands.Pop().Ref
		if r.Null {
			return core.NewTrap(core.TrapNullReference, "i31.get_u on null reference")
		}
		m.operands.Push(api.I32(r.I31 & 0x7fffffff))

	case ast.OpStructNew:
		ti := mi.Types[insn.Index]
		n := len(ti.Composite.Fields)
		vals := make([]api.Value, n)
		for i := n - 1; i >= 0; i-- {
			vals[i] = m.operands.Pop()
		}
		m.operands.Push(api.RefVal(api.StructRef(gc.NewStruct(ti, vals), api.HeapType(insn.Index)), api.ValueTypeGCRef))
	case ast.OpStructNewDefault:
		ti := mi.Types[insn.Index]
		m.operands.Push(api.RefVal(api.StructRef(gc.NewStruct(ti, nil), api.HeapType(insn.Index)), api.ValueTypeGCRef))
	case ast.OpStructGet, ast.OpStructGetS, ast.OpStructGetU:
		r := m.operands.Pop().Ref
		if r.Null {
			return core.NewTrap(core.TrapNullReference, "struct.get on null reference")
		}
		si := r.GCObject.(*gc.StructInstance)
		m.operands.Push(gc.StructGet(si, insn.Index2, insn.Op == ast.OpStructGetS))
	case ast.OpStructSet:
		v := m.operands.Pop()
		r := m.operands.Pop().Ref
		if r.Null {
			return core.NewTrap(core.TrapNullReference, "struct.set on null reference")
		}
		gc.StructSet(r.GCObject.(*gc.StructInstance), insn.Index2, v)

	case ast.OpArrayNew:
		ti := mi.Types[insn.Index]
		n := m.operands.Pop().U32()
		v := m.operands.Pop()
		vals := make([]api.Value, n)
		for i := range vals {
			vals[i] = v
		}
		m.operands.Push(api.RefVal(api.ArrayRef(gc.NewArray(ti, n, vals), api.HeapType(insn.Index)), api.ValueTypeGCRef))
	case ast.OpArrayNewDefault:
		ti := mi.Types[insn.Index]
		n := m.operands.Pop().U32()
		m.operands.Push(api.RefVal(api.ArrayRef(gc.NewArray(ti, n, nil), api.HeapType(insn.Index)), api.ValueTypeGCRef))
	case ast.OpArrayNewFixed:
		ti := mi.Types[insn.Index]
		n := uint32(insn.Index2)
		vals := make([]api.Value, n)
		for i := int(n) - 1; i >= 0; i-- {
			vals[i] = m.operands.Pop()
		}
		m.operands.Push(api.RefVal(api.ArrayRef(gc.NewArray(ti, n, vals), api.HeapType(insn.Index)), api.ValueTypeGCRef))
	case ast.OpArrayNewData:
		ti := mi.Types[insn.Index]
		n := m.operands.Pop().U32()
		off := m.operands.Pop().U32()
		data := mi.Data[insn.Index2]
		width := uint32(arrayElemWidth(ti))
		if data == nil || data.Dropped || uint64(off)+uint64(n)*uint64(width) > uint64(len(data.Bytes)) {
			return core.NewTrap(core.TrapOutOfBounds, "array.new_data out of data bounds")
		}
		vals := decodeArrayDataVals(ti, data.Bytes[off:off+n*width])
		m.operands.Push(api.RefVal(api.ArrayRef(gc.NewArray(ti, uint32(len(vals)), vals), api.HeapType(insn.Index)), api.ValueTypeGCRef))
	case ast.OpArrayNewElem:
		ti := mi.Types[insn.Index]
		n := m.operands.Pop().U32()
		off := m.operands.Pop().U32()
		elem := mi.Elements[insn.Index2]
		if elem == nil || elem.Dropped || uint64(off)+uint64(n) > uint64(len(elem.References)) {
			return core.NewTrap(core.TrapOutOfBounds, "array.new_elem out of element bounds")
		}
		vals := make([]api.Value, n)
		for i := uint32(0); i < n; i++ {
			vals[i] = api.RefVal(elem.References[off+i], api.ValueTypeFuncRef)
		}
		m.operands.Push(api.RefVal(api.ArrayRef(gc.NewArray(ti, n, vals), api.HeapType(insn.Index)), api.ValueTypeGCRef))
	case ast.OpArrayGet, ast.OpArrayGetS, ast.OpArrayGetU:
		idx := m.operands.Pop().U32()
		r := m.operands.Pop().Ref
		if r.Null {
			return core.NewTrap(core.TrapNullReference, "array.get on null reference")
		}
		v, trap := gc.ArrayGet(r.GCObject.(*gc.ArrayInstance), idx, insn.Op == ast.OpArrayGetS)
		if trap != nil {
			return trap
		}
		m.operands.Push(v)
	case ast.OpArraySet:
		v := m.operands.Pop()
		idx := m.operands.Pop().U32()
		r := m.operands.Pop().Ref
		if r.Null {
			return core.NewTrap(core.TrapNullReference, "array.set on null reference")
		}
		if trap := gc.ArraySet(r.GCObject.(*gc.ArrayInstance), idx, v); trap != nil {
			return trap
		}
	case ast.OpArrayLen:
		r := m.operands.Pop().Ref
		if r.Null {
			return core.NewTrap(core.TrapNullReference, "array.len on null reference")
		}
		m.operands.Push(api.I32(int32(gc.ArrayLen(r.GCObject.(*gc.ArrayInstance)))))
	case ast.OpArrayFill:
		n := m.operands.Pop().U32()
		v := m.operands.Pop()
		off := m.operands.Pop().U32()
		r := m.operands.Pop().Ref
		if r.Null {
			return core.NewTrap(core.TrapNullReference, "array.fill on null reference")
		}
		if trap := gc.ArrayFill(r.GCObject.(*gc.ArrayInstance), off, n, v); trap != nil {
			return trap
		}
	case ast.OpArrayCopy:
		n := m.operands.Pop().U32()
		srcOff := m.operands.Pop().U32()
		srcRef := m.operands.Pop().Ref
		dstOff := m.operands.Pop().U32()
		dstRef := m.operands.Pop().Ref
		if dstRef.Null || srcRef.Null {
			return core.NewTrap(core.TrapNullReference, "array.copy on null reference")
		}
		if trap := gc.ArrayCopy(dstRef.GCObject.(*gc.ArrayInstance), dstOff, srcRef.GCObject.(*gc.ArrayInstance), srcOff, n); trap != nil {
			return trap
		}
	case ast.OpArrayInitData:
		ti := mi.Types[insn.Index]
		n := m.operands.Pop().U32()
		srcOff := m.operands.Pop().U32()
		dstOff := m.operands.Pop().U32()
		r := m.operands.Pop().Ref
		if r.Null {
			return core.NewTrap(core.TrapNullReference, "array.init_data on null reference")
		}
		data := mi.Data[insn.Index2]
		width := uint32(arrayElemWidth(ti))
		if data == nil || data.Dropped || uint64(srcOff)+uint64(n)*uint64(width) > uint64(len(data.Bytes)) {
			return core.NewTrap(core.TrapOutOfBounds, "array.init_data out of data bounds")
		}
		vals := decodeArrayDataVals(ti, data.Bytes[srcOff:srcOff+n*width])
		ai := r.GCObject.(*gc.ArrayInstance)
		for i, v := range vals {
			if trap := gc.ArraySet(ai, dstOff+uint32(i), v); trap != nil {
				return trap
			}
		}
	case ast.OpArrayInitElem:
		n := m.operands.Pop().U32()
		srcOff := m.operands.Pop().U32()
		dstOff := m.operands.Pop().U32()
		r := m.operands.Pop().Ref
		if r.Null {
			return core.NewTrap(core.TrapNullReference, "array.init_elem on null reference")
		}
		elem := mi.Elements[insn.Index2]
		if elem == nil || elem.Dropped || uint64(srcOff)+uint64(n) > uint64(len(elem.References)) {
			return core.NewTrap(core.TrapOutOfBounds, "array.init_elem out of element bounds")
		}
		ai := r.GCObject.(*gc.ArrayInstance)
		for i := uint32(0); i < n; i++ {
			if trap := gc.ArraySet(ai, dstOff+i, api.RefVal(elem.References[srcOff+i], api.ValueTypeFuncRef)); trap != nil {
				return trap
			}
		}
	}

	frame.PC++
	return nil
}

func refEquals(a, b api.Reference) bool {
	if a.Null || b.Null {
		return a.Null == b.Null && a.Kind == b.Kind
	}
	switch {
	case a.GCObject != nil || b.GCObject != nil:
		return a.GCObject == b.GCObject
	case a.FuncModule != nil || b.FuncModule != nil:
		return a.FuncModule == b.FuncModule && a.FuncIndex == b.FuncIndex
	case a.HostFunc != nil || b.HostFunc != nil:
		return a.HostFunc == b.HostFunc
	default:
		return a.Extern == b.Extern && a.I31 == b.I31 && a.Kind == b.Kind
	}
}

// matchesHeapType delegates to core.MatchesHeapType, kept as a thin local
// alias so every ref.test/ref.cast/br_on_cast call site in this file reads
// unchanged now that the Compiled-Code Bridge shares the same walk.
func matchesHeapType(r api.Reference, target api.HeapType, nullable bool, mi *core.ModuleInstance) bool {
	return core.MatchesHeapType(r, target, nullable, mi)
}

// arrayElemWidth returns the byte width of one element of ti's array type,
// the same packing array.new_data/array.init_data's byte range must be sized
// by: a count of n elements spans n*arrayElemWidth(ti) bytes, not n bytes.
func arrayElemWidth(ti *core.TypeInstance) int {
	elem := ti.Composite.Elem
	switch elem.Storage {
	case ast.StorageI8:
		return 1
	case ast.StorageI16:
		return 2
	default:
		switch elem.ValueType {
		case ast.ValueTypeI64, ast.ValueTypeF64:
			return 8
		default:
			return 4
		}
	}
}

// decodeArrayDataVals unpacks a data-segment byte range into one api.Value
// per array element per the element's declared storage width, for
// array.new_data/array.init_data.
func decodeArrayDataVals(ti *core.TypeInstance, raw []byte) []api.Value {
	elem := ti.Composite.Elem
	width := arrayElemWidth(ti)
	n := len(raw) / width
	vals := make([]api.Value, n)
	for i := 0; i < n; i++ {
		chunk := raw[i*width : i*width+width]
		var lo uint64
		for j := width - 1; j >= 0; j-- {
			lo = lo<<8 | uint64(chunk[j])
		}
		vals[i] = api.Value{Type: core.ToAPIValueType(elem.ValueType), Lo: lo}
	}
	return vals
}

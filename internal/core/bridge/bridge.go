package bridge

import (
	"context"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
	"github.com/wazexec/wazexec/internal/core/atomics"
	"github.com/wazexec/wazexec/internal/core/gc"
)

// proxyTrap raises the trap a compiled function's own generated bounds/type
// check detected; code is one of the core.TrapKind values, matching the
// original's numeric trap-code parameter.
func proxyTrap(code core.TrapKind) *core.Trap {
	return core.NewTrap(code, "")
}

// proxyCall invokes fnIdx in sess's current module by its defining module's
// compiled-code engine, the same path core.CallFunction gives every other
// caller — a compiled function calling a sibling function in its own module
// gains nothing from bypassing the engine boundary.
func proxyCall(ctx context.Context, sess *Session, fnIdx ast.Index, args []api.Value) ([]api.Value, *core.Trap) {
	if sess.Ctx.Stopped() {
		return nil, core.NewTrap(core.TrapInterrupted, "execution stopped")
	}
	fn := sess.Module.Functions[fnIdx]
	results, err := core.CallFunction(ctx, fn, args)
	if err != nil {
		if trap, ok := err.(*core.Trap); ok {
			return nil, trap
		}
		return nil, core.NewTrap(core.TrapUnreachableExecuted, "%s", err)
	}
	return results, nil
}

// proxyCallIndirect resolves tableIdx[elemIdx] to a callee, checks its
// signature against the type the call site expects (typeIdx, compared
// structurally via EqualsSignature), and calls it. Grounded on
// interpreter.machine.callIndirect, re-expressed without stack-machine
// operand popping since a compiled caller already has args as a slice.
func proxyCallIndirect(ctx context.Context, sess *Session, tableIdx, typeIdx, elemIdx ast.Index, args []api.Value) ([]api.Value, *core.Trap) {
	table := sess.Module.Tables[tableIdx]
	if elemIdx >= table.Size() {
		return nil, core.NewTrap(core.TrapOutOfBounds, "call_indirect: index %d out of table bounds", elemIdx)
	}
	ref := table.Elements[elemIdx]
	if ref.Null {
		return nil, core.NewTrap(core.TrapUninitializedElement, "call_indirect: null table element")
	}
	callee := resolveFuncRef(ref)
	if callee == nil {
		return nil, core.NewTrap(core.TrapUninitializedElement, "call_indirect: unresolved table element")
	}
	expected := sess.Module.Types[typeIdx]
	if !callee.Type.EqualsSignature(expected.Type.Params, expected.Type.Results) {
		return nil, core.NewTrap(core.TrapIndirectCallTypeMismatch, "call_indirect: signature mismatch")
	}
	return proxyCallByInstance(ctx, sess, callee, args)
}

// proxyCallRef calls a funcref value directly (the call_ref instruction's
// compiled-code counterpart), skipping the table indirection proxyCallIndirect
// performs.
func proxyCallRef(ctx context.Context, sess *Session, ref api.Reference, args []api.Value) ([]api.Value, *core.Trap) {
	if ref.Null {
		return nil, core.NewTrap(core.TrapNullReference, "call_ref: null function reference")
	}
	callee := resolveFuncRef(ref)
	if callee == nil {
		return nil, core.NewTrap(core.TrapUninitializedElement, "call_ref: unresolved function reference")
	}
	return proxyCallByInstance(ctx, sess, callee, args)
}

func proxyCallByInstance(ctx context.Context, sess *Session, callee *core.FunctionInstance, args []api.Value) ([]api.Value, *core.Trap) {
	results, err := core.CallFunction(ctx, callee, args)
	if err != nil {
		if trap, ok := err.(*core.Trap); ok {
			return nil, trap
		}
		return nil, core.NewTrap(core.TrapUnreachableExecuted, "%s", err)
	}
	return results, nil
}

func resolveFuncRef(ref api.Reference) *core.FunctionInstance {
	if fm, ok := ref.FuncModule.(*core.ModuleInstance); ok {
		return fm.Functions[ref.FuncIndex]
	}
	if hf, ok := ref.HostFunc.(*core.FunctionInstance); ok {
		return hf
	}
	return nil
}

// proxyRefFunc produces a funcref to fnIdx in sess's module, matching
// ref.func's own construction in refgc.go so a compiled function's
// ref.func immediate lowers to the same reference shape the interpreter
// would produce.
func proxyRefFunc(sess *Session, fnIdx ast.Index) api.Reference {
	fn := sess.Module.Functions[fnIdx]
	return api.FuncRef(sess.Module, fn.Index, api.HeapTypeFunc)
}

// proxyRefTest / proxyRefCast expose ref.test/ref.cast's nominal-subtype
// walk to compiled code via core.MatchesHeapType, the same walk the
// Interpreter's execRefGC uses, so a compiled and an interpreted function
// agree on every cast.
func proxyRefTest(sess *Session, r api.Reference, target api.HeapType, nullable bool) bool {
	return core.MatchesHeapType(r, target, nullable, sess.Module)
}

func proxyRefCast(sess *Session, r api.Reference, target api.HeapType, nullable bool) *core.Trap {
	if !core.MatchesHeapType(r, target, nullable, sess.Module) {
		return core.NewTrap(core.TrapCastFailure, "ref.cast: value does not match target type")
	}
	return nil
}

// proxyStructNew/proxyStructGet/proxyStructSet delegate straight to the GC
// Helper, giving compiled code the same struct field access the
// interpreter's execRefGC uses.
func proxyStructNew(sess *Session, typeIdx ast.Index, fieldVals []api.Value) *gc.StructInstance {
	ti := sess.Module.Types[typeIdx]
	return gc.NewStruct(ti, fieldVals)
}

func proxyStructGet(si *gc.StructInstance, fieldIdx ast.Index, signed bool) api.Value {
	return gc.StructGet(si, fieldIdx, signed)
}

func proxyStructSet(si *gc.StructInstance, fieldIdx ast.Index, v api.Value) {
	gc.StructSet(si, fieldIdx, v)
}

// proxyArrayNew/Get/Set/Len/Fill/Copy mirror the struct proxies for arrays.
func proxyArrayNew(sess *Session, typeIdx ast.Index, n uint32, elemVals []api.Value) *gc.ArrayInstance {
	ti := sess.Module.Types[typeIdx]
	return gc.NewArray(ti, n, elemVals)
}

func proxyArrayGet(ai *gc.ArrayInstance, idx uint32, signed bool) (api.Value, *core.Trap) {
	return gc.ArrayGet(ai, idx, signed)
}

func proxyArraySet(ai *gc.ArrayInstance, idx uint32, v api.Value) *core.Trap {
	return gc.ArraySet(ai, idx, v)
}

func proxyArrayLen(ai *gc.ArrayInstance) uint32 { return gc.ArrayLen(ai) }

func proxyArrayFill(ai *gc.ArrayInstance, offset, n uint32, v api.Value) *core.Trap {
	return gc.ArrayFill(ai, offset, n, v)
}

func proxyArrayCopy(dst *gc.ArrayInstance, dstOff uint32, src *gc.ArrayInstance, srcOff, n uint32) *core.Trap {
	return gc.ArrayCopy(dst, dstOff, src, srcOff, n)
}

// proxyTableGet/Set/Size/Grow/Fill expose table access without going
// through the interpreter's operand stack, for a compiled function that
// already holds the index and (for Set/Fill) reference value as plain
// arguments.
func proxyTableGet(sess *Session, tableIdx, idx ast.Index) (api.Reference, *core.Trap) {
	table := sess.Module.Tables[tableIdx]
	if idx >= table.Size() {
		return api.Reference{}, core.NewTrap(core.TrapOutOfBounds, "table.get index %d out of bounds", idx)
	}
	return table.Elements[idx], nil
}

func proxyTableSet(sess *Session, tableIdx, idx ast.Index, ref api.Reference) *core.Trap {
	table := sess.Module.Tables[tableIdx]
	if idx >= table.Size() {
		return core.NewTrap(core.TrapOutOfBounds, "table.set index %d out of bounds", idx)
	}
	table.Elements[idx] = ref
	return nil
}

func proxyTableSize(sess *Session, tableIdx ast.Index) uint32 {
	return sess.Module.Tables[tableIdx].Size()
}

func proxyTableGrow(sess *Session, tableIdx ast.Index, n uint32, init api.Reference) uint32 {
	prev, ok := sess.Module.Tables[tableIdx].Grow(n, init)
	if !ok {
		return 0xffffffff
	}
	return prev
}

func proxyTableFill(sess *Session, tableIdx ast.Index, idx, n uint32, ref api.Reference) *core.Trap {
	table := sess.Module.Tables[tableIdx]
	if uint64(idx)+uint64(n) > uint64(table.Size()) {
		return core.NewTrap(core.TrapOutOfBounds, "table.fill out of bounds")
	}
	for i := uint32(0); i < n; i++ {
		table.Elements[idx+i] = ref
	}
	return nil
}

// proxyMemGrow/Size/Fill/Copy expose linear-memory access the same way.
func proxyMemGrow(sess *Session, memIdx ast.Index, newPages uint32) uint32 {
	prev, ok := sess.Module.Memories[memIdx].Grow(newPages)
	if !ok {
		return 0xffffffff
	}
	return prev
}

func proxyMemSize(sess *Session, memIdx ast.Index) uint32 {
	return sess.Module.Memories[memIdx].PageSize()
}

func proxyMemFill(sess *Session, memIdx ast.Index, offset uint32, val byte, n uint32) *core.Trap {
	mem := sess.Module.Memories[memIdx]
	if !mem.HasSize(offset, n) {
		return core.NewTrap(core.TrapOutOfBounds, "memory.fill out of bounds")
	}
	buf, _ := mem.Read(offset, n)
	for i := range buf {
		buf[i] = val
	}
	return nil
}

func proxyMemCopy(sess *Session, dstMemIdx, srcMemIdx ast.Index, dst, src, n uint32) *core.Trap {
	dstMem := sess.Module.Memories[dstMemIdx]
	srcMem := sess.Module.Memories[srcMemIdx]
	if !dstMem.HasSize(dst, n) || !srcMem.HasSize(src, n) {
		return core.NewTrap(core.TrapOutOfBounds, "memory.copy out of bounds")
	}
	tmp, _ := srcMem.Read(src, n)
	dstMem.Write(dst, append([]byte(nil), tmp...))
	return nil
}

// proxyMemAtomicNotify/Wait delegate to the Atomic Coordinator, the same
// entry points the interpreter's execAtomic uses, so a compiled and an
// interpreted thread waiting on the same address rendezvous correctly.
func proxyMemAtomicNotify(sess *Session, coord *atomics.Coordinator, memIdx ast.Index, offset, count uint32) uint32 {
	mem := sess.Module.Memories[memIdx]
	return coord.Notify(mem, offset, count)
}

func proxyMemAtomicWait(ctx context.Context, sess *Session, coord *atomics.Coordinator, memIdx ast.Index, offset uint32, expected uint64, timeout int64, bitWidth int) (uint32, *core.Trap) {
	mem := sess.Module.Memories[memIdx]
	if bitWidth == 64 {
		r, trap := coord.Wait64(ctx, mem, offset, expected, timeout)
		return uint32(r), trap
	}
	r, trap := coord.Wait32(ctx, mem, offset, uint32(expected), timeout)
	return uint32(r), trap
}

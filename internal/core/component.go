package core

import (
	"context"
	"math"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
)

// This file is the canonical-ABI half of the component-model variant: the
// value-translation primitives a CanonLift/CanonLower adapter
// FunctionInstance (assembled by internal/core/instantiate's component
// instantiator) calls at each end of a component boundary.
//
// A component-level value travels as an ordinary api.Value: scalar kinds
// (bool, s8..u64, float32/64, char) are the same numeric api.Value a core
// function would use; string, list and record collapse to a single
// api.ValueTypeExternRef slot whose Reference.Extern holds a Go-native
// string, []api.Value (list elements) or []api.Value (record fields, in
// declaration order) respectively. This keeps Function.Call's ordinary
// "one api.Value per parameter" convention working at the component level
// without inventing a second Value type.
//
// Lists are restricted to scalar element types: nesting a list of lists,
// strings or records would need this engine's own aggregate memory layout
// (alignment, padding) rather than reusing WriteUint32Le/WriteUint64Le
// directly, which the canonical ABI's flattening rules do define but which
// this build does not implement. A list of records lowers/lifts a Trap
// instead of silently misreading memory.

// componentValByteWidth is the linear-memory width of one scalar
// ComponentValKind when it appears as a list element.
func componentValByteWidth(k ast.ComponentValKind) int {
	switch k {
	case ast.ComponentValS64, ast.ComponentValU64, ast.ComponentValFloat64:
		return 8
	default:
		return 4
	}
}

func isComponentScalar(k ast.ComponentValKind) bool {
	switch k {
	case ast.ComponentValString, ast.ComponentValList, ast.ComponentValRecord:
		return false
	default:
		return true
	}
}

func writeScalarElem(mem *MemoryInstance, off uint32, k ast.ComponentValKind, v api.Value) bool {
	switch k {
	case ast.ComponentValS64, ast.ComponentValU64:
		return mem.WriteUint64Le(off, v.U64())
	case ast.ComponentValFloat32:
		return mem.WriteUint32Le(off, math.Float32bits(v.F32()))
	case ast.ComponentValFloat64:
		return mem.WriteUint64Le(off, math.Float64bits(v.F64()))
	default:
		return mem.WriteUint32Le(off, v.U32())
	}
}

func readScalarElem(mem *MemoryInstance, off uint32, k ast.ComponentValKind) (api.Value, bool) {
	switch k {
	case ast.ComponentValS64, ast.ComponentValU64:
		u, ok := mem.ReadUint64Le(off)
		return api.I64(int64(u)), ok
	case ast.ComponentValFloat32:
		f, ok := mem.ReadFloat32Le(off)
		return api.F32(f), ok
	case ast.ComponentValFloat64:
		f, ok := mem.ReadFloat64Le(off)
		return api.F64(f), ok
	default:
		u, ok := mem.ReadUint32Le(off)
		return api.I32(int32(u)), ok
	}
}

func lowerScalar(v api.Value, k ast.ComponentValKind) api.Value {
	switch k {
	case ast.ComponentValS64, ast.ComponentValU64:
		return api.I64(v.I64())
	case ast.ComponentValFloat32:
		return api.F32(v.F32())
	case ast.ComponentValFloat64:
		return api.F64(v.F64())
	default:
		return api.I32(v.I32())
	}
}

// componentAlloc calls realloc(0, 0, align, size) to obtain size bytes of
// fresh linear memory, per the canonical ABI's "realloc-based allocation"
// convention; size == 0 never calls realloc; a nil realloc with size > 0 is
// a component that lifts/lowers a string or list without exporting one.
func componentAlloc(ctx context.Context, realloc *FunctionInstance, size, align int) (uint32, *Trap) {
	if size == 0 {
		return 0, nil
	}
	if realloc == nil {
		return 0, NewTrap(TrapOutOfBounds, "canon adapter: string/list lowering requires a realloc export")
	}
	results, err := CallFunction(ctx, realloc, []api.Value{api.I32(0), api.I32(0), api.I32(int32(align)), api.I32(int32(size))})
	if err != nil {
		return 0, asComponentTrap(err)
	}
	if len(results) == 0 {
		return 0, NewTrap(TrapUnreachableExecuted, "canon adapter: realloc returned no result")
	}
	return results[0].U32(), nil
}

func asComponentTrap(err error) *Trap {
	if t, ok := err.(*Trap); ok {
		return t
	}
	return NewTrap(TrapUnreachableExecuted, "%s", err.Error())
}

// lowerValue converts one component-level value into its flat core-ABI
// lane(s), routing a string or scalar-element list through mem via realloc.
func lowerValue(ctx context.Context, v api.Value, t *ast.ComponentValType, mem *MemoryInstance, realloc *FunctionInstance) ([]api.Value, *Trap) {
	switch t.Kind {
	case ast.ComponentValString:
		s, _ := v.Ref.Extern.(string)
		b := []byte(s)
		ptr, trap := componentAlloc(ctx, realloc, len(b), 1)
		if trap != nil {
			return nil, trap
		}
		if len(b) > 0 && !mem.Write(ptr, b) {
			return nil, NewTrap(TrapOutOfBounds, "canon lower: string write out of bounds")
		}
		return []api.Value{api.I32(int32(ptr)), api.I32(int32(len(b)))}, nil
	case ast.ComponentValList:
		if !isComponentScalar(t.Elem.Kind) {
			return nil, NewTrap(TrapUnreachableExecuted, "canon lower: list of non-scalar elements is not supported")
		}
		items, _ := v.Ref.Extern.([]api.Value)
		width := componentValByteWidth(t.Elem.Kind)
		ptr, trap := componentAlloc(ctx, realloc, len(items)*width, width)
		if trap != nil {
			return nil, trap
		}
		for i, item := range items {
			if !writeScalarElem(mem, ptr+uint32(i*width), t.Elem.Kind, item) {
				return nil, NewTrap(TrapOutOfBounds, "canon lower: list element write out of bounds")
			}
		}
		return []api.Value{api.I32(int32(ptr)), api.I32(int32(len(items)))}, nil
	case ast.ComponentValRecord:
		items, _ := v.Ref.Extern.([]api.Value)
		var out []api.Value
		for i := range t.Fields {
			flat, trap := lowerValue(ctx, items[i], &t.Fields[i].Type, mem, realloc)
			if trap != nil {
				return nil, trap
			}
			out = append(out, flat...)
		}
		return out, nil
	default:
		return []api.Value{lowerScalar(v, t.Kind)}, nil
	}
}

// liftValue converts flat core-ABI lane(s), starting at *idx, back into one
// component-level value, advancing *idx past whatever it consumed.
func liftValue(flat []api.Value, idx *int, t *ast.ComponentValType, mem *MemoryInstance) (api.Value, *Trap) {
	switch t.Kind {
	case ast.ComponentValString:
		ptr, n := uint32(flat[*idx].I32()), uint32(flat[*idx+1].I32())
		*idx += 2
		b, ok := mem.Read(ptr, n)
		if !ok {
			return api.Value{}, NewTrap(TrapOutOfBounds, "canon lift: string read out of bounds")
		}
		return api.RefVal(api.ExternRef(string(b)), api.ValueTypeExternRef), nil
	case ast.ComponentValList:
		if !isComponentScalar(t.Elem.Kind) {
			return api.Value{}, NewTrap(TrapUnreachableExecuted, "canon lift: list of non-scalar elements is not supported")
		}
		ptr, n := uint32(flat[*idx].I32()), uint32(flat[*idx+1].I32())
		*idx += 2
		width := componentValByteWidth(t.Elem.Kind)
		items := make([]api.Value, n)
		for i := uint32(0); i < n; i++ {
			ev, ok := readScalarElem(mem, ptr+i*uint32(width), t.Elem.Kind)
			if !ok {
				return api.Value{}, NewTrap(TrapOutOfBounds, "canon lift: list element read out of bounds")
			}
			items[i] = ev
		}
		return api.RefVal(api.ExternRef(items), api.ValueTypeExternRef), nil
	case ast.ComponentValRecord:
		items := make([]api.Value, len(t.Fields))
		for i := range t.Fields {
			v, trap := liftValue(flat, idx, &t.Fields[i].Type, mem)
			if trap != nil {
				return api.Value{}, trap
			}
			items[i] = v
		}
		return api.RefVal(api.ExternRef(items), api.ValueTypeExternRef), nil
	default:
		v := flat[*idx]
		*idx++
		return liftScalar(v, t.Kind), nil
	}
}

func liftScalar(v api.Value, k ast.ComponentValKind) api.Value {
	switch k {
	case ast.ComponentValS64, ast.ComponentValU64:
		return api.I64(v.I64())
	case ast.ComponentValFloat32:
		return api.F32(v.F32())
	case ast.ComponentValFloat64:
		return api.F64(v.F64())
	default:
		return api.I32(v.I32())
	}
}

// LowerParams lowers component-level call arguments into the flat core-ABI
// argument sequence a lifted core function expects.
func LowerParams(ctx context.Context, args []api.Value, params []ast.ComponentNamedValType, mem *MemoryInstance, realloc *FunctionInstance) ([]api.Value, *Trap) {
	var out []api.Value
	for i := range params {
		flat, trap := lowerValue(ctx, args[i], &params[i].Type, mem, realloc)
		if trap != nil {
			return nil, trap
		}
		out = append(out, flat...)
	}
	return out, nil
}

// LiftResults lifts a core function's flat results back into component-level values.
func LiftResults(flat []api.Value, results []ast.ComponentValType, mem *MemoryInstance) ([]api.Value, *Trap) {
	idx := 0
	out := make([]api.Value, len(results))
	for i := range results {
		v, trap := liftValue(flat, &idx, &results[i], mem)
		if trap != nil {
			return nil, trap
		}
		out[i] = v
	}
	return out, nil
}

// LiftParams lifts a core-ABI caller's flat arguments into component-level values.
func LiftParams(flat []api.Value, params []ast.ComponentNamedValType, mem *MemoryInstance) ([]api.Value, *Trap) {
	idx := 0
	out := make([]api.Value, len(params))
	for i := range params {
		v, trap := liftValue(flat, &idx, &params[i].Type, mem)
		if trap != nil {
			return nil, trap
		}
		out[i] = v
	}
	return out, nil
}

// LowerResults lowers a component-level function's results into the flat
// core-ABI results its core-ABI caller expects.
func LowerResults(ctx context.Context, results []api.Value, types []ast.ComponentValType, mem *MemoryInstance, realloc *FunctionInstance) ([]api.Value, *Trap) {
	var out []api.Value
	for i := range types {
		flat, trap := lowerValue(ctx, results[i], &types[i], mem, realloc)
		if trap != nil {
			return nil, trap
		}
		out = append(out, flat...)
	}
	return out, nil
}

// LiftCall implements canon lift: coreFn is called with the flat core ABI
// on behalf of a component-level caller, translating args in and results
// out at the boundary described by sig/mem/realloc.
func LiftCall(ctx context.Context, coreFn *FunctionInstance, sig *ast.ComponentFunctionType, mem *MemoryInstance, realloc *FunctionInstance, args []api.Value) ([]api.Value, error) {
	flatArgs, trap := LowerParams(ctx, args, sig.Params, mem, realloc)
	if trap != nil {
		return nil, trap
	}
	flatResults, err := CallFunction(ctx, coreFn, flatArgs)
	if err != nil {
		return nil, err
	}
	results, trap := LiftResults(flatResults, sig.Results, mem)
	if trap != nil {
		return nil, trap
	}
	return results, nil
}

// LowerCall implements canon lower: componentFn is called with
// component-level values on behalf of a core-ABI caller (the embedded core
// module invoking one of its imports), the mirror image of LiftCall.
func LowerCall(ctx context.Context, componentFn *FunctionInstance, sig *ast.ComponentFunctionType, mem *MemoryInstance, realloc *FunctionInstance, flatArgs []api.Value) ([]api.Value, error) {
	params, trap := LiftParams(flatArgs, sig.Params, mem)
	if trap != nil {
		return nil, trap
	}
	results, err := CallFunction(ctx, componentFn, params)
	if err != nil {
		return nil, err
	}
	flatResults, trap := LowerResults(ctx, results, sig.Results, mem, realloc)
	if trap != nil {
		return nil, trap
	}
	return flatResults, nil
}

// ComponentLogicalSignature builds the ast.FunctionType a component-level
// adapter function reports to embedders: one ast.ValueType per logical
// parameter/result, with string/list/record collapsing to a single
// ExternRef slot, as opposed to the flat core-ABI signature actually used
// to invoke the wrapped function.
func ComponentLogicalSignature(sig *ast.ComponentFunctionType) *ast.FunctionType {
	ft := &ast.FunctionType{}
	for _, p := range sig.Params {
		ft.Params = append(ft.Params, componentLogicalValueType(p.Type.Kind))
	}
	for _, r := range sig.Results {
		ft.Results = append(ft.Results, componentLogicalValueType(r.Kind))
	}
	return ft
}

func componentLogicalValueType(k ast.ComponentValKind) ast.ValueType {
	switch k {
	case ast.ComponentValS64, ast.ComponentValU64:
		return ast.ValueTypeI64
	case ast.ComponentValFloat32:
		return ast.ValueTypeF32
	case ast.ComponentValFloat64:
		return ast.ValueTypeF64
	case ast.ComponentValString, ast.ComponentValList, ast.ComponentValRecord:
		return ast.ValueTypeExternRef
	default:
		return ast.ValueTypeI32
	}
}

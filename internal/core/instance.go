package core

import (
	"context"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
)

// ToAPIValueType translates an ast.ValueType (binary-encoding byte) to the
// api package's ValueType, the boundary every Store-facing accessor crosses.
func ToAPIValueType(t ast.ValueType) api.ValueType {
	switch t {
	case ast.ValueTypeI32:
		return api.ValueTypeI32
	case ast.ValueTypeI64:
		return api.ValueTypeI64
	case ast.ValueTypeF32:
		return api.ValueTypeF32
	case ast.ValueTypeF64:
		return api.ValueTypeF64
	case ast.ValueTypeV128:
		return api.ValueTypeV128
	case ast.ValueTypeFuncRef:
		return api.ValueTypeFuncRef
	case ast.ValueTypeExternRef:
		return api.ValueTypeExternRef
	default:
		return api.ValueTypeGCRef
	}
}

// HeapTypeFromIndex maps a ref.null/ref.test/ref.cast heap-type immediate
// (an ast.Index, since the AST keeps heap types as plain type-section
// indices or one of a small set of abstract-type sentinels below the
// type-section range) to the api package's negative HeapType sentinels for
// the abstract cases, or preserves a concrete type index unchanged. Shared
// between the Instantiator (ref.null in constant expressions) and the
// Interpreter (every reference instruction) so the two never drift.
func HeapTypeFromIndex(idx ast.Index) api.HeapType {
	switch int32(idx) {
	case -1:
		return api.HeapTypeFunc
	case -2:
		return api.HeapTypeExtern
	case -3:
		return api.HeapTypeAny
	case -4:
		return api.HeapTypeNone
	case -5:
		return api.HeapTypeI31
	default:
		return api.HeapType(idx)
	}
}

// MatchesHeapType implements ref.test/ref.cast/br_on_cast's dynamic type
// check: a null value matches exactly when nullable is true, whatever heap
// type the null carries; non-null values walk the declared
// supertype chain looking for target, matching the GC proposal's nominal
// subtyping rule. Shared between the Interpreter and the Compiled-Code
// Bridge so both ref.test/ref.cast implementations agree.
func MatchesHeapType(r api.Reference, target api.HeapType, nullable bool, mi *ModuleInstance) bool {
	if r.Null {
		return nullable
	}
	if target == api.HeapTypeAny || target == api.HeapTypeExtern || target == api.HeapTypeFunc {
		return true
	}
	if target < 0 {
		return r.Kind == target
	}
	for ti := mi.Types[ast.Index(r.Kind)]; ti != nil; ti = ti.Supertype {
		if api.HeapType(indexOfType(mi, ti)) == target {
			return true
		}
	}
	return false
}

func indexOfType(mi *ModuleInstance, ti *TypeInstance) int {
	for i, t := range mi.Types {
		if t == ti {
			return i
		}
	}
	return -1
}

// Index mirrors ast.Index: a namespace-relative index into one of a
// module's sections.
type Index = ast.Index

// TypeInstance is a type-section entry interned into the Store so that two
// modules with structurally identical types (including GC struct/array
// definitions with their Supertype chain) share one identity for ref.test,
// ref.cast, and call_indirect's type check, per §3 "structural identity for
// call_indirect only".
type TypeInstance struct {
	Type       *ast.FunctionType
	Composite  *ast.CompositeType
	Supertype  *TypeInstance
	definingModule *ModuleInstance
}

// FunctionInstance is a function instance in a Store (§3): a Wasm-defined
// function (Body+LocalTypes, Module reference), a host function (GoFunc
// closure), or a canonical-ABI adapter produced by the Component
// Instantiator. Exactly one of the three payload groups is populated.
type FunctionInstance struct {
	TypeID Index
	Type   *ast.FunctionType

	// Index is this function's position in its defining module's function
	// index space (imports included), the index ModuleEngine.Call dispatches on.
	Index Index

	// Wasm-defined function fields.
	Module     *ModuleInstance
	Body       []ast.Instruction
	LocalTypes []ast.ValueType

	// Host function fields.
	GoFunc api.HostFunction
	// HostModuleName/Name name the host function for stack traces.
	HostModuleName string

	// Component adapter fields; nil for every non-component function.
	Adapter *ComponentAdapter

	// Name is used in traps, stack traces, and the debug name section.
	Name string

	// index is this instance's slot in the Store's freelist-managed slice.
	index int
}

// IsHost reports whether this is a host function rather than a Wasm-defined
// or component-adapter one.
func (f *FunctionInstance) IsHost() bool { return f.GoFunc != nil }

// ComponentAdapter holds the canonical-ABI lifting/lowering metadata that a
// Component Instantiator attaches to a synthesized FunctionInstance for the
// component-model variant of instantiation.
type ComponentAdapter struct {
	CoreFunc *FunctionInstance
	Realloc  *FunctionInstance
	Memory   *MemoryInstance
	// Lift/Lower describe the record/variant/list flattening the canonical
	// ABI performs at the boundary; kept as an opaque descriptor here since
	// the shapes are defined by the Component Instantiator itself.
	Lift  any
	Lower any
}

// TableInstance represents a table of references (§3), generalized from the
// funcref-only teacher table to also hold externref and GC references: each
// slot is an api.Reference rather than an engine-private interface{}.
type TableInstance struct {
	Elements []api.Reference
	Min      uint32
	Max      uint32
	ElemType api.ValueType

	index int
}

func NewTableInstance(min, max uint32, elemType api.ValueType) *TableInstance {
	elems := make([]api.Reference, min)
	for i := range elems {
		elems[i] = api.NullRef(heapTypeForElem(elemType))
	}
	return &TableInstance{Elements: elems, Min: min, Max: max, ElemType: elemType}
}

func heapTypeForElem(t api.ValueType) api.HeapType {
	if t == api.ValueTypeExternRef {
		return api.HeapTypeExtern
	}
	return api.HeapTypeFunc
}

func (t *TableInstance) Size() uint32 { return uint32(len(t.Elements)) }

func (t *TableInstance) Grow(delta uint32, init api.Reference) (previous uint32, ok bool) {
	current := t.Size()
	if current+delta > t.Max {
		return 0, false
	}
	grown := make([]api.Reference, delta)
	for i := range grown {
		grown[i] = init
	}
	t.Elements = append(t.Elements, grown...)
	return current, true
}

// GlobalInstance represents a global variable instance (§3). Val/ValHi hold
// the raw bit pattern (ValHi only used for v128 globals); RefVal holds the
// reference payload for funcref/externref/GC-typed globals.
type GlobalInstance struct {
	Type    api.ValueType
	Mutable bool
	Val     uint64
	ValHi   uint64
	RefVal  api.Reference

	index int
}

func (g *GlobalInstance) Get() api.Value {
	if g.Type.IsRef() {
		return api.RefVal(g.RefVal, g.Type)
	}
	return api.Value{Type: g.Type, Lo: g.Val, Hi: g.ValHi}
}

func (g *GlobalInstance) Set(v api.Value) {
	if g.Type.IsRef() {
		g.RefVal = v.Ref
		return
	}
	g.Val, g.ValHi = v.Lo, v.Hi
}

// TagInstance represents an exception tag instance (§3): identified by its
// function-type signature (no results; only params carry the exception's
// payload types), used by throw/try_table to match a CatchHandler.
type TagInstance struct {
	Type *ast.FunctionType

	index int
}

// ElementInstance is the post-instantiation materialization of a passive or
// declarative element segment, addressable via table.init/elem.drop.
type ElementInstance struct {
	References []api.Reference
	Dropped    bool
}

// DataInstance is the post-instantiation materialization of a passive data
// segment, addressable via memory.init/data.drop.
type DataInstance struct {
	Bytes   []byte
	Dropped bool
}

// ExportInstance is a named, typed handle into one of a module's own
// instance slices, used both for the module's own ExportedXxx accessors and
// to resolve another module's imports against this one.
type ExportInstance struct {
	Name string
	Kind ast.ExportKind

	Function *FunctionInstance
	Table    *TableInstance
	Memory   *MemoryInstance
	Global   *GlobalInstance
	Tag      *TagInstance
}

// ModuleInstance is the runtime instantiation of a module (§3): every index
// space is fully resolved (imports included) into direct slice/pointer
// references, so the interpreter never re-resolves an import at the hot
// path. CloseWithExitCode below only touches instances this module exclusively owns.
type ModuleInstance struct {
	ModuleName string

	Types     []*TypeInstance
	Functions []*FunctionInstance
	Tables    []*TableInstance
	Memories  []*MemoryInstance
	Globals   []*GlobalInstance
	Tags      []*TagInstance
	Elements  []*ElementInstance
	Data      []*DataInstance

	Exports map[string]*ExportInstance

	// owned marks which of the above indices were allocated for (not
	// imported into) this module, so Close only releases what it created.
	OwnedFunctions []Index
	OwnedTables    []Index
	OwnedMemories  []Index
	OwnedGlobals   []Index
	OwnedTags      []Index

	Store  *Store
	Engine ModuleEngine

	closed  uint32 // atomic: 0 open, 1 closing/closed
	exitErr *HostError
}

// CallFunction invokes fn via its defining module's compiled-code engine.
// It is the one place instantiate's start-function step and the Executor
// Facade's Invoke both funnel through, so neither depends on the
// interpreter package directly (avoiding an import cycle: interpreter
// depends on core, not vice versa).
func CallFunction(ctx context.Context, fn *FunctionInstance, params []api.Value) ([]api.Value, error) {
	return fn.Module.Engine.Call(ctx, fn.Index, params)
}

func (m *ModuleInstance) Name() string { return m.ModuleName }

func (m *ModuleInstance) String() string { return "module[" + m.ModuleName + "]" }

func (m *ModuleInstance) LookupExport(name string) *ExportInstance {
	return m.Exports[name]
}

// Memory returns the module's own memory 0, matching the single-memory
// common case; multi-memory modules use LookupExport for memories beyond
// index 0.
func (m *ModuleInstance) Memory() *MemoryInstance {
	if len(m.Memories) == 0 {
		return nil
	}
	return m.Memories[0]
}

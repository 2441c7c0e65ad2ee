// Package ast holds the structured, validated representation of a WebAssembly
// module (or component) that the execution core consumes. The parser and
// validator that produce this tree are out of scope for this module: the
// core trusts that any *Module handed to it already passed validation and
// never re-checks static types.
package ast

// Index is an offset into an index space (function, table, memory, global,
// type, tag, element, data). Index spaces are preceded by imports of the
// same kind, mirroring the binary format's numbering.
type Index = uint32

// ValueType is the binary encoding of a value type, extended past the
// WebAssembly 1.0 MVP with vectors and structured reference types.
type ValueType byte

const (
	ValueTypeI32       ValueType = 0x7f
	ValueTypeI64       ValueType = 0x7e
	ValueTypeF32       ValueType = 0x7d
	ValueTypeF64       ValueType = 0x7c
	ValueTypeV128      ValueType = 0x7b
	ValueTypeFuncRef   ValueType = 0x70
	ValueTypeExternRef ValueType = 0x6f
	// ValueTypeRef is a generic "(ref null? $t)" placeholder; HeapType on the
	// carrying site (Global, local, field) disambiguates struct/array/i31/func.
	ValueTypeRef ValueType = 0x64
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncRef:
		return "funcref"
	case ValueTypeExternRef:
		return "externref"
	case ValueTypeRef:
		return "ref"
	default:
		return "unknown"
	}
}

// FunctionType is a possibly empty function signature.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

func (t *FunctionType) String() string {
	s := "("
	for i, p := range t.Params {
		if i > 0 {
			s += ","
		}
		s += p.String()
	}
	s += ")->("
	for i, r := range t.Results {
		if i > 0 {
			s += ","
		}
		s += r.String()
	}
	return s + ")"
}

// EqualsSignature reports whether the type has exactly these params/results.
func (t *FunctionType) EqualsSignature(params, results []ValueType) bool {
	if len(t.Params) != len(params) || len(t.Results) != len(results) {
		return false
	}
	for i := range params {
		if t.Params[i] != params[i] {
			return false
		}
	}
	for i := range results {
		if t.Results[i] != results[i] {
			return false
		}
	}
	return true
}

// StorageKind distinguishes GC field/element storage widths that require
// packing at the struct/array boundary.
type StorageKind byte

const (
	StorageI8 StorageKind = iota
	StorageI16
	StorageValue // full ValueType, no packing
)

// FieldType describes one field of a struct, or the element type of an array.
type FieldType struct {
	Storage   StorageKind
	ValueType ValueType // meaningful when Storage == StorageValue
	Mutable   bool
	// HeapType names the concrete GC/func/extern type when ValueType == ValueTypeRef.
	HeapType Index
	Nullable bool
}

// CompositeKind distinguishes struct and array declarations in the type section.
type CompositeKind byte

const (
	CompositeFunc CompositeKind = iota
	CompositeStruct
	CompositeArray
)

// CompositeType is a GC proposal type declaration: a struct (fixed fields),
// an array (single element type + runtime length) or a plain function type.
type CompositeType struct {
	Kind   CompositeKind
	Func   *FunctionType // Kind == CompositeFunc
	Fields []FieldType   // Kind == CompositeStruct
	Elem   FieldType     // Kind == CompositeArray
	// Supertype is the index of the declared supertype in the type section, or
	// -1 if this type has no explicit supertype (subtyping is used by ref.test/cast).
	Supertype int32
}

// LimitsType bounds a table or memory's size in units of elements/pages.
type LimitsType struct {
	Min    uint32
	Max    *uint32
	Shared bool // threads proposal: memory may be grown from multiple threads
}

// TableType declares an imported or module-defined table.
type TableType struct {
	ElemType ValueType // ValueTypeFuncRef, ValueTypeExternRef, or a typed GC ref
	HeapType Index
	Limit    LimitsType
}

// MemoryType declares an imported or module-defined memory, in pages (64KiB each).
type MemoryType = LimitsType

// GlobalType declares an imported or module-defined global.
type GlobalType struct {
	ValType  ValueType
	HeapType Index
	Mutable  bool
}

// TagType declares an exception tag's parameter signature.
type TagType struct {
	Type Index // index into the module's TypeSection, must resolve to a CompositeFunc with no results
}

// ImportKind indicates which import description is present.
type ImportKind byte

const (
	ImportKindFunc ImportKind = iota
	ImportKindTable
	ImportKindMemory
	ImportKindGlobal
	ImportKindTag
)

// Import is a single two-level-namespaced import declaration.
type Import struct {
	Kind       ImportKind
	Module     string
	Name       string
	DescFunc   Index
	DescTable  *TableType
	DescMem    *MemoryType
	DescGlobal *GlobalType
	DescTag    *TagType
}

// ExportKind indicates which index space Export.Index points into.
type ExportKind byte

const (
	ExportKindFunc ExportKind = iota
	ExportKindTable
	ExportKindMemory
	ExportKindGlobal
	ExportKindTag
)

// Export is one name -> index-space-member mapping.
type Export struct {
	Kind  ExportKind
	Name  string
	Index Index
}

// ConstantExpression is an initializer expression for a global, an
// active/passive element segment offset, or an active data segment offset.
// The engine executes it on a throwaway Stack Manager during instantiation.
type ConstantExpression struct {
	Instructions []Instruction
}

// Global is a module-defined (non-imported) global with its initializer.
type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// ElementMode distinguishes active (copied into a table at instantiation),
// passive (only usable via table.init) and declarative (only usable to keep
// ref.func targets reachable) element segments.
type ElementMode byte

const (
	ElementModeActive ElementMode = iota
	ElementModePassive
	ElementModeDeclarative
)

// ElementSegment is a vector of references plus placement metadata.
type ElementSegment struct {
	Mode       ElementMode
	TableIndex Index // meaningful when Mode == ElementModeActive
	OffsetExpr *ConstantExpression
	Type       ValueType
	// Init is a sequence of element-initializer expressions (each yields one
	// reference); the common case of bare function indices is precomputed
	// into FuncIndices for fast active-segment application.
	Init        []*ConstantExpression
	FuncIndices []Index // set only when every entry is `ref.func $i` (len(FuncIndices) == len(Init)); when non-nil it is used in place of Init.
}

// DataMode distinguishes active (copied into memory at instantiation) and
// passive (only usable via memory.init) data segments.
type DataMode byte

const (
	DataModeActive DataMode = iota
	DataModePassive
)

// DataSegment is a byte vector plus placement metadata.
type DataSegment struct {
	Mode        DataMode
	MemoryIndex Index
	OffsetExpr  *ConstantExpression
	Init        []byte
}

// Code is a function body: its local-type prelude and instruction stream.
type Code struct {
	LocalTypes []ValueType
	Body       []Instruction
}

// Module is the AST of a validated WebAssembly module (or the core module
// inside a component). Index spaces begin with imports of the same kind.
type Module struct {
	TypeSection     []*CompositeType
	ImportSection   []*Import
	FunctionSection []Index // index into TypeSection, one per module-defined function
	TableSection    []*TableType
	MemorySection   []*MemoryType
	TagSection      []*TagType
	GlobalSection   []*Global
	ExportSection   map[string]*Export
	StartSection    *Index
	ElementSection  []*ElementSegment
	CodeSection     []*Code
	DataSection     []*DataSegment

	Names *NameSection
}

// NameSection carries debug names, used only for error messages and stack traces.
type NameSection struct {
	ModuleName    string
	FunctionNames map[Index]string
	LocalNames    map[Index]map[Index]string
}

// TypeOfFunction resolves a function-index-space index to its FunctionType,
// walking past the composite-type wrapper GC types add around plain functions.
func (m *Module) TypeOfFunction(funcIdx Index) *FunctionType {
	importFuncCount := Index(0)
	for _, im := range m.ImportSection {
		if im.Kind == ImportKindFunc {
			if funcIdx == importFuncCount {
				return m.TypeSection[im.DescFunc].Func
			}
			importFuncCount++
		}
	}
	i := funcIdx - importFuncCount
	if i >= Index(len(m.FunctionSection)) {
		return nil
	}
	return m.TypeSection[m.FunctionSection[i]].Func
}

// NumImportedFuncs counts function imports, used to translate between the
// function index space and CodeSection/FunctionSection positions.
func (m *Module) NumImportedFuncs() Index {
	n := Index(0)
	for _, im := range m.ImportSection {
		if im.Kind == ImportKindFunc {
			n++
		}
	}
	return n
}

// ComponentValKind enumerates the canonical-ABI value kinds this engine's
// component-model variant understands: the scalar kinds plus string, list
// and record. Variants, flags, tuples, options and resources are not
// implemented; see the component Instantiator's doc comment.
type ComponentValKind byte

const (
	ComponentValBool ComponentValKind = iota
	ComponentValS8
	ComponentValU8
	ComponentValS16
	ComponentValU16
	ComponentValS32
	ComponentValU32
	ComponentValS64
	ComponentValU64
	ComponentValFloat32
	ComponentValFloat64
	ComponentValChar
	ComponentValString
	ComponentValList
	ComponentValRecord
)

// ComponentValType is a component-model value type: a scalar kind on its
// own, or a List (Elem) / Record (Fields) built from further
// ComponentValTypes.
type ComponentValType struct {
	Kind   ComponentValKind
	Elem   *ComponentValType      // meaningful when Kind == ComponentValList
	Fields []ComponentRecordField // meaningful when Kind == ComponentValRecord
}

// ComponentRecordField is one named field of a ComponentValRecord.
type ComponentRecordField struct {
	Name string
	Type ComponentValType
}

// ComponentNamedValType is a component-level function parameter: component
// functions name their parameters, unlike core Wasm functions.
type ComponentNamedValType struct {
	Name string
	Type ComponentValType
}

// ComponentFunctionType is a component-level function signature.
type ComponentFunctionType struct {
	Params  []ComponentNamedValType
	Results []ComponentValType
}

// CanonLift wraps one export of the embedded core module as a
// component-level function: calling it lowers component-level arguments
// into the flat core ABI, calls CoreFuncIndex, and lifts the flat core
// results back into component-level values, using MemoryIndex and the
// optional ReallocFuncIndex (both core-module index-space indices) for any
// string or list that needs linear memory.
type CanonLift struct {
	CoreFuncIndex    Index
	Type             ComponentFunctionType
	MemoryIndex      Index
	ReallocFuncIndex *Index
}

// CanonLower wraps a component-level function import as a core function the
// embedded core module can call with the plain core ABI: the mirror image
// of CanonLift, translating in the opposite direction at the same boundary.
type CanonLower struct {
	ImportIndex      Index // index into Component.Imports
	Type             ComponentFunctionType
	MemoryIndex      Index
	ReallocFuncIndex *Index
}

// ComponentImport is a component-level function the embedder or an
// already-instantiated component must supply before CanonLower can wrap it
// into one of CoreModule's function imports.
type ComponentImport struct {
	Name string
	Type ComponentFunctionType
}

// ComponentExport names one CanonLift entry as a component-level export.
type ComponentExport struct {
	Name      string
	LiftIndex Index // index into Component.Lifts
}

// Component is the AST of a validated component: a single embedded core
// module plus the canonical-ABI adapters wired around its imports and
// exports. Composing multiple core modules or nested sub-components inside
// one component is out of scope for this engine; Lowers must be
// index-aligned, in order, with CoreModule.ImportSection's function
// imports (every import the embedded core module declares must be of
// function kind).
type Component struct {
	CoreModule *Module
	Imports    []ComponentImport
	Lowers     []CanonLower
	Lifts      []CanonLift
	Exports    []ComponentExport
}

// Package api defines the value model exposed to embedders and shared
// across the execution core: the tagged Value/Reference union (module A
// of the design), value-type constants and the bit-exact encode/decode
// helpers between Go native types and their Wasm on-stack representation.
package api

import "math"

// ValueType describes the static type of a Value.
type ValueType byte

const (
	ValueTypeI32 ValueType = iota
	ValueTypeI64
	ValueTypeF32
	ValueTypeF64
	ValueTypeV128
	ValueTypeFuncRef
	ValueTypeExternRef
	// ValueTypeGCRef covers struct, array and i31 references; the concrete
	// heap type travels with the Reference itself, not the static ValueType.
	ValueTypeGCRef
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
	case ValueTypeGCRef:
		return "gcref"
	default:
		return "unknown"
	}
}

// IsNativeNum reports whether t is one of the four scalar numeric types
// that map directly onto a native Go arithmetic type (i32, i64, f32, f64).
func (t ValueType) IsNativeNum() bool {
	return t == ValueTypeI32 || t == ValueTypeI64 || t == ValueTypeF32 || t == ValueTypeF64
}

// IsInt reports whether t is i32 or i64.
func (t ValueType) IsInt() bool { return t == ValueTypeI32 || t == ValueTypeI64 }

// IsFloat reports whether t is f32 or f64.
func (t ValueType) IsFloat() bool { return t == ValueTypeF32 || t == ValueTypeF64 }

// IsRef reports whether t carries a Reference rather than a numeric bit pattern.
func (t ValueType) IsRef() bool {
	return t == ValueTypeFuncRef || t == ValueTypeExternRef || t == ValueTypeGCRef
}

// RefKind tags the variant a non-null Reference carries.
type RefKind byte

const (
	RefKindNull RefKind = iota
	RefKindFunc
	RefKindExtern
	RefKindStruct
	RefKindArray
	RefKindI31
)

// HeapType names the dynamic type of a Reference. For RefKindFunc/Struct/Array
// this is a type-section index scoped to the owning module; it is preserved
// across every pass so ref.test/ref.cast remain well-defined per §3.
type HeapType int32

const (
	// HeapTypeFunc/Extern/Any/None are abstract heap types with no concrete
	// type-section entry; RefKindNull references carry one of these so a
	// null still remembers what it is null "of".
	HeapTypeFunc   HeapType = -1
	HeapTypeExtern HeapType = -2
	HeapTypeAny    HeapType = -3
	HeapTypeNone   HeapType = -4
	HeapTypeI31    HeapType = -5
)

// Reference is the tagged union described in §3: null of a given heap type,
// a function reference (module-relative index or host handle), an extern
// reference (opaque host value), or a GC reference (struct/array handle or
// an inline i31 integer).
//
// GCObject and Module are declared as `any` here because the Value Model is
// the leaf-most component (§4.A) and must not import the Store; the owning
// packages (internal/core, internal/core/gc) type-assert back to their own
// concrete types.
type Reference struct {
	Kind HeapType

	Null bool

	// FuncModule + FuncIndex address a Wasm function relative to a module
	// instance; HostFunc holds a bound host function handle instead when set.
	FuncModule any
	FuncIndex  uint32
	HostFunc   any

	// Extern holds an opaque host-owned value.
	Extern any

	// GCObject is an opaque handle into the Store's GC arena (a struct or
	// array handle); see internal/core/gc.
	GCObject any

	// I31 holds the inline 31-bit signed integer for RefKindI31 references.
	I31 int32

	kind RefKind
}

// VariantKind reports which branch of the Reference union is populated.
func (r Reference) VariantKind() RefKind {
	if r.Null {
		return RefKindNull
	}
	return r.kind
}

// NullRef constructs a null reference of the given heap type.
func NullRef(heapType HeapType) Reference {
	return Reference{Kind: heapType, Null: true}
}

// FuncRef constructs a reference to a Wasm-defined function.
func FuncRef(module any, index uint32, heapType HeapType) Reference {
	return Reference{Kind: heapType, kind: RefKindFunc, FuncModule: module, FuncIndex: index}
}

// HostFuncRef constructs a reference to a host function handle.
func HostFuncRef(handle any, heapType HeapType) Reference {
	return Reference{Kind: heapType, kind: RefKindFunc, HostFunc: handle}
}

// ExternRef constructs an opaque host reference.
func ExternRef(v any) Reference {
	return Reference{Kind: HeapTypeExtern, kind: RefKindExtern, Extern: v}
}

// StructRef / ArrayRef construct GC object references.
func StructRef(handle any, heapType HeapType) Reference {
	return Reference{Kind: heapType, kind: RefKindStruct, GCObject: handle}
}

func ArrayRef(handle any, heapType HeapType) Reference {
	return Reference{Kind: heapType, kind: RefKindArray, GCObject: handle}
}

// I31Ref constructs an inline i31 reference; only the low 31 bits are significant.
func I31Ref(v int32) Reference {
	return Reference{Kind: HeapTypeI31, kind: RefKindI31, I31: v << 1 >> 1}
}

// Value is the tagged union described in §3: i32, i64, f32, f64, a 128-bit
// vector, or a Reference. Scalars are stored as their bit pattern in Lo
// (sign/zero-extended as appropriate); vectors use both Lo and Hi.
type Value struct {
	Type ValueType
	Lo   uint64
	Hi   uint64
	Ref  Reference
}

func I32(v int32) Value  { return Value{Type: ValueTypeI32, Lo: uint64(uint32(v))} }
func I64(v int64) Value  { return Value{Type: ValueTypeI64, Lo: uint64(v)} }
func F32(v float32) Value {
	return Value{Type: ValueTypeF32, Lo: uint64(math.Float32bits(v))}
}
func F64(v float64) Value { return Value{Type: ValueTypeF64, Lo: math.Float64bits(v)} }
func V128(lo, hi uint64) Value {
	return Value{Type: ValueTypeV128, Lo: lo, Hi: hi}
}
func RefVal(r Reference, staticType ValueType) Value {
	return Value{Type: staticType, Ref: r}
}

func (v Value) I32() int32     { return int32(uint32(v.Lo)) }
func (v Value) U32() uint32    { return uint32(v.Lo) }
func (v Value) I64() int64     { return int64(v.Lo) }
func (v Value) U64() uint64    { return v.Lo }
func (v Value) F32() float32   { return math.Float32frombits(uint32(v.Lo)) }
func (v Value) F64() float64   { return math.Float64frombits(v.Lo) }
func (v Value) V128() (uint64, uint64) { return v.Lo, v.Hi }

// PackVal converts a wider logical value into its storage form for an i8/i16
// struct or array field. Only the low 8/16 bits are retained; the caller is
// responsible for having validated the field's declared width.
func PackVal(width int, v uint64) uint64 {
	switch width {
	case 8:
		return v & 0xff
	case 16:
		return v & 0xffff
	default:
		return v
	}
}

// UnpackVal converts a packed i8/i16 storage cell back to a logical 32-bit
// value, sign-extending when signed is true (struct.get_s / array.get_s) or
// zero-extending otherwise (struct.get_u / array.get_u).
func UnpackVal(width int, v uint64, signed bool) uint64 {
	switch width {
	case 8:
		b := byte(v)
		if signed {
			return uint64(uint32(int32(int8(b))))
		}
		return uint64(b)
	case 16:
		h := uint16(v)
		if signed {
			return uint64(uint32(int32(int16(h))))
		}
		return uint64(h)
	default:
		return v
	}
}

// CleanNumericVal clears any bits above the logical width of a scalar so
// unused high bits never leak into a typed observation, per §3's invariant
// that "unused high bits ... must be cleared before typed observation".
func CleanNumericVal(t ValueType, v uint64) uint64 {
	switch t {
	case ValueTypeI32, ValueTypeF32:
		return v & 0xffffffff
	default:
		return v
	}
}

package ast

// Op is an abstract instruction opcode. Unlike the WebAssembly binary format,
// Op is not byte-sized: prefixed opcodes (0xFC bulk-memory/GC, 0xFD SIMD,
// 0xFE atomics) are given their own values since decoding is out of scope
// here, the AST already carries one Op per instruction.
type Op uint16

const (
	OpUnreachable Op = iota
	OpNop
	OpBlock
	OpLoop
	OpIf
	OpElse
	OpEnd
	OpBr
	OpBrIf
	OpBrTable
	OpReturn
	OpCall
	OpCallIndirect
	OpCallRef
	OpReturnCall         // tail call
	OpReturnCallIndirect // tail call
	OpReturnCallRef      // tail call
	OpDrop
	OpSelect
	OpSelectT

	// variable
	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet

	// reference
	OpRefNull
	OpRefIsNull
	OpRefFunc
	OpRefEq
	OpRefAsNonNull
	OpRefTest
	OpRefCast
	OpBrOnNull
	OpBrOnNonNull
	OpBrOnCast
	OpBrOnCastFail

	// exceptions
	OpTryTable
	OpThrow
	OpThrowRef

	// GC
	OpStructNew
	OpStructNewDefault
	OpStructGet
	OpStructGetS
	OpStructGetU
	OpStructSet
	OpArrayNew
	OpArrayNewDefault
	OpArrayNewFixed
	OpArrayNewData
	OpArrayNewElem
	OpArrayGet
	OpArrayGetS
	OpArrayGetU
	OpArraySet
	OpArrayLen
	OpArrayFill
	OpArrayCopy
	OpArrayInitData
	OpArrayInitElem
	OpAnyConvertExtern
	OpExternConvertAny
	OpI31New
	OpI31GetS
	OpI31GetU

	// table
	OpTableGet
	OpTableSet
	OpTableInit
	OpElemDrop
	OpTableCopy
	OpTableGrow
	OpTableSize
	OpTableFill

	// memory
	OpLoad
	OpStore
	OpMemorySize
	OpMemoryGrow
	OpMemoryInit
	OpDataDrop
	OpMemoryCopy
	OpMemoryFill

	// numeric const
	OpI32Const
	OpI64Const
	OpF32Const
	OpF64Const
	OpV128Const

	// numeric (unary/binary/compare/convert), distinguished by NumOp in Instruction
	OpNumeric

	// vector (SIMD), distinguished by VecOp in Instruction
	OpVector

	// atomics, distinguished by AtomicOp in Instruction
	OpAtomic
)

// NumOp enumerates the scalar numeric operators. The interpreter dispatches
// on (NumOp, NumKind) rather than allocating one opcode per
// type/size combination, per the engine's "deep per-opcode template
// specialisation should be re-expressed as a small generic operation" design.
type NumOp uint16

const (
	NumEqz NumOp = iota
	NumEq
	NumNe
	NumLtS
	NumLtU
	NumGtS
	NumGtU
	NumLeS
	NumLeU
	NumGeS
	NumGeU
	NumLt // float
	NumGt
	NumLe
	NumGe
	NumClz
	NumCtz
	NumPopcnt
	NumAdd
	NumSub
	NumMul
	NumDivS
	NumDivU
	NumRemS
	NumRemU
	NumAnd
	NumOr
	NumXor
	NumShl
	NumShrS
	NumShrU
	NumRotl
	NumRotr
	NumAbs
	NumNeg
	NumCeil
	NumFloor
	NumTrunc
	NumNearest
	NumSqrt
	NumDiv
	NumMin
	NumMax
	NumCopysign
	// conversions
	NumWrap
	NumExtendS
	NumExtendU
	NumExtend8S
	NumExtend16S
	NumExtend32S
	NumTruncF32S
	NumTruncF32U
	NumTruncF64S
	NumTruncF64U
	NumTruncSatF32S
	NumTruncSatF32U
	NumTruncSatF64S
	NumTruncSatF64U
	NumConvertI32S
	NumConvertI32U
	NumConvertI64S
	NumConvertI64U
	NumDemote
	NumPromote
	NumReinterpret
)

// NumKind is the operand/result kind a NumOp is parameterized over.
type NumKind byte

const (
	KindI32 NumKind = iota
	KindI64
	KindF32
	KindF64
)

// AtomicOp enumerates the atomic memory operators.
type AtomicOp uint16

const (
	AtomicLoad AtomicOp = iota
	AtomicStore
	AtomicRmwAdd
	AtomicRmwSub
	AtomicRmwAnd
	AtomicRmwOr
	AtomicRmwXor
	AtomicRmwXchg
	AtomicRmwCmpxchg
	AtomicWait
	AtomicNotify
	AtomicFence
)

// VecOp enumerates the subset of SIMD operators this engine implements. The
// table-driven dispatch (VecOp, lane kind, lane count) generalizes the same
// way NumOp does, so adding further lanewise ops is a table entry, not a
// new function.
type VecOp uint16

const (
	VecSplat VecOp = iota
	VecExtractLaneS
	VecExtractLaneU
	VecReplaceLane
	VecAdd
	VecSub
	VecMul
	VecDiv // float only
	VecNeg
	VecMin
	VecMax
	VecAbs
	VecSqrt
	VecAnd
	VecOr
	VecXor
	VecNot
	VecAllTrue
	VecBitmask
	VecEq
	VecNe
	VecLtS
	VecLtU
	VecGtS
	VecGtU
	VecShuffle
)

// LaneKind names the lane interpretation for a vector op.
type LaneKind byte

const (
	LaneI8x16 LaneKind = iota
	LaneI16x8
	LaneI32x4
	LaneI64x2
	LaneF32x4
	LaneF64x2
)

// MemArg is the static offset/alignment immediate shared by load/store/atomic ops.
type MemArg struct {
	Offset uint64
	Align  uint32 // log2 of the natural alignment the compiler assumed
	// MemoryIndex is almost always 0; kept for the multi-memory extension.
	MemoryIndex Index
}

// CatchHandler is one entry of a try_table's handler list.
type CatchHandler struct {
	// Tag is the tag index to match, or nil for catch_all.
	Tag *Index
	// CatchRef additionally pushes the active exception reference (catch_ref / catch_all_ref).
	CatchRef bool
	// LabelIndex is the relative label depth the handler transfers control to,
	// exactly like a br of that depth once the payload is pushed.
	LabelIndex Index
}

// BlockType is the signature of a block/loop/if/try_table.
type BlockType struct {
	Params  []ValueType
	Results []ValueType
}

// Instruction is one decoded instruction in a function body or constant
// expression. Only the fields relevant to Op are populated; the interpreter
// never reads a field outside of what its Op implies, since validation
// already guarantees the shape.
type Instruction struct {
	Op Op

	NumOp    NumOp
	NumKind  NumKind
	AtomicOp AtomicOp
	VecOp    VecOp
	Lane     LaneKind
	LaneIdx  byte

	Index  Index // local/global/func/table/type/tag/elem/data index, or branch label depth
	Index2 Index // call_indirect's type index (Index is the table), struct/array field index (Index is the type)

	I32Const  int32
	I64Const  int64
	F32Const  float32
	F64Const  float64
	V128Const [16]byte

	Mem MemArg

	// BrTable
	Targets []Index
	Default Index

	Block    *BlockType
	Handlers []CatchHandler

	// jump targets, supplied by whoever builds the instruction sequence; the
	// interpreter uses them as given.
	ElseAt Index
	EndAt  Index

	// SelectT operand type list.
	SelectTypes []ValueType
}

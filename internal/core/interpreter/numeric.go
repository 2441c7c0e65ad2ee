// Package interpreter is the PC-based tree-walking Interpreter (module E):
// a single dispatch loop over ast.Instruction driven by a stack.Frames/
// stack.Operands pair, generalized from per-opcode functions into small
// operations parameterized by (ast.NumOp, ast.NumKind) / ast.AtomicOp /
// ast.VecOp, per the engine's explicit design note that "deep per-opcode
// template specialisation should be re-expressed as a small generic
// operation parameterised by numeric kind and width".
//
// Grounded on the legacy tree-walking VM's per-opcode dispatch functions
// (wasm/vm_num.go, wasm/vm_control.go, wasm/vm_memory.go): same semantics,
// collapsed from ~200 hand-written functions into one table-driven core.
package interpreter

import (
	"math"
	"math/bits"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
	"github.com/wazexec/wazexec/internal/moremath"
)

// execNumeric performs one ast.OpNumeric instruction against the operand
// stack, dispatching on (insn.NumOp, insn.NumKind). It returns a non-nil
// *core.Trap only for the operations that can fault: integer division,
// remainder, and the non-saturating float-to-int conversions.
func execNumeric(ops operandStack, insn ast.Instruction) *core.Trap {
	switch insn.NumKind {
	case ast.KindI32:
		return execNumI32(ops, insn.NumOp)
	case ast.KindI64:
		return execNumI64(ops, insn.NumOp)
	case ast.KindF32:
		return execNumF32(ops, insn.NumOp)
	case ast.KindF64:
		return execNumF64(ops, insn.NumOp)
	}
	return nil
}

// operandStack is the narrow interface numeric.go needs from stack.Operands,
// letting this file avoid a direct dependency on the exact stack.Operands
// struct layout.
type operandStack interface {
	Push(api.Value)
	Pop() api.Value
	PushBool(bool)
}

func popI32(o operandStack) int32   { return o.Pop().I32() }
func popU32(o operandStack) uint32  { return o.Pop().U32() }
func popI64(o operandStack) int64   { return o.Pop().I64() }
func popU64(o operandStack) uint64  { return o.Pop().U64() }
func popF32(o operandStack) float32 { return o.Pop().F32() }
func popF64(o operandStack) float64 { return o.Pop().F64() }

func execNumI32(o operandStack, op ast.NumOp) *core.Trap {
	switch op {
	case ast.NumEqz:
		o.PushBool(popI32(o) == 0)
	case ast.NumEq:
		v2, v1 := popI32(o), popI32(o)
		o.PushBool(v1 == v2)
	case ast.NumNe:
		v2, v1 := popI32(o), popI32(o)
		o.PushBool(v1 != v2)
	case ast.NumLtS:
		v2, v1 := popI32(o), popI32(o)
		o.PushBool(v1 < v2)
	case ast.NumLtU:
		v2, v1 := popU32(o), popU32(o)
		o.PushBool(v1 < v2)
	case ast.NumGtS:
		v2, v1 := popI32(o), popI32(o)
		o.PushBool(v1 > v2)
	case ast.NumGtU:
		v2, v1 := popU32(o), popU32(o)
		o.PushBool(v1 > v2)
	case ast.NumLeS:
		v2, v1 := popI32(o), popI32(o)
		o.PushBool(v1 <= v2)
	case ast.NumLeU:
		v2, v1 := popU32(o), popU32(o)
		o.PushBool(v1 <= v2)
	case ast.NumGeS:
		v2, v1 := popI32(o), popI32(o)
		o.PushBool(v1 >= v2)
	case ast.NumGeU:
		v2, v1 := popU32(o), popU32(o)
		o.PushBool(v1 >= v2)
	case ast.NumClz:
		o.Push(api.I32(int32(bits.LeadingZeros32(popU32(o)))))
	case ast.NumCtz:
		o.Push(api.I32(int32(bits.TrailingZeros32(popU32(o)))))
	case ast.NumPopcnt:
		o.Push(api.I32(int32(bits.OnesCount32(popU32(o)))))
	case ast.NumAdd:
		v2, v1 := popU32(o), popU32(o)
		o.Push(api.I32(int32(v1 + v2)))
	case ast.NumSub:
		v2, v1 := popU32(o), popU32(o)
		o.Push(api.I32(int32(v1 - v2)))
	case ast.NumMul:
		v2, v1 := popU32(o), popU32(o)
		o.Push(api.I32(int32(v1 * v2)))
	case ast.NumDivS:
		v2, v1 := popI32(o), popI32(o)
		if v2 == 0 {
			return core.NewTrap(core.TrapIntegerDivideByZero, "i32.div_s")
		}
		if v1 == math.MinInt32 && v2 == -1 {
			return core.NewTrap(core.TrapIntegerOverflow, "i32.div_s")
		}
		o.Push(api.I32(v1 / v2))
	case ast.NumDivU:
		v2, v1 := popU32(o), popU32(o)
		if v2 == 0 {
			return core.NewTrap(core.TrapIntegerDivideByZero, "i32.div_u")
		}
		o.Push(api.I32(int32(v1 / v2)))
	case ast.NumRemS:
		v2, v1 := popI32(o), popI32(o)
		if v2 == 0 {
			return core.NewTrap(core.TrapIntegerDivideByZero, "i32.rem_s")
		}
		if v2 == -1 {
			o.Push(api.I32(0))
		} else {
			o.Push(api.I32(v1 % v2))
		}
	case ast.NumRemU:
		v2, v1 := popU32(o), popU32(o)
		if v2 == 0 {
			return core.NewTrap(core.TrapIntegerDivideByZero, "i32.rem_u")
		}
		o.Push(api.I32(int32(v1 % v2)))
	case ast.NumAnd:
		v2, v1 := popU32(o), popU32(o)
		o.Push(api.I32(int32(v1 & v2)))
	case ast.NumOr:
		v2, v1 := popU32(o), popU32(o)
		o.Push(api.I32(int32(v1 | v2)))
	case ast.NumXor:
		v2, v1 := popU32(o), popU32(o)
		o.Push(api.I32(int32(v1 ^ v2)))
	case ast.NumShl:
		v2, v1 := popU32(o), popU32(o)
		o.Push(api.I32(int32(v1 << (v2 % 32))))
	case ast.NumShrS:
		v2, v1 := popU32(o), popI32(o)
		o.Push(api.I32(v1 >> (v2 % 32)))
	case ast.NumShrU:
		v2, v1 := popU32(o), popU32(o)
		o.Push(api.I32(int32(v1 >> (v2 % 32))))
	case ast.NumRotl:
		v2, v1 := popU32(o), popU32(o)
		o.Push(api.I32(int32(bits.RotateLeft32(v1, int(v2)))))
	case ast.NumRotr:
		v2, v1 := popU32(o), popU32(o)
		o.Push(api.I32(int32(bits.RotateLeft32(v1, -int(v2)))))
	case ast.NumExtend8S:
		o.Push(api.I32(int32(int8(popI32(o)))))
	case ast.NumExtend16S:
		o.Push(api.I32(int32(int16(popI32(o)))))
	case ast.NumWrap:
		o.Push(api.I32(int32(uint32(popU64(o)))))
	case ast.NumTruncF32S:
		v := popF32(o)
		if math.IsNaN(float64(v)) || v < -2147483648 || v >= 2147483648 {
			return core.NewTrap(core.TrapInvalidConversionToInteger, "i32.trunc_f32_s")
		}
		o.Push(api.I32(int32(v)))
	case ast.NumTruncF32U:
		v := popF32(o)
		if math.IsNaN(float64(v)) || v < 0 || v >= 4294967296 {
			return core.NewTrap(core.TrapInvalidConversionToInteger, "i32.trunc_f32_u")
		}
		o.Push(api.I32(int32(uint32(v))))
	case ast.NumTruncF64S:
		v := popF64(o)
		if math.IsNaN(v) || v < -2147483648 || v >= 2147483648 {
			return core.NewTrap(core.TrapInvalidConversionToInteger, "i32.trunc_f64_s")
		}
		o.Push(api.I32(int32(v)))
	case ast.NumTruncF64U:
		v := popF64(o)
		if math.IsNaN(v) || v < 0 || v >= 4294967296 {
			return core.NewTrap(core.TrapInvalidConversionToInteger, "i32.trunc_f64_u")
		}
		o.Push(api.I32(int32(uint32(v))))
	case ast.NumTruncSatF32S:
		o.Push(api.I32(truncSatS32(float64(popF32(o)))))
	case ast.NumTruncSatF32U:
		o.Push(api.I32(int32(truncSatU32(float64(popF32(o))))))
	case ast.NumTruncSatF64S:
		o.Push(api.I32(truncSatS32(popF64(o))))
	case ast.NumTruncSatF64U:
		o.Push(api.I32(int32(truncSatU32(popF64(o)))))
	case ast.NumReinterpret:
		o.Push(api.I32(int32(math.Float32bits(popF32(o)))))
	}
	return nil
}

func execNumI64(o operandStack, op ast.NumOp) *core.Trap {
	switch op {
	case ast.NumEqz:
		o.PushBool(popI64(o) == 0)
	case ast.NumEq:
		v2, v1 := popI64(o), popI64(o)
		o.PushBool(v1 == v2)
	case ast.NumNe:
		v2, v1 := popI64(o), popI64(o)
		o.PushBool(v1 != v2)
	case ast.NumLtS:
		v2, v1 := popI64(o), popI64(o)
		o.PushBool(v1 < v2)
	case ast.NumLtU:
		v2, v1 := popU64(o), popU64(o)
		o.PushBool(v1 < v2)
	case ast.NumGtS:
		v2, v1 := popI64(o), popI64(o)
		o.PushBool(v1 > v2)
	case ast.NumGtU:
		v2, v1 := popU64(o), popU64(o)
		o.PushBool(v1 > v2)
	case ast.NumLeS:
		v2, v1 := popI64(o), popI64(o)
		o.PushBool(v1 <= v2)
	case ast.NumLeU:
		v2, v1 := popU64(o), popU64(o)
		o.PushBool(v1 <= v2)
	case ast.NumGeS:
		v2, v1 := popI64(o), popI64(o)
		o.PushBool(v1 >= v2)
	case ast.NumGeU:
		v2, v1 := popU64(o), popU64(o)
		o.PushBool(v1 >= v2)
	case ast.NumClz:
		o.Push(api.I64(int64(bits.LeadingZeros64(popU64(o)))))
	case ast.NumCtz:
		o.Push(api.I64(int64(bits.TrailingZeros64(popU64(o)))))
	case ast.NumPopcnt:
		o.Push(api.I64(int64(bits.OnesCount64(popU64(o)))))
	case ast.NumAdd:
		v2, v1 := popU64(o), popU64(o)
		o.Push(api.I64(int64(v1 + v2)))
	case ast.NumSub:
		v2, v1 := popU64(o), popU64(o)
		o.Push(api.I64(int64(v1 - v2)))
	case ast.NumMul:
		v2, v1 := popU64(o), popU64(o)
		o.Push(api.I64(int64(v1 * v2)))
	case ast.NumDivS:
		v2, v1 := popI64(o), popI64(o)
		if v2 == 0 {
			return core.NewTrap(core.TrapIntegerDivideByZero, "i64.div_s")
		}
		if v1 == math.MinInt64 && v2 == -1 {
			return core.NewTrap(core.TrapIntegerOverflow, "i64.div_s")
		}
		o.Push(api.I64(v1 / v2))
	case ast.NumDivU:
		v2, v1 := popU64(o), popU64(o)
		if v2 == 0 {
			return core.NewTrap(core.TrapIntegerDivideByZero, "i64.div_u")
		}
		o.Push(api.I64(int64(v1 / v2)))
	case ast.NumRemS:
		v2, v1 := popI64(o), popI64(o)
		if v2 == 0 {
			return core.NewTrap(core.TrapIntegerDivideByZero, "i64.rem_s")
		}
		if v2 == -1 {
			o.Push(api.I64(0))
		} else {
			o.Push(api.I64(v1 % v2))
		}
	case ast.NumRemU:
		v2, v1 := popU64(o), popU64(o)
		if v2 == 0 {
			return core.NewTrap(core.TrapIntegerDivideByZero, "i64.rem_u")
		}
		o.Push(api.I64(int64(v1 % v2)))
	case ast.NumAnd:
		v2, v1 := popU64(o), popU64(o)
		o.Push(api.I64(int64(v1 & v2)))
	case ast.NumOr:
		v2, v1 := popU64(o), popU64(o)
		o.Push(api.I64(int64(v1 | v2)))
	case ast.NumXor:
		v2, v1 := popU64(o), popU64(o)
		o.Push(api.I64(int64(v1 ^ v2)))
	case ast.NumShl:
		v2, v1 := popU64(o), popU64(o)
		o.Push(api.I64(int64(v1 << (v2 % 64))))
	case ast.NumShrS:
		v2, v1 := popU64(o), popI64(o)
		o.Push(api.I64(v1 >> (v2 % 64)))
	case ast.NumShrU:
		v2, v1 := popU64(o), popU64(o)
		o.Push(api.I64(int64(v1 >> (v2 % 64))))
	case ast.NumRotl:
		v2, v1 := popU64(o), popU64(o)
		o.Push(api.I64(int64(bits.RotateLeft64(v1, int(v2)))))
	case ast.NumRotr:
		v2, v1 := popU64(o), popU64(o)
		o.Push(api.I64(int64(bits.RotateLeft64(v1, -int(v2)))))
	case ast.NumExtend8S:
		o.Push(api.I64(int64(int8(popI64(o)))))
	case ast.NumExtend16S:
		o.Push(api.I64(int64(int16(popI64(o)))))
	case ast.NumExtend32S:
		o.Push(api.I64(int64(int32(popI64(o)))))
	case ast.NumExtendS:
		o.Push(api.I64(int64(int32(popI32(o)))))
	case ast.NumExtendU:
		o.Push(api.I64(int64(popU32(o))))
	case ast.NumTruncF32S:
		v := popF32(o)
		if math.IsNaN(float64(v)) || v < -9223372036854775808 || v >= 9223372036854775808 {
			return core.NewTrap(core.TrapInvalidConversionToInteger, "i64.trunc_f32_s")
		}
		o.Push(api.I64(int64(v)))
	case ast.NumTruncF32U:
		v := popF32(o)
		if math.IsNaN(float64(v)) || v < 0 || v >= 18446744073709551616 {
			return core.NewTrap(core.TrapInvalidConversionToInteger, "i64.trunc_f32_u")
		}
		o.Push(api.I64(int64(uint64(v))))
	case ast.NumTruncF64S:
		v := popF64(o)
		if math.IsNaN(v) || v < -9223372036854775808 || v >= 9223372036854775808 {
			return core.NewTrap(core.TrapInvalidConversionToInteger, "i64.trunc_f64_s")
		}
		o.Push(api.I64(int64(v)))
	case ast.NumTruncF64U:
		v := popF64(o)
		if math.IsNaN(v) || v < 0 || v >= 18446744073709551616 {
			return core.NewTrap(core.TrapInvalidConversionToInteger, "i64.trunc_f64_u")
		}
		o.Push(api.I64(int64(uint64(v))))
	case ast.NumTruncSatF32S:
		o.Push(api.I64(truncSatS64(float64(popF32(o)))))
	case ast.NumTruncSatF32U:
		o.Push(api.I64(int64(truncSatU64(float64(popF32(o))))))
	case ast.NumTruncSatF64S:
		o.Push(api.I64(truncSatS64(popF64(o))))
	case ast.NumTruncSatF64U:
		o.Push(api.I64(int64(truncSatU64(popF64(o)))))
	case ast.NumReinterpret:
		o.Push(api.I64(int64(math.Float64bits(popF64(o)))))
	}
	return nil
}

func execNumF32(o operandStack, op ast.NumOp) *core.Trap {
	switch op {
	case ast.NumEq:
		v2, v1 := popF32(o), popF32(o)
		o.PushBool(v1 == v2)
	case ast.NumNe:
		v2, v1 := popF32(o), popF32(o)
		o.PushBool(v1 != v2)
	case ast.NumLt:
		v2, v1 := popF32(o), popF32(o)
		o.PushBool(v1 < v2)
	case ast.NumGt:
		v2, v1 := popF32(o), popF32(o)
		o.PushBool(v1 > v2)
	case ast.NumLe:
		v2, v1 := popF32(o), popF32(o)
		o.PushBool(v1 <= v2)
	case ast.NumGe:
		v2, v1 := popF32(o), popF32(o)
		o.PushBool(v1 >= v2)
	case ast.NumAbs:
		o.Push(api.F32(float32(math.Abs(float64(popF32(o))))))
	case ast.NumNeg:
		o.Push(api.F32(-popF32(o)))
	case ast.NumCeil:
		o.Push(api.F32(float32(math.Ceil(float64(popF32(o))))))
	case ast.NumFloor:
		o.Push(api.F32(float32(math.Floor(float64(popF32(o))))))
	case ast.NumTrunc:
		o.Push(api.F32(float32(math.Trunc(float64(popF32(o))))))
	case ast.NumNearest:
		o.Push(api.F32(moremath.WasmCompatNearestF32(popF32(o))))
	case ast.NumSqrt:
		o.Push(api.F32(float32(math.Sqrt(float64(popF32(o))))))
	case ast.NumAdd:
		v2, v1 := popF32(o), popF32(o)
		o.Push(api.F32(v1 + v2))
	case ast.NumSub:
		v2, v1 := popF32(o), popF32(o)
		o.Push(api.F32(v1 - v2))
	case ast.NumMul:
		v2, v1 := popF32(o), popF32(o)
		o.Push(api.F32(v1 * v2))
	case ast.NumDiv:
		v2, v1 := popF32(o), popF32(o)
		o.Push(api.F32(v1 / v2))
	case ast.NumMin:
		v2, v1 := popF32(o), popF32(o)
		o.Push(api.F32(float32(moremath.WasmCompatMin(float64(v1), float64(v2)))))
	case ast.NumMax:
		v2, v1 := popF32(o), popF32(o)
		o.Push(api.F32(float32(moremath.WasmCompatMax(float64(v1), float64(v2)))))
	case ast.NumCopysign:
		v2, v1 := popF32(o), popF32(o)
		o.Push(api.F32(float32(math.Copysign(float64(v1), float64(v2)))))
	case ast.NumDemote:
		o.Push(api.F32(float32(popF64(o))))
	case ast.NumConvertI32S:
		o.Push(api.F32(float32(popI32(o))))
	case ast.NumConvertI32U:
		o.Push(api.F32(float32(popU32(o))))
	case ast.NumConvertI64S:
		o.Push(api.F32(float32(popI64(o))))
	case ast.NumConvertI64U:
		o.Push(api.F32(float32(popU64(o))))
	case ast.NumReinterpret:
		o.Push(api.F32(math.Float32frombits(popU32(o))))
	}
	return nil
}

func execNumF64(o operandStack, op ast.NumOp) *core.Trap {
	switch op {
	case ast.NumEq:
		v2, v1 := popF64(o), popF64(o)
		o.PushBool(v1 == v2)
	case ast.NumNe:
		v2, v1 := popF64(o), popF64(o)
		o.PushBool(v1 != v2)
	case ast.NumLt:
		v2, v1 := popF64(o), popF64(o)
		o.PushBool(v1 < v2)
	case ast.NumGt:
		v2, v1 := popF64(o), popF64(o)
		o.PushBool(v1 > v2)
	case ast.NumLe:
		v2, v1 := popF64(o), popF64(o)
		o.PushBool(v1 <= v2)
	case ast.NumGe:
		v2, v1 := popF64(o), popF64(o)
		o.PushBool(v1 >= v2)
	case ast.NumAbs:
		o.Push(api.F64(math.Abs(popF64(o))))
	case ast.NumNeg:
		o.Push(api.F64(-popF64(o)))
	case ast.NumCeil:
		o.Push(api.F64(math.Ceil(popF64(o))))
	case ast.NumFloor:
		o.Push(api.F64(math.Floor(popF64(o))))
	case ast.NumTrunc:
		o.Push(api.F64(math.Trunc(popF64(o))))
	case ast.NumNearest:
		o.Push(api.F64(moremath.WasmCompatNearestF64(popF64(o))))
	case ast.NumSqrt:
		o.Push(api.F64(math.Sqrt(popF64(o))))
	case ast.NumAdd:
		v2, v1 := popF64(o), popF64(o)
		o.Push(api.F64(v1 + v2))
	case ast.NumSub:
		v2, v1 := popF64(o), popF64(o)
		o.Push(api.F64(v1 - v2))
	case ast.NumMul:
		v2, v1 := popF64(o), popF64(o)
		o.Push(api.F64(v1 * v2))
	case ast.NumDiv:
		v2, v1 := popF64(o), popF64(o)
		o.Push(api.F64(v1 / v2))
	case ast.NumMin:
		v2, v1 := popF64(o), popF64(o)
		o.Push(api.F64(moremath.WasmCompatMin(v1, v2)))
	case ast.NumMax:
		v2, v1 := popF64(o), popF64(o)
		o.Push(api.F64(moremath.WasmCompatMax(v1, v2)))
	case ast.NumCopysign:
		v2, v1 := popF64(o), popF64(o)
		o.Push(api.F64(math.Copysign(v1, v2)))
	case ast.NumPromote:
		o.Push(api.F64(float64(popF32(o))))
	case ast.NumConvertI32S:
		o.Push(api.F64(float64(popI32(o))))
	case ast.NumConvertI32U:
		o.Push(api.F64(float64(popU32(o))))
	case ast.NumConvertI64S:
		o.Push(api.F64(float64(popI64(o))))
	case ast.NumConvertI64U:
		o.Push(api.F64(float64(popU64(o))))
	case ast.NumReinterpret:
		o.Push(api.F64(math.Float64frombits(popU64(o))))
	}
	return nil
}

func truncSatS32(v float64) int32 {
	if math.IsNaN(v) {
		return 0
	}
	if v <= -2147483649 {
		return math.MinInt32
	}
	if v >= 2147483648 {
		return math.MaxInt32
	}
	return int32(v)
}

func truncSatU32(v float64) uint32 {
	if math.IsNaN(v) || v <= -1 {
		return 0
	}
	if v >= 4294967296 {
		return math.MaxUint32
	}
	return uint32(v)
}

func truncSatS64(v float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	if v <= -9223372036854775808 {
		return math.MinInt64
	}
	if v >= 9223372036854775808 {
		return math.MaxInt64
	}
	return int64(v)
}

func truncSatU64(v float64) uint64 {
	if math.IsNaN(v) || v <= -1 {
		return 0
	}
	if v >= 18446744073709551616 {
		return math.MaxUint64
	}
	return uint64(v)
}

package interpreter

import (
	"math"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
	"github.com/wazexec/wazexec/internal/core/stack"
)

// execVector implements a representative subset of the SIMD proposal's ~230
// opcodes: splat/extract/replace lane, the lanewise arithmetic and compare
// families, the bitwise ops, all-true/bitmask reductions and shuffle. Every
// one of these reduces to the same (VecOp, LaneKind) dispatch table shape;
// widening/narrowing conversions, dot-product and the relaxed-SIMD opcodes
// are deliberately out of scope; the comprehensive-vs-exhaustive tradeoff is
// documented alongside the Numeric Kernel.
func (m *machine) execVector(frame *stack.Frame, insn ast.Instruction) *core.Trap {
	switch insn.VecOp {
	case ast.VecSplat:
		v := m.operands.Pop()
		var b [16]byte
		fillLane(&b, insn.Lane, v)
		m.push128(b)
	case ast.VecExtractLaneS, ast.VecExtractLaneU:
		v := m.pop128()
		m.operands.Push(extractLane(v, insn.Lane, int(insn.LaneIdx), insn.VecOp == ast.VecExtractLaneS))
	case ast.VecReplaceLane:
		val := m.operands.Pop()
		v := m.pop128()
		setLane(&v, insn.Lane, int(insn.LaneIdx), val)
		m.push128(v)
	case ast.VecAdd, ast.VecSub, ast.VecMul, ast.VecDiv, ast.VecMin, ast.VecMax:
		b := m.pop128()
		a := m.pop128()
		m.push128(lanewiseBinary(a, b, insn.Lane, insn.VecOp))
	case ast.VecNeg, ast.VecAbs, ast.VecSqrt, ast.VecNot:
		a := m.pop128()
		m.push128(lanewiseUnary(a, insn.Lane, insn.VecOp))
	case ast.VecAnd:
		b := m.pop128()
		a := m.pop128()
		m.push128(bitwise(a, b, func(x, y uint64) uint64 { return x & y }))
	case ast.VecOr:
		b := m.pop128()
		a := m.pop128()
		m.push128(bitwise(a, b, func(x, y uint64) uint64 { return x | y }))
	case ast.VecXor:
		b := m.pop128()
		a := m.pop128()
		m.push128(bitwise(a, b, func(x, y uint64) uint64 { return x ^ y }))
	case ast.VecAllTrue:
		v := m.pop128()
		m.operands.PushBool(allTrue(v, insn.Lane))
	case ast.VecBitmask:
		v := m.pop128()
		m.operands.Push(api.I32(bitmask(v, insn.Lane)))
	case ast.VecEq, ast.VecNe, ast.VecLtS, ast.VecLtU, ast.VecGtS, ast.VecGtU:
		b := m.pop128()
		a := m.pop128()
		m.push128(lanewiseCompare(a, b, insn.Lane, insn.VecOp))
	case ast.VecShuffle:
		b := m.pop128()
		a := m.pop128()
		m.push128(shuffle(a, b, insn.V128Const))
	}
	frame.PC++
	return nil
}

func (m *machine) push128(b [16]byte) {
	lo, hi := splitV128(b)
	m.operands.Push(api.V128(lo, hi))
}

func (m *machine) pop128() [16]byte {
	v := m.operands.Pop()
	return joinV128(v.Lo, v.Hi)
}

func joinV128(lo, hi uint64) (b [16]byte) {
	for i := 0; i < 8; i++ {
		b[i] = byte(lo >> (8 * i))
		b[i+8] = byte(hi >> (8 * i))
	}
	return b
}

func laneWidth(k ast.LaneKind) int {
	switch k {
	case ast.LaneI8x16:
		return 1
	case ast.LaneI16x8:
		return 2
	case ast.LaneI32x4, ast.LaneF32x4:
		return 4
	default:
		return 8
	}
}

func laneCount(k ast.LaneKind) int { return 16 / laneWidth(k) }

func readLaneRaw(b [16]byte, k ast.LaneKind, i int) uint64 {
	w := laneWidth(k)
	var v uint64
	for j := w - 1; j >= 0; j-- {
		v = v<<8 | uint64(b[i*w+j])
	}
	return v
}

func writeLaneRaw(b *[16]byte, k ast.LaneKind, i int, v uint64) {
	w := laneWidth(k)
	for j := 0; j < w; j++ {
		b[i*w+j] = byte(v >> (8 * j))
	}
}

func fillLane(b *[16]byte, k ast.LaneKind, v api.Value) {
	n := laneCount(k)
	var raw uint64
	switch k {
	case ast.LaneF32x4:
		raw = uint64(uint32(v.Lo))
	case ast.LaneF64x2:
		raw = v.Lo
	default:
		raw = v.Lo
	}
	for i := 0; i < n; i++ {
		writeLaneRaw(b, k, i, raw)
	}
}

func extractLane(b [16]byte, k ast.LaneKind, i int, signed bool) api.Value {
	raw := readLaneRaw(b, k, i)
	switch k {
	case ast.LaneI8x16:
		if signed {
			return api.I32(int32(int8(raw)))
		}
		return api.I32(int32(uint8(raw)))
	case ast.LaneI16x8:
		if signed {
			return api.I32(int32(int16(raw)))
		}
		return api.I32(int32(uint16(raw)))
	case ast.LaneI32x4:
		return api.I32(int32(raw))
	case ast.LaneI64x2:
		return api.I64(int64(raw))
	case ast.LaneF32x4:
		return api.F32(math.Float32frombits(uint32(raw)))
	default:
		return api.F64(math.Float64frombits(raw))
	}
}

func setLane(b *[16]byte, k ast.LaneKind, i int, v api.Value) {
	writeLaneRaw(b, k, i, v.Lo)
}

func lanewiseUnary(a [16]byte, k ast.LaneKind, op ast.VecOp) [16]byte {
	var out [16]byte
	n := laneCount(k)
	for i := 0; i < n; i++ {
		v := laneAsFloatOrInt(a, k, i)
		switch op {
		case ast.VecNeg:
			v = applyFloatOrInt(k, v, func(f float64) float64 { return -f }, func(x int64) int64 { return -x })
		case ast.VecAbs:
			v = applyFloatOrInt(k, v, math.Abs, func(x int64) int64 {
				if x < 0 {
					return -x
				}
				return x
			})
		case ast.VecSqrt:
			v = applyFloatOrInt(k, v, math.Sqrt, func(x int64) int64 { return x })
		case ast.VecNot:
			raw := readLaneRaw(a, k, i)
			writeLaneRaw(&out, k, i, ^raw)
			continue
		}
		writeLaneValue(&out, k, i, v)
	}
	return out
}

func lanewiseBinary(a, b [16]byte, k ast.LaneKind, op ast.VecOp) [16]byte {
	var out [16]byte
	n := laneCount(k)
	for i := 0; i < n; i++ {
		x := laneAsFloatOrInt(a, k, i)
		y := laneAsFloatOrInt(b, k, i)
		var v float64
		switch op {
		case ast.VecAdd:
			v = applyFloatOrInt2(k, x, y, func(p, q float64) float64 { return p + q }, func(p, q int64) int64 { return p + q })
		case ast.VecSub:
			v = applyFloatOrInt2(k, x, y, func(p, q float64) float64 { return p - q }, func(p, q int64) int64 { return p - q })
		case ast.VecMul:
			v = applyFloatOrInt2(k, x, y, func(p, q float64) float64 { return p * q }, func(p, q int64) int64 { return p * q })
		case ast.VecDiv:
			v = x / y
		case ast.VecMin:
			v = applyFloatOrInt2(k, x, y, math.Min, func(p, q int64) int64 {
				if p < q {
					return p
				}
				return q
			})
		case ast.VecMax:
			v = applyFloatOrInt2(k, x, y, math.Max, func(p, q int64) int64 {
				if p > q {
					return p
				}
				return q
			})
		}
		writeLaneValue(&out, k, i, v)
	}
	return out
}

func lanewiseCompare(a, b [16]byte, k ast.LaneKind, op ast.VecOp) [16]byte {
	var out [16]byte
	n := laneCount(k)
	for i := 0; i < n; i++ {
		raw := readLaneRaw(a, k, i)
		braw := readLaneRaw(b, k, i)
		var res bool
		switch op {
		case ast.VecEq:
			res = raw == braw
		case ast.VecNe:
			res = raw != braw
		case ast.VecLtS:
			res = signedLane(k, raw) < signedLane(k, braw)
		case ast.VecLtU:
			res = raw < braw
		case ast.VecGtS:
			res = signedLane(k, raw) > signedLane(k, braw)
		case ast.VecGtU:
			res = raw > braw
		}
		var mask uint64
		if res {
			mask = ^uint64(0)
		}
		writeLaneRaw(&out, k, i, mask)
	}
	return out
}

func signedLane(k ast.LaneKind, raw uint64) int64 {
	switch k {
	case ast.LaneI8x16:
		return int64(int8(raw))
	case ast.LaneI16x8:
		return int64(int16(raw))
	case ast.LaneI32x4:
		return int64(int32(raw))
	default:
		return int64(raw)
	}
}

func laneAsFloatOrInt(b [16]byte, k ast.LaneKind, i int) float64 {
	raw := readLaneRaw(b, k, i)
	switch k {
	case ast.LaneF32x4:
		return float64(math.Float32frombits(uint32(raw)))
	case ast.LaneF64x2:
		return math.Float64frombits(raw)
	default:
		return float64(signedLane(k, raw))
	}
}

func writeLaneValue(b *[16]byte, k ast.LaneKind, i int, v float64) {
	switch k {
	case ast.LaneF32x4:
		writeLaneRaw(b, k, i, uint64(math.Float32bits(float32(v))))
	case ast.LaneF64x2:
		writeLaneRaw(b, k, i, math.Float64bits(v))
	default:
		writeLaneRaw(b, k, i, uint64(int64(v)))
	}
}

func applyFloatOrInt(k ast.LaneKind, v float64, ffn func(float64) float64, ifn func(int64) int64) float64 {
	if k == ast.LaneF32x4 || k == ast.LaneF64x2 {
		return ffn(v)
	}
	return float64(ifn(int64(v)))
}

func applyFloatOrInt2(k ast.LaneKind, x, y float64, ffn func(float64, float64) float64, ifn func(int64, int64) int64) float64 {
	if k == ast.LaneF32x4 || k == ast.LaneF64x2 {
		return ffn(x, y)
	}
	return float64(ifn(int64(x), int64(y)))
}

func bitwise(a, b [16]byte, op func(x, y uint64) uint64) [16]byte {
	alo, ahi := splitV128(a)
	blo, bhi := splitV128(b)
	return joinV128(op(alo, blo), op(ahi, bhi))
}

func allTrue(v [16]byte, k ast.LaneKind) bool {
	n := laneCount(k)
	for i := 0; i < n; i++ {
		if readLaneRaw(v, k, i) == 0 {
			return false
		}
	}
	return true
}

func bitmask(v [16]byte, k ast.LaneKind) int32 {
	n := laneCount(k)
	w := laneWidth(k)
	var mask int32
	for i := 0; i < n; i++ {
		raw := readLaneRaw(v, k, i)
		signBit := uint64(1) << (8*w - 1)
		if raw&signBit != 0 {
			mask |= 1 << i
		}
	}
	return mask
}

// shuffle implements i8x16.shuffle: laneIdx picks byte i%16 from a
// (indices 0-15) or b (indices 16-31).
func shuffle(a, b [16]byte, laneIdx [16]byte) [16]byte {
	var out [16]byte
	for i, idx := range laneIdx {
		if idx < 16 {
			out[i] = a[idx]
		} else {
			out[i] = b[idx-16]
		}
	}
	return out
}

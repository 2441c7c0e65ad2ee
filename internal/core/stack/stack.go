// Package stack is the Stack Manager (module C): the operand stack, frame
// stack, and per-frame label stack the interpreter drives, plus locals
// access and module-context resolution for the currently active frame.
//
// Grounded on the legacy tree-walking interpreter's VirtualMachineOperandStack/
// VirtualMachineFrameStack/Label shapes, generalized so operands carry a
// full api.Value (for GC references and v128 lanes) instead of a bare
// uint64, and frames carry exception-handler and tail-call bookkeeping the
// original VM never needed.
package stack

import (
	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/core"
)

const (
	initialOperandHeight = 1024
	initialLabelHeight   = 16
	initialFrameHeight   = 64

	// DefaultMaxFrames bounds call depth; exceeding it raises
	// core.TrapStackOverflow rather than letting a runaway Go call stack
	// crash the host process.
	DefaultMaxFrames = 1 << 16
)

// Operands is the per-invocation operand stack. Every value pushed or
// popped is a full api.Value so GC references and v128 lanes travel without
// a second side-channel stack.
type Operands struct {
	vals []api.Value
	sp   int
}

func NewOperands() *Operands {
	return &Operands{vals: make([]api.Value, initialOperandHeight), sp: -1}
}

func (o *Operands) Push(v api.Value) {
	o.sp++
	if o.sp == len(o.vals) {
		o.vals = append(o.vals, v)
		return
	}
	o.vals[o.sp] = v
}

func (o *Operands) Pop() api.Value {
	v := o.vals[o.sp]
	o.sp--
	return v
}

func (o *Operands) Peek() api.Value { return o.vals[o.sp] }

func (o *Operands) PeekAt(fromTop int) api.Value { return o.vals[o.sp-fromTop] }

func (o *Operands) Drop() { o.sp-- }

// DropKeep removes `drop` values below the top `keep` values, the primitive
// br/return/br_table use to unwind intervening operands while preserving a
// block's result arity.
func (o *Operands) DropKeep(drop, keep int) {
	if drop == 0 {
		return
	}
	src := o.sp - keep + 1
	dst := src - drop
	copy(o.vals[dst:dst+keep], o.vals[src:src+keep])
	o.sp -= drop
}

func (o *Operands) Len() int { return o.sp + 1 }

func (o *Operands) PushBool(b bool) {
	if b {
		o.Push(api.I32(1))
	} else {
		o.Push(api.I32(0))
	}
}

// Label marks a structured control-flow entry (block/loop/if/try_table) on
// a frame's label stack: its branch arity, the PC a branch to it resumes
// at, and the operand-stack depth to restore to on entry.
type Label struct {
	Arity          int
	IsLoop         bool
	ContinuationPC uint64
	OperandSP      int
	// Handlers lists the try_table catch clauses active for this label, nil
	// for every ordinary block/loop/if.
	Handlers []CatchHandler
}

// CatchHandler mirrors ast.CatchHandler, resolved to a tag instance.
type CatchHandler struct {
	Tag        *core.TagInstance
	CatchRef   bool
	LabelIndex uint32
}

type Labels struct {
	stack []Label
}

func NewLabels() *Labels { return &Labels{stack: make([]Label, 0, initialLabelHeight)} }

func (l *Labels) Push(label Label) { l.stack = append(l.stack, label) }

func (l *Labels) Pop() Label {
	top := l.stack[len(l.stack)-1]
	l.stack = l.stack[:len(l.stack)-1]
	return top
}

// At returns the label `depth` entries down from the top (br's relative depth).
func (l *Labels) At(depth uint32) Label { return l.stack[len(l.stack)-1-int(depth)] }

func (l *Labels) Len() int { return len(l.stack) }

func (l *Labels) Truncate(n int) { l.stack = l.stack[:n] }

// Frame is one call's activation record: its function, resolved locals, the
// PC within Function.Body, and its own label stack. The interpreter never
// sets TailCalled: return_call pops the caller's frame and pushes a new one
// for the callee.
type Frame struct {
	Function   *core.FunctionInstance
	Locals     []api.Value
	PC         uint64
	Labels     *Labels
	TailCalled bool
}

// Frames is the call stack. Push enforces DefaultMaxFrames so unbounded
// recursion surfaces as a Trap instead of a Go stack overflow.
type Frames struct {
	stack    []*Frame
	maxDepth int
}

func NewFrames() *Frames {
	return &Frames{stack: make([]*Frame, 0, initialFrameHeight), maxDepth: DefaultMaxFrames}
}

func (f *Frames) Push(frame *Frame) error {
	if len(f.stack) >= f.maxDepth {
		return core.NewTrap(core.TrapStackOverflow, "call stack depth exceeded %d", f.maxDepth)
	}
	f.stack = append(f.stack, frame)
	return nil
}

func (f *Frames) Pop() *Frame {
	top := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return top
}

func (f *Frames) Peek() *Frame {
	if len(f.stack) == 0 {
		return nil
	}
	return f.stack[len(f.stack)-1]
}

func (f *Frames) Len() int { return len(f.stack) }

// Snapshot returns a defensive copy of the current call stack, outermost
// frame first, for a panic-recovery stack trace; callers must not retain a
// reference into the live stack itself since Pop reuses its backing array.
func (f *Frames) Snapshot() []*Frame {
	return append([]*Frame(nil), f.stack...)
}

// Unwind pops frames down to (but not including) the frame that owns the
// matching try_table handler, for uncaught-exception propagation and
// cross-frame branches out of a callee (tail-call return paths).
func (f *Frames) Unwind(toDepth int) {
	f.stack = f.stack[:toDepth]
}

package interpreter

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
	"github.com/wazexec/wazexec/internal/core/atomics"
	"github.com/wazexec/wazexec/internal/core/stack"
	"github.com/wazexec/wazexec/internal/wasmdebug"
)

// Engine is the sole core.Engine implementation in this module: a PC-based
// tree-walking interpreter. Unlike the teacher's compiler backends
// (jit/wazeroir), there is no separate compile step — ast.Instruction
// already carries its ElseAt/EndAt jump targets as built,
// so NewModuleEngine only wraps the module instance. One Atomic Coordinator
// is shared by every module engine spawned from this Engine, since
// wait/notify addresses are only meaningfully compared within a single store.
type Engine struct {
	Store     *core.Store
	atomics   *atomics.Coordinator
	hooks     *hookState
	stopToken uint32
}

func NewEngine(store *core.Store) *Engine {
	return &Engine{Store: store, atomics: atomics.NewCoordinator(), hooks: &hookState{}}
}

// toAPIValueTypes adapts an ast.ValueType slice (binary-encoding bytes) to
// the api package's ValueType for wasmdebug's stack-trace formatter.
func toAPIValueTypes(types []ast.ValueType) []api.ValueType {
	out := make([]api.ValueType, len(types))
	for i, t := range types {
		out[i] = core.ToAPIValueType(t)
	}
	return out
}

func (e *Engine) NewModuleEngine(module *core.ModuleInstance) (core.ModuleEngine, error) {
	return &moduleEngine{module: module, store: e.Store, atomics: e.atomics, hooks: e.hooks, stopToken: &e.stopToken}, nil
}

// RequestStop implements core.Stoppable: every machine spawned from this
// Engine observes stopToken on its next instruction dispatch, and any
// Atomic Coordinator waiter parked on this Engine's memories is woken so it
// can observe the same token on its next retry instead of blocking forever.
func (e *Engine) RequestStop() {
	atomic.StoreUint32(&e.stopToken, 1)
	e.atomics.Shutdown()
}

// RegisterPreHostFunction/RegisterPostHostFunction implement
// core.HostHookRegistrar; every machine spawned from this Engine shares the
// same hookState, so a hook registered mid-run still applies to host calls
// made later in that same run.
func (e *Engine) RegisterPreHostFunction(data any, fn api.PrePostHostFunc) {
	e.hooks.setPre(data, fn)
}

func (e *Engine) RegisterPostHostFunction(data any, fn api.PrePostHostFunc) {
	e.hooks.setPost(data, fn)
}

// hookState is the shared, mutex-guarded home for the at-most-one pre/post
// host-function hooks the Executor Facade's RegisterPreHostFunction/
// RegisterPostHostFunction install, grounded on the original's
// HostFuncHandler shared_mutex re-expressed as sync.RWMutex.
type hookState struct {
	mu               sync.RWMutex
	pre, post        api.PrePostHostFunc
	preData, postData any
}

func (h *hookState) setPre(data any, fn api.PrePostHostFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.preData, h.pre = data, fn
}

func (h *hookState) setPost(data any, fn api.PrePostHostFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.postData, h.post = data, fn
}

func (h *hookState) firePre() {
	h.mu.RLock()
	pre, data := h.pre, h.preData
	h.mu.RUnlock()
	if pre != nil {
		pre(data)
	}
}

func (h *hookState) firePost() {
	h.mu.RLock()
	post, data := h.post, h.postData
	h.mu.RUnlock()
	if post != nil {
		post(data)
	}
}

type moduleEngine struct {
	module    *core.ModuleInstance
	store     *core.Store
	atomics   *atomics.Coordinator
	hooks     *hookState
	stopToken *uint32
}

// Call is the entry point the Executor Facade and the Instantiator's start
// function both funnel through via core.CallFunction. An unexpected Go
// panic (a host function's own bug, or a bounds check this interpreter
// itself missed) is recovered here rather than left to crash the embedding
// process, and reported with the same call-stack formatting a trap's own
// propagation would have produced.
func (me *moduleEngine) Call(ctx context.Context, fnIndex ast.Index, params []api.Value) (results []api.Value, err error) {
	fn := me.module.Functions[fnIndex]
	m := newMachine(me.store, me.atomics, me.hooks, me.stopToken)
	defer func() {
		if r := recover(); r != nil {
			err = m.recoveredError(r)
		}
	}()
	var trap *core.Trap
	results, trap = m.invoke(ctx, fn, params)
	if trap != nil {
		return nil, trap
	}
	return results, nil
}

// recoveredError formats the machine's current call stack (innermost frame
// first, matching a native debugger's backtrace convention) around a
// recovered Go panic using the wasmdebug formatter.
func (m *machine) recoveredError(recovered any) error {
	builder := wasmdebug.NewErrorBuilder()
	frames := m.frames.Snapshot()
	for i := len(frames) - 1; i >= 0; i-- {
		fn := frames[i].Function
		name := wasmdebug.FuncName(fn.Module.ModuleName, fn.Name, fn.Index)
		builder.AddFrame(name, toAPIValueTypes(fn.Type.Params), toAPIValueTypes(fn.Type.Results), nil)
	}
	return builder.FromRecovered(recovered)
}

// machine holds the state shared by every frame of one Call: the operand
// stack is global across frames exactly as the legacy VM's single
// vm.Operands was, while each frame owns its own locals and label stack.
// Grounded on wasm/vm.go's VirtualMachine{Store, ActiveFrame, Frames, Operands}.
type machine struct {
	store     *core.Store
	operands  *stack.Operands
	frames    *stack.Frames
	atomics   *atomics.Coordinator
	hooks     *hookState
	stopToken *uint32
}

func newMachine(store *core.Store, coord *atomics.Coordinator, hooks *hookState, stopToken *uint32) *machine {
	return &machine{store: store, operands: stack.NewOperands(), frames: stack.NewFrames(), atomics: coord, hooks: hooks, stopToken: stopToken}
}

// invoke runs fn to completion (including any nested calls it makes) and
// returns its results, or a trap. It is re-entrant: a host function that
// itself calls back into a Wasm export gets its own machine via a fresh
// core.CallFunction -> Call -> newMachine chain, not this one, since each
// top-level invocation owns an independent operand/frame stack.
func (m *machine) invoke(ctx context.Context, fn *core.FunctionInstance, args []api.Value) ([]api.Value, *core.Trap) {
	if fn.IsHost() {
		return m.invokeHost(ctx, fn, args)
	}

	for _, a := range args {
		m.operands.Push(a)
	}
	if err := m.pushFrame(fn); err != nil {
		return nil, err.(*core.Trap)
	}

	baseDepth := m.frames.Len() - 1
	if trap := m.run(ctx, baseDepth); trap != nil {
		return nil, trap
	}

	results := make([]api.Value, len(fn.Type.Results))
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = m.operands.Pop()
	}
	return results, nil
}

func (m *machine) invokeHost(ctx context.Context, fn *core.FunctionInstance, args []api.Value) ([]api.Value, *core.Trap) {
	if m.hooks != nil {
		m.hooks.firePre()
		defer m.hooks.firePost()
	}
	results, err := fn.GoFunc(ctx, hostCallingFrame{fn.Module}, args)
	if err != nil {
		if t, ok := err.(*core.Trap); ok {
			return nil, t
		}
		return nil, core.NewTrap(core.TrapUnreachableExecuted, "host function %q: %s", fn.HostModuleName+"."+fn.Name, err.Error())
	}
	return results, nil
}

type hostCallingFrame struct{ module *core.ModuleInstance }

// Module/Memory reuse core.ModuleHandle/core.MemoryHandle, the same
// adapters the Executor Facade hands to embedders, so a host function
// sees exactly the module/memory view InstantiateModule's caller would.
func (h hostCallingFrame) Module() api.Module { return core.NewModuleHandle(h.module) }

func (h hostCallingFrame) Memory() api.Memory {
	mem := h.module.Memory()
	if mem == nil {
		return nil
	}
	return core.MemoryHandle{M: mem}
}

func (m *machine) pushFrame(fn *core.FunctionInstance) error {
	locals := make([]api.Value, len(fn.Type.Params)+len(fn.LocalTypes))
	for i := len(fn.Type.Params) - 1; i >= 0; i-- {
		locals[i] = m.operands.Pop()
	}
	for i, lt := range fn.LocalTypes {
		locals[len(fn.Type.Params)+i] = api.Value{Type: core.ToAPIValueType(lt)}
	}

	labels := stack.NewLabels()
	labels.Push(stack.Label{
		Arity:          len(fn.Type.Results),
		ContinuationPC: uint64(len(fn.Body)),
		OperandSP:      -1,
	})

	return m.frames.Push(&stack.Frame{Function: fn, Locals: locals, Labels: labels})
}

// run executes instructions until the frame stack unwinds back to
// baseDepth (the invoking call's own frame having returned), or a trap occurs.
func (m *machine) run(ctx context.Context, baseDepth int) *core.Trap {
	for m.frames.Len() > baseDepth {
		frame := m.frames.Peek()
		if int(frame.PC) >= len(frame.Function.Body) {
			m.frames.Pop()
			continue
		}
		insn := frame.Function.Body[frame.PC]

		if err := ctx.Err(); err != nil {
			return core.NewTrap(core.TrapInterrupted, "%s", err.Error())
		}
		if m.stopToken != nil && atomic.LoadUint32(m.stopToken) != 0 {
			return core.NewTrap(core.TrapInterrupted, "execution stopped")
		}

		if trap := m.step(ctx, frame, insn); trap != nil {
			return trap
		}
	}
	return nil
}

// step executes exactly one instruction against frame, advancing frame.PC
// (or a frame/label stack entry) as appropriate. Grounded on the legacy
// VM's per-opcode dispatch table (wasm/vm.go's opcode-indexed function
// array), collapsed here into one switch since Go has no cheaper indirect
// dispatch than a switch over a small dense enum.
func (m *machine) step(ctx context.Context, frame *stack.Frame, insn ast.Instruction) *core.Trap {
	switch insn.Op {
	case ast.OpUnreachable:
		return core.NewTrap(core.TrapUnreachableExecuted, "")
	case ast.OpNop:
		frame.PC++
	case ast.OpBlock:
		m.execBlock(frame, insn)
	case ast.OpLoop:
		m.execLoop(frame, insn)
	case ast.OpIf:
		m.execIf(frame, insn)
	case ast.OpElse:
		m.execElse(frame)
	case ast.OpEnd:
		m.execEnd(frame)
	case ast.OpBr:
		m.branch(frame, insn.Index)
	case ast.OpBrIf:
		if m.operands.Pop().I32() != 0 {
			m.branch(frame, insn.Index)
		} else {
			frame.PC++
		}
	case ast.OpBrTable:
		i := m.operands.Pop().U32()
		if int(i) < len(insn.Targets) {
			m.branch(frame, insn.Targets[i])
		} else {
			m.branch(frame, insn.Default)
		}
	case ast.OpReturn:
		m.doReturn(frame)
	case ast.OpCall:
		return m.call(ctx, frame, insn.Index)
	case ast.OpCallIndirect:
		return m.callIndirect(ctx, frame, insn)
	case ast.OpReturnCall:
		return m.tailCall(ctx, frame, insn.Index)
	case ast.OpDrop:
		m.operands.Drop()
		frame.PC++
	case ast.OpSelect, ast.OpSelectT:
		c := m.operands.Pop()
		v2 := m.operands.Pop()
		v1 := m.operands.Pop()
		if c.I32() != 0 {
			m.operands.Push(v1)
		} else {
			m.operands.Push(v2)
		}
		frame.PC++
	case ast.OpLocalGet:
		m.operands.Push(frame.Locals[insn.Index])
		frame.PC++
	case ast.OpLocalSet:
		frame.Locals[insn.Index] = m.operands.Pop()
		frame.PC++
	case ast.OpLocalTee:
		frame.Locals[insn.Index] = m.operands.Peek()
		frame.PC++
	case ast.OpGlobalGet:
		m.operands.Push(frame.Function.Module.Globals[insn.Index].Get())
		frame.PC++
	case ast.OpGlobalSet:
		frame.Function.Module.Globals[insn.Index].Set(m.operands.Pop())
		frame.PC++
	case ast.OpI32Const:
		m.operands.Push(api.I32(insn.I32Const))
		frame.PC++
	case ast.OpI64Const:
		m.operands.Push(api.I64(insn.I64Const))
		frame.PC++
	case ast.OpF32Const:
		m.operands.Push(api.F32(insn.F32Const))
		frame.PC++
	case ast.OpF64Const:
		m.operands.Push(api.F64(insn.F64Const))
		frame.PC++
	case ast.OpV128Const:
		lo, hi := splitV128(insn.V128Const)
		m.operands.Push(api.V128(lo, hi))
		frame.PC++
	case ast.OpNumeric:
		if trap := execNumeric(m.operands, insn); trap != nil {
			return trap
		}
		frame.PC++
	case ast.OpRefNull, ast.OpRefIsNull, ast.OpRefFunc, ast.OpRefEq, ast.OpRefAsNonNull,
		ast.OpRefTest, ast.OpRefCast, ast.OpBrOnNull, ast.OpBrOnNonNull, ast.OpBrOnCast, ast.OpBrOnCastFail,
		ast.OpStructNew, ast.OpStructNewDefault, ast.OpStructGet, ast.OpStructGetS, ast.OpStructGetU, ast.OpStructSet,
		ast.OpArrayNew, ast.OpArrayNewDefault, ast.OpArrayNewFixed, ast.OpArrayNewData, ast.OpArrayNewElem,
		ast.OpArrayGet, ast.OpArrayGetS, ast.OpArrayGetU, ast.OpArraySet, ast.OpArrayLen, ast.OpArrayFill,
		ast.OpArrayCopy, ast.OpArrayInitData, ast.OpArrayInitElem,
		ast.OpAnyConvertExtern, ast.OpExternConvertAny, ast.OpI31New, ast.OpI31GetS, ast.OpI31GetU:
		return m.execRefGC(frame, insn)
	case ast.OpTableGet, ast.OpTableSet, ast.OpTableInit, ast.OpElemDrop, ast.OpTableCopy,
		ast.OpTableGrow, ast.OpTableSize, ast.OpTableFill:
		return m.execTable(frame, insn)
	case ast.OpLoad, ast.OpStore, ast.OpMemorySize, ast.OpMemoryGrow, ast.OpMemoryInit,
		ast.OpDataDrop, ast.OpMemoryCopy, ast.OpMemoryFill:
		return m.execMemory(frame, insn)
	case ast.OpAtomic:
		return m.execAtomic(ctx, frame, insn)
	case ast.OpVector:
		return m.execVector(frame, insn)
	case ast.OpTryTable:
		return m.execTryTable(frame, insn)
	case ast.OpThrow:
		return m.execThrow(frame, insn)
	case ast.OpThrowRef:
		return m.execThrowRef(frame)
	default:
		return core.NewTrap(core.TrapUnreachableExecuted, "unimplemented opcode %v", insn.Op)
	}
	return nil
}

func splitV128(b [16]byte) (lo, hi uint64) {
	for i := 0; i < 8; i++ {
		lo |= uint64(b[i]) << (8 * i)
		hi |= uint64(b[i+8]) << (8 * i)
	}
	return
}

func (m *machine) call(ctx context.Context, frame *stack.Frame, funcIdx ast.Index) *core.Trap {
	callee := frame.Function.Module.Functions[funcIdx]
	args := make([]api.Value, len(callee.Type.Params))
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = m.operands.Pop()
	}
	results, trap := m.invoke(ctx, callee, args)
	if trap != nil {
		return trap
	}
	for _, r := range results {
		m.operands.Push(r)
	}
	frame.PC++
	return nil
}

func (m *machine) tailCall(ctx context.Context, frame *stack.Frame, funcIdx ast.Index) *core.Trap {
	// Pop this frame before invoking, so a tail call chain does not grow
	// the frame stack; the nested invoke still recurses on the Go call stack.
	m.frames.Pop()
	callee := frame.Function.Module.Functions[funcIdx]
	args := make([]api.Value, len(callee.Type.Params))
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = m.operands.Pop()
	}
	results, trap := m.invoke(ctx, callee, args)
	if trap != nil {
		return trap
	}
	for _, r := range results {
		m.operands.Push(r)
	}
	return nil
}

func (m *machine) callIndirect(ctx context.Context, frame *stack.Frame, insn ast.Instruction) *core.Trap {
	table := frame.Function.Module.Tables[insn.Index]
	elemIdx := m.operands.Pop().U32()
	if elemIdx >= table.Size() {
		return core.NewTrap(core.TrapOutOfBounds, "call_indirect: index %d out of table bounds", elemIdx)
	}
	ref := table.Elements[elemIdx]
	if ref.Null {
		return core.NewTrap(core.TrapUninitializedElement, "call_indirect: null table element")
	}
	expectedType := frame.Function.Module.Types[insn.Index2]
	var callee *core.FunctionInstance
	if fm, ok := ref.FuncModule.(*core.ModuleInstance); ok {
		callee = fm.Functions[ref.FuncIndex]
	} else if hf, ok := ref.HostFunc.(*core.FunctionInstance); ok {
		callee = hf
	}
	if callee == nil {
		return core.NewTrap(core.TrapUninitializedElement, "call_indirect: unresolved table element")
	}
	if !callee.Type.EqualsSignature(expectedType.Type.Params, expectedType.Type.Results) {
		return core.NewTrap(core.TrapIndirectCallTypeMismatch, "call_indirect: signature mismatch")
	}
	args := make([]api.Value, len(callee.Type.Params))
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = m.operands.Pop()
	}
	results, trap := m.invoke(ctx, callee, args)
	if trap != nil {
		return trap
	}
	for _, r := range results {
		m.operands.Push(r)
	}
	frame.PC++
	return nil
}

// execBlock/execLoop/execIf/execElse/execEnd are grounded on wasm/vm_control.go's
// block/loop/ifOp/elseOp/end: push a Label recording the branch arity,
// continuation PC, and the operand-stack depth a branch restores to.
func (m *machine) execBlock(frame *stack.Frame, insn ast.Instruction) {
	frame.Labels.Push(stack.Label{
		Arity:          len(insn.Block.Results),
		ContinuationPC: uint64(insn.EndAt) + 1,
		OperandSP:      m.operands.Len() - 1,
	})
	frame.PC++
}

func (m *machine) execLoop(frame *stack.Frame, insn ast.Instruction) {
	arity := len(insn.Block.Params)
	frame.Labels.Push(stack.Label{
		Arity:          arity,
		IsLoop:         true,
		ContinuationPC: frame.PC + 1,
		OperandSP:      m.operands.Len() - 1 - arity,
	})
	frame.PC++
}

func (m *machine) execIf(frame *stack.Frame, insn ast.Instruction) {
	cond := m.operands.Pop().I32()
	frame.Labels.Push(stack.Label{
		Arity:          len(insn.Block.Results),
		ContinuationPC: uint64(insn.EndAt) + 1,
		OperandSP:      m.operands.Len() - 1 - len(insn.Block.Params),
	})
	if cond == 0 {
		if insn.ElseAt == insn.EndAt {
			// No else clause: land exactly on the matching `end` so execEnd
			// pops the label just pushed above, instead of skipping past it.
			frame.PC = uint64(insn.EndAt)
			return
		}
		frame.PC = uint64(insn.ElseAt) + 1
		return
	}
	frame.PC++
}

func (m *machine) execElse(frame *stack.Frame) {
	l := frame.Labels.Pop()
	frame.PC = l.ContinuationPC
}

func (m *machine) execEnd(frame *stack.Frame) {
	frame.Labels.Pop()
	frame.PC++
}

func (m *machine) doReturn(frame *stack.Frame) {
	// Truncate this frame's label stack so the next run() iteration sees
	// PC past the end of Body and pops the frame.
	frame.Labels.Truncate(0)
	frame.PC = uint64(len(frame.Function.Body))
}

// branch implements br's unwind-to-label semantics: pop `depth+1` labels,
// preserve the top `arity` operands across the jump, and resume at the
// target label's continuation PC. For a loop label this re-enters the loop
// body; for every other label it exits the block. Grounded on
// wasm/vm_control.go's brAt.
func (m *machine) branch(frame *stack.Frame, depth ast.Index) {
	var l stack.Label
	for i := ast.Index(0); i <= depth; i++ {
		l = frame.Labels.Pop()
	}
	saved := make([]api.Value, l.Arity)
	for i := l.Arity - 1; i >= 0; i-- {
		saved[i] = m.operands.Pop()
	}
	for m.operands.Len()-1 > l.OperandSP {
		m.operands.Drop()
	}
	for _, v := range saved {
		m.operands.Push(v)
	}
	frame.PC = l.ContinuationPC
	if l.IsLoop {
		// Loop labels survive their own branch: the interpreter re-pushed
		// nothing, so re-enter it for the next br to find.
		frame.Labels.Push(l)
	}
}

package interpreter

import (
	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
	"github.com/wazexec/wazexec/internal/core/stack"
)

// execTryTable pushes a label carrying its catch handler list, resolved
// from ast.CatchHandler (tag index + label depth) to stack.CatchHandler
// (tag instance + label depth) so exception matching never re-resolves an
// index at throw time. Grounded on the WasmEdge original_source's
// try_table/catch design (include/executor/executor.h's exception-handling
// entry points) since the teacher predates this proposal entirely.
func (m *machine) execTryTable(frame *stack.Frame, insn ast.Instruction) *core.Trap {
	handlers := make([]stack.CatchHandler, len(insn.Handlers))
	for i, h := range insn.Handlers {
		var tag *core.TagInstance
		if h.Tag != nil {
			tag = frame.Function.Module.Tags[*h.Tag]
		}
		handlers[i] = stack.CatchHandler{Tag: tag, CatchRef: h.CatchRef, LabelIndex: h.LabelIndex}
	}
	frame.Labels.Push(stack.Label{
		Arity:          len(insn.Block.Results),
		ContinuationPC: uint64(insn.EndAt) + 1,
		OperandSP:      m.operands.Len() - 1 - len(insn.Block.Params),
		Handlers:       handlers,
	})
	frame.PC++
	return nil
}

// execThrow raises an exception carrying the top len(tag.Type.Params)
// operands as its payload, searching every active try_table handler from
// the innermost label outward across the current frame and then, if
// uncaught there, unwinding callers. An uncaught exception becomes
// TrapUncaughtException at the Executor Facade boundary.
func (m *machine) execThrow(frame *stack.Frame, insn ast.Instruction) *core.Trap {
	tag := frame.Function.Module.Tags[insn.Index]
	payload := make([]api.Value, len(tag.Type.Params))
	for i := len(payload) - 1; i >= 0; i-- {
		payload[i] = m.operands.Pop()
	}
	return m.raise(tag, payload)
}

func (m *machine) execThrowRef(frame *stack.Frame) *core.Trap {
	ref := m.operands.Pop().Ref
	exc, _ := ref.GCObject.(*exceptionPayload)
	if exc == nil {
		return core.NewTrap(core.TrapNullReference, "throw_ref: not an exception reference")
	}
	return m.raise(exc.Tag, exc.Payload)
}

// exceptionPayload is the GCObject an exception reference carries when
// caught with catch_ref/catch_all_ref, letting throw_ref re-raise it later.
type exceptionPayload struct {
	Tag     *core.TagInstance
	Payload []api.Value
}

// raise searches the current frame's label stack, innermost first, for a
// try_table handler matching tag (or a catch_all), then transfers control
// there exactly like a branch to that handler's LabelIndex. If the current
// frame has no matching handler, the frame stack is unwound one level and
// the search continues in the caller, matching the Wasm exception-handling
// proposal's cross-function unwind semantics.
func (m *machine) raise(tag *core.TagInstance, payload []api.Value) *core.Trap {
	for m.frames.Len() > 0 {
		frame := m.frames.Peek()
		if handler, labelsPopped, ok := findHandler(frame, tag); ok {
			frame.Labels.Truncate(frame.Labels.Len() - labelsPopped)
			for _, v := range payload {
				m.operands.Push(v)
			}
			if handler.CatchRef {
				m.operands.Push(api.RefVal(api.StructRef(&exceptionPayload{Tag: tag, Payload: payload}, api.HeapTypeAny), api.ValueTypeGCRef))
			}
			m.branch(frame, ast.Index(handler.LabelIndex))
			return nil
		}
		m.frames.Pop()
	}
	return &core.Trap{Kind: core.TrapUncaughtException, Message: "uncaught exception", Exception: payload}
}

func findHandler(frame *stack.Frame, tag *core.TagInstance) (stack.CatchHandler, int, bool) {
	for depth := 0; depth < frame.Labels.Len(); depth++ {
		label := frame.Labels.At(ast.Index(depth))
		for _, h := range label.Handlers {
			if h.Tag == nil || h.Tag == tag {
				return h, depth, true
			}
		}
	}
	return stack.CatchHandler{}, 0, false
}

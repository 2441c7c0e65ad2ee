// Package bridge is the Compiled-Code Bridge (module H): the stable ABI a
// future AOT/JIT backend would call into, since native code cannot embed
// Wasm-level bounds/type checks that need the Store. Every Wasm-level check
// (memory bounds, table bounds, ref.test's subtype walk, atomic wait/notify)
// still lives in internal/core and internal/core/atomics; this package only
// re-exposes them behind a flat, positional-argument function table plus a
// per-invocation ExecutionContext, the shape a compiled function's prologue
// would populate before jumping into generated code.
//
// Grounded on original_source/include/executor/executor.h's proxy* method
// table and ExecutionContextStruct/SavedThreadLocal, translated from a
// thread-local (impossible to replicate safely across goroutines) into an
// explicit *Session parameter threaded through every proxy call — the Open
// Question resolution recorded in DESIGN.md.
package bridge

import (
	"sync/atomic"

	"github.com/wazexec/wazexec/internal/core"
)

// ExecutionContext is the per-invocation state a compiled function's
// prologue reads before running: base pointers into every memory/global the
// owning module has, the instruction/cost counters the Statistics config
// enables, and a stop token that Stopped reads. Executor.Stop does not set
// this token; it stops the interpreter Engine directly.
type ExecutionContext struct {
	Memories []*core.MemoryInstance
	Globals  []*core.GlobalInstance

	InstrCount *uint64 // atomic
	CostTable  []uint64
	Gas        *uint64 // atomic
	GasLimit   uint64

	StopToken *uint32 // atomic; 0 = running, 1 = stop requested
}

// AccountInstruction increments InstrCount (when statistics.InstructionCounting
// is enabled, InstrCount is non-nil) and, when a CostTable is configured for
// the given opcode's numeric slot, debits Gas, returning a cost-limit trap
// once GasLimit is exceeded.
func (ec *ExecutionContext) AccountInstruction(opcodeCost int) *core.Trap {
	if ec.InstrCount != nil {
		atomic.AddUint64(ec.InstrCount, 1)
	}
	if ec.Gas == nil || ec.CostTable == nil || opcodeCost < 0 || opcodeCost >= len(ec.CostTable) {
		return nil
	}
	cost := ec.CostTable[opcodeCost]
	if cost == 0 {
		return nil
	}
	spent := atomic.AddUint64(ec.Gas, cost)
	if ec.GasLimit != 0 && spent > ec.GasLimit {
		return core.NewTrap(core.TrapCostLimitExceeded, "gas limit %d exceeded (spent %d)", ec.GasLimit, spent)
	}
	return nil
}

// Stopped reports whether StopToken is set. proxyCall consults it before
// each call, so a single StopToken can be shared by every in-flight
// goroutine using the same ExecutionContext; the interpreter does not read
// it (it checks its Engine's own stop token).
func (ec *ExecutionContext) Stopped() bool {
	return ec.StopToken != nil && atomic.LoadUint32(ec.StopToken) != 0
}

// Session is the explicit stand-in for WasmEdge's thread_local Executor*/
// ExecutionContext pair: a caller constructs one per invoking goroutine (or
// reuses its Session across a nested Wasm-to-Wasm or Wasm-to-host reentrant
// call, exactly as SavedThreadLocal's save/restore pair does across a single
// native thread) and passes it down explicitly, since Go goroutines have no
// safe thread-local storage to hijack. The Executor Facade does not create
// Sessions; this package's tests are the only code in the module that does.
type Session struct {
	Module *core.ModuleInstance
	Store  *core.Store
	Ctx    *ExecutionContext

	// parent is the Session this one was entered from, restored by Leave;
	// mirrors SavedThreadLocal's destructor restoring the caller's saved
	// context after a nested call returns.
	parent *Session
}

// NewSession starts a fresh call chain for mi, with its own zero-valued
// ExecutionContext when ec is nil; a caller that wants InstrCount/Gas/
// CostTable/StopToken shared across Sessions passes the same ec to each.
func NewSession(mi *core.ModuleInstance, ec *ExecutionContext) *Session {
	if ec == nil {
		ec = &ExecutionContext{}
	}
	return &Session{Module: mi, Store: mi.Store, Ctx: ec}
}

// Enter returns a child Session scoped to callee, sharing this Session's
// ExecutionContext (StopToken/Gas/InstrCount are Store-wide, not
// per-module) but rebinding Module/Store, the way a Wasm-to-Wasm call
// crossing a module boundary would re-point ExecutionContext.Memories/
// Globals at the callee's own base pointers in the original.
func (s *Session) Enter(callee *core.ModuleInstance) *Session {
	return &Session{Module: callee, Store: callee.Store, Ctx: s.Ctx, parent: s}
}

// Leave returns the Session that was active before the matching Enter,
// completing the save/restore pair SavedThreadLocal performs with RAII.
func (s *Session) Leave() *Session {
	if s.parent != nil {
		return s.parent
	}
	return s
}

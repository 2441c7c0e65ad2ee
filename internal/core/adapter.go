package core

import (
	"context"

	"github.com/wazexec/wazexec/api"
)

// ModuleHandle/FunctionHandle/GlobalHandle/MemoryHandle/TableHandle adapt
// the Store's own instance types to the api package's embedder-facing
// interfaces (api.Module, api.Function, ...). They live in this package,
// rather than in the Executor Facade that hands them to embedders, so the
// Interpreter's hostCallingFrame can also build one for a host function's
// CallingFrame without an interpreter -> executor import (the Executor
// already depends on interpreter indirectly through core.Engine, so the
// reverse edge would cycle).
type ModuleHandle struct{ MI *ModuleInstance }

func NewModuleHandle(mi *ModuleInstance) ModuleHandle { return ModuleHandle{mi} }

func (h ModuleHandle) Name() string   { return h.MI.Name() }
func (h ModuleHandle) String() string { return h.MI.String() }

func (h ModuleHandle) Memory() api.Memory {
	m := h.MI.Memory()
	if m == nil {
		return nil
	}
	return MemoryHandle{m}
}

func (h ModuleHandle) ExportedFunction(name string) api.Function {
	exp := h.MI.LookupExport(name)
	if exp == nil || exp.Function == nil {
		return nil
	}
	return FunctionHandle{exp.Function}
}

func (h ModuleHandle) ExportedMemory(name string) api.Memory {
	exp := h.MI.LookupExport(name)
	if exp == nil || exp.Memory == nil {
		return nil
	}
	return MemoryHandle{exp.Memory}
}

func (h ModuleHandle) ExportedGlobal(name string) api.Global {
	exp := h.MI.LookupExport(name)
	if exp == nil || exp.Global == nil {
		return nil
	}
	return GlobalHandle{exp.Global}
}

func (h ModuleHandle) ExportedTable(name string) api.Table {
	exp := h.MI.LookupExport(name)
	if exp == nil || exp.Table == nil {
		return nil
	}
	return TableHandle{exp.Table}
}

func (h ModuleHandle) CloseWithExitCode(ctx context.Context, exitCode uint32) error {
	return h.MI.CloseWithExitCode(ctx, exitCode)
}

func (h ModuleHandle) Close(ctx context.Context) error { return h.MI.Close(ctx) }

// FunctionHandle adapts *FunctionInstance; Call funnels through
// CallFunction so it drives the same ModuleEngine.Call path as the
// start-function step and host-to-wasm reentrancy.
type FunctionHandle struct{ FN *FunctionInstance }

func (h FunctionHandle) ParamTypes() []api.ValueType {
	types := make([]api.ValueType, len(h.FN.Type.Params))
	for i, t := range h.FN.Type.Params {
		types[i] = ToAPIValueType(t)
	}
	return types
}

func (h FunctionHandle) ResultTypes() []api.ValueType {
	types := make([]api.ValueType, len(h.FN.Type.Results))
	for i, t := range h.FN.Type.Results {
		types[i] = ToAPIValueType(t)
	}
	return types
}

func (h FunctionHandle) Call(ctx context.Context, params ...api.Value) ([]api.Value, error) {
	return CallFunction(ctx, h.FN, params)
}

// GlobalHandle adapts *GlobalInstance; it satisfies both api.Global and
// api.MutableGlobal, matching how an export lookup returns one handle
// regardless of mutability.
type GlobalHandle struct{ G *GlobalInstance }

func (h GlobalHandle) String() string                  { return "global[" + h.Type().String() + "]" }
func (h GlobalHandle) Type() api.ValueType              { return h.G.Type }
func (h GlobalHandle) Get(context.Context) api.Value    { return h.G.Get() }
func (h GlobalHandle) Set(ctx context.Context, v api.Value) { h.G.Set(v) }

// MemoryHandle adapts *MemoryInstance.
type MemoryHandle struct{ M *MemoryInstance }

func (h MemoryHandle) Size(context.Context) uint32 { return h.M.PageSize() }

func (h MemoryHandle) Grow(ctx context.Context, deltaPages uint32) (uint32, bool) {
	return h.M.Grow(deltaPages)
}

func (h MemoryHandle) ReadByte(ctx context.Context, offset uint32) (byte, bool) {
	return h.M.ReadByte(offset)
}

func (h MemoryHandle) ReadUint32Le(ctx context.Context, offset uint32) (uint32, bool) {
	return h.M.ReadUint32Le(offset)
}

func (h MemoryHandle) ReadUint64Le(ctx context.Context, offset uint32) (uint64, bool) {
	return h.M.ReadUint64Le(offset)
}

func (h MemoryHandle) Read(ctx context.Context, offset, byteCount uint32) ([]byte, bool) {
	return h.M.Read(offset, byteCount)
}

func (h MemoryHandle) WriteByte(ctx context.Context, offset uint32, v byte) bool {
	return h.M.WriteByte(offset, v)
}

func (h MemoryHandle) WriteUint32Le(ctx context.Context, offset uint32, v uint32) bool {
	return h.M.WriteUint32Le(offset, v)
}

func (h MemoryHandle) WriteUint64Le(ctx context.Context, offset uint32, v uint64) bool {
	return h.M.WriteUint64Le(offset, v)
}

func (h MemoryHandle) Write(ctx context.Context, offset uint32, v []byte) bool {
	return h.M.Write(offset, v)
}

// TableHandle adapts *TableInstance.
type TableHandle struct{ T *TableInstance }

func (h TableHandle) Size(context.Context) uint32 { return h.T.Size() }
func (h TableHandle) Type() api.ValueType         { return h.T.ElemType }

func (h TableHandle) Get(ctx context.Context, index uint32) (api.Reference, error) {
	if index >= h.T.Size() {
		return api.Reference{}, NewTrap(TrapOutOfBounds, "table index out of bounds")
	}
	return h.T.Elements[index], nil
}

func (h TableHandle) Set(ctx context.Context, index uint32, ref api.Reference) error {
	if index >= h.T.Size() {
		return NewTrap(TrapOutOfBounds, "table index out of bounds")
	}
	h.T.Elements[index] = ref
	return nil
}

func (h TableHandle) Grow(ctx context.Context, delta uint32, init api.Reference) (uint32, bool) {
	return h.T.Grow(delta, init)
}

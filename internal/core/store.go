package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
)

func compareAndSwapClosed(closed *uint32) bool {
	return atomic.CompareAndSwapUint32(closed, 0, 1)
}

// Store is the runtime representation of every instantiated module and
// object (§3): the sole ownership root. Every *Instance type above belongs
// to exactly one Store, addressed either directly by pointer (the common
// case, since Go lets instances outlive their slot) or, for freelist-managed
// slices shared across modules (functions, tables, memories, globals, tags),
// by the index recorded on the instance itself.
//
// Store is safe for concurrent use: Invoke/AsyncInvoke/InstantiateModule
// calls from multiple goroutines are serialized only where they mutate
// shared slices (mu); execution of already-resolved functions proceeds
// without holding it, matching the Atomic Coordinator's requirement that a
// blocked memory.atomic.wait not hold any Store-wide lock.
type Store struct {
	mu sync.Mutex

	engine Engine

	Features   Features
	Statistics StatisticsConfig

	moduleInstances map[string]*ModuleInstance

	// typeIDs interns FunctionType shapes (by their String() form) to a
	// stable TypeInstance so structurally-identical types across modules
	// share identity for call_indirect's type check, per §3.
	typeIDs map[string]*TypeInstance

	functions []*FunctionInstance
	tables    []*TableInstance
	memories  []*MemoryInstance
	globals   []*GlobalInstance
	tags      []*TagInstance

	releasedFunctionIndex []int
	releasedTableIndex    []int
	releasedMemoryIndex   []int
	releasedGlobalIndex   []int
	releasedTagIndex      []int
}

// Engine compiles and runs function bodies on behalf of a Store; the
// interpreter is the only Engine implementation in this module, but the
// interface keeps the Store decoupled from it the way the teacher's
// Store/Engine split does.
type Engine interface {
	NewModuleEngine(module *ModuleInstance) (ModuleEngine, error)
}

// ModuleEngine is the per-module compiled-code handle returned by Engine;
// Call dispatches into the interpreter's frame-entry point for fnIndex.
// Values travel as api.Value rather than raw uint64 lanes so a funcref,
// externref, or GC reference parameter/result keeps its Reference payload
// across the boundary instead of being truncated to its Lo bit pattern.
type ModuleEngine interface {
	Call(ctx context.Context, fnIndex Index, params []api.Value) ([]api.Value, error)
}

// Stoppable is an optional Engine capability: an Engine implementing it
// supports the Executor Facade's stop(), setting whatever stop-token a
// running call's dispatch loop and the Atomic Coordinator's waiters
// observe. An Engine without this capability simply has no way to
// interrupt an in-flight call short of canceling its context.
type Stoppable interface {
	RequestStop()
}

// HostHookRegistrar is an optional Engine capability: an Engine
// implementing it runs the registered pre/post hook around every
// host-function call it dispatches. RegisterPreHostFunction/
// RegisterPostHostFunction install an at-most-one hook each, matching
// the Executor Facade's own method names.
type HostHookRegistrar interface {
	RegisterPreHostFunction(data any, fn api.PrePostHostFunc)
	RegisterPostHostFunction(data any, fn api.PrePostHostFunc)
}

func NewStore(engine Engine, cfg Config) *Store {
	return &Store{
		engine:          engine,
		Features:        cfg.Features,
		Statistics:      cfg.Statistics,
		moduleInstances: map[string]*ModuleInstance{},
		typeIDs:         map[string]*TypeInstance{},
	}
}

func (s *Store) Module(name string) *ModuleInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moduleInstances[name]
}

// Register, InternType, and the AddXxxInstance family are the package-public
// entry points the Instantiator (a separate package, since it also depends
// on the ast package the Store itself does not need) drives Store mutation
// through; each simply forwards to the Store's own lowercase implementation.
func (s *Store) Register(m *ModuleInstance) error { return s.registerModule(m) }

func (s *Store) InternType(ft *ast.FunctionType, composite *ast.CompositeType, defining *ModuleInstance) *TypeInstance {
	return s.internType(ft, composite, defining)
}

func (s *Store) AddFunctionInstance(fn *FunctionInstance) { s.addFunctionInstance(fn) }
func (s *Store) AddTableInstance(t *TableInstance)        { s.addTableInstance(t) }
func (s *Store) AddMemoryInstance(m *MemoryInstance) int  { return s.addMemoryInstance(m) }
func (s *Store) AddGlobalInstance(g *GlobalInstance)      { s.addGlobalInstance(g) }
func (s *Store) AddTagInstance(t *TagInstance)            { s.addTagInstance(t) }

// Engine exposes the Store's compiled-code engine so the Instantiator can
// build each module's ModuleEngine without the Store importing instantiate.
func (s *Store) EngineFor() Engine { return s.engine }

func (s *Store) registerModule(m *ModuleInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.moduleInstances[m.ModuleName]; ok {
		return fmt.Errorf("module %q already instantiated in this store", m.ModuleName)
	}
	m.Store = s
	s.moduleInstances[m.ModuleName] = m
	return nil
}

func (s *Store) unregisterModule(m *ModuleInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.moduleInstances[m.ModuleName] == m {
		delete(s.moduleInstances, m.ModuleName)
	}
}

// internType interns a FunctionType and its optional GC CompositeType,
// returning the canonical TypeInstance every equivalent declaration across
// every module shares.
func (s *Store) internType(ft *ast.FunctionType, composite *ast.CompositeType, defining *ModuleInstance) *TypeInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ft.String()
	if composite != nil {
		key += fmt.Sprintf("#composite%p", composite)
	}
	if existing, ok := s.typeIDs[key]; ok {
		return existing
	}
	ti := &TypeInstance{Type: ft, Composite: composite, definingModule: defining}
	s.typeIDs[key] = ti
	return ti
}

func (s *Store) addFunctionInstance(fn *FunctionInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.releasedFunctionIndex); n > 0 {
		idx := s.releasedFunctionIndex[n-1]
		s.releasedFunctionIndex = s.releasedFunctionIndex[:n-1]
		fn.index = idx
		s.functions[idx] = fn
		return
	}
	fn.index = len(s.functions)
	s.functions = append(s.functions, fn)
}

func (s *Store) releaseFunctionInstance(fn *FunctionInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.functions[fn.index] = nil
	s.releasedFunctionIndex = append(s.releasedFunctionIndex, fn.index)
}

func (s *Store) addTableInstance(t *TableInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.releasedTableIndex); n > 0 {
		idx := s.releasedTableIndex[n-1]
		s.releasedTableIndex = s.releasedTableIndex[:n-1]
		t.index = idx
		s.tables[idx] = t
		return
	}
	t.index = len(s.tables)
	s.tables = append(s.tables, t)
}

func (s *Store) releaseTableInstance(t *TableInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[t.index] = nil
	s.releasedTableIndex = append(s.releasedTableIndex, t.index)
}

func (s *Store) addMemoryInstance(m *MemoryInstance) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.releasedMemoryIndex); n > 0 {
		idx := s.releasedMemoryIndex[n-1]
		s.releasedMemoryIndex = s.releasedMemoryIndex[:n-1]
		s.memories[idx] = m
		return idx
	}
	idx := len(s.memories)
	s.memories = append(s.memories, m)
	return idx
}

func (s *Store) releaseMemoryInstance(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[idx] = nil
	s.releasedMemoryIndex = append(s.releasedMemoryIndex, idx)
}

func (s *Store) addGlobalInstance(g *GlobalInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.releasedGlobalIndex); n > 0 {
		idx := s.releasedGlobalIndex[n-1]
		s.releasedGlobalIndex = s.releasedGlobalIndex[:n-1]
		g.index = idx
		s.globals[idx] = g
		return
	}
	g.index = len(s.globals)
	s.globals = append(s.globals, g)
}

func (s *Store) releaseGlobalInstance(g *GlobalInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals[g.index] = nil
	s.releasedGlobalIndex = append(s.releasedGlobalIndex, g.index)
}

func (s *Store) addTagInstance(t *TagInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.releasedTagIndex); n > 0 {
		idx := s.releasedTagIndex[n-1]
		s.releasedTagIndex = s.releasedTagIndex[:n-1]
		t.index = idx
		s.tags[idx] = t
		return
	}
	t.index = len(s.tags)
	s.tags = append(s.tags, t)
}

func (s *Store) releaseTagInstance(t *TagInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[t.index] = nil
	s.releasedTagIndex = append(s.releasedTagIndex, t.index)
}

// CloseWithExitCode releases every instance m owns exclusively (not
// imported) back to their freelists and unregisters m from the Store. It is
// idempotent: a second call is a no-op.
func (m *ModuleInstance) CloseWithExitCode(ctx context.Context, exitCode uint32) error {
	if !compareAndSwapClosed(&m.closed) {
		return nil
	}
	if exitCode != 0 {
		m.exitErr = &HostError{Payload: fmt.Errorf("module %q closed with exit code %d", m.ModuleName, exitCode)}
	}
	s := m.Store
	for _, idx := range m.OwnedFunctions {
		s.releaseFunctionInstance(m.Functions[idx])
	}
	for _, idx := range m.OwnedTables {
		s.releaseTableInstance(m.Tables[idx])
	}
	for _, idx := range m.OwnedMemories {
		// OwnedMemories holds module-local indices; find the Store slot.
		s.mu.Lock()
		slot := -1
		for i, sm := range s.memories {
			if sm == m.Memories[idx] {
				slot = i
			}
		}
		s.mu.Unlock()
		if slot >= 0 {
			s.releaseMemoryInstance(slot)
		}
	}
	for _, idx := range m.OwnedGlobals {
		s.releaseGlobalInstance(m.Globals[idx])
	}
	for _, idx := range m.OwnedTags {
		s.releaseTagInstance(m.Tags[idx])
	}
	s.unregisterModule(m)
	return nil
}

func (m *ModuleInstance) Close(ctx context.Context) error {
	return m.CloseWithExitCode(ctx, 0)
}

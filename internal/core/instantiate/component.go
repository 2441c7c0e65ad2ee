package instantiate

import (
	"context"
	"fmt"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
)

// InstantiateComponent is the component-model variant of Instantiate,
// grounded on the same five-step ordering generalized to the canonical-ABI
// adapters an Instantiator wires around a component boundary: resolve the
// component's own function imports, instantiate the single embedded core
// module with CanonLower-wrapped adapters standing in for its function
// imports, then build a CanonLift-wrapped adapter per component export.
//
// A component instance is, at this engine's level, nothing more than a
// *core.ModuleInstance whose exports happen to be canon-lift adapter
// functions rather than Wasm-defined ones — the same way a host module is
// a ModuleInstance whose exports are GoFunc closures. This lets the Store's
// existing Register/Module registry, and api.Module/ModuleHandle, serve a
// component instance unchanged; no separate component handle type exists.
//
// Composing more than one core module per component, or nesting
// sub-components, is out of scope: comp.CoreModule's ImportSection may only
// contain function imports, one per entry of comp.Lowers, in order.
func InstantiateComponent(ctx context.Context, store *core.Store, name string, comp *ast.Component, funcImports []*core.FunctionInstance) (*core.ModuleInstance, error) {
	if len(funcImports) != len(comp.Imports) {
		return nil, fmt.Errorf("component[%s]: resolved %d function imports, component declares %d", name, len(funcImports), len(comp.Imports))
	}
	for _, im := range comp.CoreModule.ImportSection {
		if im.Kind != ast.ImportKindFunc {
			return nil, fmt.Errorf("component[%s]: embedded core module may only import functions", name)
		}
	}
	if len(comp.Lowers) != len(comp.CoreModule.ImportSection) {
		return nil, fmt.Errorf("component[%s]: %d canon lower adapters for %d core-module imports", name, len(comp.Lowers), len(comp.CoreModule.ImportSection))
	}

	// coreMI is bound only after Instantiate returns below; every Lower
	// adapter's closure captures the variable (not its value) since the
	// import it backs is never actually called until the core module is
	// done instantiating and some export calls it at runtime.
	var coreMI *core.ModuleInstance

	coreImports := Imports{}
	lowerFns := make([]*core.FunctionInstance, len(comp.Lowers))
	for i := range comp.Lowers {
		lw := comp.Lowers[i]
		imp := funcImports[lw.ImportIndex]
		declType := comp.CoreModule.TypeSection[comp.CoreModule.ImportSection[i].DescFunc].Func
		fn := &core.FunctionInstance{
			Name:           fmt.Sprintf("%s#lower%d", name, i),
			HostModuleName: name,
			Type:           declType,
			Adapter:        &core.ComponentAdapter{Lower: &lw.Type},
			GoFunc: func(ctx context.Context, frame api.CallingFrame, args []api.Value) ([]api.Value, error) {
				mem := coreMI.Memories[lw.MemoryIndex]
				var realloc *core.FunctionInstance
				if lw.ReallocFuncIndex != nil {
					realloc = coreMI.Functions[*lw.ReallocFuncIndex]
				}
				return core.LowerCall(ctx, imp, &lw.Type, mem, realloc, args)
			},
		}
		lowerFns[i] = fn
		coreImports.Functions = append(coreImports.Functions, fn)
	}

	var err error
	coreMI, err = Instantiate(ctx, store, name+"$core", comp.CoreModule, coreImports)
	if err != nil {
		return nil, err
	}
	for i, fn := range lowerFns {
		lw := comp.Lowers[i]
		fn.Adapter.Memory = coreMI.Memories[lw.MemoryIndex]
		if lw.ReallocFuncIndex != nil {
			fn.Adapter.Realloc = coreMI.Functions[*lw.ReallocFuncIndex]
		}
	}

	adapters := &core.ModuleInstance{ModuleName: name, Exports: map[string]*core.ExportInstance{}}
	for i := range comp.Lifts {
		lift := comp.Lifts[i]
		coreFn := coreMI.Functions[lift.CoreFuncIndex]
		mem := coreMI.Memories[lift.MemoryIndex]
		var realloc *core.FunctionInstance
		if lift.ReallocFuncIndex != nil {
			realloc = coreMI.Functions[*lift.ReallocFuncIndex]
		}
		fn := &core.FunctionInstance{
			Module: adapters,
			Index:  ast.Index(len(adapters.Functions)),
			Name:   fmt.Sprintf("%s#lift%d", name, i),
			Type:   core.ComponentLogicalSignature(&lift.Type),
			Adapter: &core.ComponentAdapter{
				CoreFunc: coreFn,
				Realloc:  realloc,
				Memory:   mem,
				Lift:     &lift.Type,
			},
			GoFunc: func(ctx context.Context, frame api.CallingFrame, args []api.Value) ([]api.Value, error) {
				return core.LiftCall(ctx, coreFn, &lift.Type, mem, realloc, args)
			},
		}
		adapters.OwnedFunctions = append(adapters.OwnedFunctions, fn.Index)
		adapters.Functions = append(adapters.Functions, fn)
		store.AddFunctionInstance(fn)
	}

	for _, exp := range comp.Exports {
		adapters.Exports[exp.Name] = &core.ExportInstance{Name: exp.Name, Kind: ast.ExportKindFunc, Function: adapters.Functions[exp.LiftIndex]}
	}

	if engine := store.EngineFor(); engine != nil {
		me, err := engine.NewModuleEngine(adapters)
		if err != nil {
			return nil, fmt.Errorf("component[%s] adapter engine setup failed: %w", name, err)
		}
		adapters.Engine = me
	}
	if err := store.Register(adapters); err != nil {
		return nil, err
	}
	return adapters, nil
}

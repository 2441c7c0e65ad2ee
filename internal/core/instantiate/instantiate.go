// Package instantiate is the Instantiator (module D): turns a validated
// *ast.Module plus a set of resolved imports into a live *core.ModuleInstance
// registered in a Store, in the fixed order required by §4.D: resolve
// imports, allocate instances, populate exports, apply active element/data
// segments, run the start function.
//
// Grounded on internal/wasm/store.go's Store.Instantiate (resolveImports ->
// build*Instances -> newModuleInstance -> validateElements/validateData ->
// compile (funcaddr assigned first) -> applyElements/applyData ->
// addGlobalInstances/addTableInstance/addMemoryInstance -> NewModuleContext
// -> run start function), generalized for multi-memory/multi-table and GC
// struct/array field initializers.
package instantiate

import (
	"context"
	"fmt"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
)

// Imports resolves every import of a module by name, looked up from
// already-registered modules in the Store (or host modules registered the
// same way). The Executor Facade builds this by walking module.ImportSection
// and querying Store.Module(moduleName).LookupExport(name).
type Imports struct {
	Functions []*core.FunctionInstance
	Tables    []*core.TableInstance
	Memories  []*core.MemoryInstance
	Globals   []*core.GlobalInstance
	Tags      []*core.TagInstance
}

// Instantiate performs the instantiation ordering over module, registering
// the result into store under moduleName. On any failure after the module's
// instances were added to the Store, including a trap in the start
// function (reported as a *core.InstantiateError), those instances are
// released again, the module is not left registered, and the returned
// module instance is nil.
func Instantiate(ctx context.Context, store *core.Store, moduleName string, module *ast.Module, imports Imports) (*core.ModuleInstance, error) {
	if err := checkImportCounts(module, imports); err != nil {
		return nil, err
	}

	mi, err := buildModuleInstance(store, moduleName, module, imports)
	if err != nil {
		return nil, err
	}

	// release undoes buildModuleInstance's Store writes on a later failure.
	release := func() {
		mi.Store = store
		_ = mi.Close(ctx)
	}

	if engine := store.EngineFor(); engine != nil {
		me, err := engine.NewModuleEngine(mi)
		if err != nil {
			release()
			return nil, fmt.Errorf("module[%s] engine setup failed: %w", moduleName, err)
		}
		mi.Engine = me
	}

	buildExports(mi, module)

	if err := applyElements(mi, module); err != nil {
		release()
		return nil, &core.InstantiateError{Cause: asTrap(err)}
	}
	if err := applyData(mi, module); err != nil {
		release()
		return nil, &core.InstantiateError{Cause: asTrap(err)}
	}

	if err := store.Register(mi); err != nil {
		release()
		return nil, err
	}

	if module.StartSection != nil {
		if _, err := core.CallFunction(ctx, mi.Functions[*module.StartSection], nil); err != nil {
			release()
			return nil, &core.InstantiateError{Cause: asTrap(err)}
		}
	}

	return mi, nil
}

func asTrap(err error) *core.Trap {
	if t, ok := err.(*core.Trap); ok {
		return t
	}
	return core.NewTrap(core.TrapUnreachableExecuted, "%s", err.Error())
}

func checkImportCounts(module *ast.Module, imports Imports) error {
	var wantFn, wantTable, wantMem, wantGlobal, wantTag int
	for _, im := range module.ImportSection {
		switch im.Kind {
		case ast.ImportKindFunc:
			wantFn++
		case ast.ImportKindTable:
			wantTable++
		case ast.ImportKindMemory:
			wantMem++
		case ast.ImportKindGlobal:
			wantGlobal++
		case ast.ImportKindTag:
			wantTag++
		}
	}
	if len(imports.Functions) != wantFn || len(imports.Tables) != wantTable ||
		len(imports.Memories) != wantMem || len(imports.Globals) != wantGlobal ||
		len(imports.Tags) != wantTag {
		name := ""
		if module.Names != nil {
			name = module.Names.ModuleName
		}
		return &core.LinkError{Kind: core.LinkUnknownImport, Module: name,
			Message: "import counts resolved by caller do not match the module's import section"}
	}
	return nil
}

func buildModuleInstance(store *core.Store, moduleName string, module *ast.Module, imports Imports) (*core.ModuleInstance, error) {
	mi := &core.ModuleInstance{
		ModuleName: moduleName,
		Exports:    map[string]*core.ExportInstance{},
	}

	mi.Functions = append(mi.Functions, imports.Functions...)
	mi.Tables = append(mi.Tables, imports.Tables...)
	mi.Memories = append(mi.Memories, imports.Memories...)
	mi.Globals = append(mi.Globals, imports.Globals...)
	mi.Tags = append(mi.Tags, imports.Tags...)

	mi.Types = make([]*core.TypeInstance, len(module.TypeSection))
	for i, ct := range module.TypeSection {
		mi.Types[i] = store.InternType(ct.Func, ct, mi)
	}

	for codeIdx, code := range module.CodeSection {
		typeIdx := module.FunctionSection[codeIdx]
		fn := &core.FunctionInstance{
			TypeID:     typeIdx,
			Type:       module.TypeSection[typeIdx].Func,
			Index:      ast.Index(len(mi.Functions)),
			Module:     mi,
			Body:       code.Body,
			LocalTypes: code.LocalTypes,
		}
		mi.OwnedFunctions = append(mi.OwnedFunctions, fn.Index)
		mi.Functions = append(mi.Functions, fn)
		store.AddFunctionInstance(fn)
	}

	for _, t := range module.TableSection {
		ti := core.NewTableInstance(t.Limit.Min, resolveMax(t.Limit), tableElemType(t))
		mi.OwnedTables = append(mi.OwnedTables, ast.Index(len(mi.Tables)))
		mi.Tables = append(mi.Tables, ti)
		store.AddTableInstance(ti)
	}

	for _, m := range module.MemorySection {
		memi := core.NewMemoryInstance(m.Min, resolveMax(*m), m.Shared)
		mi.OwnedMemories = append(mi.OwnedMemories, ast.Index(len(mi.Memories)))
		mi.Memories = append(mi.Memories, memi)
		store.AddMemoryInstance(memi)
	}

	for _, g := range module.GlobalSection {
		v, ref := evalConstExpr(g.Init, mi)
		gi := &core.GlobalInstance{Type: core.ToAPIValueType(g.Type.ValType), Mutable: g.Type.Mutable, Val: v, RefVal: ref}
		mi.OwnedGlobals = append(mi.OwnedGlobals, ast.Index(len(mi.Globals)))
		mi.Globals = append(mi.Globals, gi)
		store.AddGlobalInstance(gi)
	}

	for _, tag := range module.TagSection {
		ti := &core.TagInstance{Type: module.TypeSection[tag.Type].Func}
		mi.OwnedTags = append(mi.OwnedTags, ast.Index(len(mi.Tags)))
		mi.Tags = append(mi.Tags, ti)
		store.AddTagInstance(ti)
	}

	mi.Elements = make([]*core.ElementInstance, len(module.ElementSection))
	for i, seg := range module.ElementSection {
		if seg.Mode == ast.ElementModePassive {
			mi.Elements[i] = &core.ElementInstance{References: resolveElemRefs(seg, mi)}
		}
	}

	mi.Data = make([]*core.DataInstance, len(module.DataSection))
	for i, seg := range module.DataSection {
		if seg.Mode == ast.DataModePassive {
			mi.Data[i] = &core.DataInstance{Bytes: seg.Init}
		}
	}

	return mi, nil
}

func resolveMax(l ast.LimitsType) uint32 {
	if l.Max != nil {
		return *l.Max
	}
	return core.MemoryMaxPages
}

func tableElemType(t *ast.TableType) api.ValueType {
	if t.ElemType == ast.ValueTypeExternRef {
		return api.ValueTypeExternRef
	}
	return api.ValueTypeFuncRef
}

// evalConstExpr evaluates a global/element/data offset initializer: a short
// instruction sequence whose only legal forms (per the Wasm spec's
// restriction on constant expressions) are a single numeric/vector const,
// global.get of an earlier (necessarily imported, for globals; any, for
// element/data offsets) global, ref.null, or ref.func.
func evalConstExpr(ce *ast.ConstantExpression, mi *core.ModuleInstance) (uint64, api.Reference) {
	if ce == nil || len(ce.Instructions) == 0 {
		return 0, api.Reference{}
	}
	insn := ce.Instructions[0]
	switch insn.Op {
	case ast.OpI32Const:
		return uint64(uint32(insn.I32Const)), api.Reference{}
	case ast.OpI64Const:
		return uint64(insn.I64Const), api.Reference{}
	case ast.OpF32Const:
		return uint64(api.F32(insn.F32Const).Lo), api.Reference{}
	case ast.OpF64Const:
		return api.F64(insn.F64Const).Lo, api.Reference{}
	case ast.OpGlobalGet:
		g := mi.Globals[insn.Index]
		return g.Val, g.RefVal
	case ast.OpRefNull:
		return 0, api.NullRef(core.HeapTypeFromIndex(insn.Index))
	case ast.OpRefFunc:
		return 0, api.FuncRef(mi, insn.Index, api.HeapTypeFunc)
	default:
		return 0, api.Reference{}
	}
}

func resolveElemRefs(seg *ast.ElementSegment, mi *core.ModuleInstance) []api.Reference {
	if seg.FuncIndices != nil {
		refs := make([]api.Reference, len(seg.FuncIndices))
		for i, fi := range seg.FuncIndices {
			refs[i] = api.FuncRef(mi, fi, api.HeapTypeFunc)
		}
		return refs
	}
	refs := make([]api.Reference, len(seg.Init))
	for i, ce := range seg.Init {
		_, ref := evalConstExpr(ce, mi)
		refs[i] = ref
	}
	return refs
}

func buildExports(mi *core.ModuleInstance, module *ast.Module) {
	for name, exp := range module.ExportSection {
		ei := &core.ExportInstance{Name: name, Kind: exp.Kind}
		switch exp.Kind {
		case ast.ExportKindFunc:
			ei.Function = mi.Functions[exp.Index]
		case ast.ExportKindTable:
			ei.Table = mi.Tables[exp.Index]
		case ast.ExportKindMemory:
			ei.Memory = mi.Memories[exp.Index]
		case ast.ExportKindGlobal:
			ei.Global = mi.Globals[exp.Index]
		case ast.ExportKindTag:
			ei.Tag = mi.Tags[exp.Index]
		}
		mi.Exports[name] = ei
	}
}

func applyElements(mi *core.ModuleInstance, module *ast.Module) error {
	for i, seg := range module.ElementSection {
		if seg.Mode != ast.ElementModeActive {
			continue
		}
		table := mi.Tables[seg.TableIndex]
		offset, _ := evalConstExpr(seg.OffsetExpr, mi)
		refs := resolveElemRefs(seg, mi)
		if uint64(uint32(offset))+uint64(len(refs)) > uint64(table.Size()) {
			return core.NewTrap(core.TrapOutOfBounds, "active element segment %d out of table bounds", i)
		}
		copy(table.Elements[uint32(offset):], refs)
	}
	return nil
}

func applyData(mi *core.ModuleInstance, module *ast.Module) error {
	for i, seg := range module.DataSection {
		if seg.Mode != ast.DataModeActive {
			continue
		}
		mem := mi.Memories[seg.MemoryIndex]
		offset, _ := evalConstExpr(seg.OffsetExpr, mi)
		if !mem.Write(uint32(offset), seg.Init) {
			return core.NewTrap(core.TrapOutOfBounds, "active data segment %d out of memory bounds", i)
		}
	}
	return nil
}

package executor_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
	"github.com/wazexec/wazexec/executor"
)

// addModule builds a minimal module exporting a two-param i32 "add"
// function, exercising InstantiateModule/ExportedFunction/Call end to end
// through the real Instantiator and Interpreter (no mocks), matching the
// acceptance-scenario style of "add/wraparound".
func addModule() *ast.Module {
	i32i32_i32 := &ast.CompositeType{Kind: ast.CompositeFunc, Func: &ast.FunctionType{
		Params:  []ast.ValueType{ast.ValueTypeI32, ast.ValueTypeI32},
		Results: []ast.ValueType{ast.ValueTypeI32},
	}}
	body := []ast.Instruction{
		{Op: ast.OpLocalGet, Index: 0},
		{Op: ast.OpLocalGet, Index: 1},
		{Op: ast.OpNumeric, NumOp: ast.NumAdd, NumKind: ast.KindI32},
		{Op: ast.OpEnd},
	}
	return &ast.Module{
		TypeSection:     []*ast.CompositeType{i32i32_i32},
		FunctionSection: []ast.Index{0},
		CodeSection:     []*ast.Code{{Body: body}},
		ExportSection: map[string]*ast.Export{
			"add": {Kind: ast.ExportKindFunc, Name: "add", Index: 0},
		},
	}
}

func TestInstantiateAndInvoke_AddWraparound(t *testing.T) {
	ex := executor.New(core.NewConfig(), nil)
	mod, err := ex.InstantiateModule(context.Background(), addModule())
	require.NoError(t, err)

	add := mod.ExportedFunction("add")
	require.NotNil(t, add)
	require.Equal(t, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, add.ParamTypes())
	require.Equal(t, []api.ValueType{api.ValueTypeI32}, add.ResultTypes())

	results, err := ex.Invoke(context.Background(), add, api.I32(2), api.I32(3))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.EqualValues(t, 5, results[0].I32())

	// i32 addition wraps rather than trapping or widening.
	results, err = ex.Invoke(context.Background(), add, api.I32(math.MaxInt32), api.I32(1))
	require.NoError(t, err)
	require.EqualValues(t, math.MinInt32, results[0].I32())
}

func TestAsyncInvoke(t *testing.T) {
	ex := executor.New(core.NewConfig(), nil)
	mod, err := ex.InstantiateModule(context.Background(), addModule())
	require.NoError(t, err)
	add := mod.ExportedFunction("add")

	future := ex.AsyncInvoke(context.Background(), add, api.I32(10), api.I32(20))
	results, err := future.Wait()
	require.NoError(t, err)
	require.EqualValues(t, 30, results[0].I32())
}

func TestRegisterModule_ImportResolution(t *testing.T) {
	ex := executor.New(core.NewConfig(), nil)
	base, err := ex.RegisterModule(context.Background(), addModule(), "math")
	require.NoError(t, err)
	require.Equal(t, "math", base.Name())

	importer := &ast.Module{
		TypeSection: []*ast.CompositeType{{Kind: ast.CompositeFunc, Func: &ast.FunctionType{
			Params:  []ast.ValueType{ast.ValueTypeI32, ast.ValueTypeI32},
			Results: []ast.ValueType{ast.ValueTypeI32},
		}}},
		ImportSection: []*ast.Import{
			{Kind: ast.ImportKindFunc, Module: "math", Name: "add", DescFunc: 0},
		},
		ExportSection: map[string]*ast.Export{
			"reexported_add": {Kind: ast.ExportKindFunc, Name: "reexported_add", Index: 0},
		},
	}
	imported, err := ex.InstantiateModule(context.Background(), importer)
	require.NoError(t, err)

	fn := imported.ExportedFunction("reexported_add")
	require.NotNil(t, fn)
	results, err := ex.Invoke(context.Background(), fn, api.I32(4), api.I32(6))
	require.NoError(t, err)
	require.EqualValues(t, 10, results[0].I32())
}

func TestRegisterModule_UnknownImport(t *testing.T) {
	ex := executor.New(core.NewConfig(), nil)
	importer := &ast.Module{
		ImportSection: []*ast.Import{
			{Kind: ast.ImportKindFunc, Module: "nope", Name: "add"},
		},
	}
	_, err := ex.InstantiateModule(context.Background(), importer)
	require.Error(t, err)
	var linkErr *core.LinkError
	require.ErrorAs(t, err, &linkErr)
	require.Equal(t, core.LinkUnknownImport, linkErr.Kind)
}

func TestStop(t *testing.T) {
	ex := executor.New(core.NewConfig(), nil)
	ex.Stop()
	ex.Stop() // idempotent
}

// registerNoopHost registers a one-function host module under name,
// returning the shared call counter the host function increments, so a
// test can both drive an import call and observe the pre/post hooks firing
// around it.
func registerNoopHost(t *testing.T, ex *executor.Executor, name string) *int {
	t.Helper()
	calls := 0
	mi := &core.ModuleInstance{ModuleName: name, Exports: map[string]*core.ExportInstance{}}
	fn := &core.FunctionInstance{
		Type:           &ast.FunctionType{},
		Module:         mi,
		HostModuleName: name,
		Name:           "noop",
		GoFunc: func(ctx context.Context, frame api.CallingFrame, args []api.Value) ([]api.Value, error) {
			calls++
			return nil, nil
		},
	}
	mi.Functions = append(mi.Functions, fn)
	mi.Exports["noop"] = &core.ExportInstance{Name: "noop", Kind: ast.ExportKindFunc, Function: fn}

	_, err := ex.RegisterModuleInstance(mi, name)
	require.NoError(t, err)
	return &calls
}

func callerModule(hostModule string) *ast.Module {
	return &ast.Module{
		TypeSection: []*ast.CompositeType{{Kind: ast.CompositeFunc, Func: &ast.FunctionType{}}},
		ImportSection: []*ast.Import{
			{Kind: ast.ImportKindFunc, Module: hostModule, Name: "noop", DescFunc: 0},
		},
		ExportSection: map[string]*ast.Export{
			"run": {Kind: ast.ExportKindFunc, Name: "run", Index: 0},
		},
	}
}

func TestHostFunctionHooksFireAroundCall(t *testing.T) {
	ex := executor.New(core.NewConfig(), nil)
	calls := registerNoopHost(t, ex, "host")

	var preFired, postFired int
	ex.RegisterPreHostFunction(nil, func(any) { preFired++ })
	ex.RegisterPostHostFunction(nil, func(any) { postFired++ })

	mod, err := ex.InstantiateModule(context.Background(), callerModule("host"))
	require.NoError(t, err)
	run := mod.ExportedFunction("run")
	require.NotNil(t, run)

	_, err = ex.Invoke(context.Background(), run)
	require.NoError(t, err)

	require.Equal(t, 1, *calls)
	require.Equal(t, 1, preFired)
	require.Equal(t, 1, postFired)
}

func TestStopInterruptsSubsequentInvoke(t *testing.T) {
	ex := executor.New(core.NewConfig(), nil)
	mod, err := ex.InstantiateModule(context.Background(), addModule())
	require.NoError(t, err)
	add := mod.ExportedFunction("add")

	// Sanity: the call succeeds before Stop.
	_, err = ex.Invoke(context.Background(), add, api.I32(1), api.I32(2))
	require.NoError(t, err)

	ex.Stop()

	_, err = ex.Invoke(context.Background(), add, api.I32(1), api.I32(2))
	require.Error(t, err)
	var trap *core.Trap
	require.ErrorAs(t, err, &trap)
	require.Equal(t, core.TrapInterrupted, trap.Kind)
}

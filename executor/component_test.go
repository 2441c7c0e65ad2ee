package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
	"github.com/wazexec/wazexec/executor"
)

// echoComponent builds a component wrapping a tiny core module: "realloc"
// always hands back a fixed offset into the module's own one-page memory
// (enough for a single short string, which is all this test ever lowers),
// and "echo_core" passes its (ptr, len) pair straight through. The component
// export "echo" canon-lifts echo_core into a string-in/string-out function,
// exercising the full lower-call-lift round trip through linear memory.
func echoComponent() *ast.Component {
	reallocSig := &ast.CompositeType{Kind: ast.CompositeFunc, Func: &ast.FunctionType{
		Params:  []ast.ValueType{ast.ValueTypeI32, ast.ValueTypeI32, ast.ValueTypeI32, ast.ValueTypeI32},
		Results: []ast.ValueType{ast.ValueTypeI32},
	}}
	echoSig := &ast.CompositeType{Kind: ast.CompositeFunc, Func: &ast.FunctionType{
		Params:  []ast.ValueType{ast.ValueTypeI32, ast.ValueTypeI32},
		Results: []ast.ValueType{ast.ValueTypeI32, ast.ValueTypeI32},
	}}

	reallocBody := []ast.Instruction{
		{Op: ast.OpI32Const, I32Const: 1024},
		{Op: ast.OpEnd},
	}
	echoBody := []ast.Instruction{
		{Op: ast.OpLocalGet, Index: 0},
		{Op: ast.OpLocalGet, Index: 1},
		{Op: ast.OpEnd},
	}

	coreMod := &ast.Module{
		TypeSection:     []*ast.CompositeType{reallocSig, echoSig},
		FunctionSection: []ast.Index{0, 1},
		CodeSection:     []*ast.Code{{Body: reallocBody}, {Body: echoBody}},
		MemorySection:   []*ast.MemoryType{{Min: 1, Max: ptrU32(1)}},
		ExportSection: map[string]*ast.Export{
			"mem":       {Kind: ast.ExportKindMemory, Name: "mem", Index: 0},
			"realloc":   {Kind: ast.ExportKindFunc, Name: "realloc", Index: 0},
			"echo_core": {Kind: ast.ExportKindFunc, Name: "echo_core", Index: 1},
		},
	}

	strType := ast.ComponentValType{Kind: ast.ComponentValString}
	reallocIdx := ast.Index(0)
	return &ast.Component{
		CoreModule: coreMod,
		Lifts: []ast.CanonLift{
			{
				CoreFuncIndex: 1,
				Type: ast.ComponentFunctionType{
					Params:  []ast.ComponentNamedValType{{Name: "s", Type: strType}},
					Results: []ast.ComponentValType{strType},
				},
				MemoryIndex:      0,
				ReallocFuncIndex: &reallocIdx,
			},
		},
		Exports: []ast.ComponentExport{
			{Name: "echo", LiftIndex: 0},
		},
	}
}

func ptrU32(v uint32) *uint32 { return &v }

func TestInstantiateComponent_EchoStringRoundTrip(t *testing.T) {
	ex := executor.New(core.NewConfig(), nil)
	mod, err := ex.InstantiateComponent(context.Background(), echoComponent())
	require.NoError(t, err)

	echo := mod.ExportedFunction("echo")
	require.NotNil(t, echo)

	arg := api.RefVal(api.ExternRef("hello component"), api.ValueTypeExternRef)
	results, err := ex.Invoke(context.Background(), echo, arg)
	require.NoError(t, err)
	require.Len(t, results, 1)

	got, ok := results[0].Ref.Extern.(string)
	require.True(t, ok)
	require.Equal(t, "hello component", got)
}

func TestRegisterComponent_NameIsQueryable(t *testing.T) {
	ex := executor.New(core.NewConfig(), nil)
	mod, err := ex.RegisterComponent(context.Background(), echoComponent(), "echoer")
	require.NoError(t, err)
	require.Equal(t, "echoer", mod.Name())
	require.NotNil(t, mod.ExportedFunction("echo"))
}

package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/core"
)

func TestModuleHandleExports(t *testing.T) {
	mem := core.NewMemoryInstance(1, 1, false)
	global := &core.GlobalInstance{Type: api.ValueTypeI32, Mutable: true}
	global.Set(api.I32(7))
	table := core.NewTableInstance(1, 1, api.ValueTypeFuncRef)
	mi := &core.ModuleInstance{
		ModuleName: "m",
		Memories:   []*core.MemoryInstance{mem},
		Exports: map[string]*core.ExportInstance{
			"mem":    {Name: "mem", Kind: 0, Memory: mem},
			"g":      {Name: "g", Kind: 0, Global: global},
			"t":      {Name: "t", Kind: 0, Table: table},
		},
	}
	h := core.NewModuleHandle(mi)

	require.Equal(t, "m", h.Name())
	require.NotNil(t, h.Memory())
	require.Nil(t, h.ExportedFunction("missing"))

	g := h.ExportedGlobal("g")
	require.NotNil(t, g)
	require.EqualValues(t, 7, g.Get(context.Background()).I32())

	m := h.ExportedMemory("mem")
	require.NotNil(t, m)
	ok := m.WriteUint32Le(context.Background(), 0, 0xdeadbeef)
	require.True(t, ok)
	v, ok := m.ReadUint32Le(context.Background(), 0)
	require.True(t, ok)
	require.EqualValues(t, 0xdeadbeef, v)

	tbl := h.ExportedTable("t")
	require.NotNil(t, tbl)
	require.EqualValues(t, 1, tbl.Size(context.Background()))
}

func TestTableHandleBounds(t *testing.T) {
	table := core.NewTableInstance(1, 1, api.ValueTypeFuncRef)
	h := core.TableHandle{T: table}
	_, err := h.Get(context.Background(), 5)
	require.Error(t, err)
	require.ErrorAs(t, err, new(*core.Trap))
}

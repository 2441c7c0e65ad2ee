package wasmdebug

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/core"
)

func TestFuncName(t *testing.T) {
	tests := []struct {
		name, moduleName, funcName string
		funcIdx                    uint32
		expected                   string
	}{ // Only tests a few edge cases to show what it might end up as.
		{name: "empty", expected: ".$0"},
		{name: "empty module", funcName: "y", expected: ".y"},
		{name: "empty function", moduleName: "x", funcIdx: 255, expected: "x.$255"},
		{name: "looks like index in function", moduleName: "x", funcName: "[255]", expected: "x.[255]"},
		{name: "no special characters", moduleName: "x", funcName: "y", expected: "x.y"},
		{name: "dots in module", moduleName: "w.x", funcName: "y", expected: "w.x.y"},
		{name: "dots in function", moduleName: "x", funcName: "y.z", expected: "x.y.z"},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, FuncName(tc.moduleName, tc.funcName, tc.funcIdx))
		})
	}
}

func TestSignature(t *testing.T) {
	i32, i64, f32, f64 := api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64
	tests := []struct {
		name                    string
		paramTypes, resultTypes []api.ValueType
		expected                string
	}{
		{name: "v_v", expected: "x.y()"},
		{name: "i32_v", paramTypes: []api.ValueType{i32}, expected: "x.y(i32)"},
		{name: "i32f64_v", paramTypes: []api.ValueType{i32, f64}, expected: "x.y(i32,f64)"},
		{name: "v_i64", resultTypes: []api.ValueType{i64}, expected: "x.y() i64"},
		{name: "v_i64f32", resultTypes: []api.ValueType{i64, f32}, expected: "x.y() (i64,f32)"},
		{name: "i32_i64", paramTypes: []api.ValueType{i32}, resultTypes: []api.ValueType{i64}, expected: "x.y(i32) i64"},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, signature("x.y", tc.paramTypes, tc.resultTypes))
		})
	}
}

var (
	argErr       = errors.New("invalid argument")
	i32          = api.ValueTypeI32
	i32i32i32i32 = []api.ValueType{i32, i32, i32, i32}
)

func TestErrorBuilder(t *testing.T) {
	tests := []struct {
		name         string
		build        func(ErrorBuilder) error
		expectedErr  string
		expectUnwrap error
	}{
		{
			name: "one",
			build: func(builder ErrorBuilder) error {
				builder.AddFrame("x.y", nil, nil, nil)
				return builder.FromRecovered(argErr)
			},
			expectedErr: `invalid argument (recovered by wazexec)
wasm stack trace:
	x.y()`,
			expectUnwrap: argErr,
		},
		{
			name: "two",
			build: func(builder ErrorBuilder) error {
				builder.AddFrame("wasi_snapshot_preview1.fd_write", i32i32i32i32, []api.ValueType{i32}, nil)
				builder.AddFrame("x.y", nil, nil, nil)
				return builder.FromRecovered(argErr)
			},
			expectedErr: `invalid argument (recovered by wazexec)
wasm stack trace:
	wasi_snapshot_preview1.fd_write(i32,i32,i32,i32) i32
	x.y()`,
			expectUnwrap: argErr,
		},
		{
			name: "core.Trap is self-describing, no suffix",
			build: func(builder ErrorBuilder) error {
				builder.AddFrame("wasi_snapshot_preview1.fd_write", i32i32i32i32, []api.ValueType{i32},
					[]string{"host.go:73:6"})
				builder.AddFrame("x.y", nil, nil, nil)
				return builder.FromRecovered(core.NewTrap(core.TrapStackOverflow, "call stack depth exceeded 65536"))
			},
			expectedErr: `call stack exhausted: call stack depth exceeded 65536
wasm stack trace:
	wasi_snapshot_preview1.fd_write(i32,i32,i32,i32) i32
		host.go:73:6
	x.y()`,
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			withStackTrace := tc.build(NewErrorBuilder())
			require.EqualError(t, withStackTrace, tc.expectedErr)
			if tc.expectUnwrap != nil {
				require.Equal(t, tc.expectUnwrap, errors.Unwrap(withStackTrace))
			}
		})
	}
}

func TestErrorBuilderGoRuntimeError(t *testing.T) {
	builder := NewErrorBuilder()
	builder.AddFrame("wasi_snapshot_preview1.fd_write", i32i32i32i32, []api.ValueType{i32}, nil)
	builder.AddFrame("x.y", nil, nil, nil)

	var rteErr runtime.Error
	func() {
		defer func() {
			if r := recover(); r != nil {
				rteErr = r.(runtime.Error)
			}
		}()
		var s []int
		_ = s[0]
	}()
	require.NotNil(t, rteErr)

	withStackTrace := builder.FromRecovered(rteErr)
	require.Equal(t, rteErr, errors.Unwrap(withStackTrace))

	errStr := withStackTrace.Error()
	require.Contains(t, errStr, `wasm stack trace:
	wasi_snapshot_preview1.fd_write(i32,i32,i32,i32) i32
	x.y()`)
	require.Contains(t, errStr, GoRuntimeErrorTracePrefix)
	require.Contains(t, errStr, "goroutine ")
}

func Test_AddFrame_MaxFrame(t *testing.T) {
	builder := NewErrorBuilder().(*stackTrace)
	for i := 0; i < MaxFrames+10; i++ {
		builder.AddFrame("x.y", nil, nil, []string{"a.go:1:2", "b.go:3:4"})
	}
	require.Equal(t, MaxFrames, builder.frameCount)
	require.Equal(t, MaxFrames*3 /* frame + two inlined sources */ +1, len(builder.lines))
	require.Equal(t, omittedLine, builder.lines[len(builder.lines)-1])
}

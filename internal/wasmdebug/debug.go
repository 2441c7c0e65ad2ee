// Package wasmdebug formats the call-stack state a panic or trap
// interrupted into a human-readable trace, the way a native debugger's
// backtrace does for a crashed process.
//
// Grounded on the teacher's internal/wasmdebug package (FuncName/
// ErrorBuilder/NewErrorBuilder, inferred from their call sites in
// internal/wasm/host.go and internal/engine/wazevo/call_engine.go, since
// the retrieval pack's copy of this package only carries dwarf.go), with
// wasmruntime.Error's "already self-describing, no (recovered by wazexec)
// suffix" special case re-expressed against this module's own *core.Trap.
package wasmdebug

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/internal/core"
)

// MaxFrames bounds how many call frames AddFrame records before collapsing
// the remainder into a single "omitted" marker line, so a deeply recursive
// Wasm-defined function can't make an error message unbounded.
const MaxFrames = 32

// GoRuntimeErrorTracePrefix marks the start of the appended Go runtime
// stack trace FromRecovered adds when the recovered value is a
// runtime.Error (an actual Go panic, not a Wasm trap).
const GoRuntimeErrorTracePrefix = "Go runtime stack trace:"

const omittedLine = "... maybe followed by omitted frames"

// FuncName formats a function's qualified name for a stack trace line,
// falling back to its index ("$3") when it has no debug name, matching
// wat2wasm's own convention for anonymous functions.
func FuncName(moduleName, funcName string, funcIdx uint32) string {
	if funcName == "" {
		funcName = "$" + strconv.FormatUint(uint64(funcIdx), 10)
	}
	return moduleName + "." + funcName
}

// signature appends a function's param/result type list to name, matching
// the .wat text format's own type-list rendering for a call_indirect
// mismatch or a debug dump.
func signature(name string, paramTypes, resultTypes []api.ValueType) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('(')
	for i, p := range paramTypes {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.String())
	}
	sb.WriteByte(')')
	switch len(resultTypes) {
	case 0:
	case 1:
		sb.WriteByte(' ')
		sb.WriteString(resultTypes[0].String())
	default:
		sb.WriteString(" (")
		for i, r := range resultTypes {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(r.String())
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// ErrorBuilder accumulates call frames (innermost first) during a panic
// recovery unwind, then formats them into the error FromRecovered returns.
// One ErrorBuilder is good for exactly one recovered error.
type ErrorBuilder interface {
	// AddFrame records one call frame; sources is the optional per-frame
	// inlined-call chain (e.g. from a source map), printed indented
	// beneath the frame itself.
	AddFrame(name string, paramTypes, resultTypes []api.ValueType, sources []string)
	// FromRecovered formats the accumulated frames around recovered,
	// wrapping it so errors.Unwrap still reaches the original value.
	FromRecovered(recovered any) error
}

func NewErrorBuilder() ErrorBuilder { return &stackTrace{} }

type stackTrace struct {
	lines      []string
	frameCount int
}

func (s *stackTrace) AddFrame(name string, paramTypes, resultTypes []api.ValueType, sources []string) {
	if s.frameCount >= MaxFrames {
		if len(s.lines) == 0 || s.lines[len(s.lines)-1] != omittedLine {
			s.lines = append(s.lines, omittedLine)
		}
		return
	}
	s.lines = append(s.lines, "\t"+signature(name, paramTypes, resultTypes))
	for _, src := range sources {
		s.lines = append(s.lines, "\t\t"+src)
	}
	s.frameCount++
}

func (s *stackTrace) FromRecovered(recovered any) error {
	cause := toError(recovered)

	var sb strings.Builder
	if trap, ok := cause.(*core.Trap); ok {
		sb.WriteString(trap.Error())
	} else {
		sb.WriteString(cause.Error())
		sb.WriteString(" (recovered by wazexec)")
	}
	sb.WriteString("\nwasm stack trace:")
	for _, l := range s.lines {
		sb.WriteByte('\n')
		sb.WriteString(l)
	}

	if _, ok := recovered.(runtime.Error); ok {
		sb.WriteByte('\n')
		sb.WriteString(GoRuntimeErrorTracePrefix)
		sb.WriteByte('\n')
		sb.Write(debug.Stack())
	}

	return &recoveredError{msg: sb.String(), cause: cause}
}

func toError(recovered any) error {
	if err, ok := recovered.(error); ok {
		return err
	}
	return fmt.Errorf("%v", recovered)
}

type recoveredError struct {
	msg   string
	cause error
}

func (e *recoveredError) Error() string { return e.msg }
func (e *recoveredError) Unwrap() error { return e.cause }

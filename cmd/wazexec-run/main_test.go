package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// runMain drives doMain the way cmd/wazero's own tests drive doMain:
// capture exit code and both output streams without touching the real
// process exit path.
func runMain(t *testing.T, args []string) (exitCode int, stdOut, stdErr string) {
	t.Helper()
	var outBuf, errBuf bytes.Buffer
	exited := false
	doMain(args, &outBuf, &errBuf, func(code int) {
		exitCode = code
		exited = true
	})
	require.True(t, exited, "doMain returned without calling exit")
	return exitCode, outBuf.String(), errBuf.String()
}

func TestRun_Add(t *testing.T) {
	code, stdOut, stdErr := runMain(t, []string{"2", "3"})
	require.Equal(t, 0, code)
	require.Equal(t, "5\n", stdOut)
	require.Empty(t, stdErr)
}

func TestRun_NegativeOperand(t *testing.T) {
	code, stdOut, _ := runMain(t, []string{"-5", "10"})
	require.Equal(t, 0, code)
	require.Equal(t, "5\n", stdOut)
}

func TestRun_MissingArgs(t *testing.T) {
	code, _, stdErr := runMain(t, []string{"1"})
	require.Equal(t, 1, code)
	require.Contains(t, stdErr, "usage:")
}

func TestRun_InvalidOperand(t *testing.T) {
	code, _, stdErr := runMain(t, []string{"nope", "1"})
	require.Equal(t, 1, code)
	require.True(t, strings.Contains(stdErr, "invalid lhs operand"))
}

func TestRun_Help(t *testing.T) {
	code, _, stdErr := runMain(t, []string{"-h"})
	require.Equal(t, 0, code)
	require.Contains(t, stdErr, "wazexec-run")
}

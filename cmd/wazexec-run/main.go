// Command wazexec-run is a tiny CLI embedder demonstrating the Executor
// Facade end to end: build a module, instantiate it, invoke an exported
// function, print the result. There is no binary/text-format decoder in
// this module (the execution core takes an already-validated *ast.Module,
// per spec), so this demo builds its module directly rather than reading a
// .wasm file from disk, unlike the teacher's cmd/wazero which always starts
// from a compiled binary on disk.
//
// Grounded on cmd/wazero/wazero.go's flag.NewFlagSet-per-subcommand shape,
// scaled down to the one subcommand this module's scope supports.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/wazexec/wazexec/api"
	"github.com/wazexec/wazexec/executor"
	"github.com/wazexec/wazexec/internal/ast"
	"github.com/wazexec/wazexec/internal/core"
)

func main() {
	doMain(os.Args[1:], os.Stdout, os.Stderr, os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	flags := flag.NewFlagSet("wazexec-run", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "print usage")
	var verbose bool
	flags.BoolVar(&verbose, "v", false, "enable verbose (debug-level) logging")

	if err := flags.Parse(args); err != nil {
		exit(1)
		return
	}
	if help {
		printUsage(stdErr, flags)
		exit(0)
		return
	}
	if flags.NArg() < 2 {
		fmt.Fprintln(stdErr, "usage: wazexec-run <lhs> <rhs>")
		printUsage(stdErr, flags)
		exit(1)
		return
	}

	lhs, err := strconv.ParseInt(flags.Arg(0), 10, 32)
	if err != nil {
		fmt.Fprintf(stdErr, "invalid lhs operand %q: %v\n", flags.Arg(0), err)
		exit(1)
		return
	}
	rhs, err := strconv.ParseInt(flags.Arg(1), 10, 32)
	if err != nil {
		fmt.Fprintf(stdErr, "invalid rhs operand %q: %v\n", flags.Arg(1), err)
		exit(1)
		return
	}

	log := newLogger(verbose)
	defer log.Sync() //nolint:errcheck

	ex := executor.New(core.NewConfig(), log)
	ctx := context.Background()

	mod, err := ex.InstantiateModule(ctx, addModule())
	if err != nil {
		log.Error("instantiate failed", zap.Error(err))
		exit(1)
		return
	}

	add := mod.ExportedFunction("add")
	results, err := ex.Invoke(ctx, add, api.I32(int32(lhs)), api.I32(int32(rhs)))
	if err != nil {
		log.Error("invoke failed", zap.Error(err))
		exit(1)
		return
	}

	fmt.Fprintln(stdOut, results[0].I32())
	exit(0)
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		log = zap.NewNop()
	}
	return log
}

func printUsage(stdErr io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(stdErr, "wazexec-run [-h] [-v] <lhs> <rhs>")
	fmt.Fprintln(stdErr, "  instantiates a built-in i32 add module and invokes add(lhs, rhs)")
	flags.PrintDefaults()
}

// addModule is the same minimal two-param i32 "add" module the Executor
// Facade's own tests build by hand; the CLI exists to exercise the public
// API end to end, not to add a second module-building path.
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

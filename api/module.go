package api

import (
	"context"
	"fmt"
)

// Closer closes a resource. Note: this is an interface for decoupling, not
// third-party implementation; every implementation lives in this module.
type Closer interface {
	Close(context.Context) error
}

// Module is a handle to an instantiated module instance (§6 "Module
// handle"): opaque to the embedder beyond the accessors below, returned
// from Executor.InstantiateModule/RegisterModule and used to look up
// exports by name and type.
type Module interface {
	fmt.Stringer

	// Name is the name this module was instantiated/registered with.
	Name() string

	// Memory returns the module's own (possibly unexported) memory, or nil
	// if it declares none.
	Memory() Memory

	ExportedFunction(name string) Function
	ExportedMemory(name string) Memory
	ExportedGlobal(name string) Global
	ExportedTable(name string) Table

	// CloseWithExitCode releases every instance this module owns exclusively
	// and unregisters it from its Store. The exit code does not interrupt or
	// change the result of a function that is still executing.
	CloseWithExitCode(ctx context.Context, exitCode uint32) error
	Closer
}

// Function is an exported function, invocable synchronously via Call. The
// asynchronous form lives on the Executor facade (Executor.AsyncInvoke),
// since cancellation is a store-wide concept, not a per-function one.
type Function interface {
	ParamTypes() []ValueType
	ResultTypes() []ValueType

	// Call invokes the function with a value per ParamTypes and returns a
	// value per ResultTypes, or an error: a Trap, a HostError, or a
	// context cancellation.
	Call(ctx context.Context, params ...Value) ([]Value, error)
}

// Global is an exported global. See MutableGlobal for the mutable variant.
type Global interface {
	fmt.Stringer
	Type() ValueType
	Get(context.Context) Value
}

// MutableGlobal is a Global declared mutable in its module.
type MutableGlobal interface {
	Global
	Set(ctx context.Context, v Value)
}

// Table is an exported table of references.
type Table interface {
	Size(context.Context) uint32
	Type() ValueType
	Get(ctx context.Context, index uint32) (Reference, error)
	Set(ctx context.Context, index uint32, ref Reference) error
	Grow(ctx context.Context, delta uint32, init Reference) (previous uint32, ok bool)
}

// Memory allows restricted access to a module's linear memory: bounds
// checked byte-level access plus growth, mirroring §4.E's memory semantics.
type Memory interface {
	Size(context.Context) uint32
	Grow(ctx context.Context, deltaPages uint32) (previousPages uint32, ok bool)

	ReadByte(ctx context.Context, offset uint32) (byte, bool)
	ReadUint32Le(ctx context.Context, offset uint32) (uint32, bool)
	ReadUint64Le(ctx context.Context, offset uint32) (uint64, bool)
	Read(ctx context.Context, offset, byteCount uint32) ([]byte, bool)

	WriteByte(ctx context.Context, offset uint32, v byte) bool
	WriteUint32Le(ctx context.Context, offset uint32, v uint32) bool
	WriteUint64Le(ctx context.Context, offset uint32, v uint64) bool
	Write(ctx context.Context, offset uint32, v []byte) bool
}

// HostFunction is the ABI a host function is called through (§6 "Host
// function ABI"): the calling frame exposes the current module instance's
// memory and the executor, and the function returns either results or an
// error which propagates as a HostError.
type HostFunction func(ctx context.Context, frame CallingFrame, params []Value) ([]Value, error)

// CallingFrame exposes the caller-visible state a host function may need.
type CallingFrame interface {
	Module() Module
	Memory() Memory
}

// PrePostHostFunc is the fire-and-forget hook signature for
// Executor.RegisterPreHostFunction / RegisterPostHostFunction.
type PrePostHostFunc func(data any)

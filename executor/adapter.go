package executor

import "github.com/wazexec/wazexec/internal/core"

// moduleHandle is an alias for core.ModuleHandle: the adapter type lives in
// internal/core (see its doc comment) so the Interpreter's hostCallingFrame
// can build one too, without an interpreter -> executor import cycle.
type moduleHandle = core.ModuleHandle

//go:build !linux || !(amd64 || arm64)

package atomics

import (
	"context"

	"github.com/wazexec/wazexec/internal/core"
)

// On platforms without a Linux futex (or on linux/386, linux/arm, etc. where
// the 32-bit address space makes the amd64/arm64-only Timespec handling in
// futex_linux.go inapplicable), Wait32/Wait64/Notify fall back to the
// portable sync.Cond implementation unconditionally.
func (c *Coordinator) futexWait32(ctx context.Context, mem *core.MemoryInstance, addr uint32, expected uint32, timeoutNanos int64) (WaitResult, *core.Trap) {
	return c.condWait32(ctx, mem, addr, expected, timeoutNanos)
}

func (c *Coordinator) futexWait64(ctx context.Context, mem *core.MemoryInstance, addr uint32, expected uint64, timeoutNanos int64) (WaitResult, *core.Trap) {
	return c.condWait64(ctx, mem, addr, expected, timeoutNanos)
}

func (c *Coordinator) futexNotify(mem *core.MemoryInstance, addr uint32, count uint32) uint32 {
	return c.condNotify(mem, addr, count)
}

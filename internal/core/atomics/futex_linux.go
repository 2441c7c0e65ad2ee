//go:build linux && (amd64 || arm64)

package atomics

import (
	"context"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wazexec/wazexec/internal/core"
)

// futexWaitOp and futexWakeOp are the futex(2) op codes for FUTEX_WAIT and
// FUTEX_WAKE. golang.org/x/sys/unix exposes the FUTEX syscall number
// (unix.SYS_FUTEX) but not these op constants, so they're defined here.
const (
	futexWaitOp = 0
	futexWakeOp = 1
)

// futexCall issues the futex(2) syscall directly via unix.SYS_FUTEX, since
// golang.org/x/sys/unix does not provide a higher-level wrapper.
func futexCall(addr *int32, op int, val int32, ts *unix.Timespec) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(op),
		uintptr(val),
		uintptr(unsafe.Pointer(ts)),
		0,
		0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// futexPollSlice bounds every FUTEX_WAIT syscall so a canceled context, an
// expiring caller-supplied deadline, or Shutdown's stop flag is never
// observed more than this long after the fact: the kernel gives this
// goroutine no way to interrupt an in-progress futex wait from a Go channel.
const futexPollSlice = 20 * time.Millisecond

// futexAddr recovers a stable pointer into mem's backing array for the
// 32-bit cell at addr. This is safe only because NewMemoryInstance reserves
// a shared memory's full Max-page capacity up front, so Buffer's backing
// array never reallocates under a live futex registered against it; a
// growable, unreserved Buffer would make this pointer dangle across a Grow.
func futexAddr(mem *core.MemoryInstance, addr uint32) *int32 {
	return (*int32)(unsafe.Pointer(&mem.Buffer[addr]))
}

func futexDeadline(timeoutNanos int64) (time.Time, bool) {
	if timeoutNanos < 0 {
		return time.Time{}, false
	}
	return time.Now().Add(time.Duration(timeoutNanos)), true
}

// futexWait32 is the linux/amd64+arm64 fast path for memory.atomic.wait32:
// a real FUTEX_WAIT syscall against the memory cell itself, so a waiter
// parked here is woken by any thread's FUTEX_WAKE on the same address,
// including one issued by another OS process sharing this memory's pages.
// Polled in futexPollSlice chunks since the kernel call itself cannot be
// interrupted by ctx cancellation or Shutdown.
func (c *Coordinator) futexWait32(ctx context.Context, mem *core.MemoryInstance, addr uint32, expected uint32, timeoutNanos int64) (WaitResult, *core.Trap) {
	ptr := futexAddr(mem, addr)
	deadline, hasDeadline := futexDeadline(timeoutNanos)
	for {
		if mem.AtomicLoad32(addr) != expected {
			return WaitNotEqual, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, core.NewTrap(core.TrapInterrupted, "memory.atomic.wait interrupted")
		}
		if c.stopped.Load() {
			return WaitOK, nil
		}
		slice := futexPollSlice
		if hasDeadline {
			remain := time.Until(deadline)
			if remain <= 0 {
				return WaitTimedOut, nil
			}
			if remain < slice {
				slice = remain
			}
		}
		ts := unix.NsecToTimespec(slice.Nanoseconds())
		if err := futexCall(ptr, futexWaitOp, int32(expected), &ts); err != nil {
			switch err {
			case unix.EAGAIN, unix.EINTR, unix.ETIMEDOUT:
				// Value already changed, a signal arrived, or our own poll
				// slice elapsed: loop around and re-check.
			default:
				return 0, core.NewTrap(core.TrapInterrupted, "memory.atomic.wait: %s", err)
			}
		} else {
			// A zero return means a FUTEX_WAKE on this address woke us.
			return WaitOK, nil
		}
	}
}

// futexWait64 compares the full 64-bit cell on every wake, but the futex
// syscall itself can only watch one 32-bit word; it watches the low half,
// which is sufficient to catch the common case of another thread's RMW
// changing the cell and simply costs an extra poll-slice wakeup in the rare
// case only the high half changed.
func (c *Coordinator) futexWait64(ctx context.Context, mem *core.MemoryInstance, addr uint32, expected uint64, timeoutNanos int64) (WaitResult, *core.Trap) {
	ptr := futexAddr(mem, addr)
	deadline, hasDeadline := futexDeadline(timeoutNanos)
	for {
		if mem.AtomicLoad64(addr) != expected {
			return WaitNotEqual, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, core.NewTrap(core.TrapInterrupted, "memory.atomic.wait interrupted")
		}
		if c.stopped.Load() {
			return WaitOK, nil
		}
		slice := futexPollSlice
		if hasDeadline {
			remain := time.Until(deadline)
			if remain <= 0 {
				return WaitTimedOut, nil
			}
			if remain < slice {
				slice = remain
			}
		}
		ts := unix.NsecToTimespec(slice.Nanoseconds())
		expectedLo := int32(uint32(expected))
		if err := futexCall(ptr, futexWaitOp, expectedLo, &ts); err != nil {
			switch err {
			case unix.EAGAIN, unix.EINTR, unix.ETIMEDOUT:
			default:
				return 0, core.NewTrap(core.TrapInterrupted, "memory.atomic.wait: %s", err)
			}
		} else {
			return WaitOK, nil
		}
	}
}

// futexNotify issues a real FUTEX_WAKE against addr for up to count waiters
// (clamped to the kernel's int32 limit) and returns the number of waiters
// the kernel reports it woke, or 0 if the syscall fails. A waiter that is
// between poll slices rather than parked in the kernel is not counted.
func (c *Coordinator) futexNotify(mem *core.MemoryInstance, addr uint32, count uint32) uint32 {
	ptr := futexAddr(mem, addr)
	wake := count
	if wake > 1<<31-1 {
		wake = 1<<31 - 1
	}
	n, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(ptr)), futexWakeOp, uintptr(wake), 0, 0, 0)
	if errno != 0 {
		return 0
	}
	return uint32(n)
}

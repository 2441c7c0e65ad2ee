// Package atomics is the Atomic Coordinator (module G): the cross-thread
// wait/notify waiter table backing memory.atomic.wait32/64 and
// memory.atomic.notify. The read-modify-write primitives the interpreter's
// atomic RMW instructions use live on core.MemoryInstance (AtomicRMW32/64),
// not in this package.
//
// The teacher has no threads proposal support (wazero's memory is
// single-agent), so this package is grounded on the legacy wasm/vm_stack.go
// goroutine-safety posture generalized with the standard library's own
// futex-shaped primitive, sync.Cond, keyed per address the way a Linux futex
// table is keyed per physical page+offset.
package atomics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wazexec/wazexec/internal/core"
)

// afterNanos returns a channel that fires once after d nanoseconds, or never
// if d is negative (memory.atomic.wait's "no timeout" immediate).
func afterNanos(d int64) <-chan time.Time {
	if d < 0 {
		return nil
	}
	return time.After(time.Duration(d))
}

// Coordinator owns one waiter table per Store, since wait/notify addresses
// are only comparable within the memories of a single store (shared memories
// crossing stores is out of scope).
type Coordinator struct {
	mu      sync.Mutex
	waiters map[waitKey]*waiterList

	// stopped latches true on Shutdown so a platform futex fast path (whose
	// poll loop has no other way to observe a Broadcast) notices the same
	// stop signal the portable sync.Cond path gets for free.
	stopped atomic.Bool
}

type waitKey struct {
	mem  *core.MemoryInstance
	addr uint32
}

type waiterList struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func NewCoordinator() *Coordinator {
	return &Coordinator{waiters: make(map[waitKey]*waiterList)}
}

func (c *Coordinator) list(mem *core.MemoryInstance, addr uint32) *waiterList {
	key := waitKey{mem, addr}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.waiters[key]
	if !ok {
		l = &waiterList{}
		l.cond = sync.NewCond(&l.mu)
		c.waiters[key] = l
	}
	return l
}

// WaitResult mirrors the three-way result memory.atomic.wait defines: 0
// ("ok", woken by notify), 1 ("not-equal", the expected value didn't match),
// or 2 ("timed-out").
type WaitResult int32

const (
	WaitOK WaitResult = iota
	WaitNotEqual
	WaitTimedOut
)

// Wait32 blocks the calling goroutine until notified, the deadline implied
// by timeoutNanos elapses (negative means no deadline), or ctx is canceled,
// per memory.atomic.wait32's semantics. On linux/amd64 and linux/arm64 this
// dispatches to the futex fast path, which issues the futex(2) syscall
// directly through unix.Syscall6 (see futex_linux.go); elsewhere it falls back to the portable sync.Cond
// implementation below.
func (c *Coordinator) Wait32(ctx context.Context, mem *core.MemoryInstance, addr uint32, expected uint32, timeoutNanos int64) (WaitResult, *core.Trap) {
	if !mem.Shared {
		return 0, core.NewTrap(core.TrapOutOfBounds, "memory.atomic.wait on a non-shared memory")
	}
	return c.futexWait32(ctx, mem, addr, expected, timeoutNanos)
}

func (c *Coordinator) Wait64(ctx context.Context, mem *core.MemoryInstance, addr uint32, expected uint64, timeoutNanos int64) (WaitResult, *core.Trap) {
	if !mem.Shared {
		return 0, core.NewTrap(core.TrapOutOfBounds, "memory.atomic.wait on a non-shared memory")
	}
	return c.futexWait64(ctx, mem, addr, expected, timeoutNanos)
}

// condWait32/condWait64 are the portable sync.Cond implementation: the
// expected/actual comparison and the park must be atomic with respect to a
// concurrent notify, so the waiter's registration happens before the value
// is re-checked. Used directly on platforms without a futex fast path, and
// always available as the non-Linux build's only implementation.
func (c *Coordinator) condWait32(ctx context.Context, mem *core.MemoryInstance, addr uint32, expected uint32, timeoutNanos int64) (WaitResult, *core.Trap) {
	l := c.list(mem, addr)
	l.mu.Lock()
	if mem.AtomicLoad32(addr) != expected {
		l.mu.Unlock()
		return WaitNotEqual, nil
	}
	l.n++
	defer func() { l.n--; l.mu.Unlock() }()
	return waitOn(ctx, l, timeoutNanos)
}

func (c *Coordinator) condWait64(ctx context.Context, mem *core.MemoryInstance, addr uint32, expected uint64, timeoutNanos int64) (WaitResult, *core.Trap) {
	l := c.list(mem, addr)
	l.mu.Lock()
	if mem.AtomicLoad64(addr) != expected {
		l.mu.Unlock()
		return WaitNotEqual, nil
	}
	l.n++
	defer func() { l.n--; l.mu.Unlock() }()
	return waitOn(ctx, l, timeoutNanos)
}

// waitOn parks on l.cond, waking early on ctx cancellation or the timeout by
// running a sibling goroutine that performs the corresponding Broadcast; l.mu
// is held on entry and exit, matching sync.Cond.Wait's contract.
func waitOn(ctx context.Context, l *waiterList, timeoutNanos int64) (WaitResult, *core.Trap) {
	woken := make(chan struct{})
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		case <-afterNanos(timeoutNanos):
		}
		l.mu.Lock()
		close(woken)
		l.cond.Broadcast()
		l.mu.Unlock()
	}()

	l.cond.Wait()
	close(done)

	select {
	case <-woken:
		if ctx.Err() != nil {
			return 0, core.NewTrap(core.TrapInterrupted, "memory.atomic.wait interrupted")
		}
		return WaitTimedOut, nil
	default:
		return WaitOK, nil
	}
}

// Shutdown wakes every waiter currently parked in this Coordinator's table,
// without regard to count or address, so an Executor-level stop never
// leaves a memory.atomic.wait blocked forever. A woken waiter sees the
// ordinary Notify-shaped WaitOK result; it is the interpreter's own
// stop-token check on the next instruction dispatch that actually halts
// the run, matching Stop()'s "does not forcibly terminate" contract.
func (c *Coordinator) Shutdown() {
	c.stopped.Store(true)
	c.mu.Lock()
	lists := make([]*waiterList, 0, len(c.waiters))
	for _, l := range c.waiters {
		lists = append(lists, l)
	}
	c.mu.Unlock()
	for _, l := range lists {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// Notify wakes up to count waiters parked on addr, returning how many were
// actually woken, per memory.atomic.notify. Dispatches to the same futex
// fast path Wait32/Wait64 use.
func (c *Coordinator) Notify(mem *core.MemoryInstance, addr uint32, count uint32) uint32 {
	return c.futexNotify(mem, addr, count)
}

// condNotify is the portable sync.Cond counterpart to condWait32/condWait64.
func (c *Coordinator) condNotify(mem *core.MemoryInstance, addr uint32, count uint32) uint32 {
	l := c.list(mem, addr)
	l.mu.Lock()
	woken := uint32(l.n)
	if count < woken {
		woken = count
	}
	for i := uint32(0); i < woken; i++ {
		l.cond.Signal()
	}
	l.mu.Unlock()
	return woken
}

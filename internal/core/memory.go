package core

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"unsafe"
)

const (
	MemoryPageSize       = uint32(65536)
	MemoryMaxPages       = uint32(65536)
	MemoryPageSizeInBits = 16
)

// MemoryInstance represents a memory instance in a Store; see §3. Grow
// appends to Buffer without taking any lock; reads and non-atomic writes
// performed by the interpreter are likewise unsynchronized between threads, per §5's ordering rule that the Wasm program alone is
// responsible for synchronizing non-atomic memory access.
type MemoryInstance struct {
	Buffer []byte
	Min    uint32
	Max    uint32
	Shared bool
}

func NewMemoryInstance(min, max uint32, shared bool) *MemoryInstance {
	size := memoryPagesToBytesNum(min)
	capBytes := size
	if shared {
		// A shared memory's cells may be captured by the Atomic Coordinator's
		// futex fast path as raw pointers into Buffer; reserving the full Max
		// capacity up front means Grow's append never reallocates, so those
		// pointers stay valid for the memory's whole lifetime.
		capBytes = memoryPagesToBytesNum(max)
	}
	return &MemoryInstance{
		Buffer: make([]byte, size, capBytes),
		Min:    min,
		Max:    max,
		Shared: shared,
	}
}

func memoryPagesToBytesNum(pages uint32) uint64 { return uint64(pages) << MemoryPageSizeInBits }
func memoryBytesNumToPages(n uint64) uint32     { return uint32(n >> MemoryPageSizeInBits) }

func (m *MemoryInstance) Size() uint32 { return uint32(len(m.Buffer)) }

func (m *MemoryInstance) PageSize() uint32 { return memoryBytesNumToPages(uint64(len(m.Buffer))) }

func (m *MemoryInstance) hasSize(offset, sizeInBytes uint32) bool {
	return uint64(offset)+uint64(sizeInBytes) <= uint64(m.Size())
}

// HasSize is the exported form of hasSize, for callers outside this package
// (the interpreter's bulk-memory ops) that need a bounds check without a
// full read/write.
func (m *MemoryInstance) HasSize(offset, sizeInBytes uint32) bool { return m.hasSize(offset, sizeInBytes) }

func (m *MemoryInstance) ReadByte(offset uint32) (byte, bool) {
	if offset >= m.Size() {
		return 0, false
	}
	return m.Buffer[offset], true
}

func (m *MemoryInstance) ReadUint16Le(offset uint32) (uint16, bool) {
	if !m.hasSize(offset, 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(m.Buffer[offset:]), true
}

func (m *MemoryInstance) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.hasSize(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.Buffer[offset:]), true
}

func (m *MemoryInstance) ReadUint64Le(offset uint32) (uint64, bool) {
	if !m.hasSize(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.Buffer[offset:]), true
}

func (m *MemoryInstance) ReadFloat32Le(offset uint32) (float32, bool) {
	v, ok := m.ReadUint32Le(offset)
	return math.Float32frombits(v), ok
}

func (m *MemoryInstance) ReadFloat64Le(offset uint32) (float64, bool) {
	v, ok := m.ReadUint64Le(offset)
	return math.Float64frombits(v), ok
}

func (m *MemoryInstance) Read(offset, byteCount uint32) ([]byte, bool) {
	if !m.hasSize(offset, byteCount) {
		return nil, false
	}
	return m.Buffer[offset : offset+byteCount], true
}

func (m *MemoryInstance) WriteByte(offset uint32, v byte) bool {
	if offset >= m.Size() {
		return false
	}
	m.Buffer[offset] = v
	return true
}

func (m *MemoryInstance) WriteUint16Le(offset uint32, v uint16) bool {
	if !m.hasSize(offset, 2) {
		return false
	}
	binary.LittleEndian.PutUint16(m.Buffer[offset:], v)
	return true
}

func (m *MemoryInstance) WriteUint32Le(offset uint32, v uint32) bool {
	if !m.hasSize(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.Buffer[offset:], v)
	return true
}

func (m *MemoryInstance) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.hasSize(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.Buffer[offset:], v)
	return true
}

func (m *MemoryInstance) Write(offset uint32, val []byte) bool {
	if !m.hasSize(offset, uint32(len(val))) {
		return false
	}
	copy(m.Buffer[offset:], val)
	return true
}

// Grow extends the buffer by newPages, returning the prior page size, or
// false when doing so would exceed Max. Every store-visible memory.grow
// funnels through here so a single implementation backs both the
// interpreter and the Compiled-Code Bridge's proxyMemGrow.
func (m *MemoryInstance) Grow(newPages uint32) (previous uint32, ok bool) {
	current := m.PageSize()
	if current+newPages > m.Max {
		return 0, false
	}
	m.Buffer = append(m.Buffer, make([]byte, memoryPagesToBytesNum(newPages))...)
	return current, true
}

// AtomicLoad32/64 and AtomicStore32/64 give the atomics package sequentially
// consistent access to a memory cell without depending on the interpreter.
// The caller (internal/core/atomics) is responsible for bounds and alignment
// checks before calling these. A shared memory's Buffer never reallocates,
// since NewMemoryInstance reserves its full Max capacity up front.
func (m *MemoryInstance) AtomicLoad32(offset uint32) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&m.Buffer[offset])))
}

func (m *MemoryInstance) AtomicStore32(offset uint32, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&m.Buffer[offset])), v)
}

func (m *MemoryInstance) AtomicLoad64(offset uint32) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&m.Buffer[offset])))
}

func (m *MemoryInstance) AtomicStore64(offset uint32, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&m.Buffer[offset])), v)
}

// AtomicRMW32 applies op to the current value at offset and stores the
// result, returning the value observed before the update, exactly as every
// i32.atomic.rmw.* instruction requires. Implemented as a compare-and-swap
// retry loop since op is arbitrary (add/sub/and/or/xor/xchg all reduce to
// this one primitive).
func (m *MemoryInstance) AtomicRMW32(offset uint32, op func(old uint32) uint32) uint32 {
	addr := (*uint32)(unsafe.Pointer(&m.Buffer[offset]))
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, op(old)) {
			return old
		}
	}
}

func (m *MemoryInstance) AtomicRMW64(offset uint32, op func(old uint64) uint64) uint64 {
	addr := (*uint64)(unsafe.Pointer(&m.Buffer[offset]))
	for {
		old := atomic.LoadUint64(addr)
		if atomic.CompareAndSwapUint64(addr, old, op(old)) {
			return old
		}
	}
}

// AtomicCompareExchange32/64 implement the cmpxchg instructions directly
// (rather than through AtomicRMW32/64) since CompareAndSwap already reports
// whether the expected value was observed; the spec defines the instruction
// to return the value actually present either way.
func (m *MemoryInstance) AtomicCompareExchange32(offset uint32, expected, replacement uint32) uint32 {
	addr := (*uint32)(unsafe.Pointer(&m.Buffer[offset]))
	for {
		old := atomic.LoadUint32(addr)
		if old != expected {
			return old
		}
		if atomic.CompareAndSwapUint32(addr, old, replacement) {
			return old
		}
	}
}

func (m *MemoryInstance) AtomicCompareExchange64(offset uint32, expected, replacement uint64) uint64 {
	addr := (*uint64)(unsafe.Pointer(&m.Buffer[offset]))
	for {
		old := atomic.LoadUint64(addr)
		if old != expected {
			return old
		}
		if atomic.CompareAndSwapUint64(addr, old, replacement) {
			return old
		}
	}
}

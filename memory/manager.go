package memory

import "unsafe"

// TempAllocator hands out scratch space for one execution step. Memory
// obtained from it is valid only until the current execute call returns; the
// next call may reuse or overwrite it.
type TempAllocator interface {
	Allocate(size, alignment int) ([]byte, error)
	Reset()
}

// heapTempAllocator is the fallback used when no temp arena is injected: it
// allocates from the Go heap and lets Reset drop the references. Embedded
// deployments that cannot tolerate heap traffic inject a fixed Allocator
// instead.
type heapTempAllocator struct {
	live [][]byte
}

func (a *heapTempAllocator) Allocate(size, alignment int) ([]byte, error) {
	if alignment == 0 {
		alignment = DefaultAlignment
	}
	// The heap only guarantees element alignment, so over-allocate and slice
	// from the first aligned byte.
	buf := make([]byte, size+alignment)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&buf[0])) % uintptr(alignment)); rem != 0 {
		off = alignment - rem
	}
	buf = buf[off : off+size : off+size]
	a.live = append(a.live, buf)
	return buf, nil
}

func (a *heapTempAllocator) Reset() { a.live = a.live[:0] }

// Manager bundles the three allocation tiers a method executes against:
//
//   - planned: the hierarchical view over the memory-plan segments, holding
//     all tensor storage for the method's lifetime;
//   - method: storage for the method's own structures, carved out at load
//     time;
//   - temp: per-call scratch, reset at the start of every execution.
type Manager struct {
	planned *HierarchicalAllocator
	method  *Allocator
	temp    TempAllocator
}

// NewManager creates a Manager. methodAllocator and temp may be nil: a nil
// temp falls back to heap-backed scratch.
func NewManager(planned *HierarchicalAllocator, methodAllocator *Allocator, temp TempAllocator) *Manager {
	if temp == nil {
		temp = &heapTempAllocator{}
	}
	return &Manager{planned: planned, method: methodAllocator, temp: temp}
}

// PlannedMemory returns the tiered allocator over the plan segments.
func (m *Manager) PlannedMemory() *HierarchicalAllocator { return m.planned }

// MethodAllocator returns the load-time allocator, or nil if none was given.
func (m *Manager) MethodAllocator() *Allocator { return m.method }

// TempAllocator returns the per-call scratch allocator.
func (m *Manager) TempAllocator() TempAllocator { return m.temp }

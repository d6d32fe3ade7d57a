// Package memory implements the static memory-planning layer: fixed-buffer
// bump allocators, the hierarchical (per-plan-segment) allocator a method's
// tensors are carved out of, and the MemoryManager that bundles them.
//
// Nothing in this package touches the Go heap after construction: executing a
// method against planned memory performs no allocation.
package memory

import (
	"github.com/mcr229/executorch/status"
)

// DefaultAlignment is used when an allocation does not request a stricter
// one.
const DefaultAlignment = 8

// Allocator is a bump allocator over one fixed byte buffer. Allocations are
// only released all at once, with Reset.
//
// Not safe for concurrent use.
type Allocator struct {
	name string
	buf  []byte
	off  int
}

// NewAllocator returns a bump allocator over buf. The name is used only in
// error messages.
func NewAllocator(name string, buf []byte) *Allocator {
	return &Allocator{name: name, buf: buf}
}

// Allocate returns a slice of size bytes aligned to the given alignment
// (DefaultAlignment if 0). Fails with MemoryAllocationFailed when the buffer
// is exhausted.
func (a *Allocator) Allocate(size, alignment int) ([]byte, error) {
	if alignment == 0 {
		alignment = DefaultAlignment
	}
	aligned := (a.off + alignment - 1) &^ (alignment - 1)
	if aligned+size > len(a.buf) {
		return nil, status.Errorf(status.MemoryAllocationFailed,
			"allocator %q exhausted: requested %d bytes, %d of %d used", a.name, size, a.off, len(a.buf))
	}
	out := a.buf[aligned : aligned+size : aligned+size]
	a.off = aligned + size
	return out, nil
}

// Reset releases every allocation at once. Previously returned slices become
// invalid for their owners and will be handed out again.
func (a *Allocator) Reset() { a.off = 0 }

// Used returns the number of bytes currently allocated, including alignment
// padding.
func (a *Allocator) Used() int { return a.off }

// Capacity returns the total size of the underlying buffer.
func (a *Allocator) Capacity() int { return len(a.buf) }

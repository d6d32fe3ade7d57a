package memory

import (
	"github.com/mcr229/executorch/status"
)

// HierarchicalAllocator exposes a method's planned buffers -- one per
// memory-plan segment -- as a tiered address space. Tensor storage is located
// by (segment, offset, size), all three decided ahead of time by the memory
// plan; this allocator only bounds-checks and slices.
type HierarchicalAllocator struct {
	segments [][]byte
}

// NewHierarchicalAllocator wraps the given segment buffers. The buffers are
// expected to be sized exactly once, from program metadata, before the method
// first runs.
func NewHierarchicalAllocator(segments [][]byte) *HierarchicalAllocator {
	return &HierarchicalAllocator{segments: segments}
}

// NumSegments returns the number of plan segments.
func (h *HierarchicalAllocator) NumSegments() int { return len(h.segments) }

// SegmentSize returns the byte size of the given segment.
func (h *HierarchicalAllocator) SegmentSize(segment int) int64 {
	if segment < 0 || segment >= len(h.segments) {
		return 0
	}
	return int64(len(h.segments[segment]))
}

// OffsetAddress returns the size bytes starting at offset within the given
// segment. Fails with InvalidArgument when the plan addresses memory outside
// the segment -- which indicates a corrupt or mismatched program, never a
// user input problem.
func (h *HierarchicalAllocator) OffsetAddress(segment int, offset, size int64) ([]byte, error) {
	if segment < 0 || segment >= len(h.segments) {
		return nil, status.Errorf(status.InvalidArgument,
			"memory plan addresses segment %d, plan has %d segments", segment, len(h.segments))
	}
	buf := h.segments[segment]
	if offset < 0 || size < 0 || offset+size > int64(len(buf)) {
		return nil, status.Errorf(status.InvalidArgument,
			"memory plan addresses [%d, %d) of segment %d, segment holds %d bytes",
			offset, offset+size, segment, len(buf))
	}
	return buf[offset : offset+size : offset+size], nil
}

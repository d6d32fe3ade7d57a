package program

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/evalue"
	"github.com/mcr229/executorch/types/shapes"
)

// ValueInfo describes one declared input or output of a method. Shape is only
// valid when Tag is evalue.TagTensor.
type ValueInfo struct {
	Tag   evalue.Tag
	Shape shapes.Shape
}

// String implements fmt.Stringer.
func (v ValueInfo) String() string {
	if v.Tag == evalue.TagTensor {
		return v.Shape.String()
	}
	return v.Tag.String()
}

// MethodMeta is the declared signature of a method: input/output arity and
// types, and the sizes of the memory-plan segments. It is derived from
// program metadata only, without loading the method.
type MethodMeta struct {
	name         string
	inputs       []ValueInfo
	outputs      []ValueInfo
	plannedSizes []int64
}

// Name returns the method name.
func (m MethodMeta) Name() string { return m.name }

// NumInputs returns the declared input arity.
func (m MethodMeta) NumInputs() int { return len(m.inputs) }

// InputMeta describes the i-th declared input.
func (m MethodMeta) InputMeta(i int) (ValueInfo, error) {
	if i < 0 || i >= len(m.inputs) {
		return ValueInfo{}, status.Errorf(status.InvalidArgument,
			"input index %d out of range, method %q declares %d inputs", i, m.name, len(m.inputs))
	}
	return m.inputs[i], nil
}

// NumOutputs returns the declared output arity.
func (m MethodMeta) NumOutputs() int { return len(m.outputs) }

// OutputMeta describes the i-th declared output.
func (m MethodMeta) OutputMeta(i int) (ValueInfo, error) {
	if i < 0 || i >= len(m.outputs) {
		return ValueInfo{}, status.Errorf(status.InvalidArgument,
			"output index %d out of range, method %q declares %d outputs", i, m.name, len(m.outputs))
	}
	return m.outputs[i], nil
}

// NumMemoryPlannedBuffers returns the number of memory-plan segments.
func (m MethodMeta) NumMemoryPlannedBuffers() int { return len(m.plannedSizes) }

// MemoryPlannedBufferSize returns the byte size of the i-th plan segment.
func (m MethodMeta) MemoryPlannedBufferSize(i int) (int64, error) {
	if i < 0 || i >= len(m.plannedSizes) {
		return 0, status.Errorf(status.InvalidArgument,
			"plan segment %d out of range, method %q plans %d segments", i, m.name, len(m.plannedSizes))
	}
	return m.plannedSizes[i], nil
}

// TotalPlannedMemory returns the sum of all plan segment sizes.
func (m MethodMeta) TotalPlannedMemory() int64 {
	var total int64
	for _, size := range m.plannedSizes {
		total += size
	}
	return total
}

// String implements fmt.Stringer.
func (m MethodMeta) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "method %q: %d inputs, %d outputs, %s planned over %d segment(s)",
		m.name, len(m.inputs), len(m.outputs),
		humanize.IBytes(uint64(m.TotalPlannedMemory())), len(m.plannedSizes))
	return b.String()
}

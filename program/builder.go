package program

import (
	"os"

	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/shapes"
)

// Builder assembles a serializable program. It stands in for the ahead-of-
// time export toolchain at the interface boundary: tests and tooling use it
// to author programs the runtime can load; it performs the same static
// memory planning (one bump-layout per segment) that a real exporter would.
type Builder struct {
	methods []*MethodBuilder
}

// NewBuilder returns an empty program builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddMethod starts the definition of a named method.
func (b *Builder) AddMethod(name string) *MethodBuilder {
	m := &MethodBuilder{def: MethodDef{Name: name}}
	b.methods = append(b.methods, m)
	return m
}

// Serialize produces the binary program container.
func (b *Builder) Serialize() ([]byte, error) {
	body := &programBody{}
	for _, m := range b.methods {
		def := m.def
		def.PlanSegments = []int64{m.planOffset}
		body.Methods = append(body.Methods, def)
	}
	return serialize(body)
}

// WriteFile serializes the program and writes it to path.
func (b *Builder) WriteFile(path string) error {
	data, err := b.Serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return status.Wrapf(err, status.AccessFailed, "writing program file %q", path)
	}
	return nil
}

// MethodBuilder accumulates the value slots, memory plan and instructions of
// one method. All tensor storage is planned into a single segment with a bump
// layout.
type MethodBuilder struct {
	def        MethodDef
	planOffset int64
}

const planAlignment = 16

func (m *MethodBuilder) planTensor(shape shapes.Shape, headroomBytes int64) *TensorDef {
	size := shape.Memory() + headroomBytes
	m.planOffset = (m.planOffset + planAlignment - 1) &^ (planAlignment - 1)
	def := &TensorDef{
		DType:    int32(shape.DType),
		Dims:     shape.Dimensions,
		Segment:  0,
		Offset:   m.planOffset,
		MaxBytes: size,
	}
	m.planOffset += size
	return def
}

func (m *MethodBuilder) addValue(def ValueDef) int {
	m.def.Values = append(m.def.Values, def)
	return len(m.def.Values) - 1
}

// AddInput declares a tensor input slot with planned storage and returns its
// value id.
func (m *MethodBuilder) AddInput(shape shapes.Shape) int {
	id := m.addValue(ValueDef{Kind: ValueTensor, Tensor: m.planTensor(shape, 0)})
	m.def.Inputs = append(m.def.Inputs, id)
	return id
}

// AddPlanned declares an intermediate or output tensor slot with planned
// storage. headroomBytes reserves extra capacity beyond the declared shape,
// for methods whose outputs may be resized at run time.
func (m *MethodBuilder) AddPlanned(shape shapes.Shape, headroomBytes int64) int {
	return m.addValue(ValueDef{Kind: ValueTensor, Tensor: m.planTensor(shape, headroomBytes)})
}

// AddConstant declares a tensor slot backed by a constant payload embedded in
// the program.
func (m *MethodBuilder) AddConstant(shape shapes.Shape, data []byte) (int, error) {
	if int64(len(data)) != shape.Memory() {
		return 0, status.Errorf(status.InvalidArgument,
			"constant payload of %d bytes does not match shape %s (%d bytes)", len(data), shape, shape.Memory())
	}
	def := &TensorDef{
		DType:    int32(shape.DType),
		Dims:     shape.Dimensions,
		Segment:  -1,
		MaxBytes: int64(len(data)),
		Data:     data,
	}
	return m.addValue(ValueDef{Kind: ValueTensor, Tensor: def}), nil
}

// AddKernel appends an operator step dispatching to the named kernel.
func (m *MethodBuilder) AddKernel(op string, args []int, outs []int) {
	m.def.Instructions = append(m.def.Instructions, InstructionDef{
		Kind: InstrKernel,
		Op:   op,
		Args: args,
		Outs: outs,
	})
}

// AddDelegateCall appends a delegated-subgraph step. The processed payload
// and specs are forwarded to the named backend's compile step verbatim.
func (m *MethodBuilder) AddDelegateCall(backend string, processed []byte, specs []SpecDef, args []int, outs []int) {
	m.def.Instructions = append(m.def.Instructions, InstructionDef{
		Kind: InstrDelegate,
		Args: args,
		Outs: outs,
		Delegate: &DelegateDef{
			Backend:   backend,
			Processed: processed,
			Specs:     specs,
		},
	})
}

// SetOutputs declares the method's output slots, in order.
func (m *MethodBuilder) SetOutputs(ids ...int) {
	m.def.Outputs = ids
}

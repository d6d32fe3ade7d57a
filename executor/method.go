// Package executor implements Method, the executable instance of one named
// graph: it binds the method's memory plan, materializes its value slots,
// compiles its delegated subgraphs, and runs the instruction sequence.
package executor

import (
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"

	"github.com/mcr229/executorch/backends"
	"github.com/mcr229/executorch/events"
	"github.com/mcr229/executorch/kernels"
	"github.com/mcr229/executorch/memory"
	"github.com/mcr229/executorch/program"
	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/evalue"
	"github.com/mcr229/executorch/types/shapes"
	"github.com/mcr229/executorch/types/tensors"
)

// instruction is one load-time-resolved step of the execution plan.
type instruction struct {
	kernel kernels.Fn
	op     string

	// scratch reused across calls so dispatch performs no allocation.
	args []*tensors.Tensor
	outs []*tensors.Tensor

	delegate *delegateCall

	argSlots []int
	outSlots []int
}

// delegateCall holds the once-compiled state of a delegated subgraph. The
// handle is owned exclusively by this method and destroyed with it.
type delegateCall struct {
	delegate backends.Delegate
	handle   backends.Handle
	// slots flattens argSlots then outSlots: the AOT step orders them by
	// ascending external id, the order delegates consume bindings in.
	slots []int
	args  []evalue.EValue
}

// Method is not safe for concurrent execution: its planned buffers and the
// delegates' binding tables are reused and mutated on every call.
type Method struct {
	def    *program.MethodDef
	mm     *memory.Manager
	tracer events.Tracer

	values       []evalue.EValue
	instructions []instruction
	destroyed    bool
}

// Load materializes the named method over the given memory manager: every
// tensor slot is carved out of the planned memory (or views its constant
// payload), and every delegated subgraph is compiled exactly once.
func Load(def *program.MethodDef, mm *memory.Manager, tracer events.Tracer) (*Method, error) {
	m := &Method{def: def, mm: mm, tracer: tracer}

	m.values = make([]evalue.EValue, len(def.Values))
	for i, value := range def.Values {
		materialized, err := materialize(value, mm.PlannedMemory())
		if err != nil {
			return nil, status.Wrapf(err, status.Internal, "method %q value slot %d", def.Name, i)
		}
		m.values[i] = materialized
	}

	for i, instrDef := range def.Instructions {
		instr, err := m.loadInstruction(instrDef)
		if err != nil {
			m.Destroy()
			return nil, status.Wrapf(err, status.Internal, "method %q instruction %d", def.Name, i)
		}
		m.instructions = append(m.instructions, instr)
	}
	return m, nil
}

func materialize(def program.ValueDef, planned *memory.HierarchicalAllocator) (evalue.EValue, error) {
	switch def.Kind {
	case program.ValueTensor:
		td := def.Tensor
		shape := shapes.Make(dtypes.DType(td.DType), td.Dims...)
		var buf []byte
		if td.Segment < 0 {
			// Constant: view the program's payload without copying. Kernels
			// never write into their arguments, so this stays immutable.
			buf = td.Data
		} else {
			var err error
			buf, err = planned.OffsetAddress(td.Segment, td.Offset, td.MaxBytes)
			if err != nil {
				return evalue.None(), err
			}
		}
		t, err := tensors.NewInBuffer(shape, buf)
		if err != nil {
			return evalue.None(), err
		}
		return evalue.FromTensor(t), nil
	case program.ValueInt:
		return evalue.FromInt(def.Int), nil
	case program.ValueFloat:
		return evalue.FromFloat(def.Float), nil
	case program.ValueBool:
		return evalue.FromBool(def.Bool), nil
	case program.ValueString:
		return evalue.FromString(def.Str), nil
	default:
		return evalue.None(), nil
	}
}

func (m *Method) loadInstruction(def program.InstructionDef) (instruction, error) {
	instr := instruction{argSlots: def.Args, outSlots: def.Outs}
	switch def.Kind {
	case program.InstrKernel:
		fn, err := kernels.Get(def.Op)
		if err != nil {
			return instr, err
		}
		for _, slot := range append(append([]int(nil), def.Args...), def.Outs...) {
			if !m.values[slot].IsTensor() {
				return instr, status.Errorf(status.InvalidProgram,
					"kernel %q references non-tensor value slot %d", def.Op, slot)
			}
		}
		instr.kernel = fn
		instr.op = def.Op
		instr.args = make([]*tensors.Tensor, len(def.Args))
		instr.outs = make([]*tensors.Tensor, len(def.Outs))
	case program.InstrDelegate:
		d, err := backends.Get(def.Delegate.Backend)
		if err != nil {
			return instr, err
		}
		specs := make([]backends.CompileSpec, 0, len(def.Delegate.Specs))
		for _, spec := range def.Delegate.Specs {
			specs = append(specs, backends.CompileSpec{Key: spec.Key, Value: spec.Value})
		}
		initCtx := &backends.InitContext{RuntimeAllocator: m.mm.MethodAllocator(), Tracer: m.tracer}
		handle, err := d.Compile(initCtx, def.Delegate.Processed, specs)
		if err != nil {
			return instr, status.Wrapf(err, status.Internal, "backend %q failed to compile", def.Delegate.Backend)
		}
		slots := make([]int, 0, len(def.Args)+len(def.Outs))
		slots = append(slots, def.Args...)
		slots = append(slots, def.Outs...)
		instr.delegate = &delegateCall{
			delegate: d,
			handle:   handle,
			slots:    slots,
			args:     make([]evalue.EValue, len(slots)),
		}
	}
	return instr, nil
}

// Name returns the method's name.
func (m *Method) Name() string { return m.def.Name }

// InputsSize returns the declared input arity.
func (m *Method) InputsSize() int { return len(m.def.Inputs) }

// OutputsSize returns the declared output arity.
func (m *Method) OutputsSize() int { return len(m.def.Outputs) }

// SetInput binds one input value into its slot. Tensor inputs are copied
// into the planned storage; the slot is resized (within its fixed capacity)
// when the incoming dims differ from the declared ones.
func (m *Method) SetInput(i int, input evalue.EValue) error {
	if i < 0 || i >= len(m.def.Inputs) {
		return status.Errorf(status.InvalidArgument,
			"input index %d out of range, method %q declares %d inputs", i, m.def.Name, len(m.def.Inputs))
	}
	slot := m.def.Inputs[i]
	declared := m.values[slot]
	if declared.Tag() != input.Tag() {
		return status.Errorf(status.InvalidArgument,
			"input %d of method %q is declared %s, given %s", i, m.def.Name, declared.Tag(), input.Tag())
	}
	if !input.IsTensor() {
		m.values[slot] = input
		return nil
	}
	dst, src := declared.Tensor(), input.Tensor()
	if dst.DType() != src.DType() {
		return status.Errorf(status.InvalidArgument,
			"input %d of method %q is declared %s, given %s", i, m.def.Name, dst.DType(), src.DType())
	}
	if !dst.Shape().EqualDimensions(src.Shape()) {
		if err := dst.Resize(src.Shape().Dimensions...); err != nil {
			return status.Wrapf(err, status.InvalidArgument, "input %d of method %q", i, m.def.Name)
		}
	}
	return dst.CopyFrom(src)
}

// SetInputs binds all inputs. It fails with InvalidArgument, binding
// nothing, when the count does not match the declared arity.
func (m *Method) SetInputs(inputs []evalue.EValue) error {
	if len(inputs) != len(m.def.Inputs) {
		return status.Errorf(status.InvalidArgument,
			"method %q declares %d inputs, given %d", m.def.Name, len(m.def.Inputs), len(inputs))
	}
	for i, input := range inputs {
		if err := m.SetInput(i, input); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs the instruction sequence to completion. Temp-allocator
// scratch handed to kernels and delegates is valid only within this call.
func (m *Method) Execute() error {
	if m.destroyed {
		return status.Errorf(status.InvalidState, "method %q already destroyed", m.def.Name)
	}
	m.mm.TempAllocator().Reset()

	span, spanErr := startSpan(m.tracer, "execute "+m.def.Name)
	defer endSpan(m.tracer, span, spanErr)

	execCtx := &backends.ExecutionContext{TempAllocator: m.mm.TempAllocator(), Tracer: m.tracer}
	for i := range m.instructions {
		instr := &m.instructions[i]
		if instr.delegate != nil {
			dc := instr.delegate
			for j, slot := range dc.slots {
				dc.args[j] = m.values[slot]
			}
			if err := dc.delegate.Execute(execCtx, dc.handle, dc.args); err != nil {
				return status.Wrapf(err, status.Internal,
					"method %q instruction %d: backend %q", m.def.Name, i, dc.delegate.Name())
			}
			continue
		}
		for j, slot := range instr.argSlots {
			instr.args[j] = m.values[slot].Tensor()
		}
		for j, slot := range instr.outSlots {
			instr.outs[j] = m.values[slot].Tensor()
		}
		if err := instr.kernel(instr.args, instr.outs); err != nil {
			return status.Wrapf(err, status.Internal,
				"method %q instruction %d: kernel %q", m.def.Name, i, instr.op)
		}
	}
	return nil
}

// GetOutput returns the i-th output value. Tensor outputs reference the
// method's planned memory and are overwritten by the next Execute.
func (m *Method) GetOutput(i int) (evalue.EValue, error) {
	if i < 0 || i >= len(m.def.Outputs) {
		return evalue.None(), status.Errorf(status.InvalidArgument,
			"output index %d out of range, method %q declares %d outputs", i, m.def.Name, len(m.def.Outputs))
	}
	return m.values[m.def.Outputs[i]], nil
}

// Outputs returns all output values in declared order.
func (m *Method) Outputs() []evalue.EValue {
	outs := make([]evalue.EValue, len(m.def.Outputs))
	for i, slot := range m.def.Outputs {
		outs[i] = m.values[slot]
	}
	return outs
}

// SetOutputDataPtr repoints the i-th output slot at the given tensor's
// storage, so execution writes results there directly instead of requiring a
// copy on return.
func (m *Method) SetOutputDataPtr(t *tensors.Tensor, i int) error {
	if i < 0 || i >= len(m.def.Outputs) {
		return status.Errorf(status.InvalidArgument,
			"output index %d out of range, method %q declares %d outputs", i, m.def.Name, len(m.def.Outputs))
	}
	out := m.values[m.def.Outputs[i]]
	if !out.IsTensor() {
		return status.Errorf(status.InvalidArgument,
			"output %d of method %q is a %s, not a tensor", i, m.def.Name, out.Tag())
	}
	dst := out.Tensor()
	if dst.DType() != t.DType() {
		return status.Errorf(status.InvalidArgument,
			"output %d of method %q holds %s, given a %s tensor", i, m.def.Name, dst.DType(), t.DType())
	}
	return dst.SetDataBuffer(t.Storage())
}

// Destroy releases the method's delegate handles. Only the first call has
// effect; the method is unusable afterwards.
func (m *Method) Destroy() {
	if m.destroyed {
		return
	}
	m.destroyed = true
	for i := range m.instructions {
		if dc := m.instructions[i].delegate; dc != nil && dc.handle != nil {
			dc.delegate.Destroy(dc.handle)
			dc.handle = nil
		}
	}
}

// Tracer failures never block execution.
func startSpan(tracer events.Tracer, name string) (events.SpanID, error) {
	if tracer == nil {
		return "", nil
	}
	span, err := tracer.StartSpan(name)
	if err != nil {
		klog.Errorf("Failed to start tracing span %q: %v.", name, err)
	}
	return span, err
}

func endSpan(tracer events.Tracer, span events.SpanID, startErr error) {
	if tracer == nil || startErr != nil {
		return
	}
	if err := tracer.EndSpan(span); err != nil {
		klog.Errorf("Failed to end tracing span: %v.", err)
	}
}

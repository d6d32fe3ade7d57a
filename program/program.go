package program

import (
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/evalue"
	"github.com/mcr229/executorch/types/shapes"
)

// Verification selects how much of the serialized container is validated
// during Load. Stronger verification trades startup latency for corruption
// detection.
type Verification int

const (
	// VerifyMinimal performs structural header checks only.
	VerifyMinimal Verification = iota
	// VerifyInternalConsistency additionally recomputes the full body
	// digest.
	VerifyInternalConsistency
)

// Program is the immutable parsed view over a serialized model. Once
// constructed, its method table and metadata never change, so a Program can
// be read concurrently and shared across facades as long as its loader
// outlives them.
type Program struct {
	methods map[string]*MethodDef
	names   []string
}

// Load parses and verifies the bytes supplied by the loader. The loader's
// data must stay valid for the Program's lifetime: constant tensor payloads
// reference it without copying.
func Load(loader DataLoader, verification Verification) (*Program, error) {
	data, err := loader.Load()
	if err != nil {
		return nil, status.Wrapf(err, status.AccessFailed, "loading program data")
	}
	body, err := parse(data, verification)
	if err != nil {
		return nil, err
	}
	p := &Program{methods: make(map[string]*MethodDef, len(body.Methods))}
	for i := range body.Methods {
		def := &body.Methods[i]
		if _, dup := p.methods[def.Name]; dup {
			return nil, status.Errorf(status.InvalidProgram, "duplicate method %q in program", def.Name)
		}
		if err := validateMethod(def); err != nil {
			return nil, err
		}
		p.methods[def.Name] = def
		p.names = append(p.names, def.Name)
	}
	return p, nil
}

// validateMethod bounds-checks the slot references and tensor definitions so
// later layers can index and materialize without re-validating. Everything
// decoded from the container is untrusted: anything malformed must surface as
// InvalidProgram here, never as a panic downstream.
func validateMethod(def *MethodDef) error {
	n := len(def.Values)
	for i, value := range def.Values {
		if value.Kind != ValueTensor {
			continue
		}
		td := value.Tensor
		if td == nil {
			return status.Errorf(status.InvalidProgram,
				"method %q: tensor value slot %d has no tensor definition", def.Name, i)
		}
		size := int64(dtypes.DType(td.DType).Memory())
		for _, dim := range td.Dims {
			if dim <= 0 {
				return status.Errorf(status.InvalidProgram,
					"method %q: tensor value slot %d declares dimension %d <= 0", def.Name, i, dim)
			}
			size *= int64(dim)
		}
		if td.MaxBytes < size {
			return status.Errorf(status.InvalidProgram,
				"method %q: tensor value slot %d reserves %d bytes for a %d byte shape",
				def.Name, i, td.MaxBytes, size)
		}
		if td.Segment < 0 && int64(len(td.Data)) < size {
			return status.Errorf(status.InvalidProgram,
				"method %q: constant value slot %d carries %d bytes for a %d byte shape",
				def.Name, i, len(td.Data), size)
		}
	}

	isConstant := func(slot int) bool {
		value := def.Values[slot]
		return value.Kind == ValueTensor && value.Tensor.Segment < 0
	}
	checkSlots := func(what string, slots []int, writable bool) error {
		for _, slot := range slots {
			if slot < 0 || slot >= n {
				return status.Errorf(status.InvalidProgram,
					"method %q: %s references value slot %d, method has %d slots", def.Name, what, slot, n)
			}
			if writable && isConstant(slot) {
				return status.Errorf(status.InvalidProgram,
					"method %q: %s references constant value slot %d, constants are immutable", def.Name, what, slot)
			}
		}
		return nil
	}
	if err := checkSlots("inputs", def.Inputs, true); err != nil {
		return err
	}
	if err := checkSlots("outputs", def.Outputs, true); err != nil {
		return err
	}
	for i, instr := range def.Instructions {
		if err := checkSlots("instruction args", instr.Args, false); err != nil {
			return err
		}
		if err := checkSlots("instruction outs", instr.Outs, true); err != nil {
			return err
		}
		if instr.Kind == InstrDelegate && instr.Delegate == nil {
			return status.Errorf(status.InvalidProgram,
				"method %q: delegate instruction %d has no delegate payload", def.Name, i)
		}
	}
	return nil
}

// NumMethods returns the number of methods in the program.
func (p *Program) NumMethods() int { return len(p.names) }

// MethodName returns the name of the i-th method, in program order.
func (p *Program) MethodName(i int) (string, error) {
	if i < 0 || i >= len(p.names) {
		return "", status.Errorf(status.InvalidArgument,
			"method index %d out of range, program has %d methods", i, len(p.names))
	}
	return p.names[i], nil
}

// Method returns the definition of the named method. Consumed by the
// executor; most users want MethodMeta instead.
func (p *Program) Method(name string) (*MethodDef, error) {
	def, found := p.methods[name]
	if !found {
		return nil, status.Errorf(status.NotFound, "method %q not found in program", name)
	}
	return def, nil
}

// MethodMeta returns the declared signature and memory plan of the named
// method.
func (p *Program) MethodMeta(name string) (MethodMeta, error) {
	def, err := p.Method(name)
	if err != nil {
		return MethodMeta{}, err
	}
	meta := MethodMeta{
		name:         def.Name,
		plannedSizes: def.PlanSegments,
	}
	for _, slot := range def.Inputs {
		meta.inputs = append(meta.inputs, valueInfoOf(def.Values[slot]))
	}
	for _, slot := range def.Outputs {
		meta.outputs = append(meta.outputs, valueInfoOf(def.Values[slot]))
	}
	return meta, nil
}

func valueInfoOf(def ValueDef) ValueInfo {
	info := ValueInfo{}
	switch def.Kind {
	case ValueTensor:
		info.Tag = evalue.TagTensor
		info.Shape = shapes.Make(dtypes.DType(def.Tensor.DType), def.Tensor.Dims...)
	case ValueInt:
		info.Tag = evalue.TagInt
	case ValueFloat:
		info.Tag = evalue.TagFloat
	case ValueBool:
		info.Tag = evalue.TagBool
	case ValueString:
		info.Tag = evalue.TagString
	default:
		info.Tag = evalue.TagNone
	}
	return info
}

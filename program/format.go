package program

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/cespare/xxhash/v2"

	"github.com/mcr229/executorch/status"
)

// Serialized container layout: a fixed binary header followed by a
// gob-encoded body.
//
//	offset 0  magic "ETPG"
//	offset 4  format version, uint32 little-endian
//	offset 8  body length in bytes, uint64 little-endian
//	offset 16 xxhash64 digest of the body, uint64 little-endian
//	offset 24 body (gob-encoded programBody)
//
// Minimal verification checks the header and the body length against the
// available bytes; InternalConsistency additionally recomputes the digest.
const (
	headerMagic   = "ETPG"
	formatVersion = 1
	headerSize    = 24
)

// programBody is the gob-serialized content of a program.
type programBody struct {
	Methods []MethodDef
}

// ValueKind tags a serialized value slot. The numbering is part of the
// serialized format and must not be reordered.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueTensor
	ValueInt
	ValueFloat
	ValueBool
	ValueString
)

// TensorDef describes one tensor value slot: its dtype and dimensions, plus
// where its storage lives -- either a constant payload embedded in the
// program, or a (segment, offset) position in the method's memory plan.
type TensorDef struct {
	DType int32
	Dims  []int

	// Segment/Offset locate planned storage. Segment is -1 for constants.
	Segment int
	Offset  int64

	// MaxBytes is the planned storage reservation; at least the shape's
	// byte size, larger when the AOT plan reserved headroom for dynamic
	// output shapes.
	MaxBytes int64

	// Data holds the constant payload when Segment is -1.
	Data []byte
}

// ValueDef describes one value slot of a method.
type ValueDef struct {
	Kind   ValueKind
	Tensor *TensorDef
	Int    int64
	Float  float64
	Bool   bool
	Str    string
}

// InstrKind tags an instruction.
type InstrKind int

const (
	// InstrKernel dispatches one operator to a registered kernel.
	InstrKernel InstrKind = iota
	// InstrDelegate dispatches a whole precompiled subgraph to a backend
	// delegate.
	InstrDelegate
)

// SpecDef is one opaque compile-time option forwarded to a delegate, never
// interpreted by the runtime.
type SpecDef struct {
	Key   string
	Value []byte
}

// DelegateDef is the serialized form of one delegated subgraph: which backend
// compiles it, the backend-specific payload, and the pass-through compile
// specs.
type DelegateDef struct {
	Backend   string
	Processed []byte
	Specs     []SpecDef
}

// InstructionDef is one step of a method's execution plan. Args and Outs are
// value-slot indices.
type InstructionDef struct {
	Kind     InstrKind
	Op       string
	Args     []int
	Outs     []int
	Delegate *DelegateDef
}

// MethodDef is the serialized definition of one named method.
type MethodDef struct {
	Name         string
	Values       []ValueDef
	Inputs       []int
	Outputs      []int
	PlanSegments []int64
	Instructions []InstructionDef
}

// serialize encodes the body and prepends the verified header.
func serialize(body *programBody) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(body); err != nil {
		return nil, status.Wrapf(err, status.Internal, "failed to serialize program body")
	}
	encoded := buf.Bytes()
	out := make([]byte, headerSize+len(encoded))
	copy(out, headerMagic)
	binary.LittleEndian.PutUint32(out[4:], formatVersion)
	binary.LittleEndian.PutUint64(out[8:], uint64(len(encoded)))
	binary.LittleEndian.PutUint64(out[16:], xxhash.Sum64(encoded))
	copy(out[headerSize:], encoded)
	return out, nil
}

// parse validates the header at the requested level and decodes the body.
func parse(data []byte, verification Verification) (*programBody, error) {
	if len(data) < headerSize {
		return nil, status.Errorf(status.InvalidProgram,
			"program data of %d bytes is shorter than the %d byte header", len(data), headerSize)
	}
	if string(data[:4]) != headerMagic {
		return nil, status.Errorf(status.InvalidProgram, "program data has wrong magic %q", data[:4])
	}
	if version := binary.LittleEndian.Uint32(data[4:]); version != formatVersion {
		return nil, status.Errorf(status.InvalidProgram,
			"program format version %d not supported (runtime supports %d)", version, formatVersion)
	}
	bodyLen := binary.LittleEndian.Uint64(data[8:])
	if bodyLen != uint64(len(data)-headerSize) {
		return nil, status.Errorf(status.InvalidProgram,
			"program header declares %d body bytes, %d present", bodyLen, len(data)-headerSize)
	}
	body := data[headerSize:]
	if verification == VerifyInternalConsistency {
		if digest := xxhash.Sum64(body); digest != binary.LittleEndian.Uint64(data[16:]) {
			return nil, status.Errorf(status.InvalidProgram, "program body digest mismatch, data is corrupt")
		}
	}
	decoded := &programBody{}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(decoded); err != nil {
		return nil, status.Wrapf(err, status.InvalidProgram, "failed to decode program body")
	}
	return decoded, nil
}

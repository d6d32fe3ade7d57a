// Package portable implements the reference backend delegate: a pure-Go
// accelerator-graph runtime that compiles a serialized subgraph once into a
// graph object and re-invokes it with externally bound tensor values on every
// call.
//
// It exists both as a usable CPU fallback and as the exemplar of the
// compile/execute/destroy contract in package backends: external-value id
// tables, a precompiled runtime handle with a single destroy path, and
// best-effort profiling around each invocation.
package portable

import (
	"github.com/mcr229/executorch/kernels"
	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/tensors"
)

// graphNode is one operator of a compiled subgraph. Args and Out are value
// ids within the subgraph's value space.
type graphNode struct {
	op   string
	fn   kernels.Fn
	args []uint32
	out  uint32

	// argBuf is reused across invocations so dispatch allocates nothing.
	argBuf []*tensors.Tensor
	outBuf []*tensors.Tensor
}

// graphRuntime is the "native" runtime object a compilation produces: the
// operator sequence, backend-owned storage for internal values, and the
// binding table for external values. It is owned by exactly one Executor and
// released once, through destroy.
type graphRuntime struct {
	numValues int
	nodes     []graphNode

	// values[id] is the tensor currently behind each value id. External
	// slots are repointed by setup on every call; internal slots keep their
	// compile-time storage.
	values []*tensors.Tensor

	// external[id] is true for ids bound from outside per call.
	external []bool

	destroyed bool
}

// externalValue is one (id -> tensor, dims) binding supplied per call.
type externalValue struct {
	id     uint32
	tensor *tensors.Tensor
	dims   []int
}

// setup re-binds the external values before an invocation. The binding table
// is consumed in ascending id order regardless of how the caller accumulated
// it; resizing the bound tensor to the caller-declared dims happens here, so
// the operator sequence only ever sees consistent shapes.
func (r *graphRuntime) setup(externals []externalValue) error {
	for _, ext := range externals {
		if int(ext.id) >= r.numValues || !r.external[ext.id] {
			return status.Errorf(status.Internal,
				"binding references value id %d which is not an external of this subgraph", ext.id)
		}
		if ext.tensor == nil {
			return status.Errorf(status.Internal, "binding for value id %d has no tensor", ext.id)
		}
		if !dimsEqual(ext.tensor, ext.dims) {
			if err := ext.tensor.Resize(ext.dims...); err != nil {
				return status.Wrapf(err, status.Internal, "binding value id %d", ext.id)
			}
		}
		r.values[ext.id] = ext.tensor
	}
	for id, isExternal := range r.external {
		if isExternal && r.values[id] == nil {
			return status.Errorf(status.Internal, "external value id %d left unbound", id)
		}
	}
	return nil
}

// invoke runs the operator sequence to completion. Output dims are
// propagated from the bound input dims, so dynamic input shapes produce
// correspondingly shaped outputs (within each value's fixed capacity).
func (r *graphRuntime) invoke() error {
	if r.destroyed {
		return status.Errorf(status.Internal, "invoke on a destroyed graph runtime")
	}
	for i := range r.nodes {
		node := &r.nodes[i]
		for j, id := range node.args {
			node.argBuf[j] = r.values[id]
		}
		out := r.values[node.out]
		node.outBuf[0] = out
		dims, err := propagateDims(node.op, node.argBuf)
		if err != nil {
			return status.Wrapf(err, status.Internal, "node %d (%s)", i, node.op)
		}
		if !dimsEqual(out, dims) {
			if err := out.Resize(dims...); err != nil {
				return status.Wrapf(err, status.Internal, "node %d (%s) output", i, node.op)
			}
		}
		if err := node.fn(node.argBuf, node.outBuf); err != nil {
			return status.Wrapf(err, status.Internal, "node %d (%s)", i, node.op)
		}
	}
	return nil
}

// outputDims reports the dims the runtime produced for a value id after
// invoke; this is the backend-side shape the caller's output tensors are
// reconciled against.
func (r *graphRuntime) outputDims(id uint32) []int {
	return r.values[id].Shape().Dimensions
}

// destroy releases the runtime's resources. Safe to reach from error paths;
// only the first call has effect.
func (r *graphRuntime) destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.nodes = nil
	r.values = nil
	r.external = nil
}

// propagateDims computes a node's output dims from its argument dims.
func propagateDims(op string, args []*tensors.Tensor) ([]int, error) {
	switch op {
	case "matmul":
		if len(args) != 2 || args[0].Rank() != 2 || args[1].Rank() != 2 {
			return nil, status.Errorf(status.Internal, "matmul needs two rank-2 args")
		}
		return []int{args[0].Dim(0), args[1].Dim(1)}, nil
	default:
		// Elementwise ops keep the first argument's dims.
		if len(args) == 0 {
			return nil, status.Errorf(status.Internal, "node %q has no arguments", op)
		}
		return args[0].Shape().Dimensions, nil
	}
}

func dimsEqual(t *tensors.Tensor, dims []int) bool {
	got := t.Shape().Dimensions
	if len(got) != len(dims) {
		return false
	}
	for i := range got {
		if got[i] != dims[i] {
			return false
		}
	}
	return true
}

package portable

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"

	"github.com/mcr229/executorch/backends"
	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/tensors"
)

// Executor is the state one compiled subgraph keeps between compile and
// execute: the precompiled runtime handle, the external-id tables fixed at
// compile time, and the per-call binding table. It is constructed fully
// initialized by the GraphBuilder and exposes no mutation surface beyond the
// run-time operations.
//
// Not safe for concurrent execution: the binding table is rebuilt on every
// call.
type Executor struct {
	runtime *graphRuntime

	inputIDs  []uint32
	outputIDs []uint32

	// argIDs collects every external id this executor consumes. Insertion
	// order carries no meaning; indexed lookups go through the ascending
	// sorted view, recomputed lazily after any append.
	argIDs     []uint32
	sortedArgs bool

	// decls is the compiled external signature: dtype and rank are fixed at
	// compile time and enforced on every binding.
	decls map[uint32]externalDecl

	// inputPos/outputPos map an external id back to its position in the
	// compiled signature.
	inputPos  map[uint32]int
	outputPos map[uint32]int

	externals []externalValue

	// per-call scratch, sized at compile time so Execute allocates nothing.
	inScratch  []*tensors.Tensor
	outScratch []*tensors.Tensor
	inDims     [][]int
	outDims    [][]int

	profiler profiler
}

// externalDecl is the compile-time declaration of one external value.
type externalDecl struct {
	dtype dtypes.DType
	rank  int
}

// appendArg registers one external id as consumed by this executor.
// Appending invalidates any previously computed sorted view.
func (e *Executor) appendArg(id uint32) {
	e.argIDs = append(e.argIDs, id)
	// Insertion order is not guaranteed here.
	e.sortedArgs = false
}

// argsLen returns the number of registered external ids.
func (e *Executor) argsLen() int { return len(e.argIDs) }

// argIndex returns the i-th external id in ascending sorted order. An
// out-of-range i is a wiring mismatch between the AOT compiler and this
// runtime, not a runtime condition, so it panics rather than returning an
// error.
func (e *Executor) argIndex(i int) uint32 {
	if !e.sortedArgs {
		// Could have been inserted out of order.
		slices.Sort(e.argIDs)
		e.sortedArgs = true
	}
	if i < 0 || i >= len(e.argIDs) {
		exceptions.Panicf("invalid arg index, requested: %d, total args consumed by subgraph: %d", i, len(e.argIDs))
	}
	return e.argIDs[i]
}

// NumInputs returns the compiled signature's input count.
func (e *Executor) NumInputs() int { return len(e.inputIDs) }

// NumOutputs returns the compiled signature's output count.
func (e *Executor) NumOutputs() int { return len(e.outputIDs) }

// SetInputs rebuilds the per-call binding table from scratch. inputShapes and
// outputShapes carry the caller-declared dims for each tensor; counts must
// exactly match the compiled signature.
func (e *Executor) SetInputs(inputs, outputs []*tensors.Tensor, inputShapes, outputShapes [][]int) error {
	e.externals = e.externals[:0]

	if len(inputs) != len(e.inputIDs) {
		return status.Errorf(status.InvalidArgument,
			"expected %d inputs but given %d", len(e.inputIDs), len(inputs))
	}
	if len(outputs) != len(e.outputIDs) {
		return status.Errorf(status.InvalidArgument,
			"expected %d outputs but given %d", len(e.outputIDs), len(outputs))
	}
	if len(inputShapes) != len(inputs) {
		return status.Errorf(status.InvalidArgument,
			"%d inputs given but %d input shapes", len(inputs), len(inputShapes))
	}
	if len(outputShapes) != len(outputs) {
		return status.Errorf(status.InvalidArgument,
			"%d outputs given but %d output shapes", len(outputs), len(outputShapes))
	}
	for i, t := range inputs {
		if err := e.checkDecl(e.inputIDs[i], t, inputShapes[i]); err != nil {
			return err
		}
		e.externals = append(e.externals, externalValue{id: e.inputIDs[i], tensor: t, dims: inputShapes[i]})
	}
	for i, t := range outputs {
		if err := e.checkDecl(e.outputIDs[i], t, outputShapes[i]); err != nil {
			return err
		}
		e.externals = append(e.externals, externalValue{id: e.outputIDs[i], tensor: t, dims: outputShapes[i]})
	}
	return nil
}

func (e *Executor) checkDecl(id uint32, t *tensors.Tensor, dims []int) error {
	decl := e.decls[id]
	if t.DType() != decl.dtype {
		return status.Errorf(status.InvalidArgument,
			"external value %d compiled as %s, bound tensor holds %s", id, decl.dtype, t.DType())
	}
	if len(dims) != decl.rank {
		return status.Errorf(status.InvalidArgument,
			"external value %d compiled with rank %d, bound shape %v has rank %d", id, decl.rank, dims, len(dims))
	}
	return nil
}

// Forward re-binds the accumulated external values into the runtime and
// invokes it. Profiling start/stop bracket the invocation even when it
// fails; a profiling failure is logged, never propagated.
func (e *Executor) Forward(ctx *backends.ExecutionContext) error {
	if e.runtime == nil {
		return status.Errorf(status.Internal, "delegate did not compile correctly")
	}
	if err := e.runtime.setup(e.externals); err != nil {
		return status.Wrapf(err, status.Internal, "runtime setup failed")
	}

	if err := e.profiler.start(ctx.Tracer); err != nil {
		klog.Errorf("Failed to start profiling: %v.", err)
	}
	invokeErr := e.runtime.invoke()
	if err := e.profiler.end(); err != nil {
		klog.Errorf("Failed to end profiling: %v.", err)
	}

	if invokeErr != nil {
		return status.Wrapf(invokeErr, status.Internal, "runtime invoke failed")
	}
	return nil
}

// resizeOutput reconciles a caller-owned output tensor with the shape the
// runtime reported. Rank is fixed at compile time, so a rank change is
// NotSupported; identical dims are a no-op; otherwise the tensor's logical
// shape is resized in place, bounded by its backing capacity (enforced by
// the tensor, not re-implemented here).
func (e *Executor) resizeOutput(output *tensors.Tensor, dims []int) error {
	if output.Rank() != len(dims) {
		klog.Errorf("Found output shape with a different number of dimensions than the output tensor. Expected: %d, Actual: %d",
			output.Rank(), len(dims))
		return status.Errorf(status.NotSupported,
			"cannot change output rank from %d to %d", output.Rank(), len(dims))
	}
	if dimsEqual(output, dims) {
		return nil
	}
	klog.V(2).Infof("Resizing output tensor to a new shape %v", dims)
	if err := output.Resize(dims...); err != nil {
		return status.Wrapf(err, status.InvalidArgument, "failed to resize output tensor")
	}
	return nil
}

// destroy releases the native runtime. Invoked exactly once, by the owning
// delegate's Destroy, including on error paths.
func (e *Executor) destroy() {
	if e.runtime != nil {
		e.runtime.destroy()
		e.runtime = nil
	}
}

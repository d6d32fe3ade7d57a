package portable

import (
	"github.com/gomlx/exceptions"

	"github.com/mcr229/executorch/backends"
	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/evalue"
)

// BackendName is the identifier the AOT step keys subgraphs delegated to
// this backend with.
const BackendName = "portable"

func init() {
	if err := backends.Register(&Delegate{}); err != nil {
		exceptions.Panicf("failed to register the %q backend: %+v", BackendName, err)
	}
}

// Delegate implements backends.Delegate over the portable graph runtime.
type Delegate struct{}

// Compile-time check that the contract is satisfied.
var _ backends.Delegate = &Delegate{}

// Name implements backends.Delegate.
func (d *Delegate) Name() string { return BackendName }

// Compile implements backends.Delegate: it rebuilds the graph runtime from
// the serialized subgraph and returns an executor holding it, ready to have
// inputs bound and run.
func (d *Delegate) Compile(ctx *backends.InitContext, processed []byte, specs []backends.CompileSpec) (backends.Handle, error) {
	ex, err := compileSubgraph(ctx, processed, specs)
	if err != nil {
		return nil, status.Wrapf(err, status.Internal, "compiling subgraph for backend %q", BackendName)
	}
	return ex, nil
}

// Execute implements backends.Delegate. The args arrive ordered by ascending
// external id, the order the AOT step fixed; they are routed back to the
// compiled signature's input and output positions through the executor's
// sorted id table.
func (d *Delegate) Execute(ctx *backends.ExecutionContext, handle backends.Handle, args []evalue.EValue) error {
	ex, ok := handle.(*Executor)
	if !ok {
		return status.Errorf(status.Internal, "backend %q given a foreign delegate handle %T", BackendName, handle)
	}
	n := ex.argsLen()
	if len(args) != n {
		return status.Errorf(status.InvalidArgument,
			"delegate consumes %d external values, %d given", n, len(args))
	}

	for i := 0; i < n; i++ {
		id := ex.argIndex(i)
		if !args[i].IsTensor() {
			return status.Errorf(status.InvalidArgument,
				"delegate external value %d bound to a %s, only tensors are supported", id, args[i].Tag())
		}
		t := args[i].Tensor()
		if pos, isInput := ex.inputPos[id]; isInput {
			ex.inScratch[pos] = t
			ex.inDims[pos] = t.Shape().Dimensions
		} else if pos, isOutput := ex.outputPos[id]; isOutput {
			ex.outScratch[pos] = t
			ex.outDims[pos] = t.Shape().Dimensions
		} else {
			return status.Errorf(status.Internal, "external id %d is neither input nor output of the compiled signature", id)
		}
	}

	if err := ex.SetInputs(ex.inScratch, ex.outScratch, ex.inDims, ex.outDims); err != nil {
		return err
	}
	if err := ex.Forward(ctx); err != nil {
		return err
	}
	// Reconcile caller-owned outputs with the shapes the runtime produced.
	for i, t := range ex.outScratch {
		if err := ex.resizeOutput(t, ex.runtime.outputDims(ex.outputIDs[i])); err != nil {
			return err
		}
	}
	return nil
}

// Destroy implements backends.Delegate, releasing the native runtime behind
// the handle. Only the first call has effect.
func (d *Delegate) Destroy(handle backends.Handle) {
	if ex, ok := handle.(*Executor); ok {
		ex.destroy()
	}
}

package portable

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/mcr229/executorch/backends"
	"github.com/mcr229/executorch/memory"
	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/evalue"
	"github.com/mcr229/executorch/types/tensors"
)

func TestArgIndexSortsIDs(t *testing.T) {
	ex := &Executor{}
	for _, id := range []uint32{5, 1, 3} {
		ex.appendArg(id)
	}
	require.Equal(t, 3, ex.argsLen())
	require.Equal(t, uint32(1), ex.argIndex(0))
	require.Equal(t, uint32(3), ex.argIndex(1))
	require.Equal(t, uint32(5), ex.argIndex(2))

	// Appending after a lookup re-sorts the view.
	ex.appendArg(2)
	require.Equal(t, uint32(2), ex.argIndex(1))

	require.Panics(t, func() { ex.argIndex(4) })
	require.Panics(t, func() { ex.argIndex(-1) })
}

func TestForwardWithoutRuntime(t *testing.T) {
	ex := &Executor{}
	err := ex.Forward(&backends.ExecutionContext{})
	require.Equal(t, status.Internal, status.CodeOf(err))
	require.Contains(t, err.Error(), "delegate did not compile correctly")
}

// compileRelu builds and compiles out = relu(in) over rank-1 float32 values.
func compileRelu(t *testing.T, ctx *backends.InitContext) *Executor {
	b := NewSubgraphBuilder()
	in := b.AddInput(dtypes.Float32, 1)
	out := b.AddOutput(dtypes.Float32, 1)
	b.AddNode("relu", []uint32{in}, out)
	processed, err := b.Serialize()
	require.NoError(t, err)

	ex, err := compileSubgraph(ctx, processed, nil)
	require.NoError(t, err)
	return ex
}

func TestSetInputsValidation(t *testing.T) {
	ex := compileRelu(t, nil)
	input, err := tensors.FromFlatData([]float32{-1, 2, -3, 4}, 4)
	require.NoError(t, err)
	output, err := tensors.FromFlatData(make([]float32, 4), 4)
	require.NoError(t, err)

	// Arity mismatches.
	err = ex.SetInputs(nil, []*tensors.Tensor{output}, nil, [][]int{{4}})
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
	require.Contains(t, err.Error(), "expected 1 inputs but given 0")
	err = ex.SetInputs([]*tensors.Tensor{input}, nil, [][]int{{4}}, nil)
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))

	// Shape slices must pair up with the tensors one to one.
	err = ex.SetInputs([]*tensors.Tensor{input}, []*tensors.Tensor{output}, nil, [][]int{{4}})
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
	err = ex.SetInputs([]*tensors.Tensor{input}, []*tensors.Tensor{output}, [][]int{{4}}, nil)
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))

	// DType mismatch against the compiled signature.
	wrongType, err := tensors.FromFlatData([]int32{1, 2, 3, 4}, 4)
	require.NoError(t, err)
	err = ex.SetInputs([]*tensors.Tensor{wrongType}, []*tensors.Tensor{output}, [][]int{{4}}, [][]int{{4}})
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))

	// Rank mismatch.
	err = ex.SetInputs([]*tensors.Tensor{input}, []*tensors.Tensor{output}, [][]int{{2, 2}}, [][]int{{4}})
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))

	// Valid binding followed by forward.
	require.NoError(t, ex.SetInputs([]*tensors.Tensor{input}, []*tensors.Tensor{output}, [][]int{{4}}, [][]int{{4}}))
	require.NoError(t, ex.Forward(&backends.ExecutionContext{}))
	require.Equal(t, []float32{0, 2, 0, 4}, output.Float32s())
}

func TestResizeOutput(t *testing.T) {
	ex := &Executor{}
	output, err := tensors.FromFlatData(make([]float32, 6), 2, 3)
	require.NoError(t, err)

	// Rank changes are refused.
	err = ex.resizeOutput(output, []int{6})
	require.Equal(t, status.NotSupported, status.CodeOf(err))
	require.Equal(t, []int{2, 3}, output.Shape().Dimensions)

	// Identical dims are a no-op.
	require.NoError(t, ex.resizeOutput(output, []int{2, 3}))

	// Shrink within capacity.
	require.NoError(t, ex.resizeOutput(output, []int{1, 3}))
	require.Equal(t, []int{1, 3}, output.Shape().Dimensions)

	// Growth past the backing capacity fails.
	err = ex.resizeOutput(output, []int{4, 3})
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestDelegateEndToEnd(t *testing.T) {
	d := &Delegate{}
	require.Equal(t, BackendName, d.Name())

	b := NewSubgraphBuilder()
	in0 := b.AddInput(dtypes.Float32, 1)
	in1 := b.AddInput(dtypes.Float32, 1)
	out := b.AddOutput(dtypes.Float32, 1)
	mid := b.AddInternal(dtypes.Float32, 4)
	b.AddNode("add", []uint32{in0, in1}, mid)
	b.AddNode("relu", []uint32{mid}, out)
	processed, err := b.Serialize()
	require.NoError(t, err)

	arena := memory.NewAllocator("runtime", make([]byte, 1024))
	handle, err := d.Compile(&backends.InitContext{RuntimeAllocator: arena}, processed, []backends.CompileSpec{{Key: "ignored", Value: []byte{1}}})
	require.NoError(t, err)
	// Internal storage came from the injected allocator.
	require.NotZero(t, arena.Used())

	a, err := tensors.FromFlatData([]float32{1, -5, 3, -7}, 4)
	require.NoError(t, err)
	c, err := tensors.FromFlatData([]float32{1, 1, 1, 1}, 4)
	require.NoError(t, err)
	result, err := tensors.FromFlatData(make([]float32, 4), 4)
	require.NoError(t, err)

	// Args arrive flattened in ascending external-id order: in0, in1, out.
	args := []evalue.EValue{evalue.FromTensor(a), evalue.FromTensor(c), evalue.FromTensor(result)}
	require.NoError(t, d.Execute(&backends.ExecutionContext{}, handle, args))
	require.Equal(t, []float32{2, 0, 4, 0}, result.Float32s())

	// Arity and tag errors.
	err = d.Execute(&backends.ExecutionContext{}, handle, args[:2])
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
	bad := []evalue.EValue{evalue.FromTensor(a), evalue.FromInt(3), evalue.FromTensor(result)}
	err = d.Execute(&backends.ExecutionContext{}, handle, bad)
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))

	// Destroyed handles refuse to run; destroying twice is harmless.
	d.Destroy(handle)
	d.Destroy(handle)
	err = d.Execute(&backends.ExecutionContext{}, handle, args)
	require.Equal(t, status.Internal, status.CodeOf(err))
}

func TestDelegateDynamicShapes(t *testing.T) {
	d := &Delegate{}
	ex := compileRelu(t, nil)

	input, err := tensors.FromFlatData([]float32{-1, 2, -3, 4}, 4)
	require.NoError(t, err)
	output, err := tensors.FromFlatData(make([]float32, 4), 4)
	require.NoError(t, err)

	// The caller shrinks the input; the produced output shape follows it.
	require.NoError(t, input.Resize(2))
	args := []evalue.EValue{evalue.FromTensor(input), evalue.FromTensor(output)}
	require.NoError(t, d.Execute(&backends.ExecutionContext{}, ex, args))
	require.Equal(t, []int{2}, output.Shape().Dimensions)
	require.Equal(t, []float32{0, 2}, output.Float32s())
}

func TestCompileRejectsMalformedSubgraphs(t *testing.T) {
	d := &Delegate{}
	_, err := d.Compile(nil, []byte("not a subgraph"), nil)
	require.Equal(t, status.Internal, status.CodeOf(err))

	// Unknown operator.
	b := NewSubgraphBuilder()
	in := b.AddInput(dtypes.Float32, 1)
	out := b.AddOutput(dtypes.Float32, 1)
	b.AddNode("conv2d", []uint32{in}, out)
	processed, err := b.Serialize()
	require.NoError(t, err)
	_, err = d.Compile(nil, processed, nil)
	require.Equal(t, status.Internal, status.CodeOf(err))

	// Internal values with non-positive dims must fail compilation, not
	// panic while sizing their storage.
	payload, err := serializeSubgraph(&subgraphDef{
		Internals: []internalDef{{ID: 0, DType: int32(dtypes.Float32), Dims: []int{0}}},
	})
	require.NoError(t, err)
	_, err = d.Compile(nil, payload, nil)
	require.Equal(t, status.Internal, status.CodeOf(err))
	require.Contains(t, err.Error(), "dimension 0 <= 0")
}

package module

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/mcr229/executorch/backends/portable"
	"github.com/mcr229/executorch/program"
	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/evalue"
	"github.com/mcr229/executorch/types/shapes"
	"github.com/mcr229/executorch/types/tensors"
)

// buildTestProgram authors a three-method program:
//
//	forward  identity over [1 4] float32, delegated to the portable backend
//	scale    out = mul(in, {2,2,2,2}), plain kernel dispatch
//	sink     consumes its input and declares no outputs
func buildTestProgram(t *testing.T) []byte {
	shape := shapes.Make(dtypes.Float32, 1, 4)
	builder := program.NewBuilder()

	sub := portable.NewSubgraphBuilder()
	subIn := sub.AddInput(dtypes.Float32, 2)
	subOut := sub.AddOutput(dtypes.Float32, 2)
	sub.AddNode("clone", []uint32{subIn}, subOut)
	processed, err := sub.Serialize()
	require.NoError(t, err)

	forward := builder.AddMethod("forward")
	fwdIn := forward.AddInput(shape)
	fwdOut := forward.AddPlanned(shape, 0)
	forward.AddDelegateCall(portable.BackendName, processed, nil, []int{fwdIn}, []int{fwdOut})
	forward.SetOutputs(fwdOut)

	scale := builder.AddMethod("scale")
	scaleIn := scale.AddInput(shape)
	factor, err := tensors.FromFlatData([]float32{2, 2, 2, 2}, 1, 4)
	require.NoError(t, err)
	scaleBy, err := scale.AddConstant(shape, factor.Bytes())
	require.NoError(t, err)
	scaleOut := scale.AddPlanned(shape, 0)
	scale.AddKernel("mul", []int{scaleIn, scaleBy}, []int{scaleOut})
	scale.SetOutputs(scaleOut)

	sink := builder.AddMethod("sink")
	sinkIn := sink.AddInput(shape)
	sinkScratch := sink.AddPlanned(shape, 0)
	sink.AddKernel("clone", []int{sinkIn}, []int{sinkScratch})

	data, err := builder.Serialize()
	require.NoError(t, err)
	return data
}

func testModule(t *testing.T, options ...Option) *Module {
	return NewFromLoader(program.NewBufferLoader(buildTestProgram(t)), options...)
}

func inputTensor(t *testing.T, values ...float32) evalue.EValue {
	tensor, err := tensors.FromFlatData(values, 1, len(values))
	require.NoError(t, err)
	return evalue.FromTensor(tensor)
}

func TestLoadIsIdempotent(t *testing.T) {
	m := testModule(t)
	defer func() { require.NoError(t, m.Close()) }()

	require.False(t, m.IsLoaded())
	require.NoError(t, m.Load(program.VerifyInternalConsistency))
	require.True(t, m.IsLoaded())
	prog := m.Program()
	require.NoError(t, m.Load(program.VerifyMinimal))
	require.Same(t, prog, m.Program())
}

func TestMethodNames(t *testing.T) {
	m := testModule(t)
	defer func() { _ = m.Close() }()

	// MethodNames loads the program lazily.
	names, err := m.MethodNames()
	require.NoError(t, err)
	require.True(t, m.IsLoaded())
	require.True(t, names.Has("forward"))
	require.True(t, names.Has("scale"))
	require.True(t, names.Has("sink"))
	require.Len(t, names, 3)
}

func TestForwardIdentity(t *testing.T) {
	m := testModule(t)
	defer func() { _ = m.Close() }()

	// Forward lazily loads both the program and the method, and is the same
	// call as Execute("forward", ...).
	outputs, err := m.Forward(inputTensor(t, 1, 2, 3, 4))
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Equal(t, []float32{1, 2, 3, 4}, outputs[0].Tensor().Float32s())
	require.True(t, m.IsMethodLoaded("forward"))

	viaExecute, err := m.Execute(DefaultMethodName, inputTensor(t, 5, 6, 7, 8))
	require.NoError(t, err)
	require.Equal(t, []float32{5, 6, 7, 8}, viaExecute[0].Tensor().Float32s())
}

func TestExecuteKernelMethod(t *testing.T) {
	m := testModule(t)
	defer func() { _ = m.Close() }()

	outputs, err := m.Execute("scale", inputTensor(t, 1, 2, 3, 4))
	require.NoError(t, err)
	require.Equal(t, []float32{2, 4, 6, 8}, outputs[0].Tensor().Float32s())

	// The cached method is reused; its planned output is overwritten.
	again, err := m.Execute("scale", inputTensor(t, 10, 10, 10, 10))
	require.NoError(t, err)
	require.Equal(t, []float32{20, 20, 20, 20}, again[0].Tensor().Float32s())
	require.Same(t, outputs[0].Tensor(), again[0].Tensor())
}

func TestExecuteArity(t *testing.T) {
	m := testModule(t)
	defer func() { _ = m.Close() }()

	_, err := m.Execute("scale")
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
	_, err = m.Execute("scale", inputTensor(t, 1, 2, 3, 4), inputTensor(t, 1, 2, 3, 4))
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))

	// The arity failure must not leave partial results behind: a correct
	// call afterwards still produces the right output.
	outputs, err := m.Execute("scale", inputTensor(t, 3, 3, 3, 3))
	require.NoError(t, err)
	require.Equal(t, []float32{6, 6, 6, 6}, outputs[0].Tensor().Float32s())
}

func TestExecuteUnknownMethod(t *testing.T) {
	m := testModule(t)
	defer func() { _ = m.Close() }()

	_, err := m.Execute("backward")
	require.Equal(t, status.NotFound, status.CodeOf(err))
}

func TestGet(t *testing.T) {
	m := testModule(t)
	defer func() { _ = m.Close() }()

	out, err := m.Get("scale", inputTensor(t, 1, 1, 1, 1))
	require.NoError(t, err)
	require.Equal(t, []float32{2, 2, 2, 2}, out.Tensor().Float32s())

	// A method without outputs runs but cannot satisfy Get.
	_, err = m.Get("sink", inputTensor(t, 1, 1, 1, 1))
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestLoadMethod(t *testing.T) {
	m := testModule(t)
	defer func() { _ = m.Close() }()

	require.False(t, m.IsMethodLoaded("scale"))
	require.NoError(t, m.LoadMethod("scale"))
	require.True(t, m.IsMethodLoaded("scale"))
	require.False(t, m.IsMethodLoaded("forward"))
	// Second load is a cached no-op.
	require.NoError(t, m.LoadMethod("scale"))

	require.Equal(t, status.NotFound, status.CodeOf(m.LoadMethod("backward")))
}

func TestMethodMeta(t *testing.T) {
	m := testModule(t)
	defer func() { _ = m.Close() }()

	meta, err := m.MethodMeta("forward")
	require.NoError(t, err)
	require.Equal(t, 1, meta.NumInputs())
	require.Equal(t, 1, meta.NumOutputs())
	info, err := meta.OutputMeta(0)
	require.NoError(t, err)
	require.Equal(t, "(Float32)[1 4]", info.Shape.String())
	// Metadata queries never load the method itself.
	require.False(t, m.IsMethodLoaded("forward"))
}

func TestSetOutputDataPtr(t *testing.T) {
	m := testModule(t)
	defer func() { _ = m.Close() }()

	external, err := tensors.FromFlatData(make([]float32, 4), 1, 4)
	require.NoError(t, err)

	// The forward method must be loaded first.
	err = m.SetOutputDataPtr(external, 0)
	require.Equal(t, status.InvalidState, status.CodeOf(err))

	require.NoError(t, m.LoadMethod(DefaultMethodName))
	require.NoError(t, m.SetOutputDataPtr(external, 0))
	_, err = m.Forward(inputTensor(t, 9, 8, 7, 6))
	require.NoError(t, err)
	require.Equal(t, []float32{9, 8, 7, 6}, external.Float32s())
}

func TestModuleFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.etpg")
	require.NoError(t, os.WriteFile(path, buildTestProgram(t), 0o644))

	m := New(path, WithLoadMode(program.LoadModeMmapUseMlockIgnoreErrors))
	outputs, err := m.Forward(inputTensor(t, 1, 2, 3, 4))
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4}, outputs[0].Tensor().Float32s())
	require.NoError(t, m.Close())

	missing := New(filepath.Join(t.TempDir(), "missing.etpg"))
	require.Equal(t, status.AccessFailed, status.CodeOf(missing.Load(program.VerifyMinimal)))
}

func TestModuleWithoutSource(t *testing.T) {
	m := New("")
	require.Equal(t, status.InvalidState, status.CodeOf(m.Load(program.VerifyMinimal)))
}

func TestClose(t *testing.T) {
	m := testModule(t)
	_, err := m.Forward(inputTensor(t, 1, 2, 3, 4))
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.False(t, m.IsLoaded())
	require.False(t, m.IsMethodLoaded("forward"))
}

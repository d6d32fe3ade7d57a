package kernels

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/tensors"
)

func tensorOf(t *testing.T, values []float32, dims ...int) *tensors.Tensor {
	tensor, err := tensors.FromFlatData(values, dims...)
	require.NoError(t, err)
	return tensor
}

func TestRegistry(t *testing.T) {
	for _, op := range []string{"add", "mul", "relu", "matmul", "clone"} {
		fn, err := Get(op)
		require.NoError(t, err, "operator %q", op)
		require.NotNil(t, fn)
	}
	_, err := Get("conv2d")
	require.Equal(t, status.NotFound, status.CodeOf(err))
}

func TestAdd(t *testing.T) {
	a := tensorOf(t, []float32{1, 2, 3, 4}, 4)
	b := tensorOf(t, []float32{10, 20, 30, 40}, 4)
	dst := tensorOf(t, make([]float32, 4), 4)

	fn, err := Get("add")
	require.NoError(t, err)
	require.NoError(t, fn([]*tensors.Tensor{a, b}, []*tensors.Tensor{dst}))
	require.Equal(t, []float32{11, 22, 33, 44}, dst.Float32s())

	// Shape mismatch.
	short := tensorOf(t, []float32{1, 2}, 2)
	err = fn([]*tensors.Tensor{a, short}, []*tensors.Tensor{dst})
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))

	// Arity.
	err = fn([]*tensors.Tensor{a}, []*tensors.Tensor{dst})
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestMulInt64(t *testing.T) {
	a, err := tensors.FromFlatData([]int64{2, 3, 4}, 3)
	require.NoError(t, err)
	b, err := tensors.FromFlatData([]int64{5, 6, 7}, 3)
	require.NoError(t, err)
	dst, err := tensors.FromFlatData(make([]int64, 3), 3)
	require.NoError(t, err)

	fn, err := Get("mul")
	require.NoError(t, err)
	require.NoError(t, fn([]*tensors.Tensor{a, b}, []*tensors.Tensor{dst}))
	require.Equal(t, []int64{10, 18, 28}, dst.Int64s())
}

func TestRelu(t *testing.T) {
	a := tensorOf(t, []float32{-1, 0, 2, -3}, 4)
	dst := tensorOf(t, make([]float32, 4), 4)
	require.NoError(t, Relu([]*tensors.Tensor{a}, []*tensors.Tensor{dst}))
	require.Equal(t, []float32{0, 0, 2, 0}, dst.Float32s())

	i, err := tensors.FromFlatData([]int32{-1, 1}, 2)
	require.NoError(t, err)
	iDst, err := tensors.FromFlatData(make([]int32, 2), 2)
	require.NoError(t, err)
	require.Equal(t, status.NotSupported, status.CodeOf(Relu([]*tensors.Tensor{i}, []*tensors.Tensor{iDst})))
}

func TestMatMul(t *testing.T) {
	a := tensorOf(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := tensorOf(t, []float32{7, 8, 9, 10, 11, 12}, 3, 2)
	dst := tensorOf(t, make([]float32, 4), 2, 2)
	require.NoError(t, MatMul([]*tensors.Tensor{a, b}, []*tensors.Tensor{dst}))
	require.Equal(t, []float32{58, 64, 139, 154}, dst.Float32s())

	bad := tensorOf(t, make([]float32, 4), 2, 2)
	err := MatMul([]*tensors.Tensor{a, bad}, []*tensors.Tensor{dst})
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestClone(t *testing.T) {
	a := tensorOf(t, []float32{1, 2, 3}, 3)
	dst := tensorOf(t, make([]float32, 3), 3)
	require.NoError(t, Clone([]*tensors.Tensor{a}, []*tensors.Tensor{dst}))
	require.True(t, a.Equal(dst))
}

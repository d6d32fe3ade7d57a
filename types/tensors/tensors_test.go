package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/shapes"
)

func TestNewInBuffer(t *testing.T) {
	buf := make([]byte, 16)
	tensor, err := NewInBuffer(shapes.Make(dtypes.Float32, 1, 4), buf)
	require.NoError(t, err)
	require.Equal(t, 2, tensor.Rank())
	require.Equal(t, 16, tensor.CapacityBytes())

	_, err = NewInBuffer(shapes.Make(dtypes.Float32, 1, 5), buf)
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestFromFlatData(t *testing.T) {
	tensor, err := FromFlatData([]float32{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4}, tensor.Float32s())
	require.Equal(t, dtypes.Float32, tensor.DType())

	_, err = FromFlatData([]float32{1, 2, 3}, 2, 2)
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestResizeWithinCapacity(t *testing.T) {
	// 6 elements of capacity, starting at [2 3].
	buf := make([]byte, 24)
	tensor, err := NewInBuffer(shapes.Make(dtypes.Float32, 2, 3), buf)
	require.NoError(t, err)

	// Shrink, then grow back within capacity.
	require.NoError(t, tensor.Resize(1, 3))
	require.Equal(t, []int{1, 3}, tensor.Shape().Dimensions)
	require.Len(t, tensor.Float32s(), 3)
	require.NoError(t, tensor.Resize(3, 2))
	require.Len(t, tensor.Float32s(), 6)

	// Beyond capacity fails and leaves the shape untouched.
	err = tensor.Resize(4, 2)
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
	require.Equal(t, []int{3, 2}, tensor.Shape().Dimensions)

	err = tensor.Resize(3, 0)
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestAccessorsAndCopy(t *testing.T) {
	a, err := FromFlatData([]float32{1, -2, 3, -4}, 4)
	require.NoError(t, err)
	b, err := FromFlatData([]float32{0, 0, 0, 0}, 4)
	require.NoError(t, err)

	require.NoError(t, b.CopyFrom(a))
	require.True(t, a.Equal(b))

	// Mutating through the flat view is visible through Bytes.
	b.Float32s()[0] = 42
	require.False(t, a.Equal(b))

	c, err := FromFlatData([]float32{1, 2}, 2)
	require.NoError(t, err)
	require.Equal(t, status.InvalidArgument, status.CodeOf(c.CopyFrom(a)))

	require.Panics(t, func() { a.Int32s() })
}

func TestFloat16(t *testing.T) {
	shape := shapes.Make(dtypes.Float16, 2)
	buf := make([]byte, shape.Memory())
	tensor, err := NewInBuffer(shape, buf)
	require.NoError(t, err)
	values := tensor.Float16s()
	values[0] = float16.Fromfloat32(1.5)
	values[1] = float16.Fromfloat32(-0.25)
	require.Equal(t, float32(1.5), tensor.Float16s()[0].Float32())
	require.Equal(t, float32(-0.25), tensor.Float16s()[1].Float32())
}

func TestSetDataBuffer(t *testing.T) {
	tensor, err := FromFlatData([]float32{1, 2, 3, 4}, 4)
	require.NoError(t, err)

	external := make([]byte, 16)
	require.NoError(t, tensor.SetDataBuffer(external))
	tensor.Float32s()[0] = 7
	require.Equal(t, byte(0), external[4]) // only element 0 written
	require.NotEqual(t, byte(0), external[0])

	require.Equal(t, status.InvalidArgument, status.CodeOf(tensor.SetDataBuffer(make([]byte, 8))))
}

// Package tensors implements Tensor, a view over a flat byte buffer plus
// shape metadata.
//
// Unlike a general-purpose tensor container, a Tensor here never owns a
// growable allocation: its backing storage is fixed at construction time --
// typically carved out of a method's memory plan -- and Resize only mutates
// the logical shape, within the capacity of that storage. This is what lets
// the executing method and its delegates share pointer-stable buffers with
// zero allocation per call.
package tensors

import (
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"

	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/shapes"
)

// Tensor is a dtype-tagged view over externally owned element storage.
//
// The backing buffer's length is the tensor's capacity in bytes and never
// changes; the logical shape may shrink or grow within it via Resize.
type Tensor struct {
	shape shapes.Shape
	data  []byte
}

// NewInBuffer creates a tensor of the given shape viewing buf. The buffer
// must be at least shape.Memory() bytes; any excess is kept as spare capacity
// for future resizes.
func NewInBuffer(shape shapes.Shape, buf []byte) (*Tensor, error) {
	if !shape.Ok() {
		return nil, status.Errorf(status.InvalidArgument, "cannot create a tensor with an invalid shape")
	}
	if int64(len(buf)) < shape.Memory() {
		return nil, status.Errorf(status.InvalidArgument,
			"buffer of %d bytes too small for tensor shaped %s (%d bytes)", len(buf), shape, shape.Memory())
	}
	return &Tensor{shape: shape, data: buf}, nil
}

// FromFlatData creates a tensor with its own storage, initialized from the
// given flat values. The number of values must match the dimensions given.
func FromFlatData[T float32 | float64 | int32 | int64 | uint8](data []T, dimensions ...int) (*Tensor, error) {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		return nil, status.Errorf(status.InvalidArgument,
			"%d flat values given for tensor shaped %s (%d elements)", len(data), shape, shape.Size())
	}
	buf := make([]byte, shape.Memory())
	if len(data) > 0 {
		src := unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(buf))
		copy(buf, src)
	}
	return &Tensor{shape: shape, data: buf}, nil
}

// Shape of the tensor, including its DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType is a shortcut to Shape().DType.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank is a shortcut to Shape().Rank().
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the current logical shape.
func (t *Tensor) Size() int { return t.shape.Size() }

// Dim returns the dimension of the given axis. See shapes.Shape.Dim.
func (t *Tensor) Dim(axis int) int { return t.shape.Dim(axis) }

// CapacityBytes returns the fixed size of the backing storage.
func (t *Tensor) CapacityBytes() int { return len(t.data) }

// Bytes returns the logical contents as raw bytes: the first Shape().Memory()
// bytes of the backing storage.
func (t *Tensor) Bytes() []byte { return t.data[:t.shape.Memory()] }

// Storage returns the full backing buffer, spare capacity included. Used
// when another tensor is repointed at this tensor's memory.
func (t *Tensor) Storage() []byte { return t.data }

// Resize mutates the logical shape in place. It fails with InvalidArgument if
// the new shape's bytes exceed the backing storage capacity, and never
// reallocates. The dtype is unchanged.
func (t *Tensor) Resize(dimensions ...int) error {
	newShape := shapes.Shape{DType: t.shape.DType, Dimensions: dimensions}
	for _, dim := range dimensions {
		if dim <= 0 {
			return status.Errorf(status.InvalidArgument, "cannot resize tensor to dimension %d <= 0", dim)
		}
	}
	if newShape.Memory() > int64(len(t.data)) {
		return status.Errorf(status.InvalidArgument,
			"cannot resize tensor from %s to %v: %d bytes needed, capacity is %d",
			t.shape, dimensions, newShape.Memory(), len(t.data))
	}
	t.shape = shapes.Make(t.shape.DType, dimensions...)
	return nil
}

// SetDataBuffer repoints the tensor at caller-owned storage. The new buffer
// must hold the current logical shape. Used to pre-bind external output
// storage so results land directly in the caller's memory.
func (t *Tensor) SetDataBuffer(buf []byte) error {
	if int64(len(buf)) < t.shape.Memory() {
		return status.Errorf(status.InvalidArgument,
			"buffer of %d bytes too small for tensor shaped %s (%d bytes)", len(buf), t.shape, t.shape.Memory())
	}
	t.data = buf
	return nil
}

// CopyFrom copies the logical contents of src into t. Shapes must match
// exactly.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return status.Errorf(status.InvalidArgument,
			"cannot copy tensor shaped %s into tensor shaped %s", src.shape, t.shape)
	}
	copy(t.data, src.Bytes())
	return nil
}

// Equal reports whether t and t2 have the same shape and logical contents.
func (t *Tensor) Equal(t2 *Tensor) bool {
	if !t.shape.Equal(t2.shape) {
		return false
	}
	a, b := t.Bytes(), t2.Bytes()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Float32s returns the logical contents viewed as []float32. It panics if the
// dtype is not Float32 -- kernels select accessors from the dtype they were
// dispatched on.
func (t *Tensor) Float32s() []float32 {
	t.assertDType(dtypes.Float32)
	return flat[float32](t)
}

// Float64s returns the logical contents viewed as []float64.
func (t *Tensor) Float64s() []float64 {
	t.assertDType(dtypes.Float64)
	return flat[float64](t)
}

// Int32s returns the logical contents viewed as []int32.
func (t *Tensor) Int32s() []int32 {
	t.assertDType(dtypes.Int32)
	return flat[int32](t)
}

// Int64s returns the logical contents viewed as []int64.
func (t *Tensor) Int64s() []int64 {
	t.assertDType(dtypes.Int64)
	return flat[int64](t)
}

// Float16s returns the logical contents viewed as []float16.Float16
// (github.com/x448/float16 IEEE 754 half-precision).
func (t *Tensor) Float16s() []float16.Float16 {
	t.assertDType(dtypes.Float16)
	return flat[float16.Float16](t)
}

func (t *Tensor) assertDType(want dtypes.DType) {
	if t.shape.DType != want {
		panic(status.Errorf(status.InvalidArgument,
			"tensor holds %s, accessed as %s", t.shape.DType, want))
	}
}

func flat[T any](t *Tensor) []T {
	if t.Size() == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&t.data[0])), t.Size())
}

// String implements fmt.Stringer; it prints only the shape, not the contents.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	return "Tensor" + t.shape.String()
}

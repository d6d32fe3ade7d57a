// Package shapes defines Shape and associated tools.
//
// Shape represents the rank, dimensions and DType of a tensor, or the
// declared signature of a method input or output. DType indicates the type of
// the unit element of a tensor, and is the enumeration defined in
// github.com/gomlx/gopjrt/dtypes.
//
// A scalar is a shape with no dimensions (rank 0) and size 1.
package shapes

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"slices"
)

// Shape represents the shape of a tensor value.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
//
// It panics on dimensions <= 0: shapes come from trusted program metadata or
// from code, never from untrusted input.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Scalar returns a scalar Shape for the given dtype.
func Scalar(dtype dtypes.DType) Shape {
	return Shape{DType: dtype}
}

// Invalid returns an invalid shape. Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. The zero value Shape{} is
// invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank returns the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. Negative axes count from the
// end, python style. It panics if axis is out of range.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		exceptions.Panicf("shapes.Dim(%d): axis out of range for rank %d shape %s", axis, s.Rank(), s)
	}
	return s.Dimensions[adjusted]
}

// Size returns the number of elements: the product of all dimensions, 1 for
// a scalar.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// Memory returns the number of bytes needed to store the shape's elements.
func (s Shape) Memory() int64 {
	return int64(s.DType.Memory()) * int64(s.Size())
}

// Clone makes a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares only the dimensions, ignoring dtype.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	if !s.Ok() {
		return "(invalid shape)"
	}
	if s.IsScalar() {
		return fmt.Sprintf("(%s)", s.DType)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "(%s)[", s.DType)
	for i, dim := range s.Dimensions {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d", dim)
	}
	b.WriteByte(']')
	return b.String()
}

// Package evalue defines EValue, the tagged union flowing in and out of
// method execution: a tensor, a scalar (int, float, bool, string), a list of
// tensors, or nothing.
//
// EValue has value semantics; copying one is cheap, and tensor payloads are
// shallow references over the tensor's storage.
package evalue

import (
	"fmt"

	"github.com/gomlx/exceptions"

	"github.com/mcr229/executorch/types/tensors"
)

// Tag identifies which member of the union an EValue holds.
type Tag int

const (
	TagNone Tag = iota
	TagTensor
	TagInt
	TagFloat
	TagBool
	TagString
	TagTensorList
)

// String implements fmt.Stringer.
func (tag Tag) String() string {
	switch tag {
	case TagNone:
		return "None"
	case TagTensor:
		return "Tensor"
	case TagInt:
		return "Int"
	case TagFloat:
		return "Float"
	case TagBool:
		return "Bool"
	case TagString:
		return "String"
	case TagTensorList:
		return "TensorList"
	}
	return "Unknown"
}

// EValue is a tagged union value. The zero EValue is None.
type EValue struct {
	tag    Tag
	tensor *tensors.Tensor
	i      int64
	f      float64
	b      bool
	s      string
	list   []*tensors.Tensor
}

// None returns the empty EValue.
func None() EValue { return EValue{} }

// FromTensor wraps a tensor. The EValue shares the tensor's storage.
func FromTensor(t *tensors.Tensor) EValue { return EValue{tag: TagTensor, tensor: t} }

// FromInt wraps an integer scalar.
func FromInt(v int64) EValue { return EValue{tag: TagInt, i: v} }

// FromFloat wraps a floating-point scalar.
func FromFloat(v float64) EValue { return EValue{tag: TagFloat, f: v} }

// FromBool wraps a boolean scalar.
func FromBool(v bool) EValue { return EValue{tag: TagBool, b: v} }

// FromString wraps a string.
func FromString(v string) EValue { return EValue{tag: TagString, s: v} }

// FromTensorList wraps a list of tensors.
func FromTensorList(list []*tensors.Tensor) EValue { return EValue{tag: TagTensorList, list: list} }

// Tag returns which member the value holds.
func (v EValue) Tag() Tag { return v.tag }

// IsNone reports whether the value is empty.
func (v EValue) IsNone() bool { return v.tag == TagNone }

// IsTensor reports whether the value holds a tensor.
func (v EValue) IsTensor() bool { return v.tag == TagTensor }

// Tensor returns the held tensor. Accessing the wrong member is a programmer
// error and panics.
func (v EValue) Tensor() *tensors.Tensor {
	v.assertTag(TagTensor)
	return v.tensor
}

// Int returns the held integer scalar.
func (v EValue) Int() int64 {
	v.assertTag(TagInt)
	return v.i
}

// Float returns the held floating-point scalar.
func (v EValue) Float() float64 {
	v.assertTag(TagFloat)
	return v.f
}

// Bool returns the held boolean scalar.
func (v EValue) Bool() bool {
	v.assertTag(TagBool)
	return v.b
}

// Str returns the held string.
func (v EValue) Str() string {
	v.assertTag(TagString)
	return v.s
}

// TensorList returns the held list of tensors.
func (v EValue) TensorList() []*tensors.Tensor {
	v.assertTag(TagTensorList)
	return v.list
}

func (v EValue) assertTag(want Tag) {
	if v.tag != want {
		exceptions.Panicf("EValue holds %s, accessed as %s", v.tag, want)
	}
}

// String implements fmt.Stringer.
func (v EValue) String() string {
	switch v.tag {
	case TagNone:
		return "None"
	case TagTensor:
		return v.tensor.String()
	case TagInt:
		return fmt.Sprintf("Int(%d)", v.i)
	case TagFloat:
		return fmt.Sprintf("Float(%g)", v.f)
	case TagBool:
		return fmt.Sprintf("Bool(%v)", v.b)
	case TagString:
		return fmt.Sprintf("String(%q)", v.s)
	case TagTensorList:
		return fmt.Sprintf("TensorList(%d)", len(v.list))
	}
	return "Unknown"
}

// Package kernels implements the portable operator kernels used by
// non-delegated method execution. The op set is deliberately small; anything
// heavier is expected to run through a backend delegate.
//
// Kernels never allocate: they read from and write into tensors whose
// storage was planned ahead of time.
package kernels

import (
	"sync"

	"golang.org/x/exp/constraints"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/tensors"
)

// Fn executes one operator over planned tensors: args are read, outs are
// written in place.
type Fn func(args []*tensors.Tensor, outs []*tensors.Tensor) error

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Fn)
)

// Register adds a kernel under an operator name. Later registrations of the
// same name win; call during package initialization.
func Register(op string, fn Fn) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[op] = fn
}

// Get resolves the kernel for an operator name.
func Get(op string) (Fn, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, found := registry[op]
	if !found {
		return nil, status.Errorf(status.NotFound, "no kernel registered for operator %q", op)
	}
	return fn, nil
}

func init() {
	Register("add", makeBinary(addSlice[float32], addSlice[float64], addSlice[int32], addSlice[int64]))
	Register("mul", makeBinary(mulSlice[float32], mulSlice[float64], mulSlice[int32], mulSlice[int64]))
	Register("relu", Relu)
	Register("matmul", MatMul)
	Register("clone", Clone)
}

func addSlice[T constraints.Float | constraints.Integer](dst, a, b []T) {
	for i := range dst {
		dst[i] = a[i] + b[i]
	}
}

func mulSlice[T constraints.Float | constraints.Integer](dst, a, b []T) {
	for i := range dst {
		dst[i] = a[i] * b[i]
	}
}

func checkArity(op string, args, outs []*tensors.Tensor, wantArgs, wantOuts int) error {
	if len(args) != wantArgs || len(outs) != wantOuts {
		return status.Errorf(status.InvalidArgument,
			"kernel %q takes %d args and %d outs, given %d and %d", op, wantArgs, wantOuts, len(args), len(outs))
	}
	return nil
}

// makeBinary builds an elementwise binary kernel dispatching on dtype.
func makeBinary(f32 func(dst, a, b []float32), f64 func(dst, a, b []float64),
	i32 func(dst, a, b []int32), i64 func(dst, a, b []int64)) Fn {
	return func(args []*tensors.Tensor, outs []*tensors.Tensor) error {
		if err := checkArity("binary", args, outs, 2, 1); err != nil {
			return err
		}
		a, b, dst := args[0], args[1], outs[0]
		if !a.Shape().Equal(b.Shape()) || !a.Shape().Equal(dst.Shape()) {
			return status.Errorf(status.InvalidArgument,
				"elementwise kernel requires matching shapes, got %s, %s -> %s", a.Shape(), b.Shape(), dst.Shape())
		}
		switch a.DType() {
		case dtypes.Float32:
			f32(dst.Float32s(), a.Float32s(), b.Float32s())
		case dtypes.Float64:
			f64(dst.Float64s(), a.Float64s(), b.Float64s())
		case dtypes.Int32:
			i32(dst.Int32s(), a.Int32s(), b.Int32s())
		case dtypes.Int64:
			i64(dst.Int64s(), a.Int64s(), b.Int64s())
		default:
			return status.Errorf(status.NotSupported, "elementwise kernel does not support dtype %s", a.DType())
		}
		return nil
	}
}

// Relu writes max(x, 0) elementwise.
func Relu(args []*tensors.Tensor, outs []*tensors.Tensor) error {
	if err := checkArity("relu", args, outs, 1, 1); err != nil {
		return err
	}
	a, dst := args[0], outs[0]
	if !a.Shape().Equal(dst.Shape()) {
		return status.Errorf(status.InvalidArgument,
			"relu requires matching shapes, got %s -> %s", a.Shape(), dst.Shape())
	}
	switch a.DType() {
	case dtypes.Float32:
		reluSlice(dst.Float32s(), a.Float32s())
	case dtypes.Float64:
		reluSlice(dst.Float64s(), a.Float64s())
	default:
		return status.Errorf(status.NotSupported, "relu does not support dtype %s", a.DType())
	}
	return nil
}

func reluSlice[T constraints.Float](dst, a []T) {
	for i, v := range a {
		if v < 0 {
			v = 0
		}
		dst[i] = v
	}
}

// MatMul computes dst[m,n] = a[m,k] x b[k,n] for Float32.
func MatMul(args []*tensors.Tensor, outs []*tensors.Tensor) error {
	if err := checkArity("matmul", args, outs, 2, 1); err != nil {
		return err
	}
	a, b, dst := args[0], args[1], outs[0]
	if a.DType() != dtypes.Float32 || b.DType() != dtypes.Float32 || dst.DType() != dtypes.Float32 {
		return status.Errorf(status.NotSupported, "matmul only supports Float32, got %s x %s -> %s",
			a.DType(), b.DType(), dst.DType())
	}
	if a.Rank() != 2 || b.Rank() != 2 || dst.Rank() != 2 {
		return status.Errorf(status.InvalidArgument, "matmul requires rank-2 operands, got %s x %s -> %s",
			a.Shape(), b.Shape(), dst.Shape())
	}
	m, k, n := a.Dim(0), a.Dim(1), b.Dim(1)
	if b.Dim(0) != k || dst.Dim(0) != m || dst.Dim(1) != n {
		return status.Errorf(status.InvalidArgument, "matmul shape mismatch: %s x %s -> %s",
			a.Shape(), b.Shape(), dst.Shape())
	}
	av, bv, dv := a.Float32s(), b.Float32s(), dst.Float32s()
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for l := 0; l < k; l++ {
				sum += av[i*k+l] * bv[l*n+j]
			}
			dv[i*n+j] = sum
		}
	}
	return nil
}

// Clone copies its argument into the output.
func Clone(args []*tensors.Tensor, outs []*tensors.Tensor) error {
	if err := checkArity("clone", args, outs, 1, 1); err != nil {
		return err
	}
	return outs[0].CopyFrom(args[0])
}

package portable

import (
	"bytes"
	"encoding/gob"

	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"

	"github.com/mcr229/executorch/backends"
	"github.com/mcr229/executorch/kernels"
	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/shapes"
	"github.com/mcr229/executorch/types/tensors"
)

// Serialized subgraph payload. Every value of the subgraph has a small
// non-negative id assigned by the AOT step; the runtime never invents or
// renumbers them. Externals are bound per call, internals get backend-owned
// storage at compile time.
type subgraphDef struct {
	Externals []externalDef
	InputIDs  []uint32
	OutputIDs []uint32
	Internals []internalDef
	Nodes     []nodeDef
}

type externalDef struct {
	ID    uint32
	DType int32
	Rank  int
}

type internalDef struct {
	ID    uint32
	DType int32
	// Dims is the maximum shape; invocations may shrink it.
	Dims []int
}

type nodeDef struct {
	Op   string
	Args []uint32
	Out  uint32
}

// serializeSubgraph encodes a subgraph definition into the processed payload
// this backend compiles. The authoring side of the boundary; tests and
// tooling produce payloads through SubgraphBuilder.
func serializeSubgraph(def *subgraphDef) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(def); err != nil {
		return nil, status.Wrapf(err, status.Internal, "failed to serialize subgraph")
	}
	return buf.Bytes(), nil
}

// SubgraphBuilder assembles a subgraph payload id by id.
type SubgraphBuilder struct {
	def    subgraphDef
	nextID uint32
}

// NewSubgraphBuilder returns an empty subgraph builder.
func NewSubgraphBuilder() *SubgraphBuilder { return &SubgraphBuilder{} }

func (b *SubgraphBuilder) allocID() uint32 {
	id := b.nextID
	b.nextID++
	return id
}

// AddInput declares an externally bound input and returns its id.
func (b *SubgraphBuilder) AddInput(dtype dtypes.DType, rank int) uint32 {
	id := b.allocID()
	b.def.Externals = append(b.def.Externals, externalDef{ID: id, DType: int32(dtype), Rank: rank})
	b.def.InputIDs = append(b.def.InputIDs, id)
	return id
}

// AddOutput declares an externally bound output and returns its id.
func (b *SubgraphBuilder) AddOutput(dtype dtypes.DType, rank int) uint32 {
	id := b.allocID()
	b.def.Externals = append(b.def.Externals, externalDef{ID: id, DType: int32(dtype), Rank: rank})
	b.def.OutputIDs = append(b.def.OutputIDs, id)
	return id
}

// AddInternal declares a backend-owned intermediate value with the given
// maximum dims and returns its id.
func (b *SubgraphBuilder) AddInternal(dtype dtypes.DType, maxDims ...int) uint32 {
	id := b.allocID()
	b.def.Internals = append(b.def.Internals, internalDef{ID: id, DType: int32(dtype), Dims: maxDims})
	return id
}

// AddNode appends an operator consuming args and producing out.
func (b *SubgraphBuilder) AddNode(op string, args []uint32, out uint32) {
	b.def.Nodes = append(b.def.Nodes, nodeDef{Op: op, Args: args, Out: out})
}

// Serialize produces the processed payload.
func (b *SubgraphBuilder) Serialize() ([]byte, error) {
	return serializeSubgraph(&b.def)
}

// compileSubgraph translates the processed payload into a fully initialized
// Executor: it decodes and validates the subgraph, allocates backend-owned
// storage for internal values, resolves every operator to a kernel, and
// records the external-id tables. Nothing of the processed buffer is
// retained -- everything needed afterwards is copied into the runtime.
func compileSubgraph(ctx *backends.InitContext, processed []byte, specs []backends.CompileSpec) (*Executor, error) {
	def := &subgraphDef{}
	if err := gob.NewDecoder(bytes.NewReader(processed)).Decode(def); err != nil {
		return nil, status.Wrapf(err, status.Internal, "failed to decode subgraph payload")
	}
	for _, spec := range specs {
		// This backend defines no compile options yet; specs pass through
		// the core uninterpreted either way.
		klog.V(2).Infof("portable delegate ignoring compile spec %q (%d bytes)", spec.Key, len(spec.Value))
	}

	numValues := len(def.Externals) + len(def.Internals)
	rt := &graphRuntime{
		numValues: numValues,
		values:    make([]*tensors.Tensor, numValues),
		external:  make([]bool, numValues),
	}
	ex := &Executor{
		decls:     make(map[uint32]externalDecl, len(def.Externals)),
		inputPos:  make(map[uint32]int, len(def.InputIDs)),
		outputPos: make(map[uint32]int, len(def.OutputIDs)),
	}

	seen := make(map[uint32]bool, numValues)
	claim := func(id uint32) error {
		if int(id) >= numValues {
			return status.Errorf(status.Internal, "subgraph value id %d out of range, %d values declared", id, numValues)
		}
		if seen[id] {
			return status.Errorf(status.Internal, "subgraph value id %d declared twice", id)
		}
		seen[id] = true
		return nil
	}

	for _, ext := range def.Externals {
		if err := claim(ext.ID); err != nil {
			return nil, err
		}
		rt.external[ext.ID] = true
		ex.decls[ext.ID] = externalDecl{dtype: dtypes.DType(ext.DType), rank: ext.Rank}
		ex.appendArg(ext.ID)
	}
	for _, internal := range def.Internals {
		if err := claim(internal.ID); err != nil {
			return nil, err
		}
		for _, dim := range internal.Dims {
			if dim <= 0 {
				return nil, status.Errorf(status.Internal,
					"subgraph internal value %d declares dimension %d <= 0", internal.ID, dim)
			}
		}
		shape := shapes.Make(dtypes.DType(internal.DType), internal.Dims...)
		buf, err := allocate(ctx, int(shape.Memory()))
		if err != nil {
			return nil, err
		}
		t, err := tensors.NewInBuffer(shape, buf)
		if err != nil {
			return nil, err
		}
		rt.values[internal.ID] = t
	}

	for i, id := range def.InputIDs {
		if !rt.external[id] {
			return nil, status.Errorf(status.Internal, "subgraph input id %d is not a declared external", id)
		}
		ex.inputPos[id] = i
	}
	for i, id := range def.OutputIDs {
		if !rt.external[id] {
			return nil, status.Errorf(status.Internal, "subgraph output id %d is not a declared external", id)
		}
		ex.outputPos[id] = i
	}

	for i, n := range def.Nodes {
		fn, err := kernels.Get(n.Op)
		if err != nil {
			return nil, status.Wrapf(err, status.Internal, "subgraph node %d", i)
		}
		for _, id := range n.Args {
			if int(id) >= numValues {
				return nil, status.Errorf(status.Internal, "subgraph node %d references value id %d out of range", i, id)
			}
		}
		if int(n.Out) >= numValues {
			return nil, status.Errorf(status.Internal, "subgraph node %d writes value id %d out of range", i, n.Out)
		}
		rt.nodes = append(rt.nodes, graphNode{
			op:     n.Op,
			fn:     fn,
			args:   n.Args,
			out:    n.Out,
			argBuf: make([]*tensors.Tensor, len(n.Args)),
			outBuf: make([]*tensors.Tensor, 1),
		})
	}

	ex.runtime = rt
	ex.inputIDs = append([]uint32(nil), def.InputIDs...)
	ex.outputIDs = append([]uint32(nil), def.OutputIDs...)
	ex.externals = make([]externalValue, 0, len(def.Externals))
	ex.inScratch = make([]*tensors.Tensor, len(def.InputIDs))
	ex.outScratch = make([]*tensors.Tensor, len(def.OutputIDs))
	ex.inDims = make([][]int, len(def.InputIDs))
	ex.outDims = make([][]int, len(def.OutputIDs))
	return ex, nil
}

// allocate serves backend state that must live as long as the owning method:
// from the injected runtime allocator when present, from the heap otherwise.
func allocate(ctx *backends.InitContext, size int) ([]byte, error) {
	if ctx != nil && ctx.RuntimeAllocator != nil {
		return ctx.RuntimeAllocator.Allocate(size, 0)
	}
	return make([]byte, size), nil
}

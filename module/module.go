// Package module provides the top-level facade for loading a serialized
// program and executing its methods: it owns the data source, the shared
// Program, and a cache of per-method execution state, so a method's memory
// plan and delegate compilations happen once and are reused on every call.
//
// A Module serializes nothing internally: concurrent use requires external
// mutual exclusion, or one Module per goroutine. See the concurrency notes
// on executor.Method.
package module

import (
	"k8s.io/klog/v2"

	"github.com/mcr229/executorch/events"
	"github.com/mcr229/executorch/executor"
	"github.com/mcr229/executorch/memory"
	"github.com/mcr229/executorch/program"
	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types"
	"github.com/mcr229/executorch/types/evalue"
	"github.com/mcr229/executorch/types/tensors"
)

// DefaultMethodName is the conventional entry point of single-method
// programs.
const DefaultMethodName = "forward"

// methodHolder is the cached execution state of one loaded method: the
// planned buffers (one per memory-plan segment), the tiered allocator over
// them, and the constructed method. Holders live for the Module's lifetime;
// there is no eviction path.
type methodHolder struct {
	plannedBuffers [][]byte
	plannedMemory  *memory.HierarchicalAllocator
	mm             *memory.Manager
	method         *executor.Method
}

// Module is the user-facing call surface. The zero value is not usable; use
// New, NewFromLoader or NewFromProgram.
type Module struct {
	path     string
	loadMode program.LoadMode

	loader program.DataLoader
	prog   *program.Program

	methodAllocator *memory.Allocator
	tempAllocator   memory.TempAllocator
	tracer          events.Tracer

	methods map[string]*methodHolder
}

// Option configures a Module at construction time.
type Option func(*Module)

// WithLoadMode selects how a file-backed Module brings the program into
// memory. Defaults to LoadModeMmapUseMlock.
func WithLoadMode(mode program.LoadMode) Option {
	return func(m *Module) { m.loadMode = mode }
}

// WithTracer injects the tracer passed down to methods and delegates.
func WithTracer(tracer events.Tracer) Option {
	return func(m *Module) { m.tracer = tracer }
}

// WithMethodAllocator injects the allocator serving method structures and
// backend compile-time state. Without it those allocations come from the Go
// heap.
func WithMethodAllocator(a *memory.Allocator) Option {
	return func(m *Module) { m.methodAllocator = a }
}

// WithTempAllocator injects the allocator serving per-call scratch space for
// kernels and delegates.
func WithTempAllocator(a memory.TempAllocator) Option {
	return func(m *Module) { m.tempAllocator = a }
}

// New creates a Module backed by a program file. Nothing is read until Load
// or the first lazy-loading call.
func New(path string, options ...Option) *Module {
	m := &Module{
		path:     path,
		loadMode: program.LoadModeMmapUseMlock,
		methods:  make(map[string]*methodHolder),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// NewFromLoader creates a Module over an injected data loader.
func NewFromLoader(loader program.DataLoader, options ...Option) *Module {
	m := New("", options...)
	m.loader = loader
	return m
}

// NewFromProgram creates a Module over an already-loaded shared Program. The
// data source backing the program must remain valid for the Module's
// lifetime.
func NewFromProgram(prog *program.Program, options ...Option) *Module {
	m := New("", options...)
	m.prog = prog
	return m
}

// Load parses and verifies the program if needed. Idempotent: once loaded,
// further calls return success without re-parsing, whatever verification
// they ask for.
func (m *Module) Load(verification program.Verification) error {
	if m.prog != nil {
		return nil
	}
	if m.loader == nil {
		if m.path == "" {
			return status.Errorf(status.InvalidState, "module has neither a program file nor a data loader")
		}
		m.loader = program.NewFileLoader(m.path, m.loadMode)
	}
	prog, err := program.Load(m.loader, verification)
	if err != nil {
		return err
	}
	m.prog = prog
	klog.V(1).Infof("loaded program with %d method(s)", prog.NumMethods())
	return nil
}

// IsLoaded reports whether the program is loaded. Pure query, no side
// effect.
func (m *Module) IsLoaded() bool { return m.prog != nil }

// Program returns the shared program, or nil before Load.
func (m *Module) Program() *program.Program { return m.prog }

// MethodNames returns the set of method names in the program, loading it
// first if needed.
func (m *Module) MethodNames() (types.Set[string], error) {
	if err := m.Load(program.VerifyMinimal); err != nil {
		return nil, err
	}
	names := types.MakeSet[string](m.prog.NumMethods())
	for i := 0; i < m.prog.NumMethods(); i++ {
		name, err := m.prog.MethodName(i)
		if err != nil {
			return nil, err
		}
		names.Insert(name)
	}
	return names, nil
}

// LoadMethod loads and caches the named method: sizes the planned buffers
// from program metadata, builds the memory manager over them, constructs the
// method, and compiles any delegated subgraphs. Idempotent: a second call
// for a cached method is a no-op, never a rebuild.
func (m *Module) LoadMethod(name string) error {
	if err := m.Load(program.VerifyMinimal); err != nil {
		return err
	}
	if _, loaded := m.methods[name]; loaded {
		return nil
	}
	def, err := m.prog.Method(name)
	if err != nil {
		return err
	}

	holder := &methodHolder{}
	for segment, size := range def.PlanSegments {
		if size < 0 {
			return status.Errorf(status.InvalidProgram,
				"method %q plans segment %d with negative size %d", name, segment, size)
		}
		holder.plannedBuffers = append(holder.plannedBuffers, make([]byte, size))
	}
	holder.plannedMemory = memory.NewHierarchicalAllocator(holder.plannedBuffers)
	holder.mm = memory.NewManager(holder.plannedMemory, m.methodAllocator, m.tempAllocator)

	method, err := executor.Load(def, holder.mm, m.tracer)
	if err != nil {
		return err
	}
	holder.method = method
	m.methods[name] = holder
	klog.V(1).Infof("loaded method %q: %d planned segment(s)", name, len(holder.plannedBuffers))
	return nil
}

// IsMethodLoaded reports whether the named method is in the cache.
func (m *Module) IsMethodLoaded(name string) bool {
	_, loaded := m.methods[name]
	return loaded
}

// MethodMeta returns the declared signature of the named method, loading the
// program first if needed.
func (m *Module) MethodMeta(name string) (program.MethodMeta, error) {
	if err := m.Load(program.VerifyMinimal); err != nil {
		return program.MethodMeta{}, err
	}
	return m.prog.MethodMeta(name)
}

// Execute runs the named method with the given inputs and returns its
// outputs in declared order. The program and method are loaded first if
// needed. Output tensors reference the method's planned memory and are
// overwritten by the next call on the same method.
func (m *Module) Execute(name string, inputs ...evalue.EValue) ([]evalue.EValue, error) {
	if err := m.LoadMethod(name); err != nil {
		return nil, err
	}
	method := m.methods[name].method
	if err := method.SetInputs(inputs); err != nil {
		return nil, err
	}
	if err := method.Execute(); err != nil {
		return nil, err
	}
	return method.Outputs(), nil
}

// Get runs the named method and returns its first output. Fails with
// InvalidArgument when the method produces no outputs.
func (m *Module) Get(name string, inputs ...evalue.EValue) (evalue.EValue, error) {
	outputs, err := m.Execute(name, inputs...)
	if err != nil {
		return evalue.None(), err
	}
	if len(outputs) == 0 {
		return evalue.None(), status.Errorf(status.InvalidArgument,
			"method %q produced no outputs", name)
	}
	return outputs[0], nil
}

// Forward executes the conventional "forward" method.
func (m *Module) Forward(inputs ...evalue.EValue) ([]evalue.EValue, error) {
	return m.Execute(DefaultMethodName, inputs...)
}

// SetOutputDataPtr pre-binds external output storage for the given output
// slot of the "forward" method, avoiding an internal copy on return. Fails
// if the method is not loaded or the index is out of range.
func (m *Module) SetOutputDataPtr(output *tensors.Tensor, index int) error {
	holder, loaded := m.methods[DefaultMethodName]
	if !loaded {
		return status.Errorf(status.InvalidState,
			"method %q is not loaded", DefaultMethodName)
	}
	return holder.method.SetOutputDataPtr(output, index)
}

// Close tears the Module down: every cached method's delegates are
// destroyed and the owned data source is released. The Module is unusable
// afterwards.
func (m *Module) Close() error {
	for _, holder := range m.methods {
		holder.method.Destroy()
	}
	m.methods = make(map[string]*methodHolder)
	m.prog = nil
	if m.loader != nil {
		err := m.loader.Close()
		m.loader = nil
		return err
	}
	return nil
}

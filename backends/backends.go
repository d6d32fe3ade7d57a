// Package backends defines the contract a hardware backend implements to
// execute whole delegated subgraphs natively, and the process-wide registry
// the runtime resolves backends from.
//
// A backend compiles a serialized subgraph exactly once into an opaque
// handle, then executes that handle repeatedly with externally supplied
// tensor bindings. Register implementations during package initialization,
// before any program is loaded; registry entries are append-only for the
// process lifetime.
package backends

import (
	"sync"

	"github.com/mcr229/executorch/events"
	"github.com/mcr229/executorch/memory"
	"github.com/mcr229/executorch/status"
	"github.com/mcr229/executorch/types/evalue"
)

// Handle is the opaque executable a backend's Compile produces. It is owned
// exclusively by the method that requested the compilation and released
// through Destroy exactly once, when that method is destroyed.
type Handle any

// CompileSpec is one opaque, backend-defined configuration option. The
// runtime forwards specs to Compile unchanged and never interprets them.
type CompileSpec struct {
	Key   string
	Value []byte
}

// InitContext is what a backend may use while compiling: an allocator for
// state that must live as long as the method, and the tracer for diagnostic
// events. Either field may be nil.
type InitContext struct {
	// RuntimeAllocator serves allocations that live with the owning method.
	RuntimeAllocator *memory.Allocator
	// Tracer receives compile-time diagnostic events.
	Tracer events.Tracer
}

// ExecutionContext is what a backend may use during one execute call. Scratch
// obtained from TempAllocator is valid only until the call returns.
type ExecutionContext struct {
	TempAllocator memory.TempAllocator
	Tracer        events.Tracer
}

// Delegate is the capability contract of one backend.
type Delegate interface {
	// Name returns the identifier the AOT step keys delegated subgraphs
	// with.
	Name() string

	// Compile translates a serialized subgraph into an executable handle.
	// It is called exactly once per delegated subgraph instance. The
	// processed buffer is only guaranteed valid during the call: a backend
	// keeping any of it must copy. Compile failures surface to callers as
	// Internal errors.
	Compile(ctx *InitContext, processed []byte, specs []CompileSpec) (Handle, error)

	// Execute binds the given argument values (inputs followed by outputs,
	// in the compiled signature's order) to the handle's external slots and
	// runs the subgraph to completion, writing results into the caller-owned
	// output tensors.
	Execute(ctx *ExecutionContext, handle Handle, args []evalue.EValue) error

	// Destroy releases the native resources behind the handle. Called once,
	// on the owning method's destruction path.
	Destroy(handle Handle)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Delegate)
)

// Register adds a delegate to the process-wide registry. Registering two
// delegates under one name is rejected: entries are append-only.
func Register(d Delegate) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	name := d.Name()
	if _, dup := registry[name]; dup {
		return status.Errorf(status.InvalidArgument, "backend %q already registered", name)
	}
	registry[name] = d
	return nil
}

// Get resolves a registered delegate by name.
func Get(name string) (Delegate, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, found := registry[name]
	if !found {
		return nil, status.Errorf(status.NotFound, "no backend registered under %q", name)
	}
	return d, nil
}

// Registered returns the names of all registered delegates.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

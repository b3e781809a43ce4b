// Package analytic defines the contract between the engine and pluggable
// analytics: declared inputs, the validated argument set and its
// fingerprint, work blocks and the registry analytics are looked up in.
package analytic

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/SystemsGenetics/ACE-sub002/pkg/data"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"go.uber.org/zap"
)

// Block is one unit of work or its result. Index orders results.
type Block struct {
	Index int
	Data  []byte
}

// Analytic is a pluggable computation split into Size independent blocks.
//
// The engine calls Initialize once, then MakeWork for each index from a
// single goroutine, Execute concurrently, and Process with results in
// ascending index order. Finish is called after the last Process in roles
// that write outputs.
type Analytic interface {
	Inputs() []Input
	Initialize(env *Env) error
	Size() int
	MakeWork(index int) (Block, error)
	Execute(ctx context.Context, work Block) (Block, error)
	Process(result Block) error
	Finish() error
}

// Env is what an analytic is bound to. Outputs and output files are only
// present in roles that write final output.
type Env struct {
	Args    *Arguments
	Inputs  map[string]*data.Object
	Outputs map[string]*data.Object
	Files   map[string]*os.File
	Log     *zap.Logger
}

// HasOutputs reports whether this role writes final output.
func (e *Env) HasOutputs() bool { return e.Outputs != nil }

// Input returns the data object bound to the DataIn argument name.
func (e *Env) Input(name string) (*data.Object, error) {
	if o, ok := e.Inputs[name]; ok {
		return o, nil
	}
	return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "data input %q is not bound", name).WithDetail("field", name)
}

// Output returns the data object bound to the DataOut argument name.
func (e *Env) Output(name string) (*data.Object, error) {
	if o, ok := e.Outputs[name]; ok {
		return o, nil
	}
	return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "data output %q is not bound", name).WithDetail("field", name)
}

// File returns the open file bound to the FileIn or FileOut argument name.
func (e *Env) File(name string) (*os.File, error) {
	if f, ok := e.Files[name]; ok {
		return f, nil
	}
	return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "file %q is not bound", name).WithDetail("field", name)
}

// Factory creates a fresh analytic instance.
type Factory func() Analytic

// Info describes a registered analytic.
type Info struct {
	Name        string
	Description string
	Inputs      []Input
}

type registration struct {
	info    Info
	factory Factory
}

// Registry maps command names to analytic factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds an analytic under name.
func (r *Registry) Register(name, description string, factory Factory) error {
	if name == "" || factory == nil {
		return errors.New(errors.ErrorTypeInvalidArgument, "analytic needs a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return errors.Newf(errors.ErrorTypeConflict, "analytic %q already registered", name)
	}
	r.entries[name] = registration{
		info:    Info{Name: name, Description: description, Inputs: factory().Inputs()},
		factory: factory,
	}
	return nil
}

// Create returns a new instance of the analytic name.
func (r *Registry) Create(name string) (Analytic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown analytic %q", name).WithDetail("analytic", name)
	}
	return reg.factory(), nil
}

// Lookup returns the description of name.
func (r *Registry) Lookup(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg.info, ok
}

// List returns all analytics sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for _, reg := range r.entries {
		out = append(out, reg.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

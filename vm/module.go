package vm

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Module: host-provided function libraries
// ---------------------------------------------------------------------------

// Module is a named library callable from bytecode through CALL.
type Module interface {
	Name() string

	// Constant reads member as a constant (module.member without parens).
	Constant(member string, ctx *Context, site Site) (Value, error)

	// Call invokes member with positional arguments.
	Call(member string, args []Value, ctx *Context, site Site) (Value, error)
}

// MemberLister is implemented by modules that can enumerate their members.
type MemberLister interface {
	Members() []string
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry maps module names to implementations. It is safe for concurrent
// use so one registry can back several contexts.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds m under m.Name(), replacing any previous module of that name.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name()] = m
}

// Lookup returns the module registered under name.
func (r *Registry) Lookup(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Names returns the registered module names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Context: per-execution module state
// ---------------------------------------------------------------------------

// Context tracks which modules an execution has imported and where its
// output goes. A context belongs to one execution at a time.
type Context struct {
	Registry *Registry
	Out      io.Writer

	imported map[string]bool
}

// NewContext creates a context over reg writing to os.Stdout.
func NewContext(reg *Registry) *Context {
	return &Context{
		Registry: reg,
		Out:      os.Stdout,
		imported: make(map[string]bool),
	}
}

// Import marks name as imported. Unknown modules are an error.
func (c *Context) Import(name string, site Site) error {
	if _, ok := c.Registry.Lookup(name); !ok {
		return site.Errorf("Unknown module '%s'. Available: %s", name, strings.Join(c.Registry.Names(), ", "))
	}
	c.imported[name] = true
	return nil
}

// IsImported reports whether name has been imported.
func (c *Context) IsImported(name string) bool {
	return c.imported[name]
}

// Imported returns the imported module names in sorted order.
func (c *Context) Imported() []string {
	names := make([]string, 0, len(c.imported))
	for name := range c.imported {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Module returns an imported module.
func (c *Context) Module(name string, site Site) (Module, error) {
	if !c.imported[name] {
		return nil, site.Errorf("Module '%s' is not imported. Add: import %s", name, name)
	}
	m, ok := c.Registry.Lookup(name)
	if !ok {
		return nil, site.Errorf("Unknown module '%s'. Available: %s", name, strings.Join(c.Registry.Names(), ", "))
	}
	return m, nil
}

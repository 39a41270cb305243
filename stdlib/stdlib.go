// Package stdlib provides the host modules a Dog program can import: io,
// math, string, rand, sys, time and json.
package stdlib

import (
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/dpl/vm"
)

var log = commonlog.GetLogger("dpl.stdlib")

// NewRegistry returns a registry holding every standard module.
func NewRegistry() *vm.Registry {
	reg := vm.NewRegistry()
	Register(reg)
	return reg
}

// Register adds every standard module to reg.
func Register(reg *vm.Registry) {
	reg.Register(NewIO())
	reg.Register(NewMath())
	reg.Register(NewString())
	reg.Register(NewRand())
	reg.Register(NewSys())
	reg.Register(NewTime())
	reg.Register(NewJSON())
}

// ---------------------------------------------------------------------------
// Library: table-driven module
// ---------------------------------------------------------------------------

// Variadic marks a function that checks its own argument count.
const Variadic = -1

// Func is the Go implementation of a module function.
type Func func(c *Call) (vm.Value, error)

type function struct {
	arity int
	fn    Func
}

// Library is a vm.Module built from a table of functions and constants.
type Library struct {
	name      string
	functions map[string]function
	constants map[string]vm.Value
}

// NewLibrary creates an empty module called name.
func NewLibrary(name string) *Library {
	return &Library{
		name:      name,
		functions: make(map[string]function),
		constants: make(map[string]vm.Value),
	}
}

// Define adds a function. Calls with a different argument count fail
// before fn runs unless arity is Variadic.
func (l *Library) Define(name string, arity int, fn Func) {
	l.functions[name] = function{arity: arity, fn: fn}
}

// Alias makes name call the same function as target.
func (l *Library) Alias(name, target string) {
	l.functions[name] = l.functions[target]
}

// Const adds a constant member.
func (l *Library) Const(name string, v vm.Value) {
	l.constants[name] = v
}

func (l *Library) Name() string { return l.name }

// Functions returns the function names in sorted order.
func (l *Library) Functions() []string {
	return sortedKeys(l.functions)
}

// Members returns every function and constant name in sorted order.
func (l *Library) Members() []string {
	names := append(l.Functions(), sortedKeys(l.constants)...)
	sort.Strings(names)
	return names
}

func (l *Library) Call(member string, args []vm.Value, ctx *vm.Context, site vm.Site) (vm.Value, error) {
	f, ok := l.functions[member]
	if !ok {
		return vm.Nil, site.Errorf("Unknown %s function: %s. Available: %s",
			l.name, member, strings.Join(l.Functions(), ", "))
	}
	if f.arity != Variadic && len(args) != f.arity {
		return vm.Nil, site.Errorf("%s.%s(...) expects %d argument(s)", l.name, member, f.arity)
	}

	c := &Call{Module: l.name, Member: member, Args: args, Ctx: ctx, Site: site}
	v, err := f.fn(c)
	if err != nil {
		if _, isDiag := vm.AsDiagnostic(err); isDiag {
			return vm.Nil, err
		}
		log.Debugf("%s.%s: %v", l.name, member, err)
		d := site.Errorf("%s.%s failed: %v", l.name, member, err)
		d.Err = err
		return vm.Nil, d
	}
	return v, nil
}

func (l *Library) Constant(member string, ctx *vm.Context, site vm.Site) (vm.Value, error) {
	if len(l.constants) == 0 {
		return vm.Nil, site.Errorf("Module '%s' has no constants", l.name)
	}
	v, ok := l.constants[member]
	if !ok {
		return vm.Nil, site.Errorf("Unknown %s constant: %s. Available: %s",
			l.name, member, strings.Join(sortedKeys(l.constants), ", "))
	}
	return v, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// Call: argument access for module functions
// ---------------------------------------------------------------------------

// Call carries one module invocation.
type Call struct {
	Module string
	Member string
	Args   []vm.Value
	Ctx    *vm.Context
	Site   vm.Site
}

// Errorf builds a diagnostic at the call site.
func (c *Call) Errorf(format string, args ...any) *vm.Diagnostic {
	return c.Site.Errorf(format, args...)
}

// Out returns the context's output writer.
func (c *Call) Out() io.Writer {
	if c.Ctx == nil || c.Ctx.Out == nil {
		return os.Stdout
	}
	return c.Ctx.Out
}

// String returns argument i as a string.
func (c *Call) String(i int) (string, error) {
	v := c.Args[i]
	if !v.IsString() {
		return "", c.Errorf("Expected a string argument")
	}
	return v.Str(), nil
}

// Float returns numeric argument i as a float64.
func (c *Call) Float(i int) (float64, error) {
	v := c.Args[i]
	if !v.IsNumber() {
		return 0, c.Errorf("Expected a number argument")
	}
	return v.Float(), nil
}

// Long returns argument i as an int64. Floats must be integral.
func (c *Call) Long(i int) (int64, error) {
	v := c.Args[i]
	switch v.Kind() {
	case vm.KindInt, vm.KindLong:
		return v.Int64(), nil
	case vm.KindBigInt:
		return 0, c.Errorf("Number out of long range")
	case vm.KindDouble:
		f := v.Float()
		if f != math.Trunc(f) {
			return 0, c.Errorf("Expected an integer argument")
		}
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, c.Errorf("Number out of long range")
		}
		return int64(f), nil
	}
	return 0, c.Errorf("Expected a number argument")
}

// Int returns argument i as an int in 32-bit range.
func (c *Call) Int(i int) (int, error) {
	n, err := c.Long(i)
	if err != nil {
		return 0, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, c.Errorf("Integer out of range")
	}
	return int(n), nil
}

// Index returns numeric argument i truncated toward zero.
func (c *Call) Index(i int) (int, error) {
	v := c.Args[i]
	if !v.IsNumber() {
		return 0, c.Errorf("Expected numeric index")
	}
	f := v.Float()
	if math.IsNaN(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return -1, nil
	}
	return int(f), nil
}

// Array returns argument i as shared array storage.
func (c *Call) Array(i int) (*vm.Array, error) {
	v := c.Args[i]
	if !v.IsArray() {
		return nil, c.Errorf("Expected an array argument")
	}
	return v.Array(), nil
}

// stringArray converts parts into an array of string values.
func stringArray(parts []string) vm.Value {
	items := make([]vm.Value, len(parts))
	for i, p := range parts {
		items[i] = vm.String(p)
	}
	return vm.NewArray(items)
}

func joinPrintable(items []vm.Value, sep string) string {
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(item.Printable())
	}
	return sb.String()
}

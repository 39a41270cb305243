package vm

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func at(line int) Site {
	return Site{Line: line, Col: 1, Source: fmt.Sprintf("line %d", line)}
}

var errBoom = errors.New("boom")

// fakeModule is a minimal host module used across the vm tests.
type fakeModule struct{}

func (fakeModule) Name() string { return "fake" }

func (fakeModule) Members() []string { return []string{"answer", "double", "fail"} }

func (fakeModule) Constant(member string, ctx *Context, site Site) (Value, error) {
	if member == "answer" {
		return Int(42), nil
	}
	return Nil, site.Errorf("Module 'fake' has no constant '%s'", member)
}

func (fakeModule) Call(member string, args []Value, ctx *Context, site Site) (Value, error) {
	switch member {
	case "double":
		if len(args) != 1 || !args[0].IsNumber() {
			return Nil, site.Errorf("fake.double expects one number")
		}
		return Arith(OpMul, args[0], Int(2)), nil
	case "fail":
		return Nil, errBoom
	}
	return Nil, site.Errorf("Unknown fake function '%s'", member)
}

func newTestContext() (*Context, *bytes.Buffer) {
	reg := NewRegistry()
	reg.Register(fakeModule{})
	ctx := NewContext(reg)
	var out bytes.Buffer
	ctx.Out = &out
	return ctx, &out
}

func execute(t *testing.T, c *Chunk) (string, error) {
	t.Helper()
	ctx, out := newTestContext()
	err := NewVM().Execute(c, ctx)
	return out.String(), err
}

func mustExecute(t *testing.T, c *Chunk) string {
	t.Helper()
	out, err := execute(t, c)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return out
}

// funcChunk builds a function body from ops.
func funcChunk(params []string, build func(*Chunk)) *FunctionProto {
	body := NewChunk()
	build(body)
	return &FunctionProto{Params: params, Body: body}
}

// ---------------------------------------------------------------------------
// Arithmetic and printing
// ---------------------------------------------------------------------------

func TestPrintArithmetic(t *testing.T) {
	tests := []struct {
		desc string
		a, b Value
		op   Opcode
		want string
	}{
		{"add ints", Int(40), Int(2), OpAdd, "42"},
		{"sub", Int(1), Int(3), OpSub, "-2"},
		{"mul double", Int(3), Double(1.5), OpMul, "4.5"},
		{"div is double", Int(7), Int(2), OpDiv, "3.5"},
		{"div integral double", Int(4), Int(2), OpDiv, "2"},
		{"div by zero", Int(1), Int(0), OpDiv, "Infinity"},
		{"string concat", String("n="), Int(4), OpAdd, "n=4"},
		{"concat on the right", Double(2.0), String("!"), OpAdd, "2!"},
		{"concat nil", String("x"), Nil, OpAdd, "xnil"},
		{"eq across kinds", Int(1), Double(1), OpEq, "true"},
		{"neq strings", String("a"), String("b"), OpNeq, "true"},
		{"lt", Int(1), Int(2), OpLt, "true"},
		{"gt", Int(1), Int(2), OpGt, "false"},
		{"le", Long(5), Int(5), OpLe, "true"},
		{"ge", Double(4.9), Int(5), OpGe, "false"},
	}
	for _, tc := range tests {
		c := NewChunk()
		c.EmitConst(tc.a, at(1))
		c.EmitConst(tc.b, at(1))
		c.EmitOp(tc.op, at(1))
		c.EmitOp(OpPrint, at(1))
		out, err := execute(t, c)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.desc, err)
			continue
		}
		if out != tc.want+"\n" {
			t.Errorf("%s: printed %q, want %q", tc.desc, out, tc.want)
		}
	}
}

func TestNot(t *testing.T) {
	c := NewChunk()
	c.EmitConst(String(""), at(1))
	c.EmitOp(OpNot, at(1))
	c.EmitOp(OpPrint, at(1))
	c.EmitConst(Int(3), at(2))
	c.EmitOp(OpNot, at(2))
	c.EmitOp(OpPrint, at(2))
	if got := mustExecute(t, c); got != "true\nfalse\n" {
		t.Errorf("got %q", got)
	}
}

func TestOverflowPromotes(t *testing.T) {
	c := NewChunk()
	c.EmitConst(Long(9223372036854775807), at(1))
	c.EmitConst(Int(1), at(1))
	c.EmitOp(OpAdd, at(1))
	c.EmitOp(OpPrint, at(1))
	if got := mustExecute(t, c); got != "9223372036854775808\n" {
		t.Errorf("got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Variables and control flow
// ---------------------------------------------------------------------------

func TestGlobalsPersistAcrossExecute(t *testing.T) {
	ctx, out := newTestContext()
	machine := NewVM()

	first := NewChunk()
	first.EmitConst(Int(5), at(1))
	first.EmitName(OpStore, "x", at(1))
	if err := machine.Execute(first, ctx); err != nil {
		t.Fatal(err)
	}

	second := NewChunk()
	second.EmitName(OpLoad, "x", at(1))
	second.EmitOp(OpPrint, at(1))
	if err := machine.Execute(second, ctx); err != nil {
		t.Fatal(err)
	}
	if out.String() != "5\n" {
		t.Errorf("got %q", out.String())
	}
	if v := machine.Globals["x"]; v.Kind() != KindInt || v.Int64() != 5 {
		t.Errorf("Globals[x] = %v", v)
	}
}

func TestWhileLoop(t *testing.T) {
	// let i = 0; while i < 3 { say i; i = i + 1 }
	c := NewChunk()
	c.EmitConst(Int(0), at(1))
	c.EmitName(OpStore, "i", at(1))
	top := c.Len()
	c.EmitName(OpLoad, "i", at(2))
	c.EmitConst(Int(3), at(2))
	c.EmitOp(OpLt, at(2))
	exit := c.EmitJump(OpJumpIfFalse, at(2))
	c.EmitName(OpLoad, "i", at(3))
	c.EmitOp(OpPrint, at(3))
	c.EmitName(OpLoad, "i", at(4))
	c.EmitConst(Int(1), at(4))
	c.EmitOp(OpAdd, at(4))
	c.EmitName(OpStore, "i", at(4))
	c.EmitJumpTo(OpJump, top, at(5))
	c.PatchJump(exit)

	if got := mustExecute(t, c); got != "0\n1\n2\n" {
		t.Errorf("got %q", got)
	}
}

func TestJumpToEndIsAllowed(t *testing.T) {
	c := NewChunk()
	j := c.EmitJump(OpJump, at(1))
	c.EmitConst(String("skipped"), at(2))
	c.EmitOp(OpPrint, at(2))
	c.PatchJump(j)
	if got := mustExecute(t, c); got != "" {
		t.Errorf("got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func TestArrays(t *testing.T) {
	c := NewChunk()
	c.EmitConst(Int(10), at(1))
	c.EmitConst(Int(20), at(1))
	c.EmitArg(OpArrayNew, 2, at(1))
	c.EmitName(OpStore, "a", at(1))

	c.EmitName(OpLoad, "a", at(2))
	c.EmitConst(Double(1.0), at(2))
	c.EmitOp(OpArrayGet, at(2))
	c.EmitOp(OpPrint, at(2))

	c.EmitName(OpLoad, "a", at(3))
	c.EmitConst(Int(4), at(3))
	c.EmitConst(String("x"), at(3))
	c.EmitOp(OpArraySet, at(3))
	c.EmitOp(OpPop, at(3))

	c.EmitName(OpLoad, "a", at(4))
	c.EmitOp(OpPrint, at(4))

	if got := mustExecute(t, c); got != "20\n[10, 20, nil, nil, x]\n" {
		t.Errorf("got %q", got)
	}
}

func TestArraysAreShared(t *testing.T) {
	c := NewChunk()
	c.EmitArg(OpArrayNew, 0, at(1))
	c.EmitName(OpStore, "a", at(1))
	c.EmitName(OpLoad, "a", at(2))
	c.EmitName(OpStore, "b", at(2))
	c.EmitName(OpLoad, "b", at(3))
	c.EmitConst(Int(0), at(3))
	c.EmitConst(Int(7), at(3))
	c.EmitOp(OpArraySet, at(3))
	c.EmitOp(OpPop, at(3))
	c.EmitName(OpLoad, "a", at(4))
	c.EmitOp(OpPrint, at(4))

	if got := mustExecute(t, c); got != "[7]\n" {
		t.Errorf("got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func TestFunctionCall(t *testing.T) {
	add := funcChunk([]string{"x", "y"}, func(b *Chunk) {
		b.EmitName(OpLoad, "x", at(2))
		b.EmitName(OpLoad, "y", at(2))
		b.EmitOp(OpAdd, at(2))
		b.EmitOp(OpReturn, at(2))
	})

	c := NewChunk()
	c.EmitArg(OpConstFunc, c.AddFunction(add), at(1))
	c.EmitName(OpStore, "add", at(1))
	c.EmitName(OpLoad, "add", at(4))
	c.EmitConst(Int(2), at(4))
	c.EmitConst(Int(3), at(4))
	c.EmitArg(OpCallValue, 2, at(4))
	c.EmitOp(OpPrint, at(4))

	if got := mustExecute(t, c); got != "5\n" {
		t.Errorf("got %q", got)
	}
}

func TestMissingArgumentsAreNil(t *testing.T) {
	second := funcChunk([]string{"a", "b"}, func(b *Chunk) {
		b.EmitName(OpLoad, "b", at(1))
		b.EmitOp(OpReturn, at(1))
	})

	c := NewChunk()
	c.EmitArg(OpConstFunc, c.AddFunction(second), at(1))
	c.EmitConst(Int(1), at(2))
	c.EmitArg(OpCallValue, 1, at(2))
	c.EmitOp(OpPrint, at(2))

	if got := mustExecute(t, c); got != "nil\n" {
		t.Errorf("got %q", got)
	}
}

func TestFallingOffFunctionReturnsNil(t *testing.T) {
	noop := funcChunk(nil, func(b *Chunk) {
		b.EmitConst(Int(1), at(1))
		b.EmitOp(OpPop, at(1))
	})

	c := NewChunk()
	c.EmitArg(OpConstFunc, c.AddFunction(noop), at(1))
	c.EmitArg(OpCallValue, 0, at(1))
	c.EmitOp(OpPrint, at(1))

	if got := mustExecute(t, c); got != "nil\n" {
		t.Errorf("got %q", got)
	}
}

func TestClosureSnapshot(t *testing.T) {
	// let x = 1; let f = fn() { return x }; x = 2; say f()
	getX := funcChunk(nil, func(b *Chunk) {
		b.EmitName(OpLoad, "x", at(1))
		b.EmitOp(OpReturn, at(1))
	})

	c := NewChunk()
	c.EmitConst(Int(1), at(1))
	c.EmitName(OpStore, "x", at(1))
	c.EmitArg(OpConstFunc, c.AddFunction(getX), at(2))
	c.EmitName(OpStore, "f", at(2))
	c.EmitConst(Int(2), at(3))
	c.EmitName(OpStore, "x", at(3))
	c.EmitName(OpLoad, "f", at(4))
	c.EmitArg(OpCallValue, 0, at(4))
	c.EmitOp(OpPrint, at(4))
	c.EmitName(OpLoad, "x", at(5))
	c.EmitOp(OpPrint, at(5))

	if got := mustExecute(t, c); got != "1\n2\n" {
		t.Errorf("got %q", got)
	}
}

func TestFunctionAssignmentDoesNotLeak(t *testing.T) {
	// let x = 1; fn set() { x = 9; return x }; say set(); say x
	set := funcChunk(nil, func(b *Chunk) {
		b.EmitConst(Int(9), at(2))
		b.EmitName(OpStore, "x", at(2))
		b.EmitName(OpLoad, "x", at(2))
		b.EmitOp(OpReturn, at(2))
	})

	c := NewChunk()
	c.EmitConst(Int(1), at(1))
	c.EmitName(OpStore, "x", at(1))
	c.EmitArg(OpConstFunc, c.AddFunction(set), at(2))
	c.EmitArg(OpCallValue, 0, at(3))
	c.EmitOp(OpPrint, at(3))
	c.EmitName(OpLoad, "x", at(4))
	c.EmitOp(OpPrint, at(4))

	if got := mustExecute(t, c); got != "9\n1\n" {
		t.Errorf("got %q", got)
	}
}

func TestRecursionHitsFrameLimit(t *testing.T) {
	// fn f() { return f() }
	f := funcChunk(nil, func(b *Chunk) {
		b.EmitName(OpLoad, "f", at(1))
		b.EmitArg(OpCallValue, 0, at(1))
		b.EmitOp(OpReturn, at(1))
	})

	c := NewChunk()
	c.EmitArg(OpConstFunc, c.AddFunction(f), at(1))
	c.EmitName(OpStore, "f", at(1))
	c.EmitName(OpLoad, "f", at(2))
	c.EmitArg(OpCallValue, 0, at(2))

	ctx, _ := newTestContext()
	machine := NewVM()
	machine.MaxFrameDepth = 50
	err := machine.Execute(c, ctx)
	d, ok := AsDiagnostic(err)
	if !ok {
		t.Fatalf("expected diagnostic, got %v", err)
	}
	if d.Message != "Stack overflow: more than 50 nested calls" {
		t.Errorf("message = %q", d.Message)
	}
	if d.Line != 1 {
		t.Errorf("line = %d, want 1", d.Line)
	}
	if machine.StackDepth() != 0 {
		t.Errorf("stack depth after error = %d", machine.StackDepth())
	}
}

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		desc  string
		build func(c *Chunk)
		line  int
		want  string
	}{
		{"undefined variable", func(c *Chunk) {
			c.EmitConst(Int(1), at(1))
			c.EmitOp(OpPop, at(1))
			c.EmitName(OpLoad, "zz", at(2))
		}, 2, "Undefined variable 'zz'"},
		{"non-number arithmetic", func(c *Chunk) {
			c.EmitConst(String("a"), at(3))
			c.EmitConst(Int(1), at(3))
			c.EmitOp(OpSub, at(3))
		}, 3, "Expected number"},
		{"non-number comparison", func(c *Chunk) {
			c.EmitConst(Nil, at(1))
			c.EmitConst(Int(1), at(1))
			c.EmitOp(OpLt, at(1))
		}, 1, "Expected number"},
		{"index non-array", func(c *Chunk) {
			c.EmitConst(Int(1), at(1))
			c.EmitConst(Int(0), at(1))
			c.EmitOp(OpArrayGet, at(1))
		}, 1, "Indexing works only for arrays"},
		{"index out of range", func(c *Chunk) {
			c.EmitConst(Int(0), at(1))
			c.EmitArg(OpArrayNew, 1, at(1))
			c.EmitConst(Int(5), at(1))
			c.EmitOp(OpArrayGet, at(1))
		}, 1, "Array index out of range: 5"},
		{"negative set index", func(c *Chunk) {
			c.EmitArg(OpArrayNew, 0, at(1))
			c.EmitConst(Int(-1), at(1))
			c.EmitConst(Int(0), at(1))
			c.EmitOp(OpArraySet, at(1))
		}, 1, "Array index out of range: -1"},
		{"call non-function", func(c *Chunk) {
			c.EmitConst(Int(3), at(4))
			c.EmitArg(OpCallValue, 0, at(4))
		}, 4, "Trying to call non-function: int"},
		{"return at top level", func(c *Chunk) {
			c.EmitConst(Int(1), at(1))
			c.EmitOp(OpReturn, at(1))
		}, 1, "RETURN outside of function"},
		{"stack underflow", func(c *Chunk) {
			c.EmitOp(OpPrint, at(1))
		}, 1, "Stack underflow"},
		{"bad jump", func(c *Chunk) {
			c.EmitJumpTo(OpJump, 99, at(1))
		}, 1, "Bad jump target: 99 (code size=1)"},
		{"bad function index", func(c *Chunk) {
			c.EmitArg(OpConstFunc, 3, at(1))
		}, 1, "Bad function index: 3"},
	}
	for _, tc := range tests {
		c := NewChunk()
		tc.build(c)
		_, err := execute(t, c)
		d, ok := AsDiagnostic(err)
		if !ok {
			t.Errorf("%s: expected diagnostic, got %v", tc.desc, err)
			continue
		}
		if d.Message != tc.want {
			t.Errorf("%s: message = %q, want %q", tc.desc, d.Message, tc.want)
		}
		if d.Line != tc.line {
			t.Errorf("%s: line = %d, want %d", tc.desc, d.Line, tc.line)
		}
	}
}

func TestErrorStopsExecution(t *testing.T) {
	c := NewChunk()
	c.EmitConst(String("before"), at(1))
	c.EmitOp(OpPrint, at(1))
	c.EmitName(OpLoad, "missing", at(2))
	c.EmitConst(String("after"), at(3))
	c.EmitOp(OpPrint, at(3))

	out, err := execute(t, c)
	if err == nil {
		t.Fatal("expected error")
	}
	if out != "before\n" {
		t.Errorf("output = %q", out)
	}
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

func TestModuleCallAndConstant(t *testing.T) {
	c := NewChunk()
	c.EmitName(OpImport, "fake", at(1))
	c.EmitConst(Int(21), at(2))
	c.EmitCall("fake", "double", 1, false, at(2))
	c.EmitOp(OpPrint, at(2))
	c.EmitCall("fake", "answer", 0, true, at(3))
	c.EmitOp(OpPrint, at(3))

	if got := mustExecute(t, c); got != "42\n42\n" {
		t.Errorf("got %q", got)
	}
}

func TestModuleErrors(t *testing.T) {
	tests := []struct {
		desc  string
		build func(c *Chunk)
		want  string
	}{
		{"not imported", func(c *Chunk) {
			c.EmitCall("fake", "answer", 0, true, at(1))
		}, "Module 'fake' is not imported. Add: import fake"},
		{"unknown module", func(c *Chunk) {
			c.EmitName(OpImport, "nope", at(1))
		}, "Unknown module 'nope'. Available: fake"},
		{"module diagnostic passes through", func(c *Chunk) {
			c.EmitName(OpImport, "fake", at(1))
			c.EmitCall("fake", "pi", 0, true, at(1))
		}, "Module 'fake' has no constant 'pi'"},
		{"plain error is wrapped", func(c *Chunk) {
			c.EmitName(OpImport, "fake", at(1))
			c.EmitCall("fake", "fail", 0, false, at(1))
		}, "Runtime error: boom"},
		{"missing call arguments", func(c *Chunk) {
			c.EmitName(OpImport, "fake", at(1))
			c.EmitCall("fake", "double", 2, false, at(1))
		}, "Stack underflow"},
	}
	for _, tc := range tests {
		c := NewChunk()
		tc.build(c)
		_, err := execute(t, c)
		d, ok := AsDiagnostic(err)
		if !ok {
			t.Errorf("%s: expected diagnostic, got %v", tc.desc, err)
			continue
		}
		if d.Message != tc.want {
			t.Errorf("%s: message = %q, want %q", tc.desc, d.Message, tc.want)
		}
		if d.Line != 1 {
			t.Errorf("%s: line = %d, want 1", tc.desc, d.Line)
		}
	}
}

func TestModuleErrorKeepsCause(t *testing.T) {
	c := NewChunk()
	c.EmitName(OpImport, "fake", at(1))
	c.EmitCall("fake", "fail", 0, false, at(1))

	_, err := execute(t, c)
	if !errors.Is(err, errBoom) {
		t.Errorf("errors.Is(err, errBoom) = false for %v", err)
	}
}

func TestImportsPersistInContext(t *testing.T) {
	ctx, out := newTestContext()
	machine := NewVM()

	imp := NewChunk()
	imp.EmitName(OpImport, "fake", at(1))
	if err := machine.Execute(imp, ctx); err != nil {
		t.Fatal(err)
	}

	use := NewChunk()
	use.EmitCall("fake", "answer", 0, true, at(1))
	use.EmitOp(OpPrint, at(1))
	if err := machine.Execute(use, ctx); err != nil {
		t.Fatal(err)
	}
	if out.String() != "42\n" {
		t.Errorf("got %q", out.String())
	}
	if !slices.Equal(ctx.Imported(), []string{"fake"}) {
		t.Errorf("Imported() = %v", ctx.Imported())
	}
}

func TestStackResetAfterError(t *testing.T) {
	ctx, _ := newTestContext()
	machine := NewVM()

	c := NewChunk()
	c.EmitConst(Int(1), at(1))
	c.EmitConst(Int(2), at(1))
	c.EmitName(OpLoad, "nope", at(1))
	if err := machine.Execute(c, ctx); err == nil {
		t.Fatal("expected error")
	}
	if machine.StackDepth() != 0 {
		t.Errorf("StackDepth() = %d, want 0", machine.StackDepth())
	}
}

package compiler

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/dpl/stdlib"
	"github.com/chazu/dpl/vm"
)

// Integration tests: compile Dog source and run it on a fresh VM.

func execute(chunk *vm.Chunk) (string, error) {
	var out bytes.Buffer
	ctx := vm.NewContext(stdlib.NewRegistry())
	ctx.Out = &out
	err := vm.NewVM().Execute(chunk, ctx)
	return out.String(), err
}

func runSource(t *testing.T, src string) string {
	t.Helper()
	chunk, err := CompileSource(src)
	require.NoError(t, err)
	out, err := execute(chunk)
	require.NoError(t, err)
	return out
}

func TestIntegrationScenarios(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"precedence", "say 1 + 2 * 3", "7\n"},
		{"reassignment", "let x = 5\nx = x + 1\nsay x", "6\n"},
		{"if else", "if 1 < 2 {\n  say \"yes\"\n} else {\n  say \"no\"\n}", "yes\n"},
		{"while", "let i = 0\nwhile i < 3 {\n  say i\n  i = i + 1\n}", "0\n1\n2\n"},
		{"fn", "fn add(a,b) {\n  return a+b\n}\nsay add(2,3)", "5\n"},
		{"lambda", "let sq = (x) => x*x\nsay sq(4)", "16\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, runSource(t, tc.src))
		})
	}
}

func TestIntegrationElseIfChain(t *testing.T) {
	src := `fn grade(n) {
  if n >= 90 {
    return "A"
  } else if n >= 80 {
    return "B"
  } else {
    return "C"
  }
}
say grade(95)
say grade(85)
say grade(10)`
	assert.Equal(t, "A\nB\nC\n", runSource(t, src))
}

func TestIntegrationRecursion(t *testing.T) {
	src := `fn fib(n) {
  if n < 2 {
    return n
  }
  return fib(n - 1) + fib(n - 2)
}
say fib(15)`
	assert.Equal(t, "610\n", runSource(t, src))
}

func TestIntegrationClosureSnapshot(t *testing.T) {
	src := `let x = 1
let f = () => x
x = 2
say f()
say x`
	assert.Equal(t, "1\n2\n", runSource(t, src))
}

func TestIntegrationClosureCapturesFrameLocals(t *testing.T) {
	src := `fn makeAdder(n) {
  return (x) => x + n
}
let add5 = makeAdder(5)
let add7 = makeAdder(7)
say add5(1)
say add7(1)`
	assert.Equal(t, "6\n8\n", runSource(t, src))
}

func TestIntegrationHigherOrder(t *testing.T) {
	src := `fn apply(f, v) {
  return f(v)
}
say apply((x) => x * x, 3)
say apply((s) -> s + "!", "hi")`
	assert.Equal(t, "9\nhi!\n", runSource(t, src))
}

func TestIntegrationArrays(t *testing.T) {
	src := `import io
let a = [1]
a[3] = 4
say a
say io.len(a)
let m = [[1, 2], [3, 4]]
m[1][0] = 9
say m
let b = a
b[0] = "x"
say a[0]
say a == b
say [1] == [1]`
	want := "[1, nil, nil, 4]\n4\n[[1, 2], [9, 4]]\nx\ntrue\nfalse\n"
	assert.Equal(t, want, runSource(t, src))
}

func TestIntegrationNumbers(t *testing.T) {
	src := `import io
say 2147483647 + 1
say io.typeOf(2147483647 + 1)
say io.typeOf(9223372036854775807 + 1)
say 9223372036854775807 * 10 - 9223372036854775807 * 10
say io.typeOf(9223372036854775807 * 10 - 9223372036854775807 * 10)
say 7 / 2
say 6 / 2
say 1.5 + 1
say 0.1 + 0.2
say 1 == 1.0
say -3 < -2`
	want := "2147483648\nlong\nbigint\n0\nint\n3.5\n3\n2.5\n0.30000000000000004\ntrue\ntrue\n"
	assert.Equal(t, want, runSource(t, src))
}

func TestIntegrationStringsAndTruthiness(t *testing.T) {
	src := `say "n=" + 3
say 1 + "x"
say !""
say !"a"
say !0
say !nil
say !0.0
say !(1 == 2)
say "a" == "a"
say "a" <> "b"`
	want := "n=3\n1x\ntrue\nfalse\ntrue\ntrue\ntrue\ntrue\ntrue\ntrue\n"
	assert.Equal(t, want, runSource(t, src))
}

func TestIntegrationArgumentArity(t *testing.T) {
	src := `fn pair(a, b) {
  return [a, b]
}
say pair(1)
say pair(1, 2, 3)`
	assert.Equal(t, "[1, nil]\n[1, 2]\n", runSource(t, src))
}

func TestIntegrationFunctionFallsOffEnd(t *testing.T) {
	src := `fn noop() {
  let x = 1
}
say noop()
say noop`
	assert.Equal(t, "nil\n<fn()>\n", runSource(t, src))
}

func TestIntegrationModules(t *testing.T) {
	src := `import math
import string
say math.max(1, 2)
say string.upper("dog")
say math.PI > 3`
	assert.Equal(t, "2\nDOG\ntrue\n", runSource(t, src))
}

func TestIntegrationRuntimeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
		line int
	}{
		{"undefined variable", "say 1\nsay nope", "Undefined variable 'nope'", 2},
		{"not imported", "say io.len([])", "Module 'io' is not imported. Add: import io", 1},
		{"unknown module", "import nope", "Unknown module 'nope'", 1},
		{"call non-function", "let x = 1\nx()", "Trying to call non-function", 2},
		{"index non-array", "let x = 1\nsay x[0]", "Indexing works only for arrays", 2},
		{"index out of range", "say [1][5]", "Array index out of range: 5", 1},
		{"arith on bool", "say true + 1", "Expected number", 1},
		{"compare strings", `say "a" < "b"`, "Expected number", 1},
		{"module arity", "import math\nsay math.sqrt()", "math.sqrt", 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			chunk, err := CompileSource(tc.src)
			require.NoError(t, err)
			_, err = execute(chunk)
			require.Error(t, err)
			d, ok := vm.AsDiagnostic(err)
			require.True(t, ok, "error %T is not a diagnostic", err)
			assert.Contains(t, d.Message, tc.msg)
			assert.Equal(t, tc.line, d.Line)
		})
	}
}

func TestIntegrationSelfContainingArray(t *testing.T) {
	assert.Equal(t, "[[...], 2]\n", runSource(t, "let a = [1, 2]\na[0] = a\nsay a"))

	chunk, err := CompileSource("import json\nlet a = [1]\na[0] = a\nsay json.encode(a)")
	require.NoError(t, err)
	_, err = execute(chunk)
	require.Error(t, err)
	d, ok := vm.AsDiagnostic(err)
	require.True(t, ok, "error %T is not a diagnostic", err)
	assert.Equal(t, "json.encode: cyclic array", d.Message)
	assert.Equal(t, 4, d.Line)
}

func TestIntegrationStackOverflow(t *testing.T) {
	chunk, err := CompileSource("fn down(n) {\n  return down(n + 1)\n}\ndown(0)")
	require.NoError(t, err)

	machine := vm.NewVM()
	machine.MaxFrameDepth = 50
	ctx := vm.NewContext(stdlib.NewRegistry())
	ctx.Out = &bytes.Buffer{}
	err = machine.Execute(chunk, ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Stack overflow")
}

// ---------------------------------------------------------------------------
// Bytecode round trip
// ---------------------------------------------------------------------------

func TestIntegrationSerializedProgramMatches(t *testing.T) {
	programs := []string{
		"say 1 + 2 * 3",
		"let i = 0\nwhile i < 3 {\n  say i\n  i = i + 1\n}",
		"fn add(a,b) {\n  return a+b\n}\nsay add(2,3)",
		"let sq = (x) => x*x\nsay sq(4)",
		"say 123456789012345678901234567890 * 2\nsay 1.25e-9\nsay \"tab\\there\"",
		"fn outer() {\n  fn inner(x) {\n    return (y) => x + y\n  }\n  return inner(10)(5)\n}\nsay outer()",
	}

	for _, src := range programs {
		chunk, err := CompileSource(src)
		require.NoError(t, err)
		direct, err := execute(chunk)
		require.NoError(t, err)

		data, err := vm.Serialize(chunk)
		require.NoError(t, err)
		loaded, err := vm.Deserialize(data)
		require.NoError(t, err)
		viaBytes, err := execute(loaded)
		require.NoError(t, err)

		assert.Equal(t, direct, viaBytes, "program %q", src)
	}
}

func TestIntegrationSerializedDiagnostics(t *testing.T) {
	chunk, err := CompileSource("let a = 1\n  say a + b")
	require.NoError(t, err)
	data, err := vm.Serialize(chunk)
	require.NoError(t, err)
	loaded, err := vm.Deserialize(data)
	require.NoError(t, err)

	_, direct := execute(chunk)
	_, fromDisk := execute(loaded)
	require.Error(t, direct)
	require.Error(t, fromDisk)

	d1, _ := vm.AsDiagnostic(direct)
	d2, _ := vm.AsDiagnostic(fromDisk)
	assert.Equal(t, *d1, *d2)
	assert.Equal(t, "  say a + b", d2.Source)
}

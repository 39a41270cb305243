package stdlib

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chazu/dpl/vm"
)

func TestJSONMinifyPretty(t *testing.T) {
	m := NewJSON()
	doc := vm.String("{ \"a\" : [1, 2],\n \"s\": \"x y\" }")

	assert.Equal(t, `{"a":[1,2],"s":"x y"}`, invoke(t, m, "minify", doc).Str())
	assert.Equal(t, "{\n  \"a\": [\n    1,\n    2\n  ],\n  \"s\": \"x y\"\n}",
		invoke(t, m, "pretty", doc, vm.Int(2)).Str())

	d := invokeErr(t, m, "minify", vm.String("{oops"))
	assert.Contains(t, d.Message, "json.minify: invalid JSON")

	assert.True(t, invoke(t, m, "valid", doc).AsBool())
	assert.False(t, invoke(t, m, "valid", vm.String("[1,")).AsBool())
}

func TestJSONBuild(t *testing.T) {
	m := NewJSON()

	got := invoke(t, m, "arr", vm.Int(1), vm.Double(2.5), vm.String("<a\"b>"), vm.Nil, vm.Bool(false))
	assert.Equal(t, `[1,2.5,"<a\"b>",null,false]`, got.Str())

	got = invoke(t, m, "obj", vm.String("k"), vm.NewArray(ints(1, 2)), vm.String("n"), vm.Double(math.NaN()))
	assert.Equal(t, `{"k":[1,2],"n":null}`, got.Str())

	assert.Equal(t, "{}", invoke(t, m, "obj").Str())
	assert.Equal(t, "[]", invoke(t, m, "arr").Str())

	assert.Equal(t, "json.obj(k1,v1,k2,v2,...): expected even number of arguments",
		invokeErr(t, m, "obj", vm.String("k")).Message)
	assert.Equal(t, "json.obj: key #2 must be a string",
		invokeErr(t, m, "obj", vm.String("a"), vm.Int(1), vm.Int(2), vm.Int(3)).Message)

	assert.Equal(t, `line\nbreak \"q\"`, invoke(t, m, "escape", vm.String("line\nbreak \"q\"")).Str())
	assert.Equal(t, `"123456789012345678901234567890"`,
		invoke(t, m, "encode", vm.String("123456789012345678901234567890")).Str())
}

func TestJSONEncodeCyclicArray(t *testing.T) {
	m := NewJSON()

	a := vm.NewArray(ints(1))
	a.Array().Items[0] = a
	assert.Equal(t, "json.encode: cyclic array", invokeErr(t, m, "encode", a).Message)
	assert.Equal(t, "json.arr: cyclic array", invokeErr(t, m, "arr", vm.Int(0), a).Message)
	assert.Equal(t, "json.obj: cyclic array", invokeErr(t, m, "obj", vm.String("k"), a).Message)

	_, err := Encode(a)
	assert.ErrorIs(t, err, ErrCyclicArray)

	shared := vm.NewArray(ints(1))
	assert.Equal(t, "[[1],[1]]", invoke(t, m, "encode", vm.NewArray([]vm.Value{shared, shared})).Str())
}

func TestJSONGet(t *testing.T) {
	m := NewJSON()
	doc := vm.String(`{"name":"rex","age":7,"big":123456789012345678901,"w":2.5,"tags":["a","b"],"ok":true,"none":null,"o":{"x":1}}`)

	tests := []struct {
		path string
		want string
		kind vm.Kind
	}{
		{"name", "rex", vm.KindString},
		{"age", "7", vm.KindInt},
		{"big", "123456789012345678901", vm.KindBigInt},
		{"w", "2.5", vm.KindDouble},
		{"tags", "[a, b]", vm.KindArray},
		{"tags.1", "b", vm.KindString},
		{"ok", "true", vm.KindBool},
		{"none", "nil", vm.KindNil},
		{"missing", "nil", vm.KindNil},
		{"o", `{"x":1}`, vm.KindString},
	}
	for _, tc := range tests {
		got := invoke(t, m, "get", doc, vm.String(tc.path))
		assert.Equal(t, tc.want, got.Printable(), tc.path)
		assert.Equal(t, tc.kind, got.Kind(), tc.path)
	}

	assert.Equal(t, "json.get: invalid JSON", invokeErr(t, m, "get", vm.String("{"), vm.String("a")).Message)
}

func TestJSONFiles(t *testing.T) {
	m := NewJSON()
	dir := t.TempDir()
	path := vm.String(filepath.Join(dir, "out", "doc.json"))

	assert.False(t, invoke(t, m, "exists", path).AsBool())
	assert.Equal(t, int64(0), invoke(t, m, "size", path).Int64())

	invoke(t, m, "write", path, vm.String(`{"a":1}`))
	assert.True(t, invoke(t, m, "exists", path).AsBool())
	assert.Equal(t, int64(7), invoke(t, m, "size", path).Int64())
	assert.Equal(t, `{"a":1}`, invoke(t, m, "read", path).Str())
	assert.Equal(t, "{\n \"a\": 1\n}", invoke(t, m, "readPretty", path, vm.Int(1)).Str())

	invoke(t, m, "writePretty", path, vm.String(`[1,2]`), vm.Int(-4))
	assert.Equal(t, "[\n1,\n2\n]", invoke(t, m, "read", path).Str())

	missing := filepath.Join(dir, "nope.json")
	assert.Equal(t, "json.read: file not found: "+missing, invokeErr(t, m, "read", vm.String(missing)).Message)
	assert.Equal(t, "json.readPretty: file not found: "+missing,
		invokeErr(t, m, "readPretty", vm.String(missing), vm.Int(2)).Message)
}

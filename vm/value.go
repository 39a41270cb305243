package vm

import (
	"cmp"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value: tagged runtime datum
// ---------------------------------------------------------------------------

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindInt
	KindLong
	KindDouble
	KindBigInt
	KindString
	KindBool
	KindArray
	KindFunction
)

var kindNames = [...]string{
	KindNil:      "nil",
	KindInt:      "int",
	KindLong:     "long",
	KindDouble:   "double",
	KindBigInt:   "bigint",
	KindString:   "string",
	KindBool:     "bool",
	KindArray:    "array",
	KindFunction: "function",
}

// String returns the lower-case type name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is an immutable tagged union, except for arrays which share their
// backing storage by reference. The zero Value is nil.
type Value struct {
	kind Kind
	i    int64 // int, long, bool (0/1)
	f    float64
	b    *big.Int
	s    string
	arr  *Array
	fn   *Function
}

// Array is the shared mutable storage behind array values.
type Array struct {
	Items []Value
}

// Function is a function value: a prototype plus the environment snapshot
// taken when the value was built.
type Function struct {
	Proto   *FunctionProto
	Closure map[string]Value
}

// Nil is the nil value.
var Nil = Value{kind: KindNil}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Int returns a 32-bit integer value.
func Int(n int32) Value { return Value{kind: KindInt, i: int64(n)} }

// Long returns a 64-bit integer value.
func Long(n int64) Value { return Value{kind: KindLong, i: n} }

// Double returns a float value.
func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bool returns a bool value.
func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

// NewArray wraps items in a fresh array value. The slice is owned by the
// array afterwards.
func NewArray(items []Value) Value {
	return Value{kind: KindArray, arr: &Array{Items: items}}
}

// NewFunction builds a function value over proto with the given snapshot.
func NewFunction(proto *FunctionProto, closure map[string]Value) Value {
	return Value{kind: KindFunction, fn: &Function{Proto: proto, Closure: closure}}
}

// BigInt returns the narrowest integer value that holds n: int when it fits
// in 32 bits, long when it fits in 64, otherwise an arbitrary-precision value.
// n is not retained when a narrower variant is chosen.
func BigInt(n *big.Int) Value {
	if n.IsInt64() {
		return FromInt64(n.Int64())
	}
	return Value{kind: KindBigInt, b: new(big.Int).Set(n)}
}

// FromInt64 returns Int when n fits in 32 bits and Long otherwise.
func FromInt64(n int64) Value {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return Int(int32(n))
	}
	return Long(n)
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNil() bool      { return v.kind == KindNil }
func (v Value) IsString() bool   { return v.kind == KindString }
func (v Value) IsBool() bool     { return v.kind == KindBool }
func (v Value) IsArray() bool    { return v.kind == KindArray }
func (v Value) IsFunction() bool { return v.kind == KindFunction }
func (v Value) IsDouble() bool   { return v.kind == KindDouble }

// IsNumber reports whether v is one of the four numeric variants.
func (v Value) IsNumber() bool {
	switch v.kind {
	case KindInt, KindLong, KindDouble, KindBigInt:
		return true
	}
	return false
}

// IsInteger reports whether v is a non-float number.
func (v Value) IsInteger() bool {
	return v.kind == KindInt || v.kind == KindLong || v.kind == KindBigInt
}

// Str returns the string payload. It is empty for non-string values.
func (v Value) Str() string { return v.s }

// AsBool returns the bool payload.
func (v Value) AsBool() bool { return v.i != 0 }

// Int64 returns the payload of an int or long value.
func (v Value) Int64() int64 { return v.i }

// Array returns the shared array storage, or nil for non-arrays.
func (v Value) Array() *Array { return v.arr }

// Function returns the function payload, or nil for non-functions.
func (v Value) Function() *Function { return v.fn }

// Float returns the numeric value as a float64.
func (v Value) Float() float64 {
	switch v.kind {
	case KindInt, KindLong:
		return float64(v.i)
	case KindDouble:
		return v.f
	case KindBigInt:
		f, _ := new(big.Float).SetInt(v.b).Float64()
		return f
	}
	return 0
}

// Big returns the integer value as a new big.Int. Floats are truncated.
func (v Value) Big() *big.Int {
	switch v.kind {
	case KindInt, KindLong:
		return big.NewInt(v.i)
	case KindBigInt:
		return new(big.Int).Set(v.b)
	case KindDouble:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return new(big.Int)
		}
		n, _ := big.NewFloat(v.f).Int(nil)
		return n
	}
	return new(big.Int)
}

// ---------------------------------------------------------------------------
// Semantics
// ---------------------------------------------------------------------------

// Truthy reports the truthiness of v.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.i != 0
	case KindString:
		return v.s != ""
	case KindInt, KindLong:
		return v.i != 0
	case KindDouble:
		return v.f != 0
	case KindBigInt:
		return v.b.Sign() != 0
	}
	return true
}

// Equal implements EQ. Numbers compare by value across variants; other
// values must share a kind.
func (v Value) Equal(o Value) bool {
	if v.IsNumber() && o.IsNumber() {
		return CompareNumbers(v, o) == 0
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindBool:
		return v.i == o.i
	case KindNil:
		return true
	case KindArray:
		return v.arr == o.arr
	case KindFunction:
		return v.fn.Proto == o.fn.Proto
	}
	return false
}

// CompareNumbers orders two numeric values. Float comparison is used when
// either side is a float, exact integer comparison otherwise.
func CompareNumbers(a, b Value) int {
	if a.kind == KindDouble || b.kind == KindDouble {
		return cmp.Compare(a.Float(), b.Float())
	}
	if a.kind != KindBigInt && b.kind != KindBigInt {
		return cmp.Compare(a.i, b.i)
	}
	return a.Big().Cmp(b.Big())
}

// Printable returns the form used by PRINT and string concatenation. An
// array that contains itself prints the inner reference as [...].
func (v Value) Printable() string {
	if v.kind == KindArray {
		var sb strings.Builder
		writeArray(&sb, v.arr, make(map[*Array]bool))
		return sb.String()
	}
	return v.scalarString()
}

// writeArray renders arr; open holds the arrays currently being printed.
func writeArray(sb *strings.Builder, arr *Array, open map[*Array]bool) {
	if open[arr] {
		sb.WriteString("[...]")
		return
	}
	open[arr] = true
	defer delete(open, arr)

	sb.WriteByte('[')
	for i, item := range arr.Items {
		if i > 0 {
			sb.WriteString(", ")
		}
		if item.kind == KindArray {
			writeArray(sb, item.arr, open)
		} else {
			sb.WriteString(item.scalarString())
		}
	}
	sb.WriteByte(']')
}

func (v Value) scalarString() string {
	switch v.kind {
	case KindInt, KindLong:
		return strconv.FormatInt(v.i, 10)
	case KindBigInt:
		return v.b.String()
	case KindDouble:
		return FormatDouble(v.f)
	case KindString:
		return v.s
	case KindBool:
		if v.i != 0 {
			return "true"
		}
		return "false"
	case KindNil:
		return "nil"
	case KindFunction:
		return "<fn(" + strings.Join(v.fn.Proto.Params, ",") + ")>"
	}
	return "?"
}

// String implements fmt.Stringer.
func (v Value) String() string { return v.Printable() }

// FormatDouble prints integral floats as integers and everything else the
// way the JVM prints doubles.
func FormatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return strconv.FormatInt(int64(f), 10)
	}
	abs := math.Abs(f)
	if abs >= 1e-3 && abs < 1e7 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'E', -1, 64)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	e, _ := strconv.Atoi(exp)
	return mant + "E" + strconv.Itoa(e)
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// Arith applies ADD, SUB or MUL to two numbers. Floats win; integers are
// computed exactly and re-narrowed.
func Arith(op Opcode, a, b Value) Value {
	if a.kind == KindDouble || b.kind == KindDouble {
		x, y := a.Float(), b.Float()
		switch op {
		case OpAdd:
			return Double(x + y)
		case OpSub:
			return Double(x - y)
		default:
			return Double(x * y)
		}
	}
	if a.kind != KindBigInt && b.kind != KindBigInt {
		if r, ok := arith64(op, a.i, b.i); ok {
			return FromInt64(r)
		}
	}
	x, y := a.Big(), b.Big()
	switch op {
	case OpAdd:
		x.Add(x, y)
	case OpSub:
		x.Sub(x, y)
	default:
		x.Mul(x, y)
	}
	return BigInt(x)
}

// arith64 computes in int64 and reports false on overflow.
func arith64(op Opcode, x, y int64) (int64, bool) {
	switch op {
	case OpAdd:
		r := x + y
		return r, (r > x) == (y > 0)
	case OpSub:
		r := x - y
		return r, (r < x) == (y > 0)
	default:
		if x == 0 || y == 0 {
			return 0, true
		}
		r := x * y
		if r/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
			return 0, false
		}
		return r, true
	}
}

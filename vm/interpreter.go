package vm

import (
	"fmt"
	"math"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("dpl.vm")

// DefaultMaxFrameDepth bounds nested function calls.
const DefaultMaxFrameDepth = 10000

// ---------------------------------------------------------------------------
// Frame: one active function call
// ---------------------------------------------------------------------------

// Frame is the activation record of a function call.
type Frame struct {
	Locals  map[string]Value
	Closure map[string]Value // private copy of the function's snapshot
	Base    int              // operand stack height at entry
}

// ---------------------------------------------------------------------------
// VM: stack machine
// ---------------------------------------------------------------------------

// VM executes chunks. Globals survive across Execute calls, so a REPL can
// feed one VM many chunks. A VM must not be shared between goroutines.
type VM struct {
	Globals map[string]Value

	// MaxFrameDepth bounds recursion; 0 means DefaultMaxFrameDepth.
	MaxFrameDepth int

	// Trace logs every executed instruction at debug level.
	Trace bool

	stack  []Value
	frames []*Frame
}

// NewVM creates a VM with empty globals.
func NewVM() *VM {
	return &VM{
		Globals: make(map[string]Value),
		stack:   make([]Value, 0, 256),
	}
}

// Execute runs a top-level chunk. The first diagnostic aborts execution.
func (vm *VM) Execute(chunk *Chunk, ctx *Context) error {
	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]
	_, err := vm.run(chunk, ctx, nil)
	if err != nil {
		vm.stack = vm.stack[:0]
		vm.frames = vm.frames[:0]
	}
	return err
}

// StackDepth returns the operand stack height.
func (vm *VM) StackDepth() int {
	return len(vm.stack)
}

// run executes chunk until it returns or runs out of instructions. fr is nil
// for top-level code.
func (vm *VM) run(chunk *Chunk, ctx *Context, fr *Frame) (Value, error) {
	code := chunk.Code
	for ip := 0; ip < len(code); {
		ins := &code[ip]
		ip++

		if vm.Trace {
			log.Debugf("%04d %s", ip-1, FormatInstruction(ins))
		}

		switch ins.Op {

		// ---- constants ----
		case OpConstInt, OpConstLong, OpConstDouble, OpConstBigInt, OpConstStr, OpConstBool:
			vm.push(ins.Const)

		case OpConstNil:
			vm.push(Nil)

		// ---- functions ----
		case OpConstFunc:
			if ins.Arg < 0 || ins.Arg >= len(chunk.Functions) {
				return Nil, ins.Errorf("Bad function index: %d", ins.Arg)
			}
			vm.push(NewFunction(chunk.Functions[ins.Arg], vm.snapshot()))

		case OpCallValue:
			if ins.Arg < 0 {
				return Nil, ins.Errorf("Bad CALL_VALUE argCount")
			}
			args, err := vm.popN(ins.Arg, ins)
			if err != nil {
				return Nil, err
			}
			callee, err := vm.pop(ins)
			if err != nil {
				return Nil, err
			}
			if !callee.IsFunction() {
				return Nil, ins.Errorf("Trying to call non-function: %s", callee.Kind())
			}
			result, err := vm.call(callee.Function(), args, ctx, ins)
			if err != nil {
				return Nil, err
			}
			vm.push(result)

		case OpReturn:
			if fr == nil {
				return Nil, ins.Errorf("RETURN outside of function")
			}
			result := Nil
			if len(vm.stack) > fr.Base {
				result = vm.stack[len(vm.stack)-1]
			}
			vm.stack = vm.stack[:fr.Base]
			return result, nil

		// ---- arrays ----
		case OpArrayNew:
			if ins.Arg < 0 {
				return Nil, ins.Errorf("Bad ARRAY_NEW count")
			}
			items, err := vm.popN(ins.Arg, ins)
			if err != nil {
				return Nil, err
			}
			vm.push(NewArray(items))

		case OpArrayGet:
			idxV, err := vm.pop(ins)
			if err != nil {
				return Nil, err
			}
			arrV, err := vm.pop(ins)
			if err != nil {
				return Nil, err
			}
			if !arrV.IsArray() {
				return Nil, ins.Errorf("Indexing works only for arrays")
			}
			idx, err := indexInt(idxV, ins)
			if err != nil {
				return Nil, err
			}
			items := arrV.Array().Items
			if idx < 0 || idx >= len(items) {
				return Nil, ins.Errorf("Array index out of range: %d", idx)
			}
			vm.push(items[idx])

		case OpArraySet:
			value, err := vm.pop(ins)
			if err != nil {
				return Nil, err
			}
			idxV, err := vm.pop(ins)
			if err != nil {
				return Nil, err
			}
			arrV, err := vm.pop(ins)
			if err != nil {
				return Nil, err
			}
			if !arrV.IsArray() {
				return Nil, ins.Errorf("Indexing works only for arrays")
			}
			idx, err := indexInt(idxV, ins)
			if err != nil {
				return Nil, err
			}
			if idx < 0 {
				return Nil, ins.Errorf("Array index out of range: %d", idx)
			}
			arr := arrV.Array()
			for idx >= len(arr.Items) {
				arr.Items = append(arr.Items, Nil)
			}
			arr.Items[idx] = value
			vm.push(value)

		// ---- arithmetic ----
		case OpAdd, OpSub, OpMul, OpDiv:
			b, a, err := vm.pop2(ins)
			if err != nil {
				return Nil, err
			}
			if ins.Op == OpAdd && (a.IsString() || b.IsString()) {
				vm.push(String(a.Printable() + b.Printable()))
				break
			}
			if !a.IsNumber() || !b.IsNumber() {
				return Nil, ins.Errorf("Expected number")
			}
			if ins.Op == OpDiv {
				vm.push(Double(a.Float() / b.Float()))
			} else {
				vm.push(Arith(ins.Op, a, b))
			}

		case OpNot:
			v, err := vm.pop(ins)
			if err != nil {
				return Nil, err
			}
			vm.push(Bool(!v.Truthy()))

		case OpEq, OpNeq:
			b, a, err := vm.pop2(ins)
			if err != nil {
				return Nil, err
			}
			eq := a.Equal(b)
			vm.push(Bool(eq == (ins.Op == OpEq)))

		case OpLt, OpGt, OpLe, OpGe:
			b, a, err := vm.pop2(ins)
			if err != nil {
				return Nil, err
			}
			if !a.IsNumber() || !b.IsNumber() {
				return Nil, ins.Errorf("Expected number")
			}
			c := CompareNumbers(a, b)
			var r bool
			switch ins.Op {
			case OpLt:
				r = c < 0
			case OpGt:
				r = c > 0
			case OpLe:
				r = c <= 0
			default:
				r = c >= 0
			}
			vm.push(Bool(r))

		// ---- variables ----
		case OpLoad:
			v, ok := vm.load(ins.Name)
			if !ok {
				return Nil, ins.Errorf("Undefined variable '%s'", ins.Name)
			}
			vm.push(v)

		case OpStore:
			v, err := vm.pop(ins)
			if err != nil {
				return Nil, err
			}
			vm.store(ins.Name, v)

		// ---- modules ----
		case OpImport:
			if err := ctx.Import(ins.Name, ins.Site); err != nil {
				return Nil, err
			}

		case OpCall:
			m, err := ctx.Module(ins.Name, ins.Site)
			if err != nil {
				return Nil, err
			}
			var result Value
			if ins.IsConst {
				result, err = m.Constant(ins.Member, ctx, ins.Site)
			} else {
				if ins.Arg < 0 {
					return Nil, ins.Errorf("Bad CALL argCount")
				}
				var args []Value
				if args, err = vm.popN(ins.Arg, ins); err != nil {
					return Nil, err
				}
				result, err = m.Call(ins.Member, args, ctx, ins.Site)
			}
			if err != nil {
				return Nil, atSite(ins.Site, err)
			}
			vm.push(result)

		// ---- jumps ----
		case OpJump:
			if err := checkJump(ins, len(code)); err != nil {
				return Nil, err
			}
			ip = ins.Target

		case OpJumpIfFalse:
			cond, err := vm.pop(ins)
			if err != nil {
				return Nil, err
			}
			if !cond.Truthy() {
				if err := checkJump(ins, len(code)); err != nil {
					return Nil, err
				}
				ip = ins.Target
			}

		// ---- output ----
		case OpPrint:
			v, err := vm.pop(ins)
			if err != nil {
				return Nil, err
			}
			if _, err := fmt.Fprintln(ctx.Out, v.Printable()); err != nil {
				return Nil, atSite(ins.Site, err)
			}

		case OpPop:
			if _, err := vm.pop(ins); err != nil {
				return Nil, err
			}

		default:
			return Nil, ins.Errorf("Unknown opcode: %s", ins.Op)
		}
	}

	// Falling off the end of a function body yields nil.
	return Nil, nil
}

// call runs a user function in a fresh frame. Missing arguments bind to nil
// and extra arguments are ignored.
func (vm *VM) call(fn *Function, args []Value, ctx *Context, ins *Instruction) (Value, error) {
	limit := vm.MaxFrameDepth
	if limit <= 0 {
		limit = DefaultMaxFrameDepth
	}
	if len(vm.frames) >= limit {
		return Nil, ins.Errorf("Stack overflow: more than %d nested calls", limit)
	}

	base := len(vm.stack)
	closure := make(map[string]Value, len(fn.Closure))
	for k, v := range fn.Closure {
		closure[k] = v
	}
	fr := &Frame{
		Locals:  make(map[string]Value, len(fn.Proto.Params)),
		Closure: closure,
		Base:    base,
	}
	for i, p := range fn.Proto.Params {
		if i < len(args) {
			fr.Locals[p] = args[i]
		} else {
			fr.Locals[p] = Nil
		}
	}

	vm.frames = append(vm.frames, fr)
	defer func() {
		if len(vm.stack) > base {
			vm.stack = vm.stack[:base]
		}
		vm.frames = vm.frames[:len(vm.frames)-1]
	}()

	return vm.run(fn.Proto.Body, ctx, fr)
}

// snapshot flattens the visible environment: globals, then each frame's
// closure and locals from the outermost frame inwards.
func (vm *VM) snapshot() map[string]Value {
	env := make(map[string]Value, len(vm.Globals))
	for k, v := range vm.Globals {
		env[k] = v
	}
	for _, f := range vm.frames {
		for k, v := range f.Closure {
			env[k] = v
		}
		for k, v := range f.Locals {
			env[k] = v
		}
	}
	return env
}

func (vm *VM) load(name string) (Value, bool) {
	for i := len(vm.frames) - 1; i >= 0; i-- {
		f := vm.frames[i]
		if v, ok := f.Locals[name]; ok {
			return v, true
		}
		if v, ok := f.Closure[name]; ok {
			return v, true
		}
	}
	v, ok := vm.Globals[name]
	return v, ok
}

func (vm *VM) store(name string, v Value) {
	if len(vm.frames) == 0 {
		vm.Globals[name] = v
		return
	}
	for i := len(vm.frames) - 1; i >= 0; i-- {
		f := vm.frames[i]
		if _, ok := f.Locals[name]; ok {
			f.Locals[name] = v
			return
		}
		if _, ok := f.Closure[name]; ok {
			f.Closure[name] = v
			return
		}
	}
	vm.frames[len(vm.frames)-1].Locals[name] = v
}

// ---------------------------------------------------------------------------
// Stack helpers
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop(ins *Instruction) (Value, error) {
	n := len(vm.stack)
	if n == 0 {
		return Nil, ins.Errorf("Stack underflow")
	}
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v, nil
}

// pop2 pops the right operand then the left one.
func (vm *VM) pop2(ins *Instruction) (b, a Value, err error) {
	if b, err = vm.pop(ins); err != nil {
		return
	}
	a, err = vm.pop(ins)
	return
}

// popN pops n values and returns them in push order.
func (vm *VM) popN(n int, ins *Instruction) ([]Value, error) {
	if len(vm.stack) < n {
		return nil, ins.Errorf("Stack underflow")
	}
	start := len(vm.stack) - n
	out := make([]Value, n)
	copy(out, vm.stack[start:])
	vm.stack = vm.stack[:start]
	return out, nil
}

func indexInt(v Value, ins *Instruction) (int, error) {
	if !v.IsNumber() {
		return 0, ins.Errorf("Array index must be a number")
	}
	if v.IsInteger() {
		if v.Kind() == KindBigInt || v.Int64() < math.MinInt32 || v.Int64() > math.MaxInt32 {
			return 0, ins.Errorf("Array index is too large")
		}
		return int(v.Int64()), nil
	}
	d := v.Float()
	if d != math.Trunc(d) {
		return 0, ins.Errorf("Array index must be an integer")
	}
	if d < math.MinInt32 || d > math.MaxInt32 {
		return 0, ins.Errorf("Array index is too large")
	}
	return int(d), nil
}

func checkJump(ins *Instruction, size int) error {
	if ins.Target < 0 || ins.Target > size {
		return ins.Errorf("Bad jump target: %d (code size=%d)", ins.Target, size)
	}
	return nil
}

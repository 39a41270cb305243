package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction. The numeric value is the
// ordinal written to DOGC files, so the order below is part of the format.
type Opcode int32

// Constants
const (
	OpConstInt    Opcode = iota // push 32-bit integer
	OpConstLong                 // push 64-bit integer
	OpConstDouble               // push float
	OpConstBigInt               // push arbitrary-precision integer (decimal text)
	OpConstStr                  // push string
	OpConstBool                 // push bool
	OpConstNil                  // push nil
	OpConstFunc                 // push function value (function-table index)

	// Calls
	OpCallValue // call function value with N args
	OpReturn    // return from current frame

	// Arrays
	OpArrayNew // build array from N values
	OpArrayGet // arr idx -> value
	OpArraySet // arr idx value -> value

	// Arithmetic and logic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNot
	OpEq
	OpNeq
	OpLt
	OpGt
	OpLe
	OpGe

	// Variables
	OpLoad
	OpStore

	// Modules
	OpImport
	OpCall // module member call or constant read

	// Misc
	OpPrint
	OpPop

	// Control flow (absolute targets)
	OpJump
	OpJumpIfFalse

	opcodeCount
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// Payload identifies the operand layout carried by an opcode.
type Payload uint8

const (
	PayloadNone   Payload = iota
	PayloadInt32          // Const (int)
	PayloadInt64          // Const (long)
	PayloadDouble         // Const (double)
	PayloadText           // Const (bigint digits or string)
	PayloadBool           // Const (bool)
	PayloadCount          // Arg
	PayloadName           // Name
	PayloadCall           // Name, Member, Arg, IsConst
	PayloadTarget         // Target
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name    string  // human-readable name
	Payload Payload // operand layout
	Pops    int     // fixed pops (-1 = depends on Arg)
	Pushes  int
}

var opcodeTable = [opcodeCount]OpcodeInfo{
	OpConstInt:    {"CONST_INT", PayloadInt32, 0, 1},
	OpConstLong:   {"CONST_LONG", PayloadInt64, 0, 1},
	OpConstDouble: {"CONST_DOUBLE", PayloadDouble, 0, 1},
	OpConstBigInt: {"CONST_BIGINT", PayloadText, 0, 1},
	OpConstStr:    {"CONST_STR", PayloadText, 0, 1},
	OpConstBool:   {"CONST_BOOL", PayloadBool, 0, 1},
	OpConstNil:    {"CONST_NIL", PayloadNone, 0, 1},
	OpConstFunc:   {"CONST_FUNC", PayloadCount, 0, 1},

	OpCallValue: {"CALL_VALUE", PayloadCount, -1, 1},
	OpReturn:    {"RETURN", PayloadNone, 1, 0},

	OpArrayNew: {"ARRAY_NEW", PayloadCount, -1, 1},
	OpArrayGet: {"ARRAY_GET", PayloadNone, 2, 1},
	OpArraySet: {"ARRAY_SET", PayloadNone, 3, 1},

	OpAdd: {"ADD", PayloadNone, 2, 1},
	OpSub: {"SUB", PayloadNone, 2, 1},
	OpMul: {"MUL", PayloadNone, 2, 1},
	OpDiv: {"DIV", PayloadNone, 2, 1},
	OpNot: {"NOT", PayloadNone, 1, 1},
	OpEq:  {"EQ", PayloadNone, 2, 1},
	OpNeq: {"NEQ", PayloadNone, 2, 1},
	OpLt:  {"LT", PayloadNone, 2, 1},
	OpGt:  {"GT", PayloadNone, 2, 1},
	OpLe:  {"LE", PayloadNone, 2, 1},
	OpGe:  {"GE", PayloadNone, 2, 1},

	OpLoad:  {"LOAD", PayloadName, 0, 1},
	OpStore: {"STORE", PayloadName, 1, 0},

	OpImport: {"IMPORT", PayloadName, 0, 0},
	OpCall:   {"CALL", PayloadCall, -1, 1},

	OpPrint: {"PRINT", PayloadNone, 1, 0},
	OpPop:   {"POP", PayloadNone, 1, 0},

	OpJump:        {"JUMP", PayloadTarget, 0, 0},
	OpJumpIfFalse: {"JUMP_IF_FALSE", PayloadTarget, 1, 0},
}

// Valid reports whether op is a known opcode ordinal.
func (op Opcode) Valid() bool {
	return op >= 0 && op < opcodeCount
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if op.Valid() {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%d", int32(op))}
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}

// IsJump reports whether op carries a jump target.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpIfFalse
}

// OpcodeCount is the number of defined opcodes.
const OpcodeCount = int(opcodeCount)

// ---------------------------------------------------------------------------
// Instruction, Chunk, FunctionProto
// ---------------------------------------------------------------------------

// Site is the source position attached to an instruction or diagnostic.
// Line and Col are 1-based; Source is the original line text.
type Site struct {
	Line   int
	Col    int
	Source string
}

// Errorf builds a diagnostic at the site.
func (s Site) Errorf(format string, args ...any) *Diagnostic {
	return NewDiagnostic(s.Line, s.Col, s.Source, fmt.Sprintf(format, args...))
}

// Instruction is one opcode with its payload and debug position.
type Instruction struct {
	Op Opcode

	// Const holds the literal for CONST_INT/LONG/DOUBLE/BIGINT/STR/BOOL.
	Const Value

	// Name is the variable for LOAD/STORE and the module for IMPORT/CALL.
	Name string

	// Member is the module member for CALL.
	Member string

	// Arg is the argument count for CALL_VALUE/CALL, the element count for
	// ARRAY_NEW and the function-table index for CONST_FUNC.
	Arg int

	// IsConst marks a CALL that reads a module constant.
	IsConst bool

	// Target is the absolute jump target for JUMP/JUMP_IF_FALSE.
	Target int

	Site
}

// FunctionProto is the compile-time blueprint of a function.
type FunctionProto struct {
	Params []string
	Body   *Chunk
}

// Chunk is a compiled unit: instructions plus nested function prototypes.
type Chunk struct {
	Code      []Instruction
	Functions []*FunctionProto
}

// NewChunk creates an empty chunk.
func NewChunk() *Chunk {
	return &Chunk{}
}

// Len returns the number of instructions.
func (c *Chunk) Len() int {
	return len(c.Code)
}

// Emit appends an instruction and returns its index.
func (c *Chunk) Emit(ins Instruction) int {
	c.Code = append(c.Code, ins)
	return len(c.Code) - 1
}

// EmitOp appends a payload-free instruction.
func (c *Chunk) EmitOp(op Opcode, site Site) int {
	return c.Emit(Instruction{Op: op, Site: site})
}

// EmitConst appends the CONST_* instruction matching v's kind.
func (c *Chunk) EmitConst(v Value, site Site) int {
	var op Opcode
	switch v.Kind() {
	case KindInt:
		op = OpConstInt
	case KindLong:
		op = OpConstLong
	case KindDouble:
		op = OpConstDouble
	case KindBigInt:
		op = OpConstBigInt
	case KindString:
		op = OpConstStr
	case KindBool:
		op = OpConstBool
	default:
		return c.EmitOp(OpConstNil, site)
	}
	return c.Emit(Instruction{Op: op, Const: v, Site: site})
}

// EmitName appends LOAD, STORE or IMPORT.
func (c *Chunk) EmitName(op Opcode, name string, site Site) int {
	return c.Emit(Instruction{Op: op, Name: name, Site: site})
}

// EmitArg appends an instruction whose payload is a count or index.
func (c *Chunk) EmitArg(op Opcode, arg int, site Site) int {
	return c.Emit(Instruction{Op: op, Arg: arg, Site: site})
}

// EmitCall appends a module CALL.
func (c *Chunk) EmitCall(module, member string, argc int, isConst bool, site Site) int {
	return c.Emit(Instruction{Op: OpCall, Name: module, Member: member, Arg: argc, IsConst: isConst, Site: site})
}

// EmitJump appends a jump with a placeholder target and returns its index
// for PatchJump.
func (c *Chunk) EmitJump(op Opcode, site Site) int {
	return c.Emit(Instruction{Op: op, Target: -1, Site: site})
}

// EmitJumpTo appends a jump to a known target.
func (c *Chunk) EmitJumpTo(op Opcode, target int, site Site) int {
	return c.Emit(Instruction{Op: op, Target: target, Site: site})
}

// PatchJump points the jump at index to the next instruction to be emitted.
func (c *Chunk) PatchJump(index int) {
	c.Code[index].Target = len(c.Code)
}

// AddFunction registers a prototype and returns its table index.
func (c *Chunk) AddFunction(fn *FunctionProto) int {
	c.Functions = append(c.Functions, fn)
	return len(c.Functions) - 1
}

// EndsWithReturn reports whether the last instruction is RETURN.
func (c *Chunk) EndsWithReturn() bool {
	return len(c.Code) > 0 && c.Code[len(c.Code)-1].Op == OpReturn
}

// Package vm implements the Dog virtual machine.
//
// This package contains:
//   - Value: the tagged runtime value (int, long, double, bigint, string,
//     bool, nil, array, function) with the language's arithmetic, equality
//     and printing rules
//   - Chunk, Instruction, FunctionProto: compiled programs with per-instruction
//     source positions
//   - VM: the stack interpreter with frames, closure snapshots and a bounded
//     call depth
//   - Module, Registry, Context: host libraries reached through IMPORT and CALL
//   - DOGC: the big-endian bytecode file format (BytecodeWriter, BytecodeReader)
//   - Diagnostic: the positioned error raised by every layer
//
// Typical use:
//
//	chunk, err := compiler.CompileSource(src)
//	if err != nil { ... }
//	ctx := vm.NewContext(stdlib.NewRegistry())
//	err = vm.NewVM().Execute(chunk, ctx)
package vm

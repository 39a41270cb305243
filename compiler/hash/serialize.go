package hash

import (
	"encoding/binary"
	"math"

	"github.com/chazu/dpl/vm"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of a program for hashing.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Integers: big-endian fixed-width (int64=8B, uint32=4B, uint16=2B)
//   - Floats: IEEE 754 big-endian 8B
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Booleans: single byte (0/1)
//   - Function bodies: serialized inline before the owning chunk's code
//
// Source positions are never written.
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of chunk suitable
// for hashing with SHA-256.
func Serialize(chunk *vm.Chunk) []byte {
	s := &serializer{buf: make([]byte, 0, 256)}
	s.writeByte(HashVersion)
	s.serializeChunk(chunk, nil)
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeUint16(v uint16) {
	s.buf = binary.BigEndian.AppendUint16(s.buf, v)
}

func (s *serializer) writeUint32(v uint32) {
	s.buf = binary.BigEndian.AppendUint32(s.buf, v)
}

func (s *serializer) writeInt64(v int64) {
	s.buf = binary.BigEndian.AppendUint64(s.buf, uint64(v))
}

func (s *serializer) writeFloat64(v float64) {
	s.buf = binary.BigEndian.AppendUint64(s.buf, math.Float64bits(v))
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeBool(v bool) {
	if v {
		s.writeByte(1)
	} else {
		s.writeByte(0)
	}
}

func (s *serializer) serializeChunk(c *vm.Chunk, scopes scopeStack) {
	s.writeByte(TagChunk)
	s.writeUint32(uint32(len(c.Functions)))
	for _, fn := range c.Functions {
		s.writeByte(TagFunction)
		s.writeUint32(uint32(len(fn.Params)))
		s.serializeChunk(fn.Body, scopes.push(newScope(fn.Params)))
	}
	s.writeUint32(uint32(len(c.Code)))
	for i := range c.Code {
		s.serializeInstruction(&c.Code[i], scopes)
	}
}

func (s *serializer) serializeInstruction(ins *vm.Instruction, scopes scopeStack) {
	s.writeByte(TagInstruction)
	s.writeUint16(uint16(ins.Op))

	switch ins.Op.Info().Payload {
	case vm.PayloadInt32, vm.PayloadInt64:
		s.writeByte(TagConstInt)
		s.writeInt64(ins.Const.Int64())

	case vm.PayloadDouble:
		s.writeByte(TagConstDouble)
		s.writeFloat64(ins.Const.Float())

	case vm.PayloadText:
		if ins.Op == vm.OpConstBigInt {
			s.writeByte(TagConstBigInt)
			s.writeString(ins.Const.Big().String())
		} else {
			s.writeByte(TagConstString)
			s.writeString(ins.Const.Str())
		}

	case vm.PayloadBool:
		s.writeByte(TagConstBool)
		s.writeBool(ins.Const.AsBool())

	case vm.PayloadCount:
		s.writeByte(TagCount)
		s.writeInt64(int64(ins.Arg))

	case vm.PayloadName:
		s.serializeName(ins, scopes)

	case vm.PayloadCall:
		s.writeByte(TagModuleCall)
		s.writeString(ins.Name)
		s.writeString(ins.Member)
		s.writeInt64(int64(ins.Arg))
		s.writeBool(ins.IsConst)

	case vm.PayloadTarget:
		s.writeByte(TagTarget)
		s.writeInt64(int64(ins.Target))

	default:
		s.writeByte(TagConstNone)
	}
}

// serializeName writes a LOAD/STORE operand as a slot when it names a
// parameter in scope. IMPORT operands are module names and always free.
func (s *serializer) serializeName(ins *vm.Instruction, scopes scopeStack) {
	if ins.Op != vm.OpImport {
		if depth, slot, ok := scopes.resolve(ins.Name); ok {
			s.writeByte(TagSlotRef)
			s.writeUint16(depth)
			s.writeUint16(slot)
			return
		}
	}
	s.writeByte(TagFreeName)
	s.writeString(ins.Name)
}

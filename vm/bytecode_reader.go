package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"os"
)

// ---------------------------------------------------------------------------
// Bytecode Error Types
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic    = errors.New("invalid magic number: expected DOGC")
	ErrVersionMismatch = errors.New("bytecode version mismatch")
	ErrCorruptData     = errors.New("corrupt bytecode data")
	ErrUnexpectedEOF   = errors.New("unexpected end of bytecode data")
)

// maxChunkNesting bounds function-table recursion while decoding.
const maxChunkNesting = 1000

// Smallest encodings, used to reject counts the remaining data cannot hold.
const (
	minFunctionSize    = 4 + 4 + 4    // paramCount + empty body tables
	minInstructionSize = 4 + 4 + 4 + 1 // opcode + line + col + hasSrc
)

// ---------------------------------------------------------------------------
// BytecodeReader: decodes DOGC data
// ---------------------------------------------------------------------------

// BytecodeReader decodes a DOGC program from memory.
type BytecodeReader struct {
	data   []byte
	offset int
}

// NewBytecodeReader reads all of r and returns a reader over it.
func NewBytecodeReader(r io.Reader) (*BytecodeReader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read bytecode data: %w", err)
	}
	return NewBytecodeReaderFromBytes(data), nil
}

// NewBytecodeReaderFromBytes returns a reader over data.
func NewBytecodeReaderFromBytes(data []byte) *BytecodeReader {
	return &BytecodeReader{data: data}
}

// ReadProgram validates the header and decodes the root chunk.
func (r *BytecodeReader) ReadProgram() (*Chunk, error) {
	r.offset = 0
	if len(r.data) < len(BytecodeMagic) {
		return nil, formatError(ErrInvalidMagic, "Not a DOGC file (EOF before magic)")
	}
	magic := r.data[:len(BytecodeMagic)]
	if string(magic) != string(BytecodeMagic[:]) {
		return nil, formatError(ErrInvalidMagic, "Not a DOGC file (bad magic %q)", magic)
	}
	r.offset = len(BytecodeMagic)

	version, err := r.readInt32()
	if err != nil {
		return nil, err
	}
	if version != BytecodeVersion {
		return nil, formatError(ErrVersionMismatch, "Unsupported DOGC version: %d (expected %d)", version, BytecodeVersion)
	}
	return r.readChunk(0)
}

func (r *BytecodeReader) readChunk(depth int) (*Chunk, error) {
	if depth > maxChunkNesting {
		return nil, formatError(ErrCorruptData, "Corrupt DOGC: functions nested deeper than %d", maxChunkNesting)
	}
	chunk := NewChunk()

	fCount, err := r.readCount("functionsCount", minFunctionSize)
	if err != nil {
		return nil, err
	}
	for i := 0; i < fCount; i++ {
		pCount, err := r.readCount("paramsCount", 4)
		if err != nil {
			return nil, err
		}
		params := make([]string, 0, pCount)
		for p := 0; p < pCount; p++ {
			name, err := r.readString()
			if err != nil {
				return nil, err
			}
			params = append(params, name)
		}
		body, err := r.readChunk(depth + 1)
		if err != nil {
			return nil, err
		}
		chunk.AddFunction(&FunctionProto{Params: params, Body: body})
	}

	cCount, err := r.readCount("codeCount", minInstructionSize)
	if err != nil {
		return nil, err
	}
	chunk.Code = make([]Instruction, 0, cCount)
	for i := 0; i < cCount; i++ {
		ins, err := r.readInstruction()
		if err != nil {
			return nil, err
		}
		chunk.Code = append(chunk.Code, ins)
	}
	return chunk, nil
}

func (r *BytecodeReader) readInstruction() (Instruction, error) {
	var ins Instruction
	ordinal, err := r.readInt32()
	if err != nil {
		return ins, err
	}
	op := Opcode(ordinal)
	if !op.Valid() {
		return ins, formatError(ErrCorruptData, "Corrupt DOGC: bad opcode ordinal %d", ordinal)
	}
	ins.Op = op

	if err := r.readPayload(&ins); err != nil {
		return ins, err
	}

	line, err := r.readInt32()
	if err != nil {
		return ins, err
	}
	col, err := r.readInt32()
	if err != nil {
		return ins, err
	}
	hasSrc, err := r.readBool()
	if err != nil {
		return ins, err
	}
	ins.Line = int(line)
	ins.Col = int(col)
	if hasSrc {
		if ins.Source, err = r.readString(); err != nil {
			return ins, err
		}
	}
	return ins, nil
}

func (r *BytecodeReader) readPayload(ins *Instruction) error {
	switch ins.Op.Info().Payload {
	case PayloadInt32:
		n, err := r.readInt32()
		if err != nil {
			return err
		}
		ins.Const = Int(n)
	case PayloadInt64:
		n, err := r.readUint64()
		if err != nil {
			return err
		}
		ins.Const = Long(int64(n))
	case PayloadDouble:
		bits, err := r.readUint64()
		if err != nil {
			return err
		}
		ins.Const = Double(math.Float64frombits(bits))
	case PayloadText:
		s, err := r.readString()
		if err != nil {
			return err
		}
		if ins.Op == OpConstBigInt {
			n, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return formatError(ErrCorruptData, "Corrupt DOGC: bad bigint literal %q", s)
			}
			ins.Const = BigInt(n)
		} else {
			ins.Const = String(s)
		}
	case PayloadBool:
		b, err := r.readBool()
		if err != nil {
			return err
		}
		ins.Const = Bool(b)
	case PayloadCount:
		n, err := r.readInt32()
		if err != nil {
			return err
		}
		ins.Arg = int(n)
	case PayloadName:
		s, err := r.readString()
		if err != nil {
			return err
		}
		ins.Name = s
	case PayloadCall:
		var err error
		if ins.Name, err = r.readString(); err != nil {
			return err
		}
		if ins.Member, err = r.readString(); err != nil {
			return err
		}
		n, err := r.readInt32()
		if err != nil {
			return err
		}
		ins.Arg = int(n)
		if ins.IsConst, err = r.readBool(); err != nil {
			return err
		}
	case PayloadTarget:
		n, err := r.readInt32()
		if err != nil {
			return err
		}
		ins.Target = int(n)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Primitive decoders
// ---------------------------------------------------------------------------

func (r *BytecodeReader) need(n int) error {
	if n < 0 || r.offset+n > len(r.data) {
		return formatError(ErrUnexpectedEOF, "Corrupt DOGC: unexpected end of data at offset %d", r.offset)
	}
	return nil
}

func (r *BytecodeReader) readInt32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return int32(v), nil
}

func (r *BytecodeReader) readUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return v, nil
}

func (r *BytecodeReader) readBool() (bool, error) {
	if err := r.need(1); err != nil {
		return false, err
	}
	b := r.data[r.offset]
	r.offset++
	return b != 0, nil
}

func (r *BytecodeReader) readString() (string, error) {
	n, err := r.readInt32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", formatError(ErrCorruptData, "Corrupt DOGC: negative string length")
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.data[r.offset : r.offset+int(n)])
	r.offset += int(n)
	return s, nil
}

// readCount reads a non-negative element count and rejects counts that the
// remaining data cannot possibly hold.
func (r *BytecodeReader) readCount(what string, minSize int) (int, error) {
	n, err := r.readInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, formatError(ErrCorruptData, "Corrupt DOGC: negative %s", what)
	}
	if int64(n)*int64(minSize) > int64(len(r.data)-r.offset) {
		return 0, formatError(ErrUnexpectedEOF, "Corrupt DOGC: %s %d exceeds remaining data", what, n)
	}
	return int(n), nil
}

func formatError(sentinel error, format string, args ...any) *Diagnostic {
	d := NewDiagnostic(0, 1, "", fmt.Sprintf(format, args...))
	d.Err = sentinel
	return d
}

// ---------------------------------------------------------------------------
// Convenience entry points
// ---------------------------------------------------------------------------

// Deserialize decodes a complete DOGC program.
func Deserialize(data []byte) (*Chunk, error) {
	return NewBytecodeReaderFromBytes(data).ReadProgram()
}

// ReadBytecode decodes a program from r.
func ReadBytecode(r io.Reader) (*Chunk, error) {
	br, err := NewBytecodeReader(r)
	if err != nil {
		return nil, err
	}
	return br.ReadProgram()
}

// LoadBytecode decodes a program from a file.
func LoadBytecode(path string) (*Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bytecode file: %w", err)
	}
	return Deserialize(data)
}

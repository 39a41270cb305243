package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// ---------------------------------------------------------------------------
// DOGC Format Constants
// ---------------------------------------------------------------------------

// BytecodeMagic identifies a compiled Dog file.
var BytecodeMagic = [4]byte{'D', 'O', 'G', 'C'}

// Bytecode format version
// v3: recursive function tables, per-instruction debug info
const BytecodeVersion int32 = 3

// BytecodeExt is the conventional extension for compiled files.
const BytecodeExt = ".dogc"

// ---------------------------------------------------------------------------
// BytecodeWriter: serializes chunks to DOGC
// ---------------------------------------------------------------------------

// BytecodeWriter encodes chunks into the big-endian DOGC layout.
type BytecodeWriter struct {
	buf *bytes.Buffer
}

// NewBytecodeWriter creates a new writer.
func NewBytecodeWriter() *BytecodeWriter {
	return &BytecodeWriter{buf: bytes.NewBuffer(nil)}
}

// Bytes returns the encoded data.
func (w *BytecodeWriter) Bytes() []byte {
	return w.buf.Bytes()
}

// WriteProgram writes the header followed by the root chunk.
func (w *BytecodeWriter) WriteProgram(chunk *Chunk) error {
	w.buf.Write(BytecodeMagic[:])
	w.writeInt32(BytecodeVersion)
	return w.writeChunk(chunk)
}

// writeChunk writes the function table before the instructions; each
// function body is itself a chunk.
func (w *BytecodeWriter) writeChunk(c *Chunk) error {
	w.writeInt32(int32(len(c.Functions)))
	for _, fn := range c.Functions {
		w.writeInt32(int32(len(fn.Params)))
		for _, p := range fn.Params {
			w.writeString(p)
		}
		if err := w.writeChunk(fn.Body); err != nil {
			return err
		}
	}

	w.writeInt32(int32(len(c.Code)))
	for i := range c.Code {
		ins := &c.Code[i]
		if !ins.Op.Valid() {
			return fmt.Errorf("instruction %d: unknown opcode %d", i, int32(ins.Op))
		}
		w.writeInt32(int32(ins.Op))
		if err := w.writePayload(ins); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		w.writeInt32(int32(ins.Line))
		w.writeInt32(int32(ins.Col))
		if ins.Source != "" {
			w.writeBool(true)
			w.writeString(ins.Source)
		} else {
			w.writeBool(false)
		}
	}
	return nil
}

func (w *BytecodeWriter) writePayload(ins *Instruction) error {
	switch ins.Op.Info().Payload {
	case PayloadInt32:
		n := ins.Const.Int64()
		if n < math.MinInt32 || n > math.MaxInt32 {
			return fmt.Errorf("%s operand %d out of range", ins.Op, n)
		}
		w.writeInt32(int32(n))
	case PayloadInt64:
		w.writeInt64(ins.Const.Int64())
	case PayloadDouble:
		w.writeUint64(math.Float64bits(ins.Const.Float()))
	case PayloadText:
		if ins.Op == OpConstBigInt {
			w.writeString(ins.Const.Big().String())
		} else {
			w.writeString(ins.Const.Str())
		}
	case PayloadBool:
		w.writeBool(ins.Const.AsBool())
	case PayloadCount:
		w.writeInt32(int32(ins.Arg))
	case PayloadName:
		w.writeString(ins.Name)
	case PayloadCall:
		w.writeString(ins.Name)
		w.writeString(ins.Member)
		w.writeInt32(int32(ins.Arg))
		w.writeBool(ins.IsConst)
	case PayloadTarget:
		w.writeInt32(int32(ins.Target))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Primitive encoders
// ---------------------------------------------------------------------------

func (w *BytecodeWriter) writeInt32(v int32) {
	w.buf.Write(binary.BigEndian.AppendUint32(nil, uint32(v)))
}

func (w *BytecodeWriter) writeInt64(v int64) {
	w.writeUint64(uint64(v))
}

func (w *BytecodeWriter) writeUint64(v uint64) {
	w.buf.Write(binary.BigEndian.AppendUint64(nil, v))
}

func (w *BytecodeWriter) writeBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *BytecodeWriter) writeString(s string) {
	w.writeInt32(int32(len(s)))
	w.buf.WriteString(s)
}

// ---------------------------------------------------------------------------
// Convenience entry points
// ---------------------------------------------------------------------------

// Serialize encodes chunk as a complete DOGC program.
func Serialize(chunk *Chunk) ([]byte, error) {
	w := NewBytecodeWriter()
	if err := w.WriteProgram(chunk); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// WriteBytecode encodes chunk to out.
func WriteBytecode(out io.Writer, chunk *Chunk) error {
	data, err := Serialize(chunk)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// SaveBytecode writes chunk to a file.
func SaveBytecode(path string, chunk *Chunk) error {
	data, err := Serialize(chunk)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write bytecode file: %w", err)
	}
	return nil
}
